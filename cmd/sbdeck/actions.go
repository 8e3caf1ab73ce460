package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newActionsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List the actions defined on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}

			client, err := connect(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			actions, err := client.GetActions(cmd.Context())
			if err != nil {
				logger.Error().Err(err).Msg("Failed to list actions")
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(actions)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tGROUP\tENABLED")
			for _, a := range actions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", a.ID, a.Name, a.Group, a.Enabled)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the list as JSON")
	return cmd
}
