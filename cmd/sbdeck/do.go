package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/action"
)

func newDoCmd(opts *rootOptions) *cobra.Command {
	var (
		payload     string
		payloadFile string
		ignoreCase  bool
	)

	cmd := &cobra.Command{
		Use:   "do [action]",
		Short: "Run an action by id or name",
		Long: `Run an action by id or name. A canonical action id is used as is; any
other reference is looked up by name. The payload must be a JSON object and
is sent to the action as a single "payload" argument.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}

			ref := cfg.Action
			if len(args) == 1 {
				ref = args[0]
			}
			if cmd.Flags().Changed("ignore-case") {
				cfg.IgnoreCase = ignoreCase
			}

			if payloadFile != "" {
				data, err := readPayloadFile(cmd.InOrStdin(), payloadFile)
				if err != nil {
					return err
				}
				payload = string(data)
			}

			// Fail fast before dialing; the dispatcher validates again
			if _, err := action.ParsePayload(payload); err != nil {
				logger.Error().Err(err).Msg("Invalid JSON payload")
				return err
			}

			client, err := connect(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			out, err := action.NewDispatcher(client, logger).Dispatch(cmd.Context(), action.Request{
				Ref:        ref,
				Payload:    payload,
				IgnoreCase: cfg.IgnoreCase,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out.Fallback {
				fmt.Fprintf(w, "%s: raw frame %s sent\n", out.ActionID, out.FrameID)
				return nil
			}
			if out.Response != nil && len(out.Response.Raw) > 0 {
				fmt.Fprintln(w, string(out.Response.Raw))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "JSON object passed to the action")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Read the payload from a file (- for stdin)")
	cmd.Flags().BoolVar(&ignoreCase, "ignore-case", false, "Match action names case-insensitively (overrides SB_IGNORE_CASE)")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-file")
	return cmd
}

func readPayloadFile(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("payload file '%s' does not exist", path)
		}
		return nil, fmt.Errorf("failed to read payload file '%s': %w", path, err)
	}
	return data, nil
}
