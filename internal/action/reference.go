// Package action resolves action references and submits actions to the
// automation server.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/metrics"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/streamerbot"
)

var (
	ErrEmptyReference = errors.New("action reference is required")
	ErrActionNotFound = errors.New("no action matches the given name")
)

// canonicalIDLength is the length of the 8-4-4-4-12 hyphenated form
const canonicalIDLength = 36

// Lister fetches the full list of actions from the server
type Lister interface {
	GetActions(ctx context.Context) ([]streamerbot.Action, error)
}

// IsCanonicalID reports whether ref is already a canonical action identifier
func IsCanonicalID(ref string) bool {
	return len(ref) == canonicalIDLength && uuid.Validate(ref) == nil
}

// Resolver turns display names into canonical identifiers
type Resolver struct {
	lister Lister
	logger zerolog.Logger
}

// NewResolver creates a new resolver backed by lister
func NewResolver(lister Lister, logger zerolog.Logger) *Resolver {
	return &Resolver{
		lister: lister,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the canonical identifier for ref. Canonical identifiers are
// returned unchanged without contacting the server; anything else costs one
// GetActions round trip and resolves to the first action whose name matches,
// case-insensitively when ignoreCase is set.
func (r *Resolver) Resolve(ctx context.Context, ref string, ignoreCase bool) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrEmptyReference
	}

	if IsCanonicalID(ref) {
		metrics.ResolveTotal.WithLabelValues("canonical").Inc()
		return ref, nil
	}

	actions, err := r.lister.GetActions(ctx)
	if err != nil {
		metrics.ResolveTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to list actions: %w", err)
	}

	for _, a := range actions {
		if matchName(a.Name, ref, ignoreCase) {
			metrics.ResolveTotal.WithLabelValues("lookup").Inc()
			r.logger.Debug().
				Str("name", ref).
				Str("action_id", a.ID).
				Bool("ignore_case", ignoreCase).
				Msg("Resolved action name")
			return a.ID, nil
		}
	}

	metrics.ResolveTotal.WithLabelValues("not_found").Inc()
	return "", fmt.Errorf("%w: %q (%d actions checked)", ErrActionNotFound, ref, len(actions))
}

func matchName(name, ref string, ignoreCase bool) bool {
	if ignoreCase {
		return strings.EqualFold(name, ref)
	}
	return name == ref
}
