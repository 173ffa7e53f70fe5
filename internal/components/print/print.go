// Package print provides print_reaction, a Reaction that logs the Action's
// output instead of performing any external side effect — useful for
// testing an Area end to end without wiring a real downstream service.
package print

import (
	"context"
	"log/slog"

	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

func init() {
	registry.RegisterReaction("print_reaction", "", validate.Schema{}, func() registry.Reaction { return &Reaction{} })
}

// Reaction logs its params at info level and echoes them back.
type Reaction struct{}

func (r *Reaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	slog.Info("print_reaction", "params", params)
	return map[string]any{
		"success": true,
		"printed": params,
	}, nil
}
