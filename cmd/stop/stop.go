package stop

import (
	"fmt"

	"github.com/dyet92k/morph/internal/app"
	"github.com/dyet92k/morph/pkg/env"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Cmd stops a running run.
var Cmd = &cobra.Command{
	Use:     "stop <run-id>",
	Short:   "Stop a running scraper",
	Example: "morph stop 6f1c2b1e-8f9e-4f3c-9d1b-0c2e7a5b9e10",
	Args:    cobra.ExactArgs(1),
	RunE:    stop,
}

func stop(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}

	ctx := cmd.Context()

	a, err := app.Build(ctx, env.Variables())
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.Store.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := a.Runner.Stop(ctx, r); err != nil {
		return err
	}

	cmd.Printf("Stopped run %s\n", r.ID)
	return nil
}
