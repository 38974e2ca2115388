package cmd

import (
	"github.com/dyet92k/morph/cmd/run"
	"github.com/dyet92k/morph/cmd/start"
	"github.com/dyet92k/morph/cmd/stop"
	"github.com/spf13/cobra"
)

var cmds = []*cobra.Command{
	start.Cmd,
	run.Cmd,
	stop.Cmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use:          "morph",
		Short:        "Run scrapers in isolated containers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}
