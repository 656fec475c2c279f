// Command gridsim runs grid and agent based simulation models configured by
// a YAML file and writes their data to an HDF-style output file.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	_ "gridsim/internal/sims/briansbrain"
	_ "gridsim/internal/sims/contdisease"
	_ "gridsim/internal/sims/dummy"
	_ "gridsim/internal/sims/elementary"
	_ "gridsim/internal/sims/flocking"
	_ "gridsim/internal/sims/forestfire"
	_ "gridsim/internal/sims/graphtemplate"
	_ "gridsim/internal/sims/life"
	_ "gridsim/internal/sims/predatorprey"
	_ "gridsim/internal/sims/sandpile"
)

var version = "0.1.0-dev"

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitUnknown = 2
)

func main() {
	ctx, stop := signalContext(context.Background())
	defer stop()
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and maps its outcome to an exit code. A
// panic anywhere below is reported as an unknown error.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "gridsim: unknown error: %v\n", r)
			code = exitUnknown
		}
	}()
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "gridsim: %v\n", err)
		return exitError
	}
	return exitOK
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts runOptions
	root := &cobra.Command{
		Use:   "gridsim CONFIG",
		Short: "Run a simulation model from a YAML configuration",
		Long: `gridsim runs the model named by root_model_name in CONFIG for num_steps
steps and writes the model data to output_path.

Models: see 'gridsim models'.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd.Context(), args[0], opts, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	opts.bind(root)

	root.AddCommand(
		newRunCmd(stdout, stderr),
		newSweepCmd(stdout, stderr),
		newModelsCmd(stdout),
		newVersionCmd(stdout),
	)
	return root
}
