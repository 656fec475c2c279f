package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gridsim/internal/archive"
	"gridsim/internal/config"
	"gridsim/internal/core"
	"gridsim/internal/hdf"
	"gridsim/internal/model"
	"gridsim/internal/monitor"
)

type runOptions struct {
	metricsAddr string
	quiet       bool
	noUpload    bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "serve monitor gauges at http://ADDR/metrics while running")
	cmd.Flags().BoolVarP(&o.quiet, "quiet", "q", false, "do not print monitor documents")
	cmd.Flags().BoolVar(&o.noUpload, "no-upload", false, "skip the upload configured under 'upload'")
}

func newRunCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run CONFIG",
		Short: "Run a single simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd.Context(), args[0], opts, stdout, stderr)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runConfig(ctx context.Context, path string, opts runOptions, stdout, stderr io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	_, err = runNode(ctx, cfg, opts, stdout, stderr)
	return err
}

// runNode performs one complete run and returns the path of the output
// file. The output file is closed before it is uploaded.
func runNode(ctx context.Context, cfg config.Node, opts runOptions, stdout, stderr io.Writer) (string, error) {
	monitorOut := stdout
	if opts.quiet {
		monitorOut = io.Discard
	}
	pp, err := model.NewPseudoParentFromNode(cfg, model.WithLogWriter(stderr), model.WithMonitorWriter(monitorOut))
	if err != nil {
		return "", err
	}
	var uploader archive.Uploader
	if !opts.noUpload {
		if uploader, err = archive.FromConfig(ctx, pp.Config().Sub("upload")); err != nil {
			return "", errors.Join(err, pp.Close())
		}
	}
	root, err := core.NewRoot(pp)
	if err != nil {
		return "", errors.Join(err, pp.Close())
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	if opts.metricsAddr != "" {
		g.Go(func() error {
			if err := monitor.Serve(serveCtx, opts.metricsAddr, pp.Monitors().Registry()); err != nil {
				return fmt.Errorf("serving metrics: %w", err)
			}
			return nil
		})
		pp.Logger().Info("serving metrics", "addr", opts.metricsAddr)
	}
	runErr := model.Run(gctx, root)
	stopServe()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	out := pp.File().Path()
	memory := pp.File().Format() == hdf.FormatMemory
	if err := errors.Join(runErr, pp.Close()); err != nil {
		return out, err
	}

	if uploader != nil && !memory {
		loc, err := uploader.Upload(ctx, out)
		if err != nil {
			return out, err
		}
		fmt.Fprintf(stderr, "archived %s to %s\n", out, loc)
	}
	return out, nil
}
