package main

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gridsim/internal/config"
)

func newSweepCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		seeds   int
		workers int
		opts    runOptions
	)
	cmd := &cobra.Command{
		Use:   "sweep CONFIG",
		Short: "Run a configuration with consecutive seeds in parallel",
		Long: `sweep runs CONFIG once for each seed in seed, seed+1, ..., seed+N-1.
Every run writes to output_path with _seed<k> inserted before the extension.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if seeds < 1 {
				return fmt.Errorf("--seeds must be at least 1, was %d", seeds)
			}
			if workers < 1 {
				return fmt.Errorf("--workers must be at least 1, was %d", workers)
			}
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			runs, err := seedConfigs(cfg, seeds)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "sweeping %d seeds with %d workers\n", seeds, workers)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(workers)
			// monitor documents of parallel runs would interleave
			opts.quiet = true
			for _, r := range runs {
				g.Go(func() error {
					out, err := runNode(ctx, r.cfg, opts, stdout, stderr)
					if err != nil {
						return fmt.Errorf("seed %d: %w", r.seed, err)
					}
					fmt.Fprintf(stdout, "seed %d done: %s\n", r.seed, out)
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().IntVar(&seeds, "seeds", 4, "number of consecutive seeds")
	cmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "number of runs in parallel")
	cmd.Flags().BoolVar(&opts.noUpload, "no-upload", false, "skip the upload configured under 'upload'")
	return cmd
}

type seedRun struct {
	seed int64
	cfg  config.Node
}

// seedConfigs derives one configuration per seed from cfg.
func seedConfigs(cfg config.Node, n int) ([]seedRun, error) {
	base := config.Merge(config.Defaults(), cfg)
	seed, err := config.Get[int64](base, "seed")
	if err != nil {
		return nil, err
	}
	out, err := config.Get[string](base, "output_path")
	if err != nil {
		return nil, err
	}
	runs := make([]seedRun, n)
	for k := range runs {
		s := seed + int64(k)
		c, err := base.With("seed", s)
		if err != nil {
			return nil, err
		}
		if c, err = c.With("output_path", seedPath(out, s)); err != nil {
			return nil, err
		}
		runs[k] = seedRun{seed: s, cfg: c}
	}
	return runs, nil
}

// seedPath inserts _seed<k> before the extension of p.
func seedPath(p string, seed int64) string {
	ext := filepath.Ext(p)
	return fmt.Sprintf("%s_seed%d%s", strings.TrimSuffix(p, ext), seed, ext)
}
