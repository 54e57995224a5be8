package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"aotlift/internal/batch"
	"aotlift/internal/callgraph"
	"aotlift/internal/config"
	"aotlift/internal/lifter"
	"aotlift/internal/output"
)

var liftFlags struct {
	workers    int
	mode       string
	out        string
	pseudocode bool
	il         bool
	graph      bool
}

var liftCmd = &cobra.Command{
	Use:   "lift <config.yaml>",
	Short: "Lift every configured function and write results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args[0])
		if err != nil {
			return err
		}
		if cfg.Out == "" {
			return fmt.Errorf("--out or config out is required")
		}

		p, err := openProject(cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, stop := interruptContext(cmd)
		defer stop()

		results, stats, err := p.lift(ctx)
		if err != nil {
			return err
		}
		return writeResults(cfg, results, stats)
	},
}

func init() {
	f := liftCmd.Flags()
	f.IntVarP(&liftFlags.workers, "workers", "j", 0, "concurrent analyses (default GOMAXPROCS)")
	f.StringVar(&liftFlags.mode, "mode", "", "strict or best-effort")
	f.StringVarP(&liftFlags.out, "out", "o", "", "output directory")
	f.BoolVar(&liftFlags.pseudocode, "pseudo", false, "write per-function pseudocode")
	f.BoolVar(&liftFlags.il, "il", false, "write per-function managed IL")
	f.BoolVar(&liftFlags.graph, "graph", false, "write call graph DOT")
}

// interruptContext cancels the command's context on Ctrl-C so a batch
// stops between functions.
func interruptContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

// loadConfig reads path and applies the flags the user set explicitly.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = liftFlags.workers
	}
	if flags.Changed("mode") {
		cfg.Mode = liftFlags.mode
	}
	if flags.Changed("out") {
		cfg.Out = liftFlags.out
	}
	if flags.Changed("pseudo") {
		cfg.Pseudocode = liftFlags.pseudocode
	}
	if flags.Changed("il") {
		cfg.IL = liftFlags.il
	}
	if flags.Changed("graph") {
		cfg.Graph = liftFlags.graph
	}
	return cfg, nil
}

// lift runs the engine over the project's work list.
func (p *project) lift(ctx context.Context) ([]*lifter.Result, batch.Stats, error) {
	funcs, err := p.functions()
	if err != nil {
		return nil, batch.Stats{}, err
	}
	log.WithField("functions", len(funcs)).Info("lifting")

	step := len(funcs) / 10
	return batch.Run(ctx, p.engine, funcs, batch.Options{
		Workers: p.cfg.Workers,
		Progress: func(done, total int) {
			if step > 0 && done%step == 0 {
				log.WithFields(log.Fields{"done": done, "total": total}).Info("progress")
			}
		},
	})
}

func writeResults(cfg *config.Config, results []*lifter.Result, stats batch.Stats) error {
	if err := os.MkdirAll(cfg.Out, 0755); err != nil {
		return fmt.Errorf("mkdir out: %w", err)
	}
	if err := output.WriteResultsJSONL(cfg.Out, results); err != nil {
		return err
	}
	if err := output.WriteSummaryJSON(cfg.Out, stats); err != nil {
		return err
	}
	if cfg.Pseudocode {
		for _, r := range results {
			if r == nil {
				continue
			}
			if err := output.WritePseudocode(cfg.Out, r.Name, r); err != nil {
				return err
			}
		}
	}
	if cfg.IL {
		for _, r := range results {
			if r == nil {
				continue
			}
			if err := output.WriteIL(cfg.Out, r.Name, r); err != nil {
				return err
			}
		}
	}
	if cfg.Graph {
		cg := callgraph.BuildCallGraph(callgraph.FromResults(results))
		if err := output.WriteCallGraphDOT(cfg.Out, cg, "aotlift"); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"out":     cfg.Out,
		"total":   stats.Total,
		"full":    stats.Full,
		"partial": stats.Partial,
		"aborted": stats.Aborted,
		"elapsed": stats.Elapsed,
	}).Info("done")
	return nil
}
