package main

import (
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/zboralski/lattice"

	"aotlift/internal/callgraph"
	"aotlift/internal/output"
	"aotlift/internal/render"
	"aotlift/internal/signal"
)

var (
	cfgNames   []string
	maxClasses int
	signalHops int
)

var callgraphCmd = &cobra.Command{
	Use:   "callgraph <config.yaml>",
	Short: "Lift configured functions and write call graph and CFG DOT files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args[0])
		if err != nil {
			return err
		}
		if cfg.Out == "" {
			cfg.Out = "."
		}

		p, err := openProject(cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, stop := interruptContext(cmd)
		defer stop()

		results, _, err := p.lift(ctx)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.Out, 0755); err != nil {
			return err
		}

		funcs := callgraph.FromResults(results)
		if err := output.WriteCallGraphDOT(cfg.Out, callgraph.BuildCallGraph(funcs), "aotlift"); err != nil {
			return err
		}

		entries := render.FindEntryPoints(funcs)
		reachable := render.ReachableSet(entries, funcs)
		log.WithFields(log.Fields{"entries": len(entries), "reachable": len(reachable)}).Info("reachability")
		if err := output.WriteDOT(filepath.Join(cfg.Out, "reachable.dot"),
			render.ReachabilityDOT(funcs, reachable, entries, "aotlift (reachable)", render.NASA)); err != nil {
			return err
		}
		if err := output.WriteDOT(filepath.Join(cfg.Out, "classgraph.dot"),
			render.ClassgraphDOT(funcs, "aotlift (types)", render.NASA, maxClasses)); err != nil {
			return err
		}

		entrySet := lo.SliceToMap(entries, func(n string) (string, bool) { return n, true })
		sg := signal.BuildSignalGraph(funcs, signalHops, entrySet)
		if err := output.WriteSignalJSON(cfg.Out, sg); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"signal":  sg.Stats.SignalFuncs,
			"context": sg.Stats.ContextFuncs,
		}).Info("signal graph")

		want := lo.SliceToMap(cfgNames, func(n string) (string, bool) { return n, true })
		for _, f := range funcs {
			if len(want) > 0 && !want[f.Name] {
				continue
			}
			fc, blocks := callgraph.BuildFuncCFG(p.arch, f)
			if blocks < 2 && len(want) == 0 {
				// Straight-line code: emit the call summary instead.
				fc = callgraph.BuildSummaryCFG(f)
				if len(fc.Blocks) == 0 {
					continue
				}
			}
			g := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{fc}}
			if err := output.WriteCFGDOT(cfg.Out, f.Name, g); err != nil {
				return err
			}
		}
		log.WithField("out", cfg.Out).Info("graphs written")
		return nil
	},
}

func init() {
	f := callgraphCmd.Flags()
	f.IntVar(&maxClasses, "max-classes", 0, "limit types in classgraph.dot (0 = all)")
	f.IntVar(&signalHops, "k", 2, "context hops around signal functions")
	f.StringSliceVar(&cfgNames, "cfg", nil, "only write CFGs for these functions")
	f.IntVarP(&liftFlags.workers, "workers", "j", 0, "concurrent analyses (default GOMAXPROCS)")
	f.StringVarP(&liftFlags.out, "out", "o", "", "output directory")
}
