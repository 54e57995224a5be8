// Package batch lifts many functions concurrently against one engine.
// A function that aborts never fails the batch; only cancellation does.
package batch

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"aotlift/internal/lifter"
)

// Analyzer is the part of lifter.Engine the driver needs.
type Analyzer interface {
	Analyze(ctx context.Context, fn *lifter.Function) *lifter.Result
}

// Stats are the aggregate counters of one run.
type Stats struct {
	Total   int64         `json:"total"`
	Full    int64         `json:"full"`
	Partial int64         `json:"partial"`
	Aborted int64         `json:"aborted"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

type counters struct {
	full, partial, aborted atomic.Int64
}

func (c *counters) count(r *lifter.Result) {
	switch r.Outcome {
	case lifter.Full:
		c.full.Add(1)
	case lifter.Partial:
		c.partial.Add(1)
	default:
		c.aborted.Add(1)
	}
}

// Options tune a run.
type Options struct {
	// Workers bounds concurrent analyses. 0 selects GOMAXPROCS.
	Workers int
	// Progress, when set, is called after each function completes. It may
	// be called from several goroutines.
	Progress func(done, total int)
	Logger   log.Interface
}

// Run analyzes funcs with at most opts.Workers in flight. Results are
// returned in input order. The error is non-nil only when ctx was
// cancelled; results of functions not reached are nil in that case.
func Run(ctx context.Context, a Analyzer, funcs []*lifter.Function, opts Options) ([]*lifter.Result, Stats, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Log
	}

	start := time.Now()
	results := make([]*lifter.Result, len(funcs))
	var c counters
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, fn := range funcs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := a.Analyze(gctx, fn)
			results[i] = r
			c.count(r)
			if opts.Progress != nil {
				opts.Progress(int(done.Add(1)), len(funcs))
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := Stats{
		Total:   int64(len(funcs)),
		Full:    c.full.Load(),
		Partial: c.partial.Load(),
		Aborted: c.aborted.Load(),
		Elapsed: time.Since(start),
	}
	logger.WithFields(log.Fields{
		"total":   stats.Total,
		"full":    stats.Full,
		"partial": stats.Partial,
		"aborted": stats.Aborted,
		"workers": workers,
	}).Info("batch complete")
	return results, stats, err
}
