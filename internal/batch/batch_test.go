package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aotlift/internal/isa"
	"aotlift/internal/lifter"
	"aotlift/internal/metadata"
)

var quiet = &log.Logger{Handler: discard.Default, Level: log.ErrorLevel}

// fakeAnalyzer classifies functions by name and records concurrency.
type fakeAnalyzer struct {
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, fn *lifter.Function) *lifter.Result {
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(a.delay)

	r := &lifter.Result{Name: fn.Name, Addr: fn.Addr}
	switch {
	case fn.Addr%3 == 1:
		r.Outcome = lifter.Partial
	case fn.Addr%3 == 2:
		r.Outcome, r.Err = lifter.Aborted, errors.New("boom")
	}
	return r
}

func funcs(n int) []*lifter.Function {
	out := make([]*lifter.Function, n)
	for i := range out {
		out[i] = &lifter.Function{Name: fmt.Sprintf("f%d", i), Addr: uint64(i)}
	}
	return out
}

func TestRunKeepsInputOrder(t *testing.T) {
	a := &fakeAnalyzer{delay: time.Millisecond}
	in := funcs(30)

	results, stats, err := Run(context.Background(), a, in, Options{Workers: 4, Logger: quiet})
	require.NoError(t, err)
	require.Len(t, results, 30)
	for i, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, in[i].Name, r.Name)
	}

	assert.Equal(t, int64(30), stats.Total)
	assert.Equal(t, int64(10), stats.Full)
	assert.Equal(t, int64(10), stats.Partial)
	assert.Equal(t, int64(10), stats.Aborted, "aborted functions are counted, not fatal")
}

func TestRunRespectsWorkerLimit(t *testing.T) {
	a := &fakeAnalyzer{delay: 2 * time.Millisecond}
	_, _, err := Run(context.Background(), a, funcs(20), Options{Workers: 3, Logger: quiet})
	require.NoError(t, err)
	assert.LessOrEqual(t, a.peak.Load(), int32(3))
	assert.GreaterOrEqual(t, a.peak.Load(), int32(1))
}

func TestRunProgress(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	_, _, err := Run(context.Background(), &fakeAnalyzer{}, funcs(5), Options{
		Workers: 2,
		Logger:  quiet,
		Progress: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 5, total)
			seen = append(seen, done)
		},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, seen)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, _, err := Run(ctx, &fakeAnalyzer{}, funcs(10), Options{Workers: 2, Logger: quiet})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 10)
}

func TestRunWithEngine(t *testing.T) {
	arch, err := lifter.ForArch(isa.X86_64)
	require.NoError(t, err)
	idx := metadata.NewBuilder(8).Freeze()
	e := lifter.New(arch, idx, lifter.Options{Logger: quiet})

	in := []*lifter.Function{
		{Name: "ok", Addr: 0x1000, Instructions: []isa.Instruction{
			{Addr: 0x1000, Next: 0x1001, Mnemonic: "ret"},
		}},
		{Name: "odd", Addr: 0x2000, Instructions: []isa.Instruction{
			{Addr: 0x2000, Next: 0x2002, Mnemonic: "cpuid"},
			{Addr: 0x2002, Next: 0x2003, Mnemonic: "ret"},
		}},
		{Name: "empty", Addr: 0x3000},
	}
	results, stats, err := Run(context.Background(), e, in, Options{Workers: 2, Logger: quiet})
	require.NoError(t, err)

	assert.Equal(t, lifter.Full, results[0].Outcome)
	assert.Equal(t, lifter.Partial, results[1].Outcome)
	assert.Equal(t, lifter.Aborted, results[2].Outcome)
	assert.ErrorIs(t, results[2].Err, lifter.ErrEmpty)
	assert.Equal(t, Stats{Total: 3, Full: 1, Partial: 1, Aborted: 1, Elapsed: stats.Elapsed}, stats)
}
