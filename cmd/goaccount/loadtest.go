package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/goAccount/session"
)

type loadtestOptions struct {
	sessions    int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
}

// NewLoadtestCmd creates the loadtest subcommand. It drives the refresh
// session store directly: a lookup phase resolving refresh values and a
// rotate phase exchanging them.
func NewLoadtestCmd() *cobra.Command {
	opts := loadtestOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Benchmark refresh session lookups and rotations against Redis",
		Long: `Seed refresh sessions, then measure concurrent lookups and rotations.
Without --redis-addr an in-process miniredis is used.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.sessions, "sessions", 10000, "number of sessions to seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 50000, "operations per phase")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "redis address (default: in-process miniredis)")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "ars-loadtest", "session key prefix")
	return cmd
}

// sessionSlot holds the current refresh value of one seeded session.
// Rotation replaces it, so workers serialize on mu.
type sessionSlot struct {
	mu    sync.Mutex
	value string
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runLoadtest(ctx context.Context, out io.Writer, opts loadtestOptions) error {
	if opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return oops.Code("LOADTEST_INVALID").Errorf("sessions, concurrency and ops must be > 0")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var client redis.UniversalClient
	if opts.redisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return oops.Code("LOADTEST_REDIS_FAILED").Wrap(err)
		}
		defer mr.Close()
		opts.redisAddr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", opts.redisAddr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", opts.redisAddr)
	}
	client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{opts.redisAddr}})
	defer func() { _ = client.Close() }()

	store := session.NewStore(client, opts.prefix)
	slots := make([]sessionSlot, opts.sessions)

	fmt.Fprintf(out, "seeding %d sessions...\n", opts.sessions)
	start := time.Now()
	for i := range slots {
		_, value, err := store.Create(ctx, session.NewSession{
			IdentityID:  fmt.Sprintf("loadtest-%d", i%1024),
			IP:          "198.51.100.1",
			Fingerprint: "198.51.100.0/24",
			Approved:    true,
		}, time.Hour)
		if err != nil {
			return oops.Code("LOADTEST_SEED_FAILED").With("index", i).Wrap(err)
		}
		slots[i].value = value
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(start).Round(time.Millisecond))

	lookup := runPhase(opts.ops, opts.concurrency, len(slots), func(idx int) error {
		slot := &slots[idx]
		slot.mu.Lock()
		value := slot.value
		slot.mu.Unlock()
		_, err := store.FindByValue(ctx, value)
		return err
	})
	rotate := runPhase(opts.ops, opts.concurrency, len(slots), func(idx int) error {
		slot := &slots[idx]
		slot.mu.Lock()
		defer slot.mu.Unlock()
		_, next, err := store.Rotate(ctx, slot.value, session.NewSession{}, time.Hour)
		if err == nil {
			slot.value = next
		}
		return err
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "lookup", lookup)
	printStats(out, "rotate", rotate)
	return nil
}

// runPhase runs ops calls of fn over random slot indexes on concurrency
// workers and collects per-call latency.
func runPhase(ops, concurrency, slots int, fn func(idx int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, ops/concurrency+1)
			for cursor.Add(1) <= int64(ops) {
				t0 := time.Now()
				if err := fn(rand.IntN(slots)); err != nil {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	slices.Sort(samples)
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
