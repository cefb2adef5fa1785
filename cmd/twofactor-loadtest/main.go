package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	twofactor "github.com/caseflowhq/twofactor"
)

type enrollment struct {
	id     twofactor.Identity
	secret string
}

func main() {
	var (
		owners      = flag.Int("owners", 10000, "number of owners to enroll")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (verify + status)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		issuer      = flag.String("issuer", "loadtest", "issuer label for provisioning URIs")
	)
	flag.Parse()

	if *owners <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "owners, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := twofactor.DefaultConfig()
	cfg.Issuer = *issuer
	// Replay protection would reject every repeat verification inside a
	// 30-second step, so the load phases run with it off.
	cfg.TOTP.EnforceReplayProtection = false
	cfg.RateLimit.MaxAttempts = 1 << 30
	cfg.BackupCodes.MaxAttempts = 1 << 30
	cfg.Audit.Enabled = false

	engine, err := twofactor.New().
		WithConfig(cfg).
		WithRedis(client).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	enrollments := make([]enrollment, *owners)
	fmt.Printf("enrolling %d owners...\n", *owners)
	startSeed := time.Now()
	for i := 0; i < *owners; i++ {
		id := twofactor.Identity{
			OwnerID: fmt.Sprintf("owner-%d", i),
			OrgID:   "1",
		}
		prov, err := engine.BeginSetup(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
			os.Exit(1)
		}
		code, err := twofactor.ComputeCode(prov.Secret, time.Now(), cfg.TOTP)
		if err != nil {
			fmt.Fprintf(os.Stderr, "code derivation failed: %v\n", err)
			os.Exit(1)
		}
		if _, err := engine.ConfirmSetup(ctx, id, code); err != nil {
			fmt.Fprintf(os.Stderr, "confirm failed: %v\n", err)
			os.Exit(1)
		}
		enrollments[i] = enrollment{id: id, secret: prov.Secret}
	}
	fmt.Printf("enrolled in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runVerifyPhase(ctx, engine, cfg.TOTP, enrollments, *ops, *concurrency)
	statusStats := runStatusPhase(ctx, engine, enrollments, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("status", statusStats)

	snapshot := engine.MetricsSnapshot()
	fmt.Printf("verify_success=%d verify_failure=%d\n",
		snapshot.Counters[twofactor.MetricVerifySuccess],
		snapshot.Counters[twofactor.MetricVerifyFailure],
	)
}

func runVerifyPhase(ctx context.Context, engine *twofactor.Engine, totpCfg twofactor.TOTPConfig, enrollments []enrollment, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				e := enrollments[r.Intn(len(enrollments))]
				code, err := twofactor.ComputeCode(e.secret, time.Now(), totpCfg)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				t0 := time.Now()
				_, err = engine.VerifyLogin(ctx, e.id, code)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runStatusPhase(ctx context.Context, engine *twofactor.Engine, enrollments []enrollment, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				e := enrollments[r.Intn(len(enrollments))]
				t0 := time.Now()
				_, err := engine.Status(ctx, e.id)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
