package twofactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fixedClock is a settable Clock so drift windows and proof expiry can be
// exercised deterministically.
type fixedClock struct {
	mu sync.Mutex
	at time.Time
}

func newFixedClock(at time.Time) *fixedClock {
	return &fixedClock{at: at}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fixedClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = at
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Issuer = "caseflow-test"
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *miniredis.Miniredis, *fixedClock, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := newFixedClock(time.Unix(1700000000, 0))

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithClock(clock).
		Build()
	if err != nil {
		_ = client.Close()
		mr.Close()
		t.Fatalf("engine build failed: %v", err)
	}

	done := func() {
		engine.Close()
		_ = client.Close()
		mr.Close()
	}

	return engine, mr, clock, done
}

func testIdentity() Identity {
	return Identity{OwnerID: "owner-1", OrgID: "org-9"}
}

// codeAt derives the authenticator-side code for secret at the given instant.
func codeAt(t *testing.T, secret string, cfg TOTPConfig, at time.Time) string {
	t.Helper()
	code, err := ComputeCode(secret, at, cfg)
	if err != nil {
		t.Fatalf("ComputeCode failed: %v", err)
	}
	return code
}

// enrollOwner walks the full setup flow and returns the provisioned secret
// plus the plaintext backup codes. It advances the clock one period past the
// confirmation so the confirmation code's counter does not shadow later
// verifications.
func enrollOwner(t *testing.T, engine *Engine, clock *fixedClock, id Identity) (string, []string) {
	t.Helper()

	prov, err := engine.BeginSetup(context.Background(), id)
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}

	code := codeAt(t, prov.Secret, engine.config.TOTP, clock.Now())
	codes, err := engine.ConfirmSetup(context.Background(), id, code)
	if err != nil {
		t.Fatalf("ConfirmSetup failed: %v", err)
	}

	clock.Advance(time.Duration(engine.config.TOTP.Period) * time.Second)

	return prov.Secret, codes
}
