package twofactor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifyLoginAcceptsCurrentCode(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	secret, _ := enrollOwner(t, engine, clock, id)

	code := codeAt(t, secret, engine.config.TOTP, clock.Now())
	res, err := engine.VerifyLogin(context.Background(), id, code)
	if err != nil {
		t.Fatalf("VerifyLogin failed: %v", err)
	}
	if res.Method != MethodTOTP {
		t.Fatalf("expected totp method, got %s", res.Method)
	}
	if res.DriftSteps != 0 {
		t.Fatalf("expected zero drift, got %d", res.DriftSteps)
	}
}

func TestVerifyLoginAcceptsAdjacentSteps(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	secret, _ := enrollOwner(t, engine, clock, id)

	period := time.Duration(engine.config.TOTP.Period) * time.Second
	// Move well past the confirmation step so the previous-step code is not a
	// replay of the confirmation counter.
	clock.Advance(3 * period)

	prev := codeAt(t, secret, engine.config.TOTP, clock.Now().Add(-period))
	res, err := engine.VerifyLogin(context.Background(), id, prev)
	if err != nil {
		t.Fatalf("previous-step code rejected: %v", err)
	}
	if res.DriftSteps != -1 {
		t.Fatalf("expected drift -1, got %d", res.DriftSteps)
	}

	clock.Advance(3 * period)
	next := codeAt(t, secret, engine.config.TOTP, clock.Now().Add(period))
	res, err = engine.VerifyLogin(context.Background(), id, next)
	if err != nil {
		t.Fatalf("next-step code rejected: %v", err)
	}
	if res.DriftSteps != 1 {
		t.Fatalf("expected drift +1, got %d", res.DriftSteps)
	}
}

func TestVerifyLoginRejectsCodeOutsideWindow(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	secret, _ := enrollOwner(t, engine, clock, id)

	period := time.Duration(engine.config.TOTP.Period) * time.Second
	clock.Advance(4 * period)

	stale := codeAt(t, secret, engine.config.TOTP, clock.Now().Add(-2*period))
	if _, err := engine.VerifyLogin(context.Background(), id, stale); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid for stale code, got %v", err)
	}
}

func TestVerifyLoginRejectsReplay(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	secret, _ := enrollOwner(t, engine, clock, id)

	code := codeAt(t, secret, engine.config.TOTP, clock.Now())
	if _, err := engine.VerifyLogin(context.Background(), id, code); err != nil {
		t.Fatalf("first verification failed: %v", err)
	}
	if _, err := engine.VerifyLogin(context.Background(), id, code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected replay to fold into ErrCodeInvalid, got %v", err)
	}

	snapshot := engine.MetricsSnapshot()
	if snapshot.Counters[MetricReplayDetected] != 1 {
		t.Fatalf("expected 1 replay detection, got %d", snapshot.Counters[MetricReplayDetected])
	}
}

func TestVerifyLoginReplayAllowedWhenProtectionOff(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, func(cfg *Config) {
		cfg.TOTP.EnforceReplayProtection = false
	})
	defer done()
	id := testIdentity()
	secret, _ := enrollOwner(t, engine, clock, id)

	code := codeAt(t, secret, engine.config.TOTP, clock.Now())
	for i := 0; i < 2; i++ {
		if _, err := engine.VerifyLogin(context.Background(), id, code); err != nil {
			t.Fatalf("verification %d failed: %v", i, err)
		}
	}
}

func TestVerifyLoginRejectsMalformedCode(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	enrollOwner(t, engine, clock, id)

	for _, code := range []string{"", "123", "12ab56", "!@#$%^"} {
		if _, err := engine.VerifyLogin(context.Background(), id, code); !errors.Is(err, ErrMalformedCode) {
			t.Fatalf("expected ErrMalformedCode for %q, got %v", code, err)
		}
	}
}

func TestVerifyLoginNotEnrolled(t *testing.T) {
	engine, _, _, done := newTestEngine(t, nil)
	defer done()

	if _, err := engine.VerifyLogin(context.Background(), testIdentity(), "123456"); !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
}

func TestVerifyLoginPendingSetupNotEnrolled(t *testing.T) {
	engine, _, _, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()

	if _, err := engine.BeginSetup(context.Background(), id); err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}
	if _, err := engine.VerifyLogin(context.Background(), id, "123456"); !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled while pending, got %v", err)
	}
}

func TestVerifyLoginRateLimiting(t *testing.T) {
	engine, mr, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	secret, _ := enrollOwner(t, engine, clock, id)

	for i := 0; i < engine.config.RateLimit.MaxAttempts; i++ {
		if _, err := engine.VerifyLogin(context.Background(), id, "000000"); !errors.Is(err, ErrCodeInvalid) && !errors.Is(err, ErrMalformedCode) {
			t.Fatalf("attempt %d: expected code failure, got %v", i, err)
		}
	}

	// Lockout engages even for the correct code.
	good := codeAt(t, secret, engine.config.TOTP, clock.Now())
	if _, err := engine.VerifyLogin(context.Background(), id, good); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	snapshot := engine.MetricsSnapshot()
	if snapshot.Counters[MetricRateLimitHit] == 0 {
		t.Fatal("expected rate limit hits recorded")
	}

	// Cooldown expiry frees the owner.
	mr.FastForward(engine.config.RateLimit.Cooldown + time.Second)
	if _, err := engine.VerifyLogin(context.Background(), id, good); err != nil {
		t.Fatalf("expected verification after cooldown, got %v", err)
	}
}

func TestVerifyLoginSuccessResetsLimiter(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	secret, _ := enrollOwner(t, engine, clock, id)

	for i := 0; i < engine.config.RateLimit.MaxAttempts-1; i++ {
		if _, err := engine.VerifyLogin(context.Background(), id, "000000"); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("attempt %d: expected ErrCodeInvalid, got %v", i, err)
		}
	}

	good := codeAt(t, secret, engine.config.TOTP, clock.Now())
	if _, err := engine.VerifyLogin(context.Background(), id, good); err != nil {
		t.Fatalf("verification failed: %v", err)
	}

	// The counter was reset: a full set of failures is available again.
	for i := 0; i < engine.config.RateLimit.MaxAttempts-1; i++ {
		if _, err := engine.VerifyLogin(context.Background(), id, "000000"); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("post-reset attempt %d: expected ErrCodeInvalid, got %v", i, err)
		}
	}
}

func TestVerifyLoginIsolatedPerOwner(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()

	alice := Identity{OwnerID: "alice", OrgID: "org-9"}
	bob := Identity{OwnerID: "bob", OrgID: "org-9"}
	aliceSecret, _ := enrollOwner(t, engine, clock, alice)
	enrollOwner(t, engine, clock, bob)

	// Alice's current code must not verify for Bob.
	code := codeAt(t, aliceSecret, engine.config.TOTP, clock.Now())
	if _, err := engine.VerifyLogin(context.Background(), bob, code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected cross-owner code rejection, got %v", err)
	}
	if _, err := engine.VerifyLogin(context.Background(), alice, code); err != nil {
		t.Fatalf("expected alice's code to verify for alice, got %v", err)
	}
}
