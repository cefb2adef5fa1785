package twofactor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caseflowhq/twofactor/internal/flows"
)

func TestBackupCodeFormat(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	_, codes := enrollOwner(t, engine, clock, testIdentity())

	wantLen := engine.config.BackupCodes.Length + 1 // display hyphen
	for _, code := range codes {
		if len(code) != wantLen {
			t.Fatalf("expected %d-char formatted code, got %q", wantLen, code)
		}
		mid := engine.config.BackupCodes.Length / 2
		if code[mid] != '-' {
			t.Fatalf("expected hyphen at midpoint of %q", code)
		}
		canonical := flows.CanonicalizeBackupCode(code)
		if !flows.IsCanonicalBackupCode(canonical, engine.config.BackupCodes.Length) {
			t.Fatalf("code %q not canonical after stripping", code)
		}
		for _, forbidden := range "IO01" {
			if strings.ContainsRune(canonical, forbidden) {
				t.Fatalf("code %q contains ambiguous character %c", code, forbidden)
			}
		}
	}
}

func TestVerifyLoginWithBackupCode(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	_, codes := enrollOwner(t, engine, clock, id)

	res, err := engine.VerifyLogin(context.Background(), id, codes[0])
	if err != nil {
		t.Fatalf("backup code verification failed: %v", err)
	}
	if res.Method != MethodBackupCode {
		t.Fatalf("expected backup-code method, got %s", res.Method)
	}

	status, err := engine.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.BackupCodesRemaining != engine.config.BackupCodes.Count-1 {
		t.Fatalf("expected %d codes remaining, got %d", engine.config.BackupCodes.Count-1, status.BackupCodesRemaining)
	}
}

func TestBackupCodeAcceptsUserTypedVariants(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	_, codes := enrollOwner(t, engine, clock, id)

	// Lowercase with the hyphen kept.
	if _, err := engine.VerifyLogin(context.Background(), id, strings.ToLower(codes[0])); err != nil {
		t.Fatalf("lowercase backup code rejected: %v", err)
	}
	// Spaces instead of the hyphen.
	spaced := strings.ReplaceAll(codes[1], "-", " ")
	if _, err := engine.VerifyLogin(context.Background(), id, " "+spaced+" "); err != nil {
		t.Fatalf("spaced backup code rejected: %v", err)
	}
}

func TestBackupCodeSingleUse(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	_, codes := enrollOwner(t, engine, clock, id)

	if _, err := engine.VerifyLogin(context.Background(), id, codes[0]); err != nil {
		t.Fatalf("first use failed: %v", err)
	}
	if _, err := engine.VerifyLogin(context.Background(), id, codes[0]); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected consumed code to be rejected, got %v", err)
	}
}

func TestBackupCodeConcurrentUseExactlyOnce(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, func(cfg *Config) {
		cfg.BackupCodes.MaxAttempts = 1 << 20
		cfg.RateLimit.MaxAttempts = 1 << 20
	})
	defer done()
	id := testIdentity()
	_, codes := enrollOwner(t, engine, clock, id)

	const workers = 8
	var (
		wg        sync.WaitGroup
		successes int
		mu        sync.Mutex
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.VerifyLogin(context.Background(), id, codes[0]); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one success, got %d", successes)
	}
}

func TestBackupCodesStoredAsHashesOnly(t *testing.T) {
	engine, mr, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	_, codes := enrollOwner(t, engine, clock, id)

	for _, key := range mr.Keys() {
		raw, err := mr.Get(key)
		if err != nil {
			continue
		}
		for _, code := range codes {
			canonical := flows.CanonicalizeBackupCode(code)
			if strings.Contains(raw, canonical) || strings.Contains(raw, code) {
				t.Fatalf("plaintext backup code found in stored value under %s", key)
			}
		}
	}
}

func TestBackupCodeRateLimiting(t *testing.T) {
	engine, mr, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	_, codes := enrollOwner(t, engine, clock, id)

	// Backup-shaped but wrong codes count against the backup-code limiter.
	bogus := strings.Repeat("A", engine.config.BackupCodes.Length)
	for i := 0; i < engine.config.BackupCodes.MaxAttempts; i++ {
		if _, err := engine.VerifyLogin(context.Background(), id, bogus); !errors.Is(err, ErrCodeInvalid) && !errors.Is(err, ErrRateLimited) {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if _, err := engine.VerifyLogin(context.Background(), id, codes[0]); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for backup code after failures, got %v", err)
	}

	mr.FastForward(engine.config.BackupCodes.Cooldown + time.Second)
	if _, err := engine.VerifyLogin(context.Background(), id, codes[0]); err != nil {
		t.Fatalf("expected backup code after cooldown, got %v", err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	secret, oldCodes := enrollOwner(t, engine, clock, id)

	// Spend one old code first so the replacement provably resets the set.
	if _, err := engine.VerifyLogin(context.Background(), id, oldCodes[0]); err != nil {
		t.Fatalf("spending old code failed: %v", err)
	}

	clock.Advance(time.Duration(engine.config.TOTP.Period) * time.Second)
	code := codeAt(t, secret, engine.config.TOTP, clock.Now())
	newCodes, err := engine.RegenerateBackupCodes(context.Background(), id, code)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(newCodes) != engine.config.BackupCodes.Count {
		t.Fatalf("expected %d new codes, got %d", engine.config.BackupCodes.Count, len(newCodes))
	}

	status, err := engine.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.BackupCodesRemaining != engine.config.BackupCodes.Count {
		t.Fatalf("expected full set remaining, got %d", status.BackupCodesRemaining)
	}

	// Every old code is dead, spent or not.
	for _, old := range oldCodes[1:3] {
		if _, err := engine.VerifyLogin(context.Background(), id, old); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("expected invalidated old code to be rejected, got %v", err)
		}
	}
	if _, err := engine.VerifyLogin(context.Background(), id, newCodes[0]); err != nil {
		t.Fatalf("new code rejected: %v", err)
	}
}

func TestRegenerateRejectsBackupCodeAsAuthorization(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, nil)
	defer done()
	id := testIdentity()
	_, codes := enrollOwner(t, engine, clock, id)

	if _, err := engine.RegenerateBackupCodes(context.Background(), id, codes[0]); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected backup code to be refused for regeneration, got %v", err)
	}
	// The refused code was not consumed.
	if _, err := engine.VerifyLogin(context.Background(), id, codes[0]); err != nil {
		t.Fatalf("expected unconsumed code to still verify, got %v", err)
	}
}

func TestRegenerateRequiresEnrollment(t *testing.T) {
	engine, _, _, done := newTestEngine(t, nil)
	defer done()

	if _, err := engine.RegenerateBackupCodes(context.Background(), testIdentity(), "123456"); !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
}
