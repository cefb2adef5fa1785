package flows

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNewBackupCodeAlphabetAndLength(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewBackupCode(16, nil)
		if err != nil {
			t.Fatalf("NewBackupCode failed: %v", err)
		}
		if len(code) != 16 {
			t.Fatalf("expected 16 characters, got %q", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(BackupCodeAlphabet, r) {
				t.Fatalf("character %c outside alphabet in %q", r, code)
			}
		}
	}
}

func TestBackupCodeAlphabetExcludesAmbiguous(t *testing.T) {
	for _, r := range "IO01" {
		if strings.ContainsRune(BackupCodeAlphabet, r) {
			t.Fatalf("alphabet must not contain %c", r)
		}
	}
	if len(BackupCodeAlphabet) != 32 {
		t.Fatalf("expected 32-character alphabet, got %d", len(BackupCodeAlphabet))
	}
}

func TestFormatAndCanonicalize(t *testing.T) {
	code := "ABCDEFGHJKLMNPQR"
	formatted := FormatBackupCode(code)
	if formatted != "ABCDEFGH-JKLMNPQR" {
		t.Fatalf("unexpected format %q", formatted)
	}

	variants := []string{
		formatted,
		strings.ToLower(formatted),
		"abcdefgh jklmnpqr",
		"  ABCDEFGHJKLMNPQR  ",
	}
	for _, v := range variants {
		if got := CanonicalizeBackupCode(v); got != code {
			t.Fatalf("canonicalize %q: expected %q, got %q", v, code, got)
		}
	}
}

func TestIsCanonicalBackupCode(t *testing.T) {
	if !IsCanonicalBackupCode("ABCDEFGHJKLMNPQR", 16) {
		t.Fatal("expected canonical code to pass")
	}
	cases := []string{
		"ABCDEFGHJKLMNPQ",   // short
		"ABCDEFGHJKLMNPQRS", // long
		"ABCDEFGHJKLMNP0R",  // excluded digit
		"abcdefghjklmnpqr",  // lowercase
		"ABCDEFGH-JKLMNPQ",  // separator kept
	}
	for _, c := range cases {
		if IsCanonicalBackupCode(c, 16) {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}

func TestBackupCodeHashSaltedPerOwner(t *testing.T) {
	a := BackupCodeHash("owner-a", "ABCDEFGHJKLMNPQR")
	b := BackupCodeHash("owner-b", "ABCDEFGHJKLMNPQR")
	if a == b {
		t.Fatal("expected per-owner salting to differ")
	}
	if a != BackupCodeHash("owner-a", "ABCDEFGHJKLMNPQR") {
		t.Fatal("expected deterministic hash")
	}
}

func TestRunGenerateBackupCodesInstallsHashes(t *testing.T) {
	var installed []BackupCodeRecord
	deps := BackupCodeDeps{
		Count:  10,
		Length: 16,
		ReplaceBackupCodes: func(_ context.Context, ownerID string, records []BackupCodeRecord) error {
			installed = records
			return nil
		},
		Errors: BackupCodeErrors{
			EngineNotReady: errors.New("not ready"),
			Unavailable:    errors.New("unavailable"),
		},
	}

	codes, err := RunGenerateBackupCodes(context.Background(), "org", "owner-a", deps)
	if err != nil {
		t.Fatalf("RunGenerateBackupCodes failed: %v", err)
	}
	if len(codes) != 10 || len(installed) != 10 {
		t.Fatalf("expected 10 codes and records, got %d/%d", len(codes), len(installed))
	}
	for i, code := range codes {
		canonical := CanonicalizeBackupCode(code)
		if !IsCanonicalBackupCode(canonical, 16) {
			t.Fatalf("code %q not canonical", code)
		}
		if installed[i].Hash != BackupCodeHash("owner-a", canonical) {
			t.Fatalf("record %d hash does not match its code", i)
		}
	}
}

func TestRunConsumeBackupCodeOutcomes(t *testing.T) {
	errInvalid := errors.New("invalid")
	errLimited := errors.New("limited")
	base := func(consume func(context.Context, string, [32]byte) (bool, error)) BackupCodeDeps {
		return BackupCodeDeps{
			Count:             10,
			Length:            16,
			ConsumeBackupCode: consume,
			Errors: BackupCodeErrors{
				EngineNotReady: errors.New("not ready"),
				Invalid:        errInvalid,
				RateLimited:    errLimited,
				Unavailable:    errors.New("unavailable"),
			},
		}
	}

	// Successful consumption.
	deps := base(func(context.Context, string, [32]byte) (bool, error) { return true, nil })
	if err := RunConsumeBackupCode(context.Background(), "org", "owner", "ABCDEFGH-JKLMNPQR", deps); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	// Unknown or spent code.
	deps = base(func(context.Context, string, [32]byte) (bool, error) { return false, nil })
	if err := RunConsumeBackupCode(context.Background(), "org", "owner", "ABCDEFGH-JKLMNPQR", deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}

	// Rate limited before any lookup.
	deps = base(func(context.Context, string, [32]byte) (bool, error) {
		t.Fatal("consume must not run when limited")
		return false, nil
	})
	deps.CheckLimiter = func(context.Context, string, string) error { return errLimited }
	deps.IsRateLimited = func(err error) bool { return errors.Is(err, errLimited) }
	if err := RunConsumeBackupCode(context.Background(), "org", "owner", "ABCDEFGH-JKLMNPQR", deps); !errors.Is(err, errLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}
