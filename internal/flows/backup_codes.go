package flows

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
)

// BackupCodeAlphabet omits I, O, 0, and 1 to avoid transcription mistakes.
// 32 characters give 5 bits per character.
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// BackupCodeRecord carries the per-owner salted hash of a single code.
type BackupCodeRecord struct {
	Hash [32]byte
}

type BackupCodeMetrics struct {
	Used        int
	Failed      int
	Regenerated int
}

type BackupCodeEvents struct {
	Used        string
	Failed      string
	Regenerated string
	RateLimited string
}

type BackupCodeErrors struct {
	EngineNotReady error
	Invalid        error
	RateLimited    error
	Unavailable    error
}

// BackupCodeDeps is the dependency set for the backup-code flows. Function
// fields left nil are replaced with safe defaults by normalization, so
// callers can silence audit or metrics simply by omitting them.
type BackupCodeDeps struct {
	Count  int
	Length int

	ConsumeBackupCode  func(ctx context.Context, ownerID string, hash [32]byte) (bool, error)
	ReplaceBackupCodes func(ctx context.Context, ownerID string, records []BackupCodeRecord) error

	CheckLimiter         func(ctx context.Context, orgID, ownerID string) error
	RecordLimiterFailure func(ctx context.Context, orgID, ownerID string) error
	ResetLimiter         func(ctx context.Context, orgID, ownerID string) error
	IsRateLimited        func(error) bool

	RandomIndex func(int) (int, error)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, eventType string, success bool, ownerID, orgID string, err error, metadataBuilder func() map[string]string)

	Metrics BackupCodeMetrics
	Events  BackupCodeEvents
	Errors  BackupCodeErrors
}

// RunConsumeBackupCode verifies and consumes a single backup code. The store
// dependency must consume atomically: under a race, exactly one caller
// observes ok.
func RunConsumeBackupCode(ctx context.Context, orgID, ownerID, code string, deps BackupCodeDeps) error {
	normalizeBackupCodeDeps(&deps)

	if deps.ConsumeBackupCode == nil {
		return deps.Errors.EngineNotReady
	}

	if err := deps.CheckLimiter(ctx, orgID, ownerID); err != nil {
		if deps.IsRateLimited(err) {
			deps.EmitAudit(ctx, deps.Events.RateLimited, false, ownerID, orgID, deps.Errors.RateLimited, nil)
			return deps.Errors.RateLimited
		}
		return deps.Errors.Unavailable
	}

	canonical := CanonicalizeBackupCode(code)
	if canonical == "" {
		deps.MetricInc(deps.Metrics.Failed)
		if err := deps.RecordLimiterFailure(ctx, orgID, ownerID); err != nil && deps.IsRateLimited(err) {
			return deps.Errors.RateLimited
		}
		return deps.Errors.Invalid
	}

	ok, err := deps.ConsumeBackupCode(ctx, ownerID, BackupCodeHash(ownerID, canonical))
	if err != nil {
		return deps.Errors.Unavailable
	}
	if !ok {
		deps.MetricInc(deps.Metrics.Failed)
		deps.EmitAudit(ctx, deps.Events.Failed, false, ownerID, orgID, deps.Errors.Invalid, nil)
		if err := deps.RecordLimiterFailure(ctx, orgID, ownerID); err != nil && deps.IsRateLimited(err) {
			return deps.Errors.RateLimited
		}
		return deps.Errors.Invalid
	}

	_ = deps.ResetLimiter(ctx, orgID, ownerID)
	deps.MetricInc(deps.Metrics.Used)
	deps.EmitAudit(ctx, deps.Events.Used, true, ownerID, orgID, nil, nil)
	return nil
}

// RunGenerateBackupCodes draws a fresh set, installs the hashed records
// wholesale (invalidating every prior code, consumed or not), and returns the
// plaintext codes exactly once. The caller is responsible for any
// verification gate before invoking this.
func RunGenerateBackupCodes(ctx context.Context, orgID, ownerID string, deps BackupCodeDeps) ([]string, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.ReplaceBackupCodes == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if deps.Count <= 0 || deps.Length <= 0 {
		return nil, deps.Errors.Unavailable
	}

	records := make([]BackupCodeRecord, 0, deps.Count)
	codes := make([]string, 0, deps.Count)
	for i := 0; i < deps.Count; i++ {
		raw, err := NewBackupCode(deps.Length, deps.RandomIndex)
		if err != nil {
			return nil, deps.Errors.Unavailable
		}
		canonical := CanonicalizeBackupCode(raw)
		records = append(records, BackupCodeRecord{Hash: BackupCodeHash(ownerID, canonical)})
		codes = append(codes, FormatBackupCode(raw))
	}

	if err := deps.ReplaceBackupCodes(ctx, ownerID, records); err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.Regenerated)
	deps.EmitAudit(ctx, deps.Events.Regenerated, true, ownerID, orgID, nil, nil)
	return codes, nil
}

// NewBackupCode draws length characters from the alphabet using the given
// index source (crypto/rand when nil).
func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatBackupCode inserts a display hyphen at the midpoint.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode uppercases and strips the separators users type.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// IsCanonicalBackupCode reports whether s is exactly length characters from
// the backup-code alphabet. Used for shape dispatch at the verify boundary.
func IsCanonicalBackupCode(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(BackupCodeAlphabet, rune(s[i])) {
			return false
		}
	}
	return true
}

// BackupCodeHash salts the canonical code with the owner ID so identical
// codes issued to different owners never share a stored hash.
func BackupCodeHash(ownerID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(ownerID)+1+len(canonicalCode))
	data = append(data, ownerID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

func normalizeBackupCodeDeps(deps *BackupCodeDeps) {
	if deps.CheckLimiter == nil {
		deps.CheckLimiter = func(context.Context, string, string) error { return nil }
	}
	if deps.RecordLimiterFailure == nil {
		deps.RecordLimiterFailure = func(context.Context, string, string) error { return nil }
	}
	if deps.ResetLimiter == nil {
		deps.ResetLimiter = func(context.Context, string, string) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = cryptoRandomIndex
	}
}
