package twofactor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// 20 random bytes = 160 bits, the RFC 4226 recommended minimum.
const totpSecretBytes = 20

type totpManager struct {
	config TOTPConfig
	issuer string
}

func newTOTPManager(cfg TOTPConfig, issuer string) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &totpManager{config: cfg, issuer: issuer}
}

// GenerateSecret draws a fresh shared secret from crypto/rand and returns it
// raw plus base32-encoded (no padding, the alphabet authenticator apps expect).
func (m *totpManager) GenerateSecret() ([]byte, string, error) {
	if m == nil {
		return nil, "", ErrEngineNotReady
	}
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}

	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// descriptor encoding algorithm, digits,
// period, issuer, and account label, suitable for QR rendering.
func (m *totpManager) ProvisionURI(secretBase32, account string) string {
	label := url.PathEscape(m.issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", m.issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", strings.ToUpper(m.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode checks code against the counters inside the drift window at the
// reference time now. The current step is tried first, then the adjacent
// steps in increasing distance (0, -1, +1, ...), so the returned offset
// reports observed drift. Shape violations fail before any HMAC work.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, int, error) {
	if m == nil {
		return false, 0, 0, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumericString(trimmed) {
		return false, 0, 0, nil
	}

	if len(secret) == 0 {
		return false, 0, 0, errors.New("empty totp secret")
	}

	baseCounter := now.Unix() / int64(m.config.Period)
	for _, step := range driftOffsets(m.config.Skew) {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, 0, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, step, nil
		}
	}

	return false, 0, 0, nil
}

// driftOffsets orders the tolerance window as 0, -1, +1, -2, +2, ...
func driftOffsets(skew int) []int {
	offsets := make([]int, 0, 2*skew+1)
	offsets = append(offsets, 0)
	for i := 1; i <= skew; i++ {
		offsets = append(offsets, -i, i)
	}
	return offsets
}

// ComputeCode derives the code an authenticator app would show for the
// base32 secret at the given instant. It exists for the authenticator side:
// tests, tooling, and the load generator. Server-side verification must go
// through [Engine.VerifyLogin].
func ComputeCode(secretBase32 string, at time.Time, cfg TOTPConfig) (string, error) {
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).
		DecodeString(strings.ToUpper(strings.TrimSpace(secretBase32)))
	if err != nil {
		return "", err
	}
	counter := at.Unix() / int64(cfg.Period)
	return hotpCode(key, counter, cfg.Digits, cfg.Algorithm)
}

// hotpCode implements RFC 4226 dynamic truncation: the low nibble of the
// final HMAC byte selects a 4-byte window, the top bit is masked, and the
// result is reduced modulo 10^digits and left-padded with zeros.
func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumericString(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
