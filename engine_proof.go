package twofactor

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type proofClaims struct {
	jwt.RegisteredClaims
	OrgID  string `json:"org,omitempty"`
	Method string `json:"method"`
}

// proofSigner mints the short-lived HS256 assertion handed to the external
// session layer after a successful verification.
type proofSigner struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
}

func newProofSigner(cfg ProofConfig, issuer string) (*proofSigner, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("proof secret must be at least 32 bytes")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("proof TTL must be > 0")
	}
	return &proofSigner{
		secret:   cfg.Secret,
		ttl:      cfg.TTL,
		issuer:   issuer,
		audience: cfg.Audience,
	}, nil
}

func (s *proofSigner) Mint(id Identity, method VerifyMethod, at time.Time) (string, error) {
	claims := proofClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.OwnerID,
			IssuedAt:  jwt.NewNumericDate(at),
			ExpiresAt: jwt.NewNumericDate(at.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
		OrgID:  id.OrgID,
		Method: string(method),
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyProof validates a proof token minted by [Engine.VerifyLogin] and
// confirms it was issued to id. It returns the method that satisfied the
// original verification. All parse, signature, expiry, and claim failures
// fold into [ErrProofInvalid].
func (e *Engine) VerifyProof(tokenStr string, id Identity) (VerifyMethod, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.proof == nil {
		return "", ErrProofDisabled
	}
	if err := requireIdentity(id); err != nil {
		return "", err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(e.proof.issuer),
		jwt.WithTimeFunc(e.now),
		jwt.WithExpirationRequired(),
	}
	if e.proof.audience != "" {
		opts = append(opts, jwt.WithAudience(e.proof.audience))
	}

	claims := &proofClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return e.proof.secret, nil
	}, opts...)
	if err != nil {
		return "", ErrProofInvalid
	}

	if claims.Subject != id.OwnerID || claims.OrgID != id.OrgID {
		return "", ErrProofInvalid
	}

	switch method := VerifyMethod(claims.Method); method {
	case MethodTOTP, MethodBackupCode:
		return method, nil
	default:
		return "", ErrProofInvalid
	}
}
