package twofactor

import (
	"context"
	"errors"
	"time"

	internalaudit "github.com/caseflowhq/twofactor/internal/audit"
	"github.com/caseflowhq/twofactor/internal/limiters"
)

// Engine is the two-factor credential engine. Construct it through [Builder];
// a configured Engine is immutable and safe for concurrent use.
//
// Every operation takes the acting [Identity] explicitly. The engine never
// reads owner or organization identifiers from ambient state.
type Engine struct {
	config        Config
	store         CredentialStore
	totp          *totpManager
	verifyLimiter *limiters.VerifyLimiter
	backupLimiter *limiters.BackupCodeLimiter
	audit         *internalaudit.Dispatcher
	metrics       *Metrics
	proof         *proofSigner
	clock         Clock
}

// Close drains and stops the audit dispatcher. Safe to call on a nil engine
// and safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock.Now()
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	return nil
}

func requireIdentity(id Identity) error {
	if id.OwnerID == "" {
		return ErrIdentityRequired
	}
	return nil
}

// loadCredential fetches the owner's credential, folding backend failures
// into the transient [ErrUnavailable] so store internals never leak.
func (e *Engine) loadCredential(ctx context.Context, id Identity) (*Credential, error) {
	cred, err := e.store.Get(ctx, id.OwnerID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, errors.Join(ErrUnavailable, err)
	}
	return cred, nil
}

// saveCredential maps store write failures onto the public taxonomy:
// a lost optimistic race surfaces as the retryable [ErrConflict], anything
// else as [ErrUnavailable].
func (e *Engine) saveCredential(ctx context.Context, cred *Credential) error {
	err := e.store.Save(ctx, cred)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrVersionConflict):
		return ErrConflict
	default:
		return errors.Join(ErrUnavailable, err)
	}
}
