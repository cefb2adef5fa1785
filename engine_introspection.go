package twofactor

import (
	"context"
	"errors"
)

// Status reports the owner's enrollment state without exposing the secret or
// any hash material. An owner with no record is simply not enrolled, never an
// error, so callers can render enrollment UI from a single call.
func (e *Engine) Status(ctx context.Context, id Identity) (*EnrollmentStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := requireIdentity(id); err != nil {
		return nil, err
	}

	cred, err := e.loadCredential(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return &EnrollmentStatus{State: StateNotEnrolled}, nil
		}
		return nil, err
	}

	remaining := 0
	for _, code := range cred.BackupCodes {
		if !code.Consumed {
			remaining++
		}
	}

	return &EnrollmentStatus{
		State:                cred.State,
		EnabledAt:            cred.EnabledAt,
		BackupCodesRemaining: remaining,
	}, nil
}
