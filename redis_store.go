package twofactor

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caseflowhq/twofactor/internal/stores"
)

// redisCredentialStore adapts the internal Redis record store to the public
// [CredentialStore] interface, translating between the public credential type
// and the compact wire record, and folding backend errors into the public
// taxonomy.
type redisCredentialStore struct {
	inner *stores.CredentialStore
}

// NewRedisCredentialStore returns the bundled Redis-backed [CredentialStore].
// An empty prefix selects the default key prefix. [Builder.Build] wires this
// in automatically when only a Redis client is supplied.
func NewRedisCredentialStore(client redis.UniversalClient, prefix string) CredentialStore {
	return &redisCredentialStore{
		inner: stores.NewCredentialStore(client, prefix),
	}
}

func (s *redisCredentialStore) Get(ctx context.Context, ownerID string) (*Credential, error) {
	rec, err := s.inner.Get(ctx, ownerID)
	if err != nil {
		return nil, mapCredentialStoreError(err)
	}
	return credentialFromRecord(ownerID, rec), nil
}

func (s *redisCredentialStore) Save(ctx context.Context, cred *Credential) error {
	rec := recordFromCredential(cred)
	if err := s.inner.Save(ctx, cred.OwnerID, rec); err != nil {
		return mapCredentialStoreError(err)
	}
	cred.Version = rec.Version
	return nil
}

func (s *redisCredentialStore) Delete(ctx context.Context, ownerID string) error {
	if err := s.inner.Delete(ctx, ownerID); err != nil {
		return mapCredentialStoreError(err)
	}
	return nil
}

func (s *redisCredentialStore) ConsumeBackupCode(ctx context.Context, ownerID string, hash [32]byte) (bool, error) {
	ok, err := s.inner.ConsumeBackupCode(ctx, ownerID, hash)
	if err != nil {
		return false, mapCredentialStoreError(err)
	}
	return ok, nil
}

func (s *redisCredentialStore) ConsumeCounter(ctx context.Context, ownerID string, counter int64) (bool, error) {
	ok, err := s.inner.ConsumeCounter(ctx, ownerID, counter)
	if err != nil {
		return false, mapCredentialStoreError(err)
	}
	return ok, nil
}

func mapCredentialStoreError(err error) error {
	switch {
	case errors.Is(err, stores.ErrCredentialNotFound):
		return ErrCredentialNotFound
	case errors.Is(err, stores.ErrCredentialVersionConflict):
		return ErrVersionConflict
	default:
		return errors.Join(ErrUnavailable, err)
	}
}

func credentialFromRecord(ownerID string, rec *stores.CredentialRecord) *Credential {
	cred := &Credential{
		RecordID:        rec.RecordID,
		OwnerID:         ownerID,
		OrgID:           rec.OrgID,
		Secret:          rec.Secret,
		State:           CredentialState(rec.State),
		LastUsedCounter: rec.LastUsedCounter,
		Version:         rec.Version,
	}
	if rec.EnabledAt > 0 {
		cred.EnabledAt = time.Unix(rec.EnabledAt, 0).UTC()
	}

	cred.BackupCodes = make([]BackupCodeRecord, 0, len(rec.BackupCodes))
	for _, code := range rec.BackupCodes {
		out := BackupCodeRecord{
			Hash:     code.Hash,
			Consumed: code.Consumed,
		}
		if code.ConsumedAt > 0 {
			out.ConsumedAt = time.Unix(code.ConsumedAt, 0).UTC()
		}
		cred.BackupCodes = append(cred.BackupCodes, out)
	}

	return cred
}

func recordFromCredential(cred *Credential) *stores.CredentialRecord {
	rec := &stores.CredentialRecord{
		RecordID:        cred.RecordID,
		OrgID:           cred.OrgID,
		State:           uint8(cred.State),
		Secret:          cred.Secret,
		LastUsedCounter: cred.LastUsedCounter,
		Version:         cred.Version,
	}
	if !cred.EnabledAt.IsZero() {
		rec.EnabledAt = cred.EnabledAt.Unix()
	}

	rec.BackupCodes = make([]stores.StoredBackupCode, 0, len(cred.BackupCodes))
	for _, code := range cred.BackupCodes {
		out := stores.StoredBackupCode{
			Hash:     code.Hash,
			Consumed: code.Consumed,
		}
		if !code.ConsumedAt.IsZero() {
			out.ConsumedAt = code.ConsumedAt.Unix()
		}
		rec.BackupCodes = append(rec.BackupCodes, out)
	}

	return rec
}
