package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	credentialRecordVersion1 = 1

	// Optimistic transactions retry a few times before reporting the
	// backend as contended; the caller surfaces that as transient.
	maxTxRetries = 4
)

var (
	ErrCredentialNotFound        = errors.New("credential not found")
	ErrCredentialVersionConflict = errors.New("credential version conflict")
	ErrCredentialBackend         = errors.New("credential backend unavailable")
	ErrCredentialCorrupt         = errors.New("credential record corrupt")
)

// StoredBackupCode is the persisted form of a single backup code: hash only,
// plus the exactly-once consumption marker.
type StoredBackupCode struct {
	Hash       [32]byte
	Consumed   bool
	ConsumedAt int64
}

// CredentialRecord is the wire-format credential. Version is the optimistic
// concurrency token; every successful write advances it by one.
type CredentialRecord struct {
	RecordID        string
	OrgID           string
	State           uint8
	Secret          []byte
	EnabledAt       int64
	LastUsedCounter int64
	BackupCodes     []StoredBackupCode
	Version         uint64
}

// CredentialStore keeps one binary-encoded credential record per owner.
// All mutations run under WATCH so that racing writers cannot interleave:
// Save enforces version equality, ConsumeBackupCode and ConsumeCounter are
// atomic compare-and-set updates.
type CredentialStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewCredentialStore(redisClient redis.UniversalClient, prefix string) *CredentialStore {
	if prefix == "" {
		prefix = "tfc"
	}
	return &CredentialStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *CredentialStore) key(ownerID string) string {
	return s.prefix + ":" + ownerID
}

func (s *CredentialStore) Get(ctx context.Context, ownerID string) (*CredentialRecord, error) {
	data, err := s.redis.Get(ctx, s.key(ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}
	return decodeCredentialRecord(data)
}

// Save writes rec under optimistic versioning: the stored version must equal
// rec.Version (zero for a record that does not exist yet). On success
// rec.Version is advanced to the newly stored version.
func (s *CredentialStore) Save(ctx context.Context, ownerID string, rec *CredentialRecord) error {
	key := s.key(ownerID)

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var currentVersion uint64
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				current, decErr := decodeCredentialRecord(data)
				if decErr != nil {
					return decErr
				}
				currentVersion = current.Version
			case errors.Is(err, redis.Nil):
				currentVersion = 0
			default:
				return fmt.Errorf("%w: %v", ErrCredentialBackend, err)
			}

			if currentVersion != rec.Version {
				return ErrCredentialVersionConflict
			}

			next := *rec
			next.Version = currentVersion + 1
			encoded, err := encodeCredentialRecord(&next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}
			rec.Version = next.Version
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: save contention exhausted retries", ErrCredentialBackend)
}

func (s *CredentialStore) Delete(ctx context.Context, ownerID string) error {
	if err := s.redis.Del(ctx, s.key(ownerID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}
	return nil
}

// ConsumeBackupCode flips the matching unconsumed record to consumed and
// reports whether this call did the flip. Racing callers re-read under WATCH,
// so exactly one observes true.
func (s *CredentialStore) ConsumeBackupCode(ctx context.Context, ownerID string, hash [32]byte) (bool, error) {
	key := s.key(ownerID)

	for i := 0; i < maxTxRetries; i++ {
		var consumed bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return fmt.Errorf("%w: %v", ErrCredentialBackend, err)
			}
			rec, err := decodeCredentialRecord(data)
			if err != nil {
				return err
			}

			idx := -1
			for j := range rec.BackupCodes {
				if !rec.BackupCodes[j].Consumed && rec.BackupCodes[j].Hash == hash {
					idx = j
					break
				}
			}
			if idx < 0 {
				return nil
			}

			rec.BackupCodes[idx].Consumed = true
			rec.BackupCodes[idx].ConsumedAt = time.Now().Unix()
			rec.Version++
			encoded, err := encodeCredentialRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}
			consumed = true
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return consumed, nil
	}
	return false, fmt.Errorf("%w: consume contention exhausted retries", ErrCredentialBackend)
}

// ConsumeCounter advances the last-used TOTP counter watermark iff counter
// is strictly newer, accepting each time-step at most once per credential.
func (s *CredentialStore) ConsumeCounter(ctx context.Context, ownerID string, counter int64) (bool, error) {
	key := s.key(ownerID)

	for i := 0; i < maxTxRetries; i++ {
		var accepted bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return fmt.Errorf("%w: %v", ErrCredentialBackend, err)
			}
			rec, err := decodeCredentialRecord(data)
			if err != nil {
				return err
			}

			if counter <= rec.LastUsedCounter {
				return nil
			}

			rec.LastUsedCounter = counter
			rec.Version++
			encoded, err := encodeCredentialRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}
			accepted = true
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return accepted, nil
	}
	return false, fmt.Errorf("%w: counter contention exhausted retries", ErrCredentialBackend)
}

func encodeCredentialRecord(rec *CredentialRecord) ([]byte, error) {
	if len(rec.RecordID) > math.MaxUint16 || len(rec.OrgID) > math.MaxUint16 ||
		len(rec.Secret) > math.MaxUint16 || len(rec.BackupCodes) > math.MaxUint16 {
		return nil, ErrCredentialCorrupt
	}

	var buf bytes.Buffer
	buf.WriteByte(credentialRecordVersion1)
	_ = binary.Write(&buf, binary.BigEndian, rec.Version)
	buf.WriteByte(rec.State)
	writeLenPrefixed(&buf, []byte(rec.RecordID))
	writeLenPrefixed(&buf, []byte(rec.OrgID))
	writeLenPrefixed(&buf, rec.Secret)
	_ = binary.Write(&buf, binary.BigEndian, rec.EnabledAt)
	_ = binary.Write(&buf, binary.BigEndian, rec.LastUsedCounter)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(rec.BackupCodes)))
	for _, code := range rec.BackupCodes {
		buf.Write(code.Hash[:])
		if code.Consumed {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		_ = binary.Write(&buf, binary.BigEndian, code.ConsumedAt)
	}
	return buf.Bytes(), nil
}

func decodeCredentialRecord(data []byte) (*CredentialRecord, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != credentialRecordVersion1 {
		return nil, ErrCredentialCorrupt
	}

	rec := &CredentialRecord{}
	if err := binary.Read(r, binary.BigEndian, &rec.Version); err != nil {
		return nil, ErrCredentialCorrupt
	}
	state, err := r.ReadByte()
	if err != nil {
		return nil, ErrCredentialCorrupt
	}
	rec.State = state

	recordID, err := readLenPrefixed(r)
	if err != nil {
		return nil, ErrCredentialCorrupt
	}
	rec.RecordID = string(recordID)

	orgID, err := readLenPrefixed(r)
	if err != nil {
		return nil, ErrCredentialCorrupt
	}
	rec.OrgID = string(orgID)

	secret, err := readLenPrefixed(r)
	if err != nil {
		return nil, ErrCredentialCorrupt
	}
	rec.Secret = secret

	if err := binary.Read(r, binary.BigEndian, &rec.EnabledAt); err != nil {
		return nil, ErrCredentialCorrupt
	}
	if err := binary.Read(r, binary.BigEndian, &rec.LastUsedCounter); err != nil {
		return nil, ErrCredentialCorrupt
	}

	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, ErrCredentialCorrupt
	}
	rec.BackupCodes = make([]StoredBackupCode, 0, count)
	for i := 0; i < int(count); i++ {
		var code StoredBackupCode
		if _, err := io.ReadFull(r, code.Hash[:]); err != nil {
			return nil, ErrCredentialCorrupt
		}
		consumed, err := r.ReadByte()
		if err != nil {
			return nil, ErrCredentialCorrupt
		}
		code.Consumed = consumed == 1
		if err := binary.Read(r, binary.BigEndian, &code.ConsumedAt); err != nil {
			return nil, ErrCredentialCorrupt
		}
		rec.BackupCodes = append(rec.BackupCodes, code)
	}

	if r.Len() != 0 {
		return nil, ErrCredentialCorrupt
	}
	return rec, nil
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint16(len(b)))
	buf.Write(b)
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
