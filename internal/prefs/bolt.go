package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var bucketPreferences = []byte("preferences")

type boltRecord struct {
	Value     json.RawMessage `json:"value"`
	SavedAt   int64           `json:"saved_at"`
	ExpiresAt int64           `json:"expires_at"`
}

// BoltStore keeps the record as a JSON envelope in a single bbolt bucket.
// bbolt serialises writers, so Save needs no lock of its own.
type BoltStore struct {
	db   *bolt.DB
	opts Options
}

func OpenBolt(path string, opts Options) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPreferences)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create preferences bucket: %w", err)
	}
	return &BoltStore{db: db, opts: opts.withDefaults()}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Load(ctx context.Context) Preferences {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPreferences)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(Key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		s.opts.Logger.Warn("read preferences", zap.Error(err))
		return Defaults()
	}
	if raw == nil {
		return Defaults()
	}

	var rec boltRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.opts.Logger.Warn("falling back to default preferences", zap.Error(fmt.Errorf("%w: %v", ErrCorrupt, err)))
		return Defaults()
	}
	if expired(rec.ExpiresAt, s.opts.Now()) {
		return Defaults()
	}
	p, err := decode(rec.Value, s.opts.Catalog)
	if err != nil {
		s.opts.Logger.Warn("falling back to default preferences", zap.Error(err))
		return Defaults()
	}
	return p
}

func (s *BoltStore) Save(ctx context.Context, p Preferences) error {
	if err := p.Validate(s.opts.Catalog); err != nil {
		return err
	}
	value, err := encode(p)
	if err != nil {
		return err
	}
	now := s.opts.Now()
	raw, err := json.Marshal(boltRecord{
		Value:     value,
		SavedAt:   now.Unix(),
		ExpiresAt: now.Add(Retention).Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode preferences record: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketPreferences)
		if err != nil {
			return err
		}
		return b.Put([]byte(Key), raw)
	})
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

func (s *BoltStore) Reset(ctx context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPreferences)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(Key))
	})
	if err != nil {
		return fmt.Errorf("reset preferences: %w", err)
	}
	return nil
}

func (s *BoltStore) writeRaw(raw []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPreferences).Put([]byte(Key), raw)
	})
}
