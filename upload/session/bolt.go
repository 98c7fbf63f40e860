package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/boltdb/bolt"
	"github.com/sensorsync/go-collector-sync/upload"
)

const (
	sessionBucket   = "upload_sessions"
	numOpenRetries  = 3
	openLockTimeout = 2 * time.Second
)

// Bolt is a SessionRegistry persisted in a boltdb file, so open sessions survive restarts.
type Bolt struct {
	db     *bolt.DB
	logger log.Logger
}

var _ upload.SessionRegistry = (*Bolt)(nil)

// OpenBolt opens (or creates) the registry file at path. The file is locked while open;
// opening waits for another process holding the lock for a few seconds.
func OpenBolt(path string, logger log.Logger) (*Bolt, error) {
	if logger == nil {
		logger = log.NewLogger()
	}

	var db *bolt.DB
	err := retry.Times(numOpenRetries).Wait(time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		var err error
		db, err = bolt.Open(path, 0600, &bolt.Options{Timeout: openLockTimeout})
		if errors.Is(err, bolt.ErrTimeout) {
			logger.Warnf("Session registry %s is locked by another process (attempt %d)", path, attempt+1)
			return err, false
		}
		if err != nil {
			return err, true
		}
		return nil, true
	})
	if err != nil {
		return nil, fmt.Errorf("open session registry %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionBucket))
		if err != nil {
			return fmt.Errorf("create bucket: %s", err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Bolt{db: db, logger: logger}, nil
}

// Close releases the registry file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Get ...
func (b *Bolt) Get(ctx context.Context, id upload.Identifier) (*upload.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	if err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(sessionBucket)).Get(key(id)); v != nil {
			// v is only valid during the transaction.
			value = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if value == nil {
		return nil, nil
	}
	return decode(value)
}

// Register ...
func (b *Bolt) Register(ctx context.Context, s upload.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := encode(s)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		if bucket.Get(key(s.ID)) != nil {
			return upload.ErrDuplicateSession
		}
		return bucket.Put(key(s.ID), value)
	})
}

// Update ...
func (b *Bolt) Update(ctx context.Context, s upload.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := encode(s)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Put(key(s.ID), value)
	})
}

// Remove ...
func (b *Bolt) Remove(ctx context.Context, id upload.Identifier) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Delete(key(id))
	})
}

// List returns all open sessions.
func (b *Bolt) List(ctx context.Context) ([]upload.Session, error) {
	var sessions []upload.Session
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).ForEach(func(k, v []byte) error {
			s, err := decode(v)
			if err != nil {
				b.logger.Warnf("Skipping unreadable session %s: %s", string(k), err)
				return nil
			}
			sessions = append(sessions, *s)
			return nil
		})
	})
	return sessions, err
}
