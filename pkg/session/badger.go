package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/internal/protocol"
)

const badgerPrefix = "s:"

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Empty runs badger in memory.
	Path string `mapstructure:"path"`

	// TTL is the session lifetime. Zero uses DefaultTTL.
	TTL time.Duration `mapstructure:"ttl"`

	// GCInterval is how often the value log is garbage collected.
	// Zero disables it.
	GCInterval time.Duration `mapstructure:"gc_interval"`
}

// BadgerStore keeps sessions in BadgerDB with native entry TTLs, so
// sessions survive restarts and expire without a sweep.
//
// Value layout: expires_at (8 bytes, unix nanos) | user.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewBadgerStore opens the database described by cfg.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database at %q: %w", cfg.Path, err)
	}

	s := &BadgerStore{
		db:   db,
		ttl:  ttlOrDefault(cfg.TTL),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && cfg.Path != "" {
		go s.gcLoop(cfg.GCInterval)
	} else {
		close(s.done)
	}
	return s, nil
}

func badgerKey(id protocol.SessionID) []byte {
	return append([]byte(badgerPrefix), id[:]...)
}

func (b *BadgerStore) Create(ctx context.Context, user string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := newSession(user, b.ttl, time.Now())
	if err != nil {
		return nil, err
	}

	value := make([]byte, 8+len(user))
	binary.BigEndian.PutUint64(value, uint64(s.ExpiresAt.UnixNano()))
	copy(value[8:], user)

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(badgerKey(s.ID), value).WithTTL(b.ttl))
	})
	if err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return s, nil
}

func (b *BadgerStore) Validate(ctx context.Context, id protocol.SessionID) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var s *Session
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) < 8 {
				return fmt.Errorf("corrupt session entry: %d bytes", len(val))
			}
			s = &Session{
				ID:        id,
				ExpiresAt: time.Unix(0, int64(binary.BigEndian.Uint64(val))),
				User:      string(val[8:]),
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	// Badger expiry has second granularity.
	if s.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return s, nil
}

func (b *BadgerStore) Delete(ctx context.Context, id protocol.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := badgerKey(id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

func (b *BadgerStore) gcLoop(interval time.Duration) {
	defer close(b.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			for {
				if err := b.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						logger.Debug("Session value log GC: %v", err)
					}
					break
				}
			}
		}
	}
}

// Close stops garbage collection and closes the database.
func (b *BadgerStore) Close() error {
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	<-b.done
	return b.db.Close()
}
