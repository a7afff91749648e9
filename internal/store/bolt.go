package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"whisper/internal/domain"
)

const (
	encryptedBucket   = "encrypted"
	unencryptedBucket = "unencrypted"
	metadataBucket    = "metadata"

	versionKey = "version"
	kdfKey     = "kdf"
)

var bucketNames = [2][]byte{
	domain.NamespaceEncrypted:   []byte(encryptedBucket),
	domain.NamespaceUnencrypted: []byte(unencryptedBucket),
}

// Bolt is a bbolt-backed KeyValueStore. Values in the encrypted bucket are
// sealed before they reach the database.
type Bolt struct {
	db     *bolt.DB
	sealer *sealer
}

// OpenBolt creates or opens the database at path. A new database records
// fresh KDF parameters; an existing one must open with the same passphrase.
func OpenBolt(path, passphrase string, opts ...Option) (*Bolt, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	var (
		params kdfParams
		s      *sealer
	)
	if err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		for _, name := range bucketNames {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		if v := meta.Get([]byte(versionKey)); v != nil {
			if len(v) != 1 || int(v[0]) > keystoreFormatVersion {
				return fmt.Errorf("store: incompatible version: %v", v)
			}
			raw := meta.Get([]byte(kdfKey))
			if raw == nil {
				return fmt.Errorf("store: missing kdf parameters")
			}
			return json.Unmarshal(raw, &params)
		}

		fresh, fs, err := newParams(passphrase, o.n, o.r, o.p)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(fresh)
		if err != nil {
			return err
		}
		if err := meta.Put([]byte(versionKey), []byte{keystoreFormatVersion}); err != nil {
			return err
		}
		s = fs
		return meta.Put([]byte(kdfKey), raw)
	}); err != nil {
		db.Close()
		return nil, err
	}

	if s == nil {
		if s, err = openParams(passphrase, &params); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Bolt{db: db, sealer: s}, nil
}

func (b *Bolt) get(ctx context.Context, ns domain.Namespace, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var raw []byte
	if err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketNames[ns]).Get([]byte(key)); v != nil {
			// Values are only valid for the life of the transaction.
			raw = bytes.Clone(v)
		}
		return nil
	}); err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	if ns == domain.NamespaceEncrypted {
		pt, err := b.sealer.open(key, raw)
		if err != nil {
			return nil, false, err
		}
		return pt, true, nil
	}
	return raw, true, nil
}

func (b *Bolt) put(ctx context.Context, ns domain.Namespace, key string, value []byte) error {
	return b.Apply(ctx, &domain.Batch{Ops: []domain.BatchOp{{Namespace: ns, Key: key, Value: value}}})
}

func (b *Bolt) GetEncrypted(ctx context.Context, key string) ([]byte, bool, error) {
	return b.get(ctx, domain.NamespaceEncrypted, key)
}

func (b *Bolt) PutEncrypted(ctx context.Context, key string, value []byte) error {
	return b.put(ctx, domain.NamespaceEncrypted, key, value)
}

func (b *Bolt) GetUnencrypted(ctx context.Context, key string) ([]byte, bool, error) {
	return b.get(ctx, domain.NamespaceUnencrypted, key)
}

func (b *Bolt) PutUnencrypted(ctx context.Context, key string, value []byte) error {
	return b.put(ctx, domain.NamespaceUnencrypted, key, value)
}

func (b *Bolt) Remove(ctx context.Context, ns domain.Namespace, key string) error {
	batch := &domain.Batch{}
	batch.Remove(ns, key)
	return b.Apply(ctx, batch)
}

func (b *Bolt) Keys(ctx context.Context, ns domain.Namespace, prefix string) ([]string, error) {
	if err := checkNamespace(ns); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNames[ns]).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// Apply seals every encrypted value first and then writes the whole batch
// in a single bbolt transaction.
func (b *Bolt) Apply(ctx context.Context, batch *domain.Batch) error {
	values := make([][]byte, len(batch.Ops))
	for i, op := range batch.Ops {
		if err := checkNamespace(op.Namespace); err != nil {
			return err
		}
		if op.Value == nil || op.Namespace != domain.NamespaceEncrypted {
			values[i] = op.Value
			continue
		}
		sealed, err := b.sealer.seal(op.Key, op.Value)
		if err != nil {
			return err
		}
		values[i] = sealed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		for i, op := range batch.Ops {
			bkt := tx.Bucket(bucketNames[op.Namespace])
			if values[i] == nil {
				if err := bkt.Delete([]byte(op.Key)); err != nil {
					return err
				}
				continue
			}
			if err := bkt.Put([]byte(op.Key), values[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) Close() error {
	if err := b.db.Sync(); err != nil {
		_ = b.db.Close()
		return err
	}
	return b.db.Close()
}

var _ domain.KeyValueStore = (*Bolt)(nil)
