// Package bolt implements store.Store on top of a single bbolt file,
// following the bucket-per-entity, open-ensures-buckets idiom of
// Katzenpost's boltuserdb.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "github.com/coreos/bbolt"

	"nwcprovider/internal/paranoia"
	"nwcprovider/internal/store"
)

const (
	bucketClientKeys   = "client_keys"
	bucketBudgets      = "budgets"
	bucketSpendRecords = "spend_records"
	bucketSpendByPub   = "spend_by_pubkey"
	bucketConfig       = "config"
	bucketMeta         = "meta"

	metaVersionKey  = "version"
	metaNextBudget  = "next_budget_id"
	metaNextSpendID = "next_spend_id"
	schemaVersion   = 1
)

// Store is a durable, file-backed implementation of store.Store.
type Store struct {
	db *bolt.DB
}

// Open creates (or loads) the bbolt file at path, ensuring all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketClientKeys, bucketBudgets, bucketSpendRecords, bucketSpendByPub, bucketConfig, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if v := meta.Get([]byte(metaVersionKey)); v == nil {
			if err := meta.Put([]byte(metaVersionKey), []byte{schemaVersion}); err != nil {
				return err
			}
		} else if len(v) != 1 || v[0] != schemaVersion {
			return fmt.Errorf("bolt: incompatible schema version %d", v[0])
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetClientKey(_ context.Context, pubKey string) (*store.ClientKey, error) {
	var ck store.ClientKey
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketClientKeys)).Get([]byte(pubKey))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &ck)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return &ck, nil
}

func (s *Store) PutClientKey(_ context.Context, key *store.ClientKey) error {
	if err := paranoia.RequireHex32("pubkey", key.PubKey); err != nil {
		return err
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketClientKeys)).Put([]byte(key.PubKey), raw)
	})
}

func (s *Store) DeleteClientKey(_ context.Context, pubKey string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ckBkt := tx.Bucket([]byte(bucketClientKeys))
		if ckBkt.Get([]byte(pubKey)) == nil {
			return nil
		}
		if err := ckBkt.Delete([]byte(pubKey)); err != nil {
			return err
		}

		budgetsBkt := tx.Bucket([]byte(bucketBudgets))
		c := budgetsBkt.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var b store.Budget
			if err := json.Unmarshal(v, &b); err != nil {
				continue
			}
			if b.PubKey == pubKey {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := budgetsBkt.Delete(k); err != nil {
				return err
			}
		}

		spendBkt := tx.Bucket([]byte(bucketSpendRecords))
		sc := spendBkt.Cursor()
		var spendToDelete [][]byte
		for k, v := sc.First(); k != nil; k, v = sc.Next() {
			var r store.SpendRecord
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.PubKey == pubKey {
				spendToDelete = append(spendToDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range spendToDelete {
			if err := spendBkt.Delete(k); err != nil {
				return err
			}
		}

		idxBkt := tx.Bucket([]byte(bucketSpendByPub))
		ic := idxBkt.Cursor()
		prefix := []byte(pubKey + "|")
		var idxToDelete [][]byte
		for k, _ := ic.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = ic.Next() {
			idxToDelete = append(idxToDelete, append([]byte(nil), k...))
		}
		for _, k := range idxToDelete {
			if err := idxBkt.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (s *Store) ListClientKeys(_ context.Context) ([]*store.ClientKey, error) {
	var out []*store.ClientKey
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketClientKeys)).ForEach(func(_, v []byte) error {
			var ck store.ClientKey
			if err := json.Unmarshal(v, &ck); err != nil {
				return err
			}
			out = append(out, &ck)
			return nil
		})
	})
	return out, err
}

func (s *Store) TouchClientKey(_ context.Context, pubKey string, lastUsed int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketClientKeys))
		raw := bkt.Get([]byte(pubKey))
		if raw == nil {
			return store.ErrNotFound
		}
		var ck store.ClientKey
		if err := json.Unmarshal(raw, &ck); err != nil {
			return err
		}
		ck.LastUsed = lastUsed
		updated, err := json.Marshal(&ck)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(pubKey), updated)
	})
}

func (s *Store) ListBudgets(_ context.Context, pubKey string) ([]*store.Budget, error) {
	var out []*store.Budget
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketBudgets)).ForEach(func(_, v []byte) error {
			var b store.Budget
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if b.PubKey == pubKey {
				out = append(out, &b)
			}
			return nil
		})
	})
	return out, err
}

func (s *Store) PutBudget(_ context.Context, b *store.Budget) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		if b.ID == 0 {
			id, err := nextID(meta, metaNextBudget)
			if err != nil {
				return err
			}
			b.ID = id
		}
		raw, err := json.Marshal(b)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketBudgets)).Put(idKey(b.ID), raw)
	})
}

func (s *Store) DeleteBudget(_ context.Context, id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketBudgets)).Delete(idKey(id))
	})
}

func (s *Store) AddSpendRecord(_ context.Context, r *store.SpendRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		id, err := nextID(meta, metaNextSpendID)
		if err != nil {
			return err
		}
		r.ID = id
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketSpendRecords)).Put(idKey(r.ID), raw); err != nil {
			return err
		}
		idxKey := spendIndexKey(r.PubKey, r.CreatedAt, r.ID)
		return tx.Bucket([]byte(bucketSpendByPub)).Put(idxKey, idKey(r.ID))
	})
}

func (s *Store) SumSpend(_ context.Context, pubKey string, since, until int64) (int64, error) {
	var total int64
	err := s.db.View(func(tx *bolt.Tx) error {
		idxBkt := tx.Bucket([]byte(bucketSpendByPub))
		spendBkt := tx.Bucket([]byte(bucketSpendRecords))
		c := idxBkt.Cursor()
		prefix := []byte(pubKey + "|")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			createdAt := spendIndexCreatedAt(k, pubKey)
			if createdAt < since || createdAt >= until {
				continue
			}
			raw := spendBkt.Get(v)
			if raw == nil {
				continue
			}
			var r store.SpendRecord
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			total += r.AmountMsats
		}
		return nil
	})
	return total, err
}

func (s *Store) GetConfig(_ context.Context, key string) (string, bool, error) {
	var value string
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketConfig)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		value = string(raw)
		return nil
	})
	return value, found, err
}

func (s *Store) PutConfig(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketConfig)).Put([]byte(key), []byte(value))
	})
}

func nextID(meta *bolt.Bucket, key string) (int64, error) {
	raw := meta.Get([]byte(key))
	var id int64
	if raw != nil {
		id = int64(binary.BigEndian.Uint64(raw))
	}
	id++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	if err := meta.Put([]byte(key), buf); err != nil {
		return 0, err
	}
	return id, nil
}

func idKey(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// spendIndexKey sorts lexically by pubkey, then by created_at (big-endian,
// so byte order matches numeric order), then by record id to break ties.
func spendIndexKey(pubKey string, createdAt, id int64) []byte {
	key := make([]byte, 0, len(pubKey)+1+8+8)
	key = append(key, pubKey...)
	key = append(key, '|')
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(createdAt))
	key = append(key, ts...)
	key = append(key, idKey(id)...)
	return key
}

func spendIndexCreatedAt(key []byte, pubKey string) int64 {
	offset := len(pubKey) + 1
	if len(key) < offset+8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(key[offset : offset+8]))
}
