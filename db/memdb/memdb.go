// Copyright 2019 The go-ultiledger Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memdb

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mfaulk/mobilecoin/db"
)

func init() {
	db.Register("memdb", func(string) (db.Database, error) {
		return New(), nil
	})
}

type bucket map[string][]byte

type memdb struct {
	sync.RWMutex
	buckets map[string]bucket
}

// New creates a memory-based key-value store
// which is mainly used for testing.
func New() db.Database {
	return &memdb{buckets: make(map[string]bucket)}
}

func (m *memdb) NewBucket(name string) error {
	if name == "" {
		return db.ErrEmptyBucket
	}

	m.Lock()
	defer m.Unlock()

	if m.buckets == nil {
		return db.ErrClosed
	}
	if _, ok := m.buckets[name]; !ok {
		m.buckets[name] = make(bucket)
	}
	return nil
}

// Put writes the key/value pair to database.
func (m *memdb) Put(bucket string, key, value []byte) error {
	m.Lock()
	defer m.Unlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}
	b[string(key)] = append([]byte{}, value...)
	return nil
}

// Delete deletes the key from the database.
func (m *memdb) Delete(bucket string, key []byte) error {
	m.Lock()
	defer m.Unlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}
	delete(b, string(key))
	return nil
}

// Get retrieves the value of the key from database.
func (m *memdb) Get(bucket string, key []byte) ([]byte, error) {
	m.RLock()
	defer m.RUnlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}
	val, ok := b[string(key)]
	if !ok {
		return nil, db.ErrNotFound
	}
	return append([]byte(nil), val...), nil
}

// GetAll retrieves the values of the keys with prefix from database.
func (m *memdb) GetAll(bucket string, keyPrefix []byte) ([][]byte, error) {
	m.RLock()
	defer m.RUnlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}
	return b.scan(string(keyPrefix)), nil
}

// Close closes the underlying database.
func (m *memdb) Close() error {
	m.Lock()
	defer m.Unlock()

	m.buckets = nil
	return nil
}

// Begin starts a transaction which buffers the writes
// and applies them on commit.
func (m *memdb) Begin() (db.Tx, error) {
	m.RLock()
	defer m.RUnlock()

	if m.buckets == nil {
		return nil, db.ErrClosed
	}
	return &memdbTx{m: m, writes: make(map[string]bucket)}, nil
}

func (m *memdb) bucket(name string) (bucket, error) {
	if m.buckets == nil {
		return nil, db.ErrClosed
	}
	b, ok := m.buckets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", db.ErrUnknownBucket, name)
	}
	return b, nil
}

func (b bucket) scan(prefix string) [][]byte {
	var keys []string
	for k := range b {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var vals [][]byte
	for _, k := range keys {
		if v := b[k]; v != nil {
			vals = append(vals, append([]byte(nil), v...))
		}
	}
	return vals
}

// memdbTx keeps the pending writes, a nil value marks a deletion.
type memdbTx struct {
	m      *memdb
	writes map[string]bucket
	done   bool
}

func (tx *memdbTx) Get(bucket string, key []byte) ([]byte, error) {
	if tx.done {
		return nil, db.ErrTxDone
	}
	if w, ok := tx.writes[bucket]; ok {
		if v, ok := w[string(key)]; ok {
			if v == nil {
				return nil, db.ErrNotFound
			}
			return append([]byte(nil), v...), nil
		}
	}
	return tx.m.Get(bucket, key)
}

func (tx *memdbTx) GetAll(name string, keyPrefix []byte) ([][]byte, error) {
	if tx.done {
		return nil, db.ErrTxDone
	}

	tx.m.RLock()
	defer tx.m.RUnlock()

	b, err := tx.m.bucket(name)
	if err != nil {
		return nil, err
	}
	merged := make(bucket, len(b))
	for k, v := range b {
		merged[k] = v
	}
	for k, v := range tx.writes[name] {
		merged[k] = v
	}
	return merged.scan(string(keyPrefix)), nil
}

func (tx *memdbTx) Put(bucket string, key, value []byte) error {
	return tx.write(bucket, key, append([]byte{}, value...))
}

func (tx *memdbTx) Delete(bucket string, key []byte) error {
	return tx.write(bucket, key, nil)
}

func (tx *memdbTx) write(name string, key, value []byte) error {
	if tx.done {
		return db.ErrTxDone
	}

	tx.m.RLock()
	_, err := tx.m.bucket(name)
	tx.m.RUnlock()
	if err != nil {
		return err
	}

	w, ok := tx.writes[name]
	if !ok {
		w = make(bucket)
		tx.writes[name] = w
	}
	w[string(key)] = value
	return nil
}

func (tx *memdbTx) Rollback() error {
	if tx.done {
		return db.ErrTxDone
	}
	tx.done = true
	tx.writes = nil
	return nil
}

func (tx *memdbTx) Commit() error {
	if tx.done {
		return db.ErrTxDone
	}
	tx.done = true

	tx.m.Lock()
	defer tx.m.Unlock()

	for name, w := range tx.writes {
		b, err := tx.m.bucket(name)
		if err != nil {
			return err
		}
		for k, v := range w {
			if v == nil {
				delete(b, k)
			} else {
				b[k] = v
			}
		}
	}
	return nil
}
