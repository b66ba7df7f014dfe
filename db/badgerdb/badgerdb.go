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

package badgerdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/mfaulk/mobilecoin/db"
)

func init() {
	db.Register("badger", New)
}

// Badger has a flat key space, buckets are emulated with key
// prefixes. A bucket is created by writing its marker key.
const (
	markerPrefix byte = 0x00
	dataPrefix   byte = 0x01
)

type badgerdb struct {
	db *badger.DB
}

// New opens a badger database in the directory, an empty
// path creates an in-memory database.
func New(path string) (db.Database, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	bd, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s failed: %v", path, err)
	}
	return &badgerdb{db: bd}, nil
}

func markerKey(bucket string) []byte {
	return append([]byte{markerPrefix}, bucket...)
}

func dataKey(bucket string, key []byte) []byte {
	k := make([]byte, 0, len(bucket)+len(key)+2)
	k = append(k, dataPrefix)
	k = append(k, bucket...)
	k = append(k, 0x00)
	return append(k, key...)
}

func (bd *badgerdb) NewBucket(name string) error {
	if name == "" {
		return db.ErrEmptyBucket
	}
	if strings.IndexByte(name, 0x00) >= 0 {
		return fmt.Errorf("invalid bucket name %q", name)
	}
	return bd.db.Update(func(txn *badger.Txn) error {
		return txn.Set(markerKey(name), []byte{})
	})
}

// Put writes the key/value pair to database.
func (bd *badgerdb) Put(bucket string, key, value []byte) error {
	return bd.db.Update(func(txn *badger.Txn) error {
		return put(txn, bucket, key, value)
	})
}

// Delete deletes the key from the database.
func (bd *badgerdb) Delete(bucket string, key []byte) error {
	return bd.db.Update(func(txn *badger.Txn) error {
		return del(txn, bucket, key)
	})
}

// Get retrieves the value of the key from database.
func (bd *badgerdb) Get(bucket string, key []byte) ([]byte, error) {
	var val []byte
	err := bd.db.View(func(txn *badger.Txn) error {
		v, err := get(txn, bucket, key)
		val = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// GetAll retrieves the values of the keys with prefix from database.
func (bd *badgerdb) GetAll(bucket string, keyPrefix []byte) ([][]byte, error) {
	var vals [][]byte
	err := bd.db.View(func(txn *badger.Txn) error {
		vs, err := getAll(txn, bucket, keyPrefix)
		vals = vs
		return err
	})
	if err != nil {
		return nil, err
	}
	return vals, nil
}

// Close closes the underlying database.
func (bd *badgerdb) Close() error {
	if bd.db == nil {
		return nil
	}
	err := bd.db.Close()
	bd.db = nil
	return err
}

// Begin returns a writable transaction, it has to be
// committed or rolled back by the caller.
func (bd *badgerdb) Begin() (db.Tx, error) {
	if bd.db == nil {
		return nil, db.ErrClosed
	}
	return &badgerTx{txn: bd.db.NewTransaction(true)}, nil
}

type badgerTx struct {
	txn  *badger.Txn
	done bool
}

func (btx *badgerTx) Get(bucket string, key []byte) ([]byte, error) {
	if btx.done {
		return nil, db.ErrTxDone
	}
	return get(btx.txn, bucket, key)
}

func (btx *badgerTx) GetAll(bucket string, keyPrefix []byte) ([][]byte, error) {
	if btx.done {
		return nil, db.ErrTxDone
	}
	return getAll(btx.txn, bucket, keyPrefix)
}

func (btx *badgerTx) Put(bucket string, key, value []byte) error {
	if btx.done {
		return db.ErrTxDone
	}
	return put(btx.txn, bucket, key, value)
}

func (btx *badgerTx) Delete(bucket string, key []byte) error {
	if btx.done {
		return db.ErrTxDone
	}
	return del(btx.txn, bucket, key)
}

func (btx *badgerTx) Rollback() error {
	if btx.done {
		return db.ErrTxDone
	}
	btx.done = true
	btx.txn.Discard()
	return nil
}

func (btx *badgerTx) Commit() error {
	if btx.done {
		return db.ErrTxDone
	}
	btx.done = true
	return btx.txn.Commit()
}

func checkBucket(txn *badger.Txn, bucket string) error {
	_, err := txn.Get(markerKey(bucket))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", db.ErrUnknownBucket, bucket)
	}
	return err
}

func put(txn *badger.Txn, bucket string, key, value []byte) error {
	if err := checkBucket(txn, bucket); err != nil {
		return err
	}
	return txn.Set(dataKey(bucket, key), value)
}

func del(txn *badger.Txn, bucket string, key []byte) error {
	if err := checkBucket(txn, bucket); err != nil {
		return err
	}
	return txn.Delete(dataKey(bucket, key))
}

func get(txn *badger.Txn, bucket string, key []byte) ([]byte, error) {
	if err := checkBucket(txn, bucket); err != nil {
		return nil, err
	}
	item, err := txn.Get(dataKey(bucket, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func getAll(txn *badger.Txn, bucket string, keyPrefix []byte) ([][]byte, error) {
	if err := checkBucket(txn, bucket); err != nil {
		return nil, err
	}
	prefix := dataKey(bucket, keyPrefix)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 16})
	defer it.Close()

	var vals [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		v, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}
