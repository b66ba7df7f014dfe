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

package db

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrClosed        = errors.New("database is closed")
	ErrEmptyBucket   = errors.New("database bucket name is empty")
	ErrTxDone        = errors.New("transaction already finished")
	ErrUnknownBucket = errors.New("bucket does not exist")
)

// Database is the generic key/value store used by the ledger.
// Keys are grouped into buckets which have to be created before use.
type Database interface {
	NewBucket(name string) error
	Put(bucket string, key, value []byte) error
	Delete(bucket string, key []byte) error
	// Get returns ErrNotFound if the key does not exist.
	Get(bucket string, key []byte) ([]byte, error)
	// GetAll returns the values of the keys with the prefix
	// in key order.
	GetAll(bucket string, keyPrefix []byte) ([][]byte, error)
	// Begin starts a writable transaction.
	Begin() (Tx, error)
	Close() error
}

// Tx is a writable transaction of the database.
type Tx interface {
	Put(bucket string, key, value []byte) error
	Delete(bucket string, key []byte) error
	Get(bucket string, key []byte) ([]byte, error)
	GetAll(bucket string, keyPrefix []byte) ([][]byte, error)
	Rollback() error
	Commit() error
}

// Ctor creates a database in the specified path.
type Ctor func(path string) (Database, error)

var (
	mu           sync.RWMutex
	constructors = make(map[string]Ctor)
)

// Register makes a database backend available by name, backends
// call it in their init function.
func Register(name string, ctor Ctor) {
	mu.Lock()
	defer mu.Unlock()

	if ctor == nil {
		panic("db: register nil constructor for " + name)
	}
	if _, ok := constructors[name]; ok {
		panic("db: register backend twice for " + name)
	}
	constructors[name] = ctor
}

// Open creates the database with the registered backend.
func Open(name string, path string) (Database, error) {
	mu.RLock()
	ctor, ok := constructors[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("database %s not registered", name)
	}
	return ctor(path)
}

// Backends returns the names of the registered backends.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()

	var names []string
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
