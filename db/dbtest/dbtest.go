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

// Package dbtest checks that a database backend behaves the
// way the ledger expects.
package dbtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfaulk/mobilecoin/db"
)

// TestDatabase runs the common operations against an empty database.
func TestDatabase(t *testing.T, d db.Database) {
	require.ErrorIs(t, d.NewBucket(""), db.ErrEmptyBucket)
	require.NoError(t, d.NewBucket("TEST"))
	// creating a bucket twice is fine
	require.NoError(t, d.NewBucket("TEST"))
	require.NoError(t, d.NewBucket("OTHER"))

	// unknown bucket
	_, err := d.Get("NONE", []byte("key"))
	assert.ErrorIs(t, err, db.ErrUnknownBucket)
	assert.ErrorIs(t, d.Put("NONE", []byte("key"), []byte("value")), db.ErrUnknownBucket)

	// get nonexistent key
	val, err := d.Get("TEST", []byte("none"))
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Nil(t, val)

	// set and get key/value pair
	require.NoError(t, d.Put("TEST", []byte("testKey"), []byte("testValue")))
	val, err = d.Get("TEST", []byte("testKey"))
	require.NoError(t, err)
	assert.Equal(t, []byte("testValue"), val)

	// buckets do not share keys
	_, err = d.Get("OTHER", []byte("testKey"))
	assert.ErrorIs(t, err, db.ErrNotFound)

	// prefix scan in key order
	require.NoError(t, d.Put("TEST", []byte("p/2"), []byte("two")))
	require.NoError(t, d.Put("TEST", []byte("p/1"), []byte("one")))
	require.NoError(t, d.Put("TEST", []byte("q/1"), []byte("other")))
	vals, err := d.GetAll("TEST", []byte("p/"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, vals)

	// delete
	require.NoError(t, d.Delete("TEST", []byte("testKey")))
	_, err = d.Get("TEST", []byte("testKey"))
	assert.ErrorIs(t, err, db.ErrNotFound)

	testTx(t, d)
}

func testTx(t *testing.T, d db.Database) {
	// committed writes are visible
	tx, err := d.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Put("TEST", []byte("tx/1"), []byte("a")))
	require.NoError(t, tx.Put("TEST", []byte("tx/2"), []byte("b")))
	val, err := tx.Get("TEST", []byte("tx/1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), val)
	vals, err := tx.GetAll("TEST", []byte("tx/"))
	require.NoError(t, err)
	assert.Len(t, vals, 2)
	require.NoError(t, tx.Commit())

	val, err = d.Get("TEST", []byte("tx/2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), val)

	// rolled back writes are not
	tx, err = d.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Put("TEST", []byte("tx/3"), []byte("c")))
	require.NoError(t, tx.Delete("TEST", []byte("tx/1")))
	require.NoError(t, tx.Rollback())

	_, err = d.Get("TEST", []byte("tx/3"))
	assert.ErrorIs(t, err, db.ErrNotFound)
	val, err = d.Get("TEST", []byte("tx/1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), val)
}
