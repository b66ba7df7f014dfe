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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfaulk/mobilecoin/db"
	"github.com/mfaulk/mobilecoin/db/dbtest"
)

func TestMemDB(t *testing.T) {
	dbtest.TestDatabase(t, New())
}

func TestMemDBClosed(t *testing.T) {
	d, err := db.Open("memdb", "")
	require.NoError(t, err)
	require.NoError(t, d.NewBucket("TEST"))
	require.NoError(t, d.Close())

	_, err = d.Get("TEST", []byte("key"))
	assert.ErrorIs(t, err, db.ErrClosed)
	_, err = d.Begin()
	assert.ErrorIs(t, err, db.ErrClosed)
}

func TestMemDBTxDone(t *testing.T) {
	d := New()
	require.NoError(t, d.NewBucket("TEST"))

	tx, err := d.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Commit(), db.ErrTxDone)
	assert.ErrorIs(t, tx.Put("TEST", []byte("key"), nil), db.ErrTxDone)
}

func TestMemDBTxGetAll(t *testing.T) {
	d := New()
	require.NoError(t, d.NewBucket("TEST"))
	require.NoError(t, d.Put("TEST", []byte("k/1"), []byte("one")))
	require.NoError(t, d.Put("TEST", []byte("k/2"), []byte("two")))

	tx, err := d.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Put("TEST", []byte("k/3"), []byte("three")))
	require.NoError(t, tx.Delete("TEST", []byte("k/1")))

	// pending writes are merged with the committed ones
	vals, err := tx.GetAll("TEST", []byte("k/"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("two"), []byte("three")}, vals)
	_, err = tx.GetAll("NONE", []byte("k/"))
	assert.ErrorIs(t, err, db.ErrUnknownBucket)

	// committed data is untouched until commit
	vals, err = d.GetAll("TEST", []byte("k/"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, vals)
	require.NoError(t, tx.Commit())
	vals, err = d.GetAll("TEST", []byte("k/"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("two"), []byte("three")}, vals)
}
