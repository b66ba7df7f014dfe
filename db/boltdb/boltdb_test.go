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

package boltdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mfaulk/mobilecoin/db"
	"github.com/mfaulk/mobilecoin/db/dbtest"
)

func TestDBOps(t *testing.T) {
	d, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer d.Close()

	dbtest.TestDatabase(t, d)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	d, err := db.Open("boltdb", path)
	require.NoError(t, err)
	require.NoError(t, d.NewBucket("TEST"))
	require.NoError(t, d.Put("TEST", []byte("key"), []byte("value")))
	require.NoError(t, d.Close())

	d, err = db.Open("boltdb", path)
	require.NoError(t, err)
	defer d.Close()
	val, err := d.Get("TEST", []byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), val)
}
