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

package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfaulk/mobilecoin/db/memdb"
	"github.com/mfaulk/mobilecoin/ultpb"
)

func TestCloseInfoBuffer(t *testing.T) {
	b := &CloseInfoBuffer{}
	assert.Nil(t, b.PeekHead())
	assert.Nil(t, b.PopHead())

	require.NoError(t, b.Append(&CloseInfo{Index: 3}))
	require.NoError(t, b.Append(&CloseInfo{Index: 4}))
	assert.ErrorIs(t, b.Append(&CloseInfo{Index: 6}), ErrNonContiguous)
	assert.NoError(t, b.Append(nil))
	assert.Equal(t, 2, b.Size())

	assert.Equal(t, uint64(3), b.PeekHead().Index)
	assert.Equal(t, uint64(3), b.PopHead().Index)
	assert.Equal(t, 1, b.Size())
	b.Clear()
	assert.Equal(t, 0, b.Size())
}

func TestManagerClose(t *testing.T) {
	d := memdb.New()
	lm, err := NewManager(d, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lm.LastClosed())

	cv := ultpb.EncodeConsensusValue(&ultpb.ConsensusValue{TxHashList: []string{"tx1", "tx2"}})
	require.NoError(t, lm.Close(&CloseInfo{Index: 1, Value: string(cv)}))
	require.NoError(t, lm.Close(&CloseInfo{Index: 2, Value: "raw"}))
	assert.Equal(t, uint64(2), lm.LastClosed())

	// gaps are rejected and closed indices are ignored
	assert.ErrorIs(t, lm.Close(&CloseInfo{Index: 4, Value: "gap"}), ErrNonContiguous)
	require.NoError(t, lm.Close(&CloseInfo{Index: 1, Value: "again"}))

	got, err := lm.GetConsensusValue(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"tx1", "tx2"}, got.TxHashList)

	_, err = lm.GetValue(3)
	assert.ErrorIs(t, err, ErrIndexNotClosed)

	vals, err := lm.Values()
	require.NoError(t, err)
	assert.Equal(t, []string{string(cv), "raw"}, vals)

	// a new manager on the same database resumes
	lm, err = NewManager(d, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), lm.LastClosed())
	require.NoError(t, lm.Close(&CloseInfo{Index: 3, Value: "next"}))
	assert.Equal(t, uint64(3), lm.LastClosed())
}
