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
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mfaulk/mobilecoin/db"
	"github.com/mfaulk/mobilecoin/ultpb"
)

const bucket = "LEDGER"

var (
	lastClosedKey = []byte("meta/lastClosed")
	valuePrefix   = []byte("value/")
)

var ErrIndexNotClosed = errors.New("ledger index not closed")

// Manager persists the externalized values in index order.
type Manager struct {
	database db.Database
	logger   *zap.SugaredLogger

	rwm        sync.RWMutex
	lastClosed uint64
	buffer     CloseInfoBuffer
}

// NewManager creates the ledger bucket if needed and
// restores the last closed index.
func NewManager(d db.Database, l *zap.SugaredLogger) (*Manager, error) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	if err := d.NewBucket(bucket); err != nil {
		return nil, fmt.Errorf("create ledger bucket failed: %v", err)
	}
	lm := &Manager{database: d, logger: l}

	b, err := d.Get(bucket, lastClosedKey)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load last closed index failed: %v", err)
	case len(b) != 8:
		return nil, fmt.Errorf("corrupted last closed index %x", b)
	default:
		lm.lastClosed = binary.BigEndian.Uint64(b)
	}
	lm.logger.Infow("ledger manager started", "lastClosed", lm.lastClosed)
	return lm, nil
}

func valueKey(index uint64) []byte {
	k := make([]byte, len(valuePrefix)+8)
	copy(k, valuePrefix)
	binary.BigEndian.PutUint64(k[len(valuePrefix):], index)
	return k
}

// LastClosed returns the highest persisted index, zero
// if nothing has been closed.
func (lm *Manager) LastClosed() uint64 {
	lm.rwm.RLock()
	defer lm.rwm.RUnlock()
	return lm.lastClosed
}

// Close buffers the externalized value and persists every
// buffered value which directly follows the last closed one.
// Values at or below the last closed index are ignored.
func (lm *Manager) Close(info *CloseInfo) error {
	lm.rwm.Lock()
	defer lm.rwm.Unlock()

	if info.Index <= lm.lastClosed {
		lm.logger.Debugw("ignore closed ledger", "index", info.Index, "lastClosed", lm.lastClosed)
		return nil
	}
	if lm.buffer.Size() == 0 && info.Index != lm.lastClosed+1 {
		return fmt.Errorf("%w: expect %d, got %d", ErrNonContiguous, lm.lastClosed+1, info.Index)
	}
	if err := lm.buffer.Append(info); err != nil {
		return err
	}

	for h := lm.buffer.PeekHead(); h != nil; h = lm.buffer.PeekHead() {
		if err := lm.persist(h); err != nil {
			return err
		}
		lm.buffer.PopHead()
		lm.lastClosed = h.Index
		lm.logger.Infow("ledger closed", "index", h.Index)
	}
	return nil
}

func (lm *Manager) persist(info *CloseInfo) error {
	tx, err := lm.database.Begin()
	if err != nil {
		return fmt.Errorf("begin ledger tx failed: %v", err)
	}
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], info.Index)

	if err := tx.Put(bucket, valueKey(info.Index), []byte(info.Value)); err != nil {
		tx.Rollback()
		return fmt.Errorf("save ledger %d failed: %v", info.Index, err)
	}
	if err := tx.Put(bucket, lastClosedKey, idx[:]); err != nil {
		tx.Rollback()
		return fmt.Errorf("save last closed index failed: %v", err)
	}
	return tx.Commit()
}

// GetValue returns the encoded value closed at the index.
func (lm *Manager) GetValue(index uint64) (string, error) {
	b, err := lm.database.Get(bucket, valueKey(index))
	if errors.Is(err, db.ErrNotFound) {
		return "", fmt.Errorf("%w: %d", ErrIndexNotClosed, index)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetConsensusValue decodes the value closed at the index.
func (lm *Manager) GetConsensusValue(index uint64) (*ultpb.ConsensusValue, error) {
	v, err := lm.GetValue(index)
	if err != nil {
		return nil, err
	}
	return ultpb.DecodeConsensusValue([]byte(v))
}

// Values returns the encoded values of all closed indices
// in increasing index order.
func (lm *Manager) Values() ([]string, error) {
	bs, err := lm.database.GetAll(bucket, valuePrefix)
	if err != nil {
		return nil, err
	}
	vals := make([]string, len(bs))
	for i, b := range bs {
		vals[i] = string(b)
	}
	return vals, nil
}
