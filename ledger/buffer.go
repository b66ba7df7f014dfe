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
	"errors"
	"fmt"
	"sync"
)

var ErrNonContiguous = errors.New("close info index is not contiguous")

type CloseInfo struct {
	// Slot index.
	Index uint64
	// Encoded consensus value.
	Value string
}

// CloseInfoBuffer keeps the externalized values not yet
// persisted, the indices are contiguous.
type CloseInfoBuffer struct {
	rwm   sync.RWMutex
	infos []*CloseInfo
}

func (b *CloseInfoBuffer) Size() int {
	b.rwm.RLock()
	defer b.rwm.RUnlock()
	return len(b.infos)
}

func (b *CloseInfoBuffer) Clear() {
	b.rwm.Lock()
	defer b.rwm.Unlock()
	b.infos = nil
}

func (b *CloseInfoBuffer) Append(info *CloseInfo) error {
	if info == nil {
		return nil
	}
	b.rwm.Lock()
	defer b.rwm.Unlock()
	if len(b.infos) > 0 {
		lastInfo := b.infos[len(b.infos)-1]
		if lastInfo.Index+1 != info.Index {
			return fmt.Errorf("%w: expect %d, got %d", ErrNonContiguous, lastInfo.Index+1, info.Index)
		}
	}
	b.infos = append(b.infos, info)
	return nil
}

func (b *CloseInfoBuffer) PeekHead() *CloseInfo {
	b.rwm.RLock()
	defer b.rwm.RUnlock()
	if len(b.infos) == 0 {
		return nil
	}
	return b.infos[0]
}

func (b *CloseInfoBuffer) PopHead() *CloseInfo {
	b.rwm.Lock()
	defer b.rwm.Unlock()
	if len(b.infos) == 0 {
		return nil
	}
	h := b.infos[0]
	b.infos = b.infos[1:]
	return h
}
