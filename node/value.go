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

package node

import (
	"errors"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/mfaulk/mobilecoin/consensus"
	"github.com/mfaulk/mobilecoin/ultpb"
)

var ErrInvalidTxSet = errors.New("invalid tx set")

// NewConsensusValue builds the value of the sorted distinct
// tx hashes, at most max of them are kept.
func NewConsensusValue(txHashes []string, max int) *ultpb.ConsensusValue {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, h := range txHashes {
		if h != "" {
			set.Add(h)
		}
	}
	list := set.ToSlice()
	sort.Strings(list)
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	return &ultpb.ConsensusValue{TxHashList: list}
}

// The composite value is the bounded sorted union of the
// tx hashes of the candidates.
func combineTxSets(max int) consensus.CombineFunc {
	return func(candidates []consensus.Value) (consensus.Value, error) {
		if len(candidates) == 0 {
			return "", errors.New("no candidates to combine")
		}
		var hashes []string
		for _, c := range candidates {
			cv, err := ultpb.DecodeConsensusValue([]byte(c))
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidTxSet, err)
			}
			hashes = append(hashes, cv.TxHashList...)
		}
		cv := NewConsensusValue(hashes, max)
		return consensus.Value(ultpb.EncodeConsensusValue(cv)), nil
	}
}

// A valid value holds at most max sorted distinct hashes.
func validateTxSet(max int) consensus.ValidateFunc {
	return func(v consensus.Value) error {
		cv, err := ultpb.DecodeConsensusValue([]byte(v))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTxSet, err)
		}
		if len(cv.TxHashList) == 0 {
			return fmt.Errorf("%w: empty", ErrInvalidTxSet)
		}
		if len(cv.TxHashList) > max {
			return fmt.Errorf("%w: %d hashes exceed %d", ErrInvalidTxSet, len(cv.TxHashList), max)
		}
		for i, h := range cv.TxHashList {
			if h == "" {
				return fmt.Errorf("%w: empty hash", ErrInvalidTxSet)
			}
			if i > 0 && cv.TxHashList[i-1] >= h {
				return fmt.Errorf("%w: hashes not sorted", ErrInvalidTxSet)
			}
		}
		return nil
	}
}
