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

package consensus

import (
	"errors"
	"sort"
	"time"

	"github.com/mfaulk/mobilecoin/ultpb"
)

// Type alias for wire types
type (
	Statement       = ultpb.Statement
	SignedStatement = ultpb.SignedStatement
	Nominate        = ultpb.Nominate
	Prepare         = ultpb.Prepare
	Confirm         = ultpb.Confirm
	Externalize     = ultpb.Externalize
	Quorum          = ultpb.Quorum
	Ballot          = ultpb.Ballot
)

// Value is an opaque consensus value, values are totally
// ordered by byte-wise comparison.
type Value = string

// CombineFunc deterministically reduces the sorted candidate
// values of a slot into a single composite value.
type CombineFunc func(candidates []Value) (Value, error)

// ValidateFunc reports whether a value may be voted for.
type ValidateFunc func(v Value) error

// CombineMax picks the highest candidate.
func CombineMax(candidates []Value) (Value, error) {
	if len(candidates) == 0 {
		return "", errors.New("no candidates to combine")
	}
	sorted := append([]Value(nil), candidates...)
	sort.Strings(sorted)
	return sorted[len(sorted)-1], nil
}

// Phase of the ballot protocol of a slot.
type Phase uint8

const (
	PhaseUnstarted Phase = iota
	PhasePrepare
	PhaseConfirm
	PhaseExternalize
)

func (p Phase) String() string {
	switch p {
	case PhaseUnstarted:
		return "UNSTARTED"
	case PhasePrepare:
		return "PREPARE"
	case PhaseConfirm:
		return "CONFIRM"
	case PhaseExternalize:
		return "EXTERNALIZE"
	}
	return "UNKNOWN"
}

// Information about externalized value
type ExternalizeValue struct {
	Index uint64 // index of slot
	Value Value  // consensus value
}

// Output collects the effects of feeding a slot.
type Output struct {
	// Statements emitted by the local node, in emission order.
	Statements []*Statement
	// Set once, when the slot externalizes.
	Externalized *ExternalizeValue
	// Logical time the slot wants ProcessTimers to be called
	// again, zero if it has no armed timer.
	NextWakeup time.Duration
}
