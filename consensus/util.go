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
	"math"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/mfaulk/mobilecoin/ultpb"
)

// Ballots compare utilities
func lessAndCompatibleBallots(lb *Ballot, rb *Ballot) bool {
	return compareBallots(lb, rb) <= 0 && compatibleBallots(lb, rb)
}

func lessAndIncompatibleBallots(lb *Ballot, rb *Ballot) bool {
	return compareBallots(lb, rb) <= 0 && !compatibleBallots(lb, rb)
}

// Compare two ballots by counter then value, a nil
// ballot is smaller than any other ballot.
func compareBallots(lb *Ballot, rb *Ballot) int {
	if lb == nil && rb == nil {
		return 0
	} else if lb == nil {
		return -1
	} else if rb == nil {
		return 1
	}

	if lb.Counter < rb.Counter {
		return -1
	} else if lb.Counter > rb.Counter {
		return 1
	}

	return strings.Compare(lb.Value, rb.Value)
}

// Check whether the two ballots has the same value
func compatibleBallots(lb *Ballot, rb *Ballot) bool {
	if lb == nil || rb == nil {
		return false
	}
	return lb.Value == rb.Value
}

func equalBallots(lb *Ballot, rb *Ballot) bool {
	return compareBallots(lb, rb) == 0
}

func copyBallot(b *Ballot) *Ballot {
	if b == nil {
		return nil
	}
	return &Ballot{Counter: b.Counter, Value: b.Value}
}

// Check whether the latter ballot statement is newer than the first one
func isNewerBallot(lb *Statement, rb *Statement) bool {
	lt, rt := lb.StatementType(), rb.StatementType()
	if lt != rt {
		return lt < rt
	}

	switch rt {
	case ultpb.StatementType_PREPARE: // compare order: b, p, q, h
		lp := lb.GetPrepare()
		rp := rb.GetPrepare()
		if cmp := compareBallots(lp.B, rp.B); cmp != 0 {
			return cmp < 0
		}
		if cmp := compareBallots(lp.P, rp.P); cmp != 0 {
			return cmp < 0
		}
		if cmp := compareBallots(lp.Q, rp.Q); cmp != 0 {
			return cmp < 0
		}
		return lp.NH < rp.NH
	case ultpb.StatementType_CONFIRM: // compare order: b, p, h
		lc := lb.GetConfirm()
		rc := rb.GetConfirm()
		if cmp := compareBallots(lc.B, rc.B); cmp != 0 {
			return cmp < 0
		}
		if lc.NPrepared != rc.NPrepared {
			return lc.NPrepared < rc.NPrepared
		}
		return lc.NH < rc.NH
	}
	// externalize statements never change
	return false
}

// Check whether the latter nomination contains all the
// information of the first one and grows at least one list.
func isNewerNomination(anom *Nominate, bnom *Nominate) bool {
	if bnom == nil {
		return false
	}
	if anom == nil {
		return true
	}
	grown := false
	if !isSubset(anom.VoteList, bnom.VoteList, &grown) {
		return false
	}
	if !isSubset(anom.AcceptList, bnom.AcceptList, &grown) {
		return false
	}
	return grown
}

// Check whether a is a subset of b, grown is set when
// b has extra elements.
func isSubset(a []string, b []string, grown *bool) bool {
	if len(a) > len(b) {
		return false
	}
	bs := mapset.NewThreadUnsafeSet[string](b...)
	for _, v := range a {
		if !bs.Contains(v) {
			return false
		}
	}
	if len(b) > len(a) {
		*grown = true
	}
	return true
}

// Collect the set into a sorted slice.
func sortedValues(s mapset.Set[Value]) []Value {
	list := s.ToSlice()
	sort.Strings(list)
	return list
}

// Compute the exponential backoff duration for the n-th attempt,
// capped at max when max is positive.
func backoffTimeout(base time.Duration, backoff float64, max time.Duration, n uint32) time.Duration {
	if n == 0 {
		n = 1
	}
	d := float64(base) * math.Pow(backoff, float64(n-1))
	if max > 0 && d >= float64(max) {
		return max
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
