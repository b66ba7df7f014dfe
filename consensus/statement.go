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
	"fmt"
	"math"

	"github.com/mfaulk/mobilecoin/ultpb"
)

// checkStatement verifies the structural sanity of a statement,
// failures are wrapped in ErrMalformedStatement.
func checkStatement(stmt *Statement) error {
	if err := checkPledge(stmt, false); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStatement, err)
	}
	return nil
}

// Statements of the local node may carry an empty working ballot
// before the ballot protocol starts.
func checkPledge(stmt *Statement, self bool) error {
	if stmt == nil {
		return errors.New("statement is nil")
	}
	if stmt.NodeID == "" {
		return errors.New("empty node ID")
	}
	if stmt.QuorumHash == "" && stmt.Quorum == nil {
		return errors.New("missing quorum reference")
	}

	switch p := stmt.Pledge.(type) {
	case *Nominate:
		if len(p.VoteList)+len(p.AcceptList) == 0 {
			return errors.New("vote and accept list is empty")
		}
		if !isStrictlySorted(p.VoteList) || !isStrictlySorted(p.AcceptList) {
			return errors.New("nomination values are not sorted")
		}
	case *Prepare:
		if p.B == nil || (!self && !isSaneBallot(p.B)) {
			return fmt.Errorf("invalid working ballot %s", p.B)
		}
		if p.P != nil && p.Q != nil && !lessAndIncompatibleBallots(p.Q, p.P) {
			return fmt.Errorf("prepared prime %s is not below prepared %s", p.Q, p.P)
		}
		if p.NH != 0 && (p.P == nil || p.NH > p.P.Counter) {
			return fmt.Errorf("nH %d above prepared %s", p.NH, p.P)
		}
		if p.NC != 0 && (p.NH == 0 || p.B.Counter < p.NH || p.NH < p.NC) {
			return fmt.Errorf("commit interval [%d,%d] invalid for %s", p.NC, p.NH, p.B)
		}
	case *Confirm:
		if !isSaneBallot(p.B) {
			return fmt.Errorf("invalid working ballot %s", p.B)
		}
		if p.NH > p.B.Counter {
			return fmt.Errorf("nH %d above ballot counter %d", p.NH, p.B.Counter)
		}
		if p.NCommit > p.NH {
			return fmt.Errorf("nCommit %d above nH %d", p.NCommit, p.NH)
		}
	case *Externalize:
		if !isSaneBallot(p.Commit) {
			return fmt.Errorf("invalid commit ballot %s", p.Commit)
		}
		if p.NH < p.Commit.Counter {
			return fmt.Errorf("nH %d below commit counter %d", p.NH, p.Commit.Counter)
		}
	default:
		return ultpb.ErrNoPledge
	}
	return nil
}

func isSaneBallot(b *Ballot) bool {
	return b != nil && b.Counter > 0 && b.Value != ""
}

func isStrictlySorted(values []string) bool {
	for i := 1; i < len(values); i++ {
		if values[i-1] >= values[i] {
			return false
		}
	}
	return true
}

// Counter of the ballot the statement is working on, an
// externalize statement works on every counter.
func workingBallotCounter(stmt *Statement) uint32 {
	switch p := stmt.Pledge.(type) {
	case *Prepare:
		return p.B.Counter
	case *Confirm:
		return p.B.Counter
	case *Externalize:
		return math.MaxUint32
	}
	return 0
}

// Ballot the statement is working on.
func workingBallot(stmt *Statement) *Ballot {
	switch p := stmt.Pledge.(type) {
	case *Prepare:
		return p.B
	case *Confirm:
		return &Ballot{Counter: p.NH, Value: p.B.Value}
	case *Externalize:
		return p.Commit
	}
	return nil
}

// Values a statement refers to.
func statementValues(stmt *Statement) []Value {
	var values []Value
	switch p := stmt.Pledge.(type) {
	case *Nominate:
		values = append(values, p.VoteList...)
		values = append(values, p.AcceptList...)
	case *Prepare:
		values = append(values, p.B.Value)
		if p.P != nil {
			values = append(values, p.P.Value)
		}
		if p.Q != nil {
			values = append(values, p.Q.Value)
		}
	case *Confirm:
		values = append(values, p.B.Value)
	case *Externalize:
		values = append(values, p.Commit.Value)
	}
	return values
}

// Check whether the statement belongs to the ballot protocol.
func isBallotStatement(stmt *Statement) bool {
	return stmt.StatementType() >= ultpb.StatementType_PREPARE
}
