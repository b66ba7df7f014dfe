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
	"github.com/mfaulk/mobilecoin/ultpb"
)

// Vote filter to choose nominate statements that have voted the input vote value.
func voteFilter(vote Value) func(*Statement) bool {
	return func(s *Statement) bool {
		nom := s.GetNominate()
		if nom == nil {
			return false
		}
		for _, v := range nom.VoteList {
			if v == vote {
				return true
			}
		}
		return false
	}
}

// Accept filter to choose nominate statements that have accepted the input vote value.
func acceptFilter(vote Value) func(*Statement) bool {
	return func(s *Statement) bool {
		nom := s.GetNominate()
		if nom == nil {
			return false
		}
		for _, v := range nom.AcceptList {
			if v == vote {
				return true
			}
		}
		return false
	}
}

// Union of the vote and accept filters.
func voteOrAcceptFilter(vote Value) func(*Statement) bool {
	voted, accepted := voteFilter(vote), acceptFilter(vote)
	return func(s *Statement) bool {
		return voted(s) || accepted(s)
	}
}

// Vote filter to choose ballot statements that has voted the the prepare ballot.
func prepareVoteFilter(b *Ballot) func(*Statement) bool {
	return func(stmt *Statement) bool {
		switch stmt.StatementType() {
		case ultpb.StatementType_PREPARE:
			return lessAndCompatibleBallots(b, stmt.GetPrepare().B)
		case ultpb.StatementType_CONFIRM:
			return compatibleBallots(b, stmt.GetConfirm().B)
		case ultpb.StatementType_EXTERNALIZE:
			return compatibleBallots(b, stmt.GetExternalize().Commit)
		}
		return false
	}
}

// Accept filter to choose ballot statements that have accepted the prepare ballot.
func prepareAcceptFilter(b *Ballot) func(*Statement) bool {
	return func(stmt *Statement) bool {
		switch stmt.StatementType() {
		case ultpb.StatementType_PREPARE:
			prepare := stmt.GetPrepare()
			if prepare.P != nil && lessAndCompatibleBallots(b, prepare.P) {
				return true
			}
			if prepare.Q != nil && lessAndCompatibleBallots(b, prepare.Q) {
				return true
			}
		case ultpb.StatementType_CONFIRM:
			confirm := stmt.GetConfirm()
			prepared := &Ballot{Counter: confirm.NPrepared, Value: confirm.B.Value}
			return lessAndCompatibleBallots(b, prepared)
		case ultpb.StatementType_EXTERNALIZE:
			return compatibleBallots(b, stmt.GetExternalize().Commit)
		}
		return false
	}
}

// Vote filter to choose ballot statements that have voted to commit
// the ballot value over the counter interval [l, r].
func commitVoteFilter(b *Ballot, l uint32, r uint32) func(*Statement) bool {
	return func(stmt *Statement) bool {
		switch stmt.StatementType() {
		case ultpb.StatementType_PREPARE:
			prepare := stmt.GetPrepare()
			if compatibleBallots(b, prepare.B) && prepare.NC != 0 {
				return prepare.NC <= l && r <= prepare.NH
			}
		case ultpb.StatementType_CONFIRM:
			confirm := stmt.GetConfirm()
			if compatibleBallots(b, confirm.B) {
				return confirm.NCommit <= l
			}
		case ultpb.StatementType_EXTERNALIZE:
			ext := stmt.GetExternalize()
			if compatibleBallots(b, ext.Commit) {
				return ext.Commit.Counter <= l
			}
		}
		return false
	}
}

// Accept filter to choose ballot statements that have accepted to
// commit the ballot value over the counter interval [l, r].
func commitAcceptFilter(b *Ballot, l uint32, r uint32) func(*Statement) bool {
	return func(stmt *Statement) bool {
		switch stmt.StatementType() {
		case ultpb.StatementType_CONFIRM:
			confirm := stmt.GetConfirm()
			if compatibleBallots(b, confirm.B) {
				return confirm.NCommit <= l && r <= confirm.NH
			}
		case ultpb.StatementType_EXTERNALIZE:
			ext := stmt.GetExternalize()
			if compatibleBallots(b, ext.Commit) {
				return ext.Commit.Counter <= l
			}
		}
		return false
	}
}

// Filter to choose ballot statements that are at least at the input
// counter, statements past the prepare phase always qualify.
func heardFilter(n uint32) func(*Statement) bool {
	return func(stmt *Statement) bool {
		if prepare := stmt.GetPrepare(); prepare != nil {
			return prepare.B.Counter >= n
		}
		return true
	}
}

// Filter to choose ballot statements whose working ballot
// counter is strictly greater than the input counter.
func aboveCounterFilter(n uint32) func(*Statement) bool {
	return func(stmt *Statement) bool {
		return workingBallotCounter(stmt) > n
	}
}
