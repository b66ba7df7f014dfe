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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfaulk/mobilecoin/ultpb"
)

func newTestStatement(pledge ultpb.Pledge) *Statement {
	return &Statement{Index: 1, NodeID: "A", QuorumHash: "Q", Pledge: pledge}
}

func TestCheckStatement(t *testing.T) {
	x1 := &Ballot{Counter: 1, Value: "X"}
	x2 := &Ballot{Counter: 2, Value: "X"}
	y1 := &Ballot{Counter: 1, Value: "Y"}

	valid := []*Statement{
		newTestStatement(&Nominate{VoteList: []string{"X", "Y"}}),
		newTestStatement(&Nominate{AcceptList: []string{"X"}}),
		newTestStatement(&Prepare{B: x1}),
		newTestStatement(&Prepare{B: x2, P: x2, Q: y1, NC: 1, NH: 2}),
		newTestStatement(&Confirm{B: x2, NPrepared: 2, NCommit: 1, NH: 2}),
		newTestStatement(&Externalize{Commit: x1, NH: 2}),
	}
	for _, stmt := range valid {
		assert.NoError(t, checkStatement(stmt), stmt.String())
	}

	invalid := []*Statement{
		nil,
		{Index: 1, QuorumHash: "Q", Pledge: &Prepare{B: x1}},
		{Index: 1, NodeID: "A", Pledge: &Prepare{B: x1}},
		{Index: 1, NodeID: "A", QuorumHash: "Q"},
		// empty and unsorted nominations
		newTestStatement(&Nominate{}),
		newTestStatement(&Nominate{VoteList: []string{"Y", "X"}}),
		newTestStatement(&Nominate{VoteList: []string{"X", "X"}}),
		// zero working ballot
		newTestStatement(&Prepare{B: &Ballot{}}),
		newTestStatement(&Prepare{}),
		// p' above or compatible with p
		newTestStatement(&Prepare{B: x2, P: y1, Q: x2}),
		newTestStatement(&Prepare{B: x2, P: x2, Q: x1}),
		// h above p
		newTestStatement(&Prepare{B: x2, P: x1, NH: 2}),
		// c above h
		newTestStatement(&Prepare{B: x2, P: x2, NC: 2, NH: 1}),
		newTestStatement(&Confirm{B: x1, NPrepared: 1, NCommit: 1, NH: 2}),
		newTestStatement(&Confirm{B: x2, NPrepared: 2, NCommit: 2, NH: 1}),
		newTestStatement(&Externalize{Commit: x2, NH: 1}),
		newTestStatement(&Externalize{Commit: &Ballot{Counter: 1}, NH: 1}),
	}
	for _, stmt := range invalid {
		assert.ErrorIs(t, checkStatement(stmt), ErrMalformedStatement, stmt.String())
	}

	// the local node may describe a state without working ballot
	assert.NoError(t, checkPledge(newTestStatement(&Prepare{B: &Ballot{}, P: x1}), true))
}

func TestWorkingBallotCounter(t *testing.T) {
	x2 := &Ballot{Counter: 2, Value: "X"}
	assert.Equal(t, uint32(2), workingBallotCounter(newTestStatement(&Prepare{B: x2})))
	assert.Equal(t, uint32(2), workingBallotCounter(newTestStatement(&Confirm{B: x2, NH: 2})))
	assert.Equal(t, uint32(math.MaxUint32), workingBallotCounter(newTestStatement(&Externalize{Commit: x2, NH: 2})))
	assert.Equal(t, uint32(0), workingBallotCounter(newTestStatement(&Nominate{VoteList: []string{"X"}})))

	assert.ElementsMatch(t, []Value{"X", "Y"}, statementValues(newTestStatement(&Prepare{B: x2, P: &Ballot{Counter: 1, Value: "Y"}})))
	assert.True(t, isBallotStatement(newTestStatement(&Confirm{B: x2})))
	assert.False(t, isBallotStatement(newTestStatement(&Nominate{VoteList: []string{"X"}})))
}
