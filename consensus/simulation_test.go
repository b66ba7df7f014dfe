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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type simMessage struct {
	to   string
	stmt *Statement
}

// simNetwork delivers the statements of a set of engines in FIFO
// order and advances a shared logical clock once the network is idle.
type simNetwork struct {
	t   *testing.T
	ids []string

	engines map[string]*Engine
	// nodes that neither send nor receive
	crashed map[string]bool

	queue   []simMessage
	now     time.Duration
	wakeups map[string]time.Duration

	decided map[string][]*ExternalizeValue
	emitted map[string][]*Statement
}

func newSimNetwork(t *testing.T, ids []string, quorum *Quorum) *simNetwork {
	n := &simNetwork{
		t:       t,
		ids:     ids,
		engines: make(map[string]*Engine),
		crashed: make(map[string]bool),
		wakeups: make(map[string]time.Duration),
		decided: make(map[string][]*ExternalizeValue),
		emitted: make(map[string][]*Statement),
	}
	for _, id := range ids {
		e, err := NewEngine(Config{
			NodeID:        id,
			Quorum:        quorum,
			SlotRetention: 24 * time.Hour,
		}, 1)
		require.NoError(t, err)
		n.engines[id] = e
	}
	return n
}

func (n *simNetwork) crash(id string) {
	n.crashed[id] = true
}

func (n *simNetwork) nominate(id string, index uint64, value Value) {
	require.NoError(n.t, n.engines[id].Nominate(index, value, ""))
	n.drain(id)
}

// Queue the statement for a single node.
func (n *simNetwork) send(to string, stmt *Statement) {
	n.queue = append(n.queue, simMessage{to: to, stmt: stmt})
}

func (n *simNetwork) drain(id string) {
	effects := n.engines[id].Drain()
	n.decided[id] = append(n.decided[id], effects.Externalized...)
	if effects.NextWakeup > 0 {
		n.wakeups[id] = effects.NextWakeup
	} else {
		delete(n.wakeups, id)
	}
	for _, stmt := range effects.Statements {
		n.emitted[id] = append(n.emitted[id], stmt)
		for _, to := range n.ids {
			if to != id && !n.crashed[to] {
				n.send(to, stmt)
			}
		}
	}
}

// Run until no statement is in flight and no timer is armed, at most
// maxTimers clock advances are made.
func (n *simNetwork) run(maxTimers int) {
	for fired := 0; ; fired++ {
		for len(n.queue) > 0 {
			msg := n.queue[0]
			n.queue = n.queue[1:]
			require.NoError(n.t, n.engines[msg.to].RecvStatement(msg.stmt))
			n.drain(msg.to)
		}

		var next time.Duration
		for _, d := range n.wakeups {
			if next == 0 || d < next {
				next = d
			}
		}
		if next == 0 || fired >= maxTimers {
			return
		}
		if next > n.now {
			n.now = next
		}
		for _, id := range n.ids {
			if n.crashed[id] {
				continue
			}
			require.NoError(n.t, n.engines[id].ProcessTimers(n.now))
			n.drain(id)
		}
	}
}

// Assert every live node decided the same single value for index 1.
func (n *simNetwork) requireAgreement() Value {
	var agreed Value
	for _, id := range n.ids {
		if n.crashed[id] {
			continue
		}
		decided := n.decided[id]
		require.Len(n.t, decided, 1, "node %s", id)
		require.Equal(n.t, uint64(1), decided[0].Index)
		if agreed == "" {
			agreed = decided[0].Value
		}
		require.Equal(n.t, agreed, decided[0].Value, "node %s", id)
	}
	return agreed
}

// Assert the statements of every node only move forward.
func (n *simNetwork) requireMonotonic() {
	for id, stmts := range n.emitted {
		var lastNomination, lastBallot *Statement
		for _, stmt := range stmts {
			if isBallotStatement(stmt) {
				if lastBallot != nil {
					require.True(n.t, isNewerBallot(lastBallot, stmt), "node %s: %s after %s", id, stmt, lastBallot)
					if lastBallot.GetPrepare() != nil && stmt.GetPrepare() != nil {
						require.LessOrEqual(n.t, lastBallot.GetPrepare().B.Counter, stmt.GetPrepare().B.Counter)
					}
				}
				lastBallot = stmt
				continue
			}
			if lastNomination != nil {
				require.True(n.t, isNewerNomination(lastNomination.GetNominate(), stmt.GetNominate()), "node %s: %s after %s", id, stmt, lastNomination)
			}
			lastNomination = stmt
		}
	}
}

var simIDs = []string{"A", "B", "C", "D"}

func TestSimulationSameValue(t *testing.T) {
	n := newSimNetwork(t, simIDs, testQuorum)
	for _, id := range simIDs {
		n.nominate(id, 1, "V")
	}
	n.run(10)

	assert.Equal(t, Value("V"), n.requireAgreement())
	n.requireMonotonic()
	for _, id := range simIDs {
		slot, ok := n.engines[id].Slot(1)
		require.True(t, ok)
		assert.LessOrEqual(t, slot.nomination.round, uint32(2))
		assert.Equal(t, PhaseExternalize, slot.CurrentPhase())
		assert.Equal(t, uint64(2), n.engines[id].NextIndex())
	}
	// nothing is left armed
	assert.Empty(t, n.wakeups)
}

func TestSimulationDifferentValues(t *testing.T) {
	n := newSimNetwork(t, simIDs, testQuorum)
	for _, id := range simIDs {
		n.nominate(id, 1, Value("V"+id))
	}
	n.run(200)

	agreed := n.requireAgreement()
	assert.Contains(t, []Value{"VA", "VB", "VC", "VD"}, agreed)
	n.requireMonotonic()
}

func TestSimulationSingleProposer(t *testing.T) {
	n := newSimNetwork(t, simIDs, testQuorum)
	n.nominate("A", 1, "V")
	n.run(200)

	assert.Equal(t, Value("V"), n.requireAgreement())
	n.requireMonotonic()
	for _, id := range simIDs {
		slot, ok := n.engines[id].Slot(1)
		require.True(t, ok)
		assert.Equal(t, PhaseExternalize, slot.CurrentPhase())
	}
}

func TestSimulationCrashedNode(t *testing.T) {
	n := newSimNetwork(t, simIDs, testQuorum)
	n.crash("D")
	for _, id := range []string{"A", "B", "C"} {
		n.nominate(id, 1, "V")
	}
	n.run(50)

	assert.Equal(t, Value("V"), n.requireAgreement())
	n.requireMonotonic()
}

func TestSimulationByzantineNode(t *testing.T) {
	n := newSimNetwork(t, simIDs, testQuorum)
	n.crash("D")

	// D prepares different values towards different nodes
	n.send("B", testStatement(1, "D", &Prepare{B: &Ballot{Counter: 1, Value: "X"}}))
	n.send("C", testStatement(1, "D", &Prepare{B: &Ballot{Counter: 1, Value: "Y"}}))
	n.send("A", testStatement(1, "D", &Nominate{VoteList: []string{"X", "Y"}, AcceptList: []string{"X"}}))
	for _, id := range []string{"A", "B", "C"} {
		n.nominate(id, 1, "V")
	}
	n.run(200)

	// D may get its values nominated but honest nodes never disagree
	agreed := n.requireAgreement()
	assert.Contains(t, []Value{"V", "X", "Y"}, agreed)
	n.requireMonotonic()
}

func TestSimulationTermination(t *testing.T) {
	n := newSimNetwork(t, simIDs, testQuorum)
	n.crash("D")
	for _, id := range []string{"A", "B", "C"} {
		n.nominate(id, 1, "V")
	}
	n.run(50)
	n.requireAgreement()

	// statements arriving after the decision change nothing
	for _, id := range []string{"A", "B", "C"} {
		e := n.engines[id]
		require.NoError(t, e.RecvStatement(testStatement(1, "D", &Prepare{B: &Ballot{Counter: 9, Value: "Z"}})))
		require.NoError(t, e.RecvStatement(testStatement(1, "D", &Nominate{VoteList: []string{"Z"}})))
		effects := e.Drain()
		assert.Empty(t, effects.Statements)
		assert.Empty(t, effects.Externalized)
		assert.Zero(t, effects.NextWakeup)

		slot, _ := e.Slot(1)
		v, ok := slot.ExternalizedValue()
		assert.True(t, ok)
		assert.Equal(t, Value("V"), v)
	}
}
