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
	"encoding/binary"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/mfaulk/mobilecoin/crypto"
)

// nominationProtocol narrows the values proposed for a slot down to
// a set of confirmed candidates through federated voting.
type nominationProtocol struct {
	slot *Slot

	// nomination round, starts from 1
	round uint32
	// whether the rounds started, either by a local nomination
	// or by the first nomination of a peer
	started bool

	// value proposed by the local node
	localValue Value
	// value externalized by the previous slot
	prevValue Value

	votes      mapset.Set[Value]
	accepts    mapset.Set[Value]
	candidates mapset.Set[Value]

	// leaders of all the rounds so far
	leaders mapset.Set[string]

	// latest nomination statement of each node
	latest map[string]*Statement
	// latest nomination broadcasted by the local node
	lastEmitted *Statement

	// latest composite value of the candidates
	latestComposite Value

	timer timer
}

func newNominationProtocol(s *Slot) *nominationProtocol {
	return &nominationProtocol{
		slot:       s,
		votes:      mapset.NewThreadUnsafeSet[Value](),
		accepts:    mapset.NewThreadUnsafeSet[Value](),
		candidates: mapset.NewThreadUnsafeSet[Value](),
		leaders:    mapset.NewThreadUnsafeSet[string](),
		latest:     make(map[string]*Statement),
	}
}

func (n *nominationProtocol) clone(s *Slot) *nominationProtocol {
	c := *n
	c.slot = s
	c.votes = n.votes.Clone()
	c.accepts = n.accepts.Clone()
	c.candidates = n.candidates.Clone()
	c.leaders = n.leaders.Clone()
	c.latest = make(map[string]*Statement, len(n.latest))
	for k, v := range n.latest {
		c.latest[k] = v
	}
	return &c
}

// Whether the nomination stopped since the ballot protocol
// has accepted a commit.
func (n *nominationProtocol) stopped() bool {
	return n.slot.ballot.phase >= PhaseConfirm
}

// Nominate a value for the slot, also called by the nomination
// timer to move to the next round.
func (n *nominationProtocol) nominate(value, prevValue Value, timedout bool) bool {
	if timedout && !n.started {
		return false
	}
	if n.stopped() || n.candidates.Cardinality() > 0 {
		n.timer.stop()
		return false
	}

	if !timedout {
		n.localValue = value
		if prevValue != "" {
			n.prevValue = prevValue
		}
	}

	updated := false
	if timedout || !n.started {
		updated = n.nextRound()
	} else {
		// already started by a peer, the leaders may change with
		// the previous value given by the caller
		n.updateRoundLeaders()
		updated = n.copyLeaderValues()
	}
	if n.slot.isValid(n.localValue) && n.votes.Add(n.localValue) {
		updated = true
	}

	n.slot.logger.Debugw("nominate", "index", n.slot.index, "round", n.round, "leaders", n.leaders.Cardinality(), "votes", n.votes.Cardinality())

	if updated {
		n.emitNomination()
	}
	return updated
}

// Move to the next round, the round timer is armed and the values
// of the leaders are copied.
func (n *nominationProtocol) nextRound() bool {
	n.started = true
	n.round++
	n.updateRoundLeaders()

	timeout := backoffTimeout(n.slot.cfg.nominationTimeout, n.slot.cfg.timeoutBackoff, n.slot.cfg.maxTimeout, n.round)
	n.timer.start(n.slot.now + timeout)
	return n.copyLeaderValues()
}

// Vote for the values of the latest nominations of the leaders.
func (n *nominationProtocol) copyLeaderValues() bool {
	updated := false
	n.leaders.Each(func(leader string) bool {
		if leader == n.slot.cfg.nodeID {
			return false
		}
		if stmt, ok := n.latest[leader]; ok {
			if n.copyValues(stmt.GetNominate()) {
				updated = true
			}
		}
		return false
	})
	return updated
}

// Vote for the valid values of the nomination.
func (n *nominationProtocol) copyValues(nom *Nominate) bool {
	updated := false
	for _, list := range [][]Value{nom.VoteList, nom.AcceptList} {
		for _, v := range list {
			if n.votes.Contains(v) || !n.slot.isValid(v) {
				continue
			}
			n.votes.Add(v)
			updated = true
		}
	}
	return updated
}

// Process a nomination statement from a peer or the local node.
func (n *nominationProtocol) processStatement(stmt *Statement) error {
	nom := stmt.GetNominate()
	if last, ok := n.latest[stmt.NodeID]; ok && !isNewerNomination(last.GetNominate(), nom) {
		return ErrStaleStatement
	}
	n.latest[stmt.NodeID] = stmt

	if n.stopped() {
		return nil
	}

	quorum := n.slot.cfg.quorum
	modified := false
	newCandidates := false

	// a peer nominating starts the rounds of a node with nothing
	// to propose
	if !n.started && n.candidates.Cardinality() == 0 {
		modified = n.nextRound()
	}

	// try to promote votes to accepts
	for _, list := range [][]Value{nom.VoteList, nom.AcceptList} {
		for _, v := range list {
			if n.accepts.Contains(v) {
				continue
			}
			if !n.slot.federatedAccept(voteFilter(v), acceptFilter(v), n.latest) {
				continue
			}
			if !n.slot.isValid(v) {
				continue
			}
			n.votes.Add(v)
			n.accepts.Add(v)
			modified = true
		}
	}

	// try to promote accepts to candidates
	for _, a := range nom.AcceptList {
		if n.candidates.Contains(a) || !n.slot.isValid(a) {
			continue
		}
		if isQuorum(quorum, n.latest, quorumOf, acceptFilter(a)) {
			n.candidates.Add(a)
			newCandidates = true
			// a confirmed value is accepted as well
			if n.accepts.Add(a) {
				n.votes.Add(a)
				modified = true
			}
		}
	}

	// only take round leader votes if we are still looking for candidates
	if n.candidates.Cardinality() == 0 && n.leaders.Contains(stmt.NodeID) {
		if n.copyValues(nom) {
			modified = true
		}
	}

	if modified {
		n.emitNomination()
	}

	if newCandidates {
		composite, err := n.slot.cfg.combine(sortedValues(n.candidates))
		if err != nil {
			n.slot.logger.Warnw("combine candidates failed", "index", n.slot.index, "err", err)
			return nil
		}
		n.latestComposite = composite
		n.timer.stop()
		n.slot.logger.Debugw("new composite value", "index", n.slot.index, "candidates", n.candidates.Cardinality())
		n.slot.ballot.bumpState(composite, false)
	}
	return nil
}

// Assemble the local nomination, process it locally and queue it
// for broadcasting if it carries new information.
func (n *nominationProtocol) emitNomination() {
	nom := &Nominate{
		VoteList:   sortedValues(n.votes),
		AcceptList: sortedValues(n.accepts),
	}
	if last, ok := n.latest[n.slot.cfg.nodeID]; ok && !isNewerNomination(last.GetNominate(), nom) {
		return
	}
	stmt := n.slot.newStatement(nom)
	if err := n.processStatement(stmt); err != nil {
		return
	}
	if n.lastEmitted == nil || isNewerNomination(n.lastEmitted.GetNominate(), nom) {
		n.lastEmitted = stmt
		if !n.stopped() {
			n.slot.emit(stmt)
		}
	}
}

// Nomination round timer fired.
func (n *nominationProtocol) timerExpired() {
	n.timer.stop()
	n.nominate(n.localValue, n.prevValue, true)
}

// Select the leaders of the current round, the node with the highest
// priority among the neighbors is added to the leader set.
func (n *nominationProtocol) updateRoundLeaders() {
	nodes := mapset.NewThreadUnsafeSet[string](quorumNodes(n.slot.cfg.quorum)...)
	nodes.Add(n.slot.cfg.nodeID)

	var top uint64
	newLeaders := mapset.NewThreadUnsafeSet[string]()
	nodes.Each(func(node string) bool {
		p := n.nodePriority(node)
		if p > top {
			top = p
			newLeaders.Clear()
			newLeaders.Add(node)
		} else if p == top && p > 0 {
			newLeaders.Add(node)
		}
		return false
	})
	n.leaders = n.leaders.Union(newLeaders)
}

// Priority of the node in the current round, zero if the node
// is not a neighbor.
func (n *nominationProtocol) nodePriority(node string) uint64 {
	var w uint64
	if node == n.slot.cfg.nodeID {
		w = ^uint64(0)
	} else {
		w = nodeWeight(n.slot.cfg.quorum, node)
	}
	if w > 0 && n.hashNode(crypto.NominationNeighborTag, node) <= w {
		return n.hashNode(crypto.NominationPriorityTag, node)
	}
	return 0
}

func (n *nominationProtocol) hashNode(tag string, node string) uint64 {
	var idx, round [8]byte
	binary.BigEndian.PutUint64(idx[:], n.slot.index)
	binary.BigEndian.PutUint64(round[:], uint64(n.round))
	return crypto.DomainHashUint64(tag, idx[:], []byte(n.prevValue), round[:], []byte(node))
}
