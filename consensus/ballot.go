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
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/mfaulk/mobilecoin/ultpb"
)

// Maximum number of nested state transitions triggered by one statement.
const maxAdvanceSlotRecursion = 50

// invariantError aborts the processing of a statement, the slot
// restores the state it had before the statement.
type invariantError struct {
	msg string
}

func (e *invariantError) Error() string {
	return e.msg
}

func invariantFailed(format string, args ...interface{}) {
	panic(&invariantError{msg: fmt.Sprintf(format, args...)})
}

// ballotProtocol drives a slot through the prepare, confirm and
// externalize phases. A nil working ballot means the protocol has
// not started yet.
type ballotProtocol struct {
	slot *Slot

	phase Phase

	// current working ballot
	b *Ballot
	// highest accepted prepared ballot
	p *Ballot
	// highest accepted prepared ballot incompatible with p
	pPrime *Ballot
	// highest confirmed prepared ballot
	h *Ballot
	// lowest ballot the local node votes to commit
	c *Ballot

	// value confirmed prepared or voted to commit, it
	// overrides the composite value on bumps
	valueOverride Value

	// latest ballot statement of each node
	latest map[string]*Statement

	heardFromQuorum bool

	// latest statement generated by the local node and the
	// latest one actually broadcasted
	lastStatement *Statement
	lastEmitted   *Statement

	currentMessageLevel int

	timer timer
}

func newBallotProtocol(s *Slot) *ballotProtocol {
	return &ballotProtocol{
		slot:   s,
		phase:  PhasePrepare,
		latest: make(map[string]*Statement),
	}
}

func (bp *ballotProtocol) clone(s *Slot) *ballotProtocol {
	c := *bp
	c.slot = s
	c.latest = make(map[string]*Statement, len(bp.latest))
	for k, v := range bp.latest {
		c.latest[k] = v
	}
	return &c
}

// Phase as seen from outside, prepare without a working
// ballot is reported as unstarted.
func (bp *ballotProtocol) currentPhase() Phase {
	if bp.phase == PhasePrepare && bp.b == nil {
		return PhaseUnstarted
	}
	return bp.phase
}

// Process a ballot statement from a peer or the local node.
func (bp *ballotProtocol) processStatement(stmt *Statement, self bool) error {
	if err := checkPledge(stmt, self); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStatement, err)
	}
	if last, ok := bp.latest[stmt.NodeID]; ok && !isNewerBallot(last, stmt) {
		return ErrStaleStatement
	}
	if !self {
		for _, v := range statementValues(stmt) {
			if !bp.slot.isValid(v) {
				return fmt.Errorf("%w: %s", ErrInvalidValue, v)
			}
		}
	}

	if bp.phase != PhaseExternalize {
		bp.latest[stmt.NodeID] = stmt
		bp.advanceSlot(stmt)
		return nil
	}

	// only statements agreeing with the commit are recorded once externalized
	if wb := workingBallot(stmt); wb != nil && wb.Value == bp.c.Value {
		bp.latest[stmt.NodeID] = stmt
		return nil
	}
	bp.slot.logger.Debugw("ignore statement incompatible with externalized value", "index", bp.slot.index, "node", stmt.NodeID)
	return nil
}

// Run the state transitions the hint statement may trigger.
func (bp *ballotProtocol) advanceSlot(hint *Statement) {
	bp.currentMessageLevel++
	if bp.currentMessageLevel >= maxAdvanceSlotRecursion {
		invariantFailed("maximum number of transitions reached in advanceSlot")
	}

	didWork := false
	didWork = bp.attemptAcceptPrepared(hint) || didWork
	didWork = bp.attemptConfirmPrepared(hint) || didWork
	didWork = bp.attemptAcceptCommit(hint) || didWork
	didWork = bp.attemptConfirmCommit(hint) || didWork

	// only bump after all the transitions of the statement
	if bp.currentMessageLevel == 1 {
		for {
			didBump := bp.attemptBump()
			didWork = didBump || didWork
			if !didBump {
				break
			}
		}
		bp.checkHeardFromQuorum()
	}

	bp.currentMessageLevel--
	if didWork {
		bp.sendLatestStatement()
	}
}

// Ballots that may be accepted as prepared given the hint statement,
// sorted in descending order.
func (bp *ballotProtocol) getPrepareCandidates(hint *Statement) []*Ballot {
	var hintBallots []*Ballot
	switch p := hint.Pledge.(type) {
	case *Prepare:
		hintBallots = append(hintBallots, p.B)
		if p.P != nil {
			hintBallots = append(hintBallots, p.P)
		}
		if p.Q != nil {
			hintBallots = append(hintBallots, p.Q)
		}
	case *Confirm:
		hintBallots = append(hintBallots,
			&Ballot{Counter: p.NPrepared, Value: p.B.Value},
			&Ballot{Counter: math.MaxUint32, Value: p.B.Value})
	case *Externalize:
		hintBallots = append(hintBallots, &Ballot{Counter: math.MaxUint32, Value: p.Commit.Value})
	}
	sort.Sort(BallotSlice(hintBallots))

	seen := make(map[Ballot]struct{})
	var candidates []*Ballot
	add := func(b *Ballot) {
		if _, ok := seen[*b]; ok {
			return
		}
		seen[*b] = struct{}{}
		candidates = append(candidates, copyBallot(b))
	}

	for _, top := range hintBallots {
		for _, stmt := range bp.latest {
			switch p := stmt.Pledge.(type) {
			case *Prepare:
				if lessAndCompatibleBallots(p.B, top) {
					add(p.B)
				}
				if p.P != nil && lessAndCompatibleBallots(p.P, top) {
					add(p.P)
				}
				if p.Q != nil && lessAndCompatibleBallots(p.Q, top) {
					add(p.Q)
				}
			case *Confirm:
				if compatibleBallots(top, p.B) {
					add(top)
					if p.NPrepared < top.Counter {
						add(&Ballot{Counter: p.NPrepared, Value: top.Value})
					}
				}
			case *Externalize:
				if compatibleBallots(top, p.Commit) {
					add(top)
				}
			}
		}
	}
	sort.Sort(BallotSlice(candidates))
	return candidates
}

// Try to accept some ballot as prepared.
func (bp *ballotProtocol) attemptAcceptPrepared(hint *Statement) bool {
	if bp.phase != PhasePrepare && bp.phase != PhaseConfirm {
		return false
	}

	for _, ballot := range bp.getPrepareCandidates(hint) {
		if ballot.Counter == 0 {
			continue
		}
		if bp.phase == PhaseConfirm {
			// only ballots that increase p, p is compatible with c here
			if !lessAndCompatibleBallots(bp.p, ballot) {
				continue
			}
		}
		// ballots below p' can neither raise p nor p'
		if bp.pPrime != nil && compareBallots(ballot, bp.pPrime) <= 0 {
			continue
		}
		// ballots covered by p
		if bp.p != nil && lessAndCompatibleBallots(ballot, bp.p) {
			continue
		}
		if bp.slot.federatedAccept(prepareVoteFilter(ballot), prepareAcceptFilter(ballot), bp.latest) {
			return bp.setAcceptPrepared(ballot)
		}
	}
	return false
}

func (bp *ballotProtocol) setAcceptPrepared(ballot *Ballot) bool {
	bp.slot.logger.Debugw("accept prepared", "index", bp.slot.index, "ballot", ballot.String())

	didWork := bp.setPrepared(ballot)

	// an incompatible prepared ballot above h aborts the commit
	if bp.c != nil && bp.h != nil {
		if (bp.p != nil && lessAndIncompatibleBallots(bp.h, bp.p)) ||
			(bp.pPrime != nil && lessAndIncompatibleBallots(bp.h, bp.pPrime)) {
			bp.c = nil
			didWork = true
		}
	}

	if didWork {
		bp.emitCurrentStateStatement()
	}
	return didWork
}

// Update p and p' with the accepted prepared ballot.
func (bp *ballotProtocol) setPrepared(ballot *Ballot) bool {
	if bp.p == nil {
		bp.p = ballot
		return true
	}

	cmp := compareBallots(bp.p, ballot)
	if cmp < 0 {
		if !compatibleBallots(bp.p, ballot) {
			bp.pPrime = bp.p
		}
		bp.p = ballot
		return true
	}
	if cmp > 0 && !compatibleBallots(bp.p, ballot) {
		if bp.pPrime == nil || compareBallots(bp.pPrime, ballot) < 0 {
			bp.pPrime = ballot
			return true
		}
	}
	return false
}

// Try to confirm some ballot as prepared, raising h and
// possibly setting c.
func (bp *ballotProtocol) attemptConfirmPrepared(hint *Statement) bool {
	if bp.phase != PhasePrepare || bp.p == nil {
		return false
	}

	candidates := bp.getPrepareCandidates(hint)

	// find the new high bound
	idx := -1
	for i, ballot := range candidates {
		if ballot.Counter == 0 {
			continue
		}
		if bp.h != nil && compareBallots(bp.h, ballot) >= 0 {
			break
		}
		if bp.slot.federatedRatify(prepareAcceptFilter(ballot), bp.latest) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	newH := candidates[idx]

	// look for the lowest confirmed prepared ballot compatible
	// with newH and not below the working ballot
	var newC *Ballot
	b := bp.b
	if b == nil {
		b = &Ballot{}
	}
	if bp.c == nil &&
		(bp.p == nil || !lessAndIncompatibleBallots(newH, bp.p)) &&
		(bp.pPrime == nil || !lessAndIncompatibleBallots(newH, bp.pPrime)) {
		for _, ballot := range candidates[idx:] {
			if compareBallots(ballot, b) < 0 {
				break
			}
			if !lessAndCompatibleBallots(ballot, newH) {
				continue
			}
			if !bp.slot.federatedRatify(prepareAcceptFilter(ballot), bp.latest) {
				break
			}
			newC = ballot
		}
	}
	return bp.setConfirmPrepared(newC, newH)
}

func (bp *ballotProtocol) setConfirmPrepared(newC *Ballot, newH *Ballot) bool {
	bp.slot.logger.Debugw("confirm prepared", "index", bp.slot.index, "c", newC.String(), "h", newH.String())

	didWork := false
	bp.valueOverride = newH.Value

	// c and h are only set on a compatible working ballot
	if bp.b == nil || compatibleBallots(bp.b, newH) {
		if bp.h == nil || compareBallots(newH, bp.h) > 0 {
			bp.h = newH
			didWork = true
		}
		if newC != nil && newC.Counter != 0 {
			if bp.c != nil {
				invariantFailed("commit ballot already set to %s", bp.c)
			}
			bp.c = newC
			didWork = true
		}
	}

	// the working ballot follows h before the new state is emitted
	didWork = bp.updateCurrentIfNeeded(newH) || didWork
	if didWork {
		bp.emitCurrentStateStatement()
	}
	return didWork
}

// Counter boundaries of the commit intervals of the statements
// compatible with the ballot, sorted in ascending order.
func (bp *ballotProtocol) getCommitBoundaries(ballot *Ballot) []uint32 {
	seen := make(map[uint32]struct{})
	add := func(n uint32) {
		seen[n] = struct{}{}
	}
	for _, stmt := range bp.latest {
		switch p := stmt.Pledge.(type) {
		case *Prepare:
			if compatibleBallots(ballot, p.B) && p.NC != 0 {
				add(p.NC)
				add(p.NH)
			}
		case *Confirm:
			if compatibleBallots(ballot, p.B) {
				add(p.NCommit)
				add(p.NH)
			}
		case *Externalize:
			if compatibleBallots(ballot, p.Commit) {
				add(p.Commit.Counter)
				add(p.NH)
				add(math.MaxUint32)
			}
		}
	}
	boundaries := make([]uint32, 0, len(seen))
	for n := range seen {
		boundaries = append(boundaries, n)
	}
	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i] < boundaries[j] })
	return boundaries
}

// Find the widest interval [l, r] over the boundaries satisfying the
// predicate, the high bound is searched first and then extended down.
func findExtendedInterval(boundaries []uint32, pred func(l, r uint32) bool) (uint32, uint32) {
	var l, r uint32
	for i := len(boundaries) - 1; i >= 0; i-- {
		n := boundaries[i]
		var cl, cr uint32
		if l == 0 {
			cl, cr = n, n
		} else if n > r {
			continue
		} else {
			cl, cr = n, r
		}
		if cl == 0 {
			continue
		}
		if pred(cl, cr) {
			l, r = cl, cr
		} else if l != 0 {
			break
		}
	}
	return l, r
}

// Try to accept a commit of the hint value.
func (bp *ballotProtocol) attemptAcceptCommit(hint *Statement) bool {
	if bp.phase != PhasePrepare && bp.phase != PhaseConfirm {
		return false
	}

	var ballot *Ballot
	switch p := hint.Pledge.(type) {
	case *Prepare:
		if p.NC == 0 {
			return false
		}
		ballot = &Ballot{Counter: p.NH, Value: p.B.Value}
	case *Confirm:
		ballot = &Ballot{Counter: p.NH, Value: p.B.Value}
	case *Externalize:
		ballot = &Ballot{Counter: p.NH, Value: p.Commit.Value}
	default:
		return false
	}

	if bp.phase == PhaseConfirm && !compatibleBallots(ballot, bp.h) {
		return false
	}

	boundaries := bp.getCommitBoundaries(ballot)
	if len(boundaries) == 0 {
		return false
	}
	l, r := findExtendedInterval(boundaries, func(l, r uint32) bool {
		return bp.slot.federatedAccept(commitVoteFilter(ballot, l, r), commitAcceptFilter(ballot, l, r), bp.latest)
	})
	if l == 0 {
		return false
	}
	if bp.phase == PhaseConfirm && r <= bp.h.Counter {
		return false
	}
	return bp.setAcceptCommit(&Ballot{Counter: l, Value: ballot.Value}, &Ballot{Counter: r, Value: ballot.Value})
}

func (bp *ballotProtocol) setAcceptCommit(c *Ballot, h *Ballot) bool {
	bp.slot.logger.Debugw("accept commit", "index", bp.slot.index, "c", c.String(), "h", h.String())

	didWork := false
	bp.valueOverride = h.Value

	if bp.h == nil || bp.c == nil || !equalBallots(bp.h, h) || !equalBallots(bp.c, c) {
		bp.c = c
		bp.h = h
		didWork = true
	}

	if bp.phase == PhasePrepare {
		bp.phase = PhaseConfirm
		if bp.b != nil && !lessAndCompatibleBallots(h, bp.b) {
			bp.bumpToBallot(h, false)
		}
		bp.pPrime = nil
		didWork = true
	}

	if didWork {
		bp.updateCurrentIfNeeded(bp.h)
		bp.emitCurrentStateStatement()
	}
	return didWork
}

// Try to confirm a commit of the hint value and externalize.
func (bp *ballotProtocol) attemptConfirmCommit(hint *Statement) bool {
	if bp.phase != PhaseConfirm || bp.h == nil || bp.c == nil {
		return false
	}

	var ballot *Ballot
	switch p := hint.Pledge.(type) {
	case *Confirm:
		ballot = &Ballot{Counter: p.NH, Value: p.B.Value}
	case *Externalize:
		ballot = &Ballot{Counter: p.NH, Value: p.Commit.Value}
	default:
		return false
	}
	if !compatibleBallots(ballot, bp.c) {
		return false
	}

	boundaries := bp.getCommitBoundaries(ballot)
	l, r := findExtendedInterval(boundaries, func(l, r uint32) bool {
		return bp.slot.federatedRatify(commitAcceptFilter(ballot, l, r), bp.latest)
	})
	if l == 0 {
		return false
	}
	return bp.setConfirmCommit(&Ballot{Counter: l, Value: ballot.Value}, &Ballot{Counter: r, Value: ballot.Value})
}

func (bp *ballotProtocol) setConfirmCommit(c *Ballot, h *Ballot) bool {
	bp.slot.logger.Debugw("confirm commit", "index", bp.slot.index, "c", c.String(), "h", h.String())

	bp.c = c
	bp.h = h
	bp.updateCurrentIfNeeded(h)

	bp.phase = PhaseExternalize
	bp.emitCurrentStateStatement()
	bp.timer.stop()
	bp.slot.nomination.timer.stop()

	bp.slot.valueExternalized(c.Value)
	return true
}

// Jump to a higher counter once a v-blocking set is ahead of us.
func (bp *ballotProtocol) attemptBump() bool {
	if bp.phase != PhasePrepare && bp.phase != PhaseConfirm {
		return false
	}

	var localCounter uint32
	if bp.b != nil {
		localCounter = bp.b.Counter
	}
	if !bp.slot.isVblocking(aboveCounterFilter(localCounter), bp.latest) {
		return false
	}

	seen := make(map[uint32]struct{})
	var counters []uint32
	for _, stmt := range bp.latest {
		if n := workingBallotCounter(stmt); n > localCounter {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				counters = append(counters, n)
			}
		}
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i] < counters[j] })

	// move to the smallest counter the nodes above which are
	// no longer v-blocking
	for _, n := range counters {
		if !bp.slot.isVblocking(aboveCounterFilter(n), bp.latest) {
			return bp.abandonBallot(n)
		}
	}
	return false
}

// Move to a new ballot, counter zero means the next counter.
func (bp *ballotProtocol) abandonBallot(n uint32) bool {
	v := bp.slot.nomination.latestComposite
	if v == "" && bp.b != nil {
		v = bp.b.Value
	}
	if v == "" {
		return false
	}
	if n == 0 {
		return bp.bumpState(v, true)
	}
	return bp.bumpStateTo(v, n)
}

// Start or bump the ballot with the value, an already started ballot
// is only bumped when forced.
func (bp *ballotProtocol) bumpState(value Value, force bool) bool {
	if !force && bp.b != nil {
		return false
	}
	var n uint32 = 1
	if bp.b != nil {
		n = bp.b.Counter + 1
	}
	return bp.bumpStateTo(value, n)
}

func (bp *ballotProtocol) bumpStateTo(value Value, n uint32) bool {
	if bp.phase != PhasePrepare && bp.phase != PhaseConfirm {
		return false
	}

	ballot := &Ballot{Counter: n, Value: value}
	if bp.valueOverride != "" {
		ballot.Value = bp.valueOverride
	}

	bp.slot.logger.Debugw("bump state", "index", bp.slot.index, "ballot", ballot.String())

	updated := bp.updateCurrentValue(ballot)
	if updated {
		bp.emitCurrentStateStatement()
		bp.checkHeardFromQuorum()
	}
	return updated
}

func (bp *ballotProtocol) updateCurrentValue(ballot *Ballot) bool {
	if bp.phase != PhasePrepare && bp.phase != PhaseConfirm {
		return false
	}

	updated := false
	if bp.b == nil {
		bp.bumpToBallot(ballot, true)
		updated = true
	} else {
		if bp.c != nil && !compatibleBallots(bp.c, ballot) {
			return false
		}
		cmp := compareBallots(bp.b, ballot)
		if cmp < 0 {
			bp.bumpToBallot(ballot, true)
			updated = true
		} else if cmp > 0 {
			bp.slot.logger.Debugw("ballot below working ballot", "index", bp.slot.index, "ballot", ballot.String(), "b", bp.b.String())
			return false
		}
	}
	bp.checkInvariants()
	return updated
}

// Raise the working ballot to h.
func (bp *ballotProtocol) updateCurrentIfNeeded(h *Ballot) bool {
	if bp.b == nil || compareBallots(bp.b, h) < 0 {
		bp.bumpToBallot(h, true)
		return true
	}
	return false
}

func (bp *ballotProtocol) bumpToBallot(ballot *Ballot, check bool) {
	if bp.phase == PhaseExternalize {
		invariantFailed("bump to %s after externalize", ballot)
	}
	if check && bp.b != nil && compareBallots(ballot, bp.b) < 0 {
		invariantFailed("bump to %s below working ballot %s", ballot, bp.b)
	}

	gotBumped := bp.b == nil || bp.b.Counter != ballot.Counter
	bp.b = copyBallot(ballot)

	// h and b must be compatible
	if bp.h != nil && !compatibleBallots(bp.b, bp.h) {
		bp.h = nil
	}
	if gotBumped {
		bp.heardFromQuorum = false
	}
}

// Arm the ballot timer once a quorum is working on the current
// counter or a later one.
func (bp *ballotProtocol) checkHeardFromQuorum() {
	if bp.b == nil {
		return
	}
	if bp.slot.isQuorum(heardFilter(bp.b.Counter), bp.latest) {
		old := bp.heardFromQuorum
		bp.heardFromQuorum = true
		if !old && bp.phase != PhaseExternalize {
			timeout := backoffTimeout(bp.slot.cfg.ballotTimeout, bp.slot.cfg.timeoutBackoff, bp.slot.cfg.maxTimeout, bp.b.Counter)
			bp.timer.start(bp.slot.now + timeout)
		}
		if bp.phase == PhaseExternalize {
			bp.timer.stop()
		}
	} else {
		bp.heardFromQuorum = false
		bp.timer.stop()
	}
}

// Ballot timer fired.
func (bp *ballotProtocol) timerExpired() {
	bp.timer.stop()
	bp.abandonBallot(0)
}

// Build the statement describing the current state.
func (bp *ballotProtocol) createStatement() *Statement {
	var pledge ultpb.Pledge
	switch bp.phase {
	case PhasePrepare:
		p := &Prepare{
			B: copyBallot(bp.b),
			P: copyBallot(bp.p),
			Q: copyBallot(bp.pPrime),
		}
		if p.B == nil {
			p.B = &Ballot{}
		}
		if bp.c != nil {
			p.NC = bp.c.Counter
		}
		if bp.h != nil {
			p.NH = bp.h.Counter
		}
		pledge = p
	case PhaseConfirm:
		c := &Confirm{
			B:       copyBallot(bp.b),
			NCommit: bp.c.Counter,
			NH:      bp.h.Counter,
		}
		if bp.p != nil {
			c.NPrepared = bp.p.Counter
		}
		pledge = c
	case PhaseExternalize:
		pledge = &Externalize{
			Commit: copyBallot(bp.c),
			NH:     bp.h.Counter,
		}
	}
	return bp.slot.newStatement(pledge)
}

// Process the statement of the current state locally and queue it
// for broadcasting.
func (bp *ballotProtocol) emitCurrentStateStatement() {
	stmt := bp.createStatement()
	canEmit := bp.b != nil

	// the same statement is not processed again
	if last, ok := bp.latest[bp.slot.cfg.nodeID]; ok && sameStatement(last, stmt) {
		return
	}
	if err := bp.processStatement(stmt, true); err != nil {
		invariantFailed("moved to a bad state: %v", err)
	}
	if canEmit && (bp.lastStatement == nil || isNewerBallot(bp.lastStatement, stmt)) {
		bp.lastStatement = stmt
		bp.sendLatestStatement()
	}
}

// Queue the latest statement once all the nested transitions are done.
func (bp *ballotProtocol) sendLatestStatement() {
	if bp.currentMessageLevel != 0 || bp.lastStatement == nil {
		return
	}
	if bp.lastEmitted != bp.lastStatement {
		bp.lastEmitted = bp.lastStatement
		bp.slot.emit(bp.lastStatement)
	}
}

func (bp *ballotProtocol) checkInvariants() {
	if bp.b != nil && bp.b.Counter == 0 {
		invariantFailed("working ballot counter is zero")
	}
	if bp.p != nil && bp.pPrime != nil && !lessAndIncompatibleBallots(bp.pPrime, bp.p) {
		invariantFailed("p' %s is not below and incompatible with p %s", bp.pPrime, bp.p)
	}
	if bp.h != nil && (bp.b == nil || !lessAndCompatibleBallots(bp.h, bp.b)) {
		invariantFailed("h %s is not below and compatible with b %s", bp.h, bp.b)
	}
	if bp.c != nil {
		if bp.b == nil || bp.h == nil {
			invariantFailed("c %s set without b and h", bp.c)
		}
		if !lessAndCompatibleBallots(bp.c, bp.h) || !lessAndCompatibleBallots(bp.h, bp.b) {
			invariantFailed("c %s, h %s and b %s are not ordered", bp.c, bp.h, bp.b)
		}
	}
	switch bp.phase {
	case PhaseConfirm:
		if bp.c == nil {
			invariantFailed("confirm phase without commit ballot")
		}
	case PhaseExternalize:
		if bp.c == nil || bp.h == nil {
			invariantFailed("externalize phase without commit interval")
		}
	}
}

// Whether the two statements encode to the same bytes.
func sameStatement(a, b *Statement) bool {
	ab, err := ultpb.EncodeStatement(a)
	if err != nil {
		return false
	}
	bb, err := ultpb.EncodeStatement(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
