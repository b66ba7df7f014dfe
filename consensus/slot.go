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
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mfaulk/mobilecoin/ultpb"
)

// slotConfig is the read-only configuration shared by the
// nomination and ballot protocols of a slot.
type slotConfig struct {
	nodeID     string
	quorum     *Quorum
	quorumHash string

	nominationTimeout time.Duration
	ballotTimeout     time.Duration
	timeoutBackoff    float64
	maxTimeout        time.Duration

	combine  CombineFunc
	validate ValidateFunc
}

// Logical timer, the deadline is compared against the
// time passed in by the caller.
type timer struct {
	armed    bool
	deadline time.Duration
}

func (t *timer) start(deadline time.Duration) {
	t.armed = true
	t.deadline = deadline
}

func (t *timer) stop() {
	t.armed = false
	t.deadline = 0
}

func (t *timer) expired(now time.Duration) bool {
	return t.armed && now >= t.deadline
}

// Slot is the consensus state of one ledger index. It is not safe
// for concurrent use, calls must be serialized by the caller.
type Slot struct {
	index uint64
	cfg   *slotConfig

	logger *zap.SugaredLogger

	nomination *nominationProtocol
	ballot     *ballotProtocol

	// logical time of the call being processed
	now time.Duration
	// logical time of the last state change
	lastActive time.Duration

	// statements waiting to be returned to the caller
	pending []*Statement

	externalized *ExternalizeValue
	// whether the externalized value has been returned
	delivered bool
}

func newSlot(index uint64, cfg *slotConfig, l *zap.SugaredLogger) *Slot {
	s := &Slot{
		index:  index,
		cfg:    cfg,
		logger: l,
	}
	s.nomination = newNominationProtocol(s)
	s.ballot = newBallotProtocol(s)
	return s
}

// Index of the slot.
func (s *Slot) Index() uint64 {
	return s.index
}

// CurrentPhase returns the ballot protocol phase of the slot.
func (s *Slot) CurrentPhase() Phase {
	return s.ballot.currentPhase()
}

// ExternalizedValue returns the decided value of the slot.
func (s *Slot) ExternalizedValue() (Value, bool) {
	if s.externalized == nil {
		return "", false
	}
	return s.externalized.Value, true
}

// Nominate proposes the value for the slot, prevValue is the
// value externalized by the previous slot.
func (s *Slot) Nominate(value, prevValue Value, now time.Duration) (out *Output, err error) {
	if !s.isValid(value) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidValue, value)
	}
	defer s.guard(&out, &err)()

	s.now = now
	s.lastActive = now
	s.nomination.nominate(value, prevValue, false)
	return s.flush(), nil
}

// HandleStatement processes a statement whose quorum is resolved
// and returns the statements emitted in response.
func (s *Slot) HandleStatement(stmt *Statement, now time.Duration) (out *Output, err error) {
	if err := checkStatement(stmt); err != nil {
		return nil, err
	}
	if stmt.Index != s.index {
		return nil, fmt.Errorf("%w: statement for slot %d sent to slot %d", ErrMalformedStatement, stmt.Index, s.index)
	}
	if stmt.Quorum == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuorum, stmt.QuorumHash)
	}
	defer s.guard(&out, &err)()

	s.now = now
	decided := s.externalized != nil
	if isBallotStatement(stmt) {
		err = s.ballot.processStatement(stmt, false)
	} else {
		err = s.nomination.processStatement(stmt)
	}
	if err != nil {
		return nil, err
	}
	// statements of a decided slot only serve catch-up and do not
	// keep it alive
	if !decided && s.recorded(stmt) {
		s.lastActive = now
	}
	return s.flush(), nil
}

// Whether the statement became the latest one of its sender.
func (s *Slot) recorded(stmt *Statement) bool {
	if isBallotStatement(stmt) {
		return s.ballot.latest[stmt.NodeID] == stmt
	}
	return s.nomination.latest[stmt.NodeID] == stmt
}

// ProcessTimers fires the expired timers of the slot.
func (s *Slot) ProcessTimers(now time.Duration) (out *Output, err error) {
	defer s.guard(&out, &err)()

	s.now = now
	if s.nomination.timer.expired(now) {
		s.lastActive = now
		s.nomination.timerExpired()
	}
	if s.ballot.timer.expired(now) {
		s.lastActive = now
		s.ballot.timerExpired()
	}
	return s.flush(), nil
}

// NextWakeup returns the earliest armed timer deadline.
func (s *Slot) NextWakeup() (time.Duration, bool) {
	var next time.Duration
	armed := false
	for _, t := range []timer{s.nomination.timer, s.ballot.timer} {
		if t.armed && (!armed || t.deadline < next) {
			next = t.deadline
			armed = true
		}
	}
	return next, armed
}

// LatestStatements returns the latest statement of every known node,
// ballot statements supersede nominations.
func (s *Slot) LatestStatements() []*Statement {
	latest := make(map[string]*Statement)
	for id, stmt := range s.nomination.latest {
		latest[id] = stmt
	}
	for id, stmt := range s.ballot.latest {
		latest[id] = stmt
	}
	// only statements actually broadcasted by the local node
	delete(latest, s.cfg.nodeID)
	if s.ballot.lastEmitted != nil {
		latest[s.cfg.nodeID] = s.ballot.lastEmitted
	} else if s.nomination.lastEmitted != nil {
		latest[s.cfg.nodeID] = s.nomination.lastEmitted
	}

	stmts := make([]*Statement, 0, len(latest))
	for _, stmt := range latest {
		stmts = append(stmts, stmt)
	}
	sort.Slice(stmts, func(i, j int) bool { return stmts[i].NodeID < stmts[j].NodeID })
	return stmts
}

// Recover from an invariant violation by restoring the state the
// slot had before the call.
func (s *Slot) guard(out **Output, err *error) func() {
	nom := s.nomination.clone(s)
	bal := s.ballot.clone(s)
	pending := len(s.pending)
	externalized, delivered := s.externalized, s.delivered
	return func() {
		r := recover()
		if r == nil {
			return
		}
		ie, ok := r.(*invariantError)
		if !ok {
			panic(r)
		}
		s.nomination, s.ballot = nom, bal
		s.pending = s.pending[:pending]
		s.externalized, s.delivered = externalized, delivered
		s.logger.Warnw("statement rejected", "index", s.index, "err", ie.msg)
		*out = nil
		*err = fmt.Errorf("%w: %s", ErrInvariantViolation, ie.msg)
	}
}

// Collect the pending output of the slot.
func (s *Slot) flush() *Output {
	out := &Output{Statements: s.pending}
	s.pending = nil
	if s.externalized != nil && !s.delivered {
		out.Externalized = s.externalized
		s.delivered = true
	}
	if next, ok := s.NextWakeup(); ok {
		out.NextWakeup = next
	}
	return out
}

func (s *Slot) emit(stmt *Statement) {
	s.pending = append(s.pending, stmt)
}

func (s *Slot) valueExternalized(v Value) {
	if s.externalized != nil {
		return
	}
	s.logger.Infow("slot externalized", "index", s.index, "value", v)
	s.externalized = &ExternalizeValue{Index: s.index, Value: v}
}

func (s *Slot) newStatement(pledge ultpb.Pledge) *Statement {
	return &Statement{
		Index:      s.index,
		NodeID:     s.cfg.nodeID,
		QuorumHash: s.cfg.quorumHash,
		Quorum:     s.cfg.quorum,
		Pledge:     pledge,
	}
}

func (s *Slot) isValid(v Value) bool {
	if v == "" {
		return false
	}
	if s.cfg.validate == nil {
		return true
	}
	return s.cfg.validate(v) == nil
}

// Federated voting helpers over the local quorum.

func quorumOf(stmt *Statement) *Quorum {
	return stmt.Quorum
}

func (s *Slot) isVblocking(filter func(*Statement) bool, stmts map[string]*Statement) bool {
	return isVblockingStatements(s.cfg.quorum, stmts, filter)
}

func (s *Slot) isQuorum(filter func(*Statement) bool, stmts map[string]*Statement) bool {
	return isQuorum(s.cfg.quorum, stmts, quorumOf, filter)
}

// A statement is accepted once a v-blocking set accepted it or
// a quorum voted or accepted it.
func (s *Slot) federatedAccept(voted, accepted func(*Statement) bool, stmts map[string]*Statement) bool {
	if s.isVblocking(accepted, stmts) {
		return true
	}
	return s.isQuorum(func(stmt *Statement) bool {
		return voted(stmt) || accepted(stmt)
	}, stmts)
}

// A statement is ratified once a quorum voted it.
func (s *Slot) federatedRatify(voted func(*Statement) bool, stmts map[string]*Statement) bool {
	return s.isQuorum(voted, stmts)
}
