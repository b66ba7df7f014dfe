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
	"time"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// QuorumResolver looks up quorums by hash without blocking.
type QuorumResolver interface {
	ResolveQuorum(hash string) (*Quorum, bool)
}

// Config of the consensus engine.
type Config struct {
	// identity and trust configuration of the local node
	NodeID string
	Quorum *Quorum

	NominationTimeout time.Duration
	BallotTimeout     time.Duration
	TimeoutBackoff    float64
	MaxTimeout        time.Duration

	// maximum number of slots kept in memory
	MaxOpenSlots int
	// how far ahead of the next undecided slot statements are accepted
	MaxFutureSlots uint64
	// how long decided slots are kept for catch-up
	SlotRetention time.Duration

	// how long statements with unknown quorums are buffered
	PendingQuorumTimeout time.Duration
	MaxPendingStatements int
	QuorumCacheSize      int

	Combine  CombineFunc
	Validate ValidateFunc
	Resolver QuorumResolver

	Logger *zap.SugaredLogger
}

// Default engine parameters.
const (
	DefaultNominationTimeout    = time.Second
	DefaultBallotTimeout        = time.Second
	DefaultTimeoutBackoff       = 2.0
	DefaultMaxTimeout           = 30 * time.Second
	DefaultMaxOpenSlots         = 16
	DefaultMaxFutureSlots       = 8
	DefaultSlotRetention        = time.Minute
	DefaultPendingQuorumTimeout = 10 * time.Second
	DefaultMaxPendingStatements = 1024
	DefaultQuorumCacheSize      = 1024
)

func (c *Config) setDefaults() {
	if c.NominationTimeout <= 0 {
		c.NominationTimeout = DefaultNominationTimeout
	}
	if c.BallotTimeout <= 0 {
		c.BallotTimeout = DefaultBallotTimeout
	}
	if c.TimeoutBackoff < 1 {
		c.TimeoutBackoff = DefaultTimeoutBackoff
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = DefaultMaxTimeout
	}
	if c.MaxOpenSlots <= 0 {
		c.MaxOpenSlots = DefaultMaxOpenSlots
	}
	if c.MaxFutureSlots == 0 {
		c.MaxFutureSlots = DefaultMaxFutureSlots
	}
	if c.SlotRetention <= 0 {
		c.SlotRetention = DefaultSlotRetention
	}
	if c.PendingQuorumTimeout <= 0 {
		c.PendingQuorumTimeout = DefaultPendingQuorumTimeout
	}
	if c.MaxPendingStatements <= 0 {
		c.MaxPendingStatements = DefaultMaxPendingStatements
	}
	if c.QuorumCacheSize <= 0 {
		c.QuorumCacheSize = DefaultQuorumCacheSize
	}
	if c.Combine == nil {
		c.Combine = CombineMax
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
}

// Effects are the actions the caller has to carry out after
// feeding the engine.
type Effects struct {
	// statements to broadcast, in emission order
	Statements []*Statement
	// decided values in increasing index order, each index once
	Externalized []*ExternalizeValue
	// quorum hashes the caller should fetch
	MissingQuorums []string
	// logical time ProcessTimers should be called again, zero
	// if no timer is armed
	NextWakeup time.Duration
}

// statement waiting for its quorum to be resolved
type pendingStatement struct {
	stmt  *Statement
	since time.Duration
}

// Engine routes statements to the slots, drives the slot timers
// from a logical clock and delivers the decided values in order.
// It is not safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *zap.SugaredLogger

	validator *Validator

	// local quorum, slots created afterwards use it
	quorum     *Quorum
	quorumHash string
	slotCfg    *slotConfig

	// known quorums keyed by hash
	quorums *lru.Cache

	slots *btree.BTreeG[*Slot]

	// next index to deliver
	nextIndex uint64
	// decided values waiting for earlier indices
	decided map[uint64]Value

	pending []*pendingStatement
	// missing quorum hashes already reported
	missing map[string]time.Duration

	now     time.Duration
	effects Effects
}

// NewEngine creates an engine delivering values from startIndex on.
func NewEngine(cfg Config, startIndex uint64) (*Engine, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("empty node ID")
	}
	if err := ValidateQuorum(cfg.Quorum); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	cache, err := lru.New(cfg.QuorumCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create quorum cache failed: %v", err)
	}

	e := &Engine{
		cfg:       cfg,
		logger:    cfg.Logger,
		validator: NewValidator(),
		quorums:   cache,
		slots: btree.NewG[*Slot](8, func(a, b *Slot) bool {
			return a.index < b.index
		}),
		nextIndex: startIndex,
		decided:   make(map[uint64]Value),
		missing:   make(map[string]time.Duration),
	}
	e.setQuorum(cfg.Quorum)
	return e, nil
}

// NodeID of the local node.
func (e *Engine) NodeID() string {
	return e.cfg.NodeID
}

// NextIndex returns the next index whose value will be delivered.
func (e *Engine) NextIndex() uint64 {
	return e.nextIndex
}

// QuorumHash returns the hash of the local quorum.
func (e *Engine) QuorumHash() string {
	return e.quorumHash
}

// SetQuorum replaces the local quorum, slots that already exist
// keep the quorum they were created with.
func (e *Engine) SetQuorum(q *Quorum) error {
	if err := ValidateQuorum(q); err != nil {
		return err
	}
	e.setQuorum(q)
	e.logger.Infow("local quorum updated", "hash", e.quorumHash)
	return nil
}

func (e *Engine) setQuorum(q *Quorum) {
	e.quorum = NormalizeQuorum(q)
	e.quorumHash = QuorumHash(e.quorum)
	e.quorums.Add(e.quorumHash, e.quorum)
	e.slotCfg = &slotConfig{
		nodeID:            e.cfg.NodeID,
		quorum:            e.quorum,
		quorumHash:        e.quorumHash,
		nominationTimeout: e.cfg.NominationTimeout,
		ballotTimeout:     e.cfg.BallotTimeout,
		timeoutBackoff:    e.cfg.TimeoutBackoff,
		maxTimeout:        e.cfg.MaxTimeout,
		combine:           e.cfg.Combine,
		validate:          e.cfg.Validate,
	}
}

// AddQuorum makes the quorum known to the engine and retries the
// statements waiting for it.
func (e *Engine) AddQuorum(q *Quorum) (string, error) {
	if err := ValidateQuorum(q); err != nil {
		return "", err
	}
	hash := QuorumHash(q)
	e.quorums.Add(hash, NormalizeQuorum(q))
	delete(e.missing, hash)
	e.retryPending()
	return hash, nil
}

// Quorum returns the known quorum of the hash.
func (e *Engine) Quorum(hash string) (*Quorum, bool) {
	return e.lookupQuorum(hash)
}

// Look up a quorum by hash in the local quorum, the cache
// and the resolver.
func (e *Engine) lookupQuorum(hash string) (*Quorum, bool) {
	if hash == e.quorumHash {
		return e.quorum, true
	}
	if v, ok := e.quorums.Get(hash); ok {
		return v.(*Quorum), true
	}
	if e.cfg.Resolver != nil {
		if q, ok := e.cfg.Resolver.ResolveQuorum(hash); ok {
			if err := ValidateQuorum(q); err != nil {
				e.logger.Warnw("resolved invalid quorum", "hash", hash, "err", err)
				return nil, false
			}
			if QuorumHash(q) != hash {
				e.logger.Warnw("resolved quorum hash mismatch", "hash", hash)
				return nil, false
			}
			q = NormalizeQuorum(q)
			e.quorums.Add(hash, q)
			return q, true
		}
	}
	return nil, false
}

// Resolve the quorum of the statement, inline quorums are checked
// against the quorum hash.
func (e *Engine) resolveQuorum(stmt *Statement) (*Quorum, error) {
	if stmt.Quorum != nil {
		if err := ValidateQuorum(stmt.Quorum); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedStatement, err)
		}
		hash := QuorumHash(stmt.Quorum)
		if stmt.QuorumHash != "" && stmt.QuorumHash != hash {
			return nil, fmt.Errorf("%w: quorum hash mismatch", ErrMalformedStatement)
		}
		if q, ok := e.quorums.Get(hash); ok {
			return q.(*Quorum), nil
		}
		q := NormalizeQuorum(stmt.Quorum)
		e.quorums.Add(hash, q)
		return q, nil
	}
	if q, ok := e.lookupQuorum(stmt.QuorumHash); ok {
		return q, nil
	}
	return nil, ErrUnknownQuorum
}

// Receive decodes, authenticates and processes a signed statement.
func (e *Engine) Receive(raw []byte) error {
	stmt, err := e.validator.Decode(raw)
	if err != nil {
		return err
	}
	return e.RecvStatement(stmt)
}

// RecvStatement processes an authenticated statement.
func (e *Engine) RecvStatement(stmt *Statement) error {
	if err := checkStatement(stmt); err != nil {
		return err
	}
	// own statements echoed back by peers
	if stmt.NodeID == e.cfg.NodeID {
		return nil
	}
	if _, err := e.slotFor(stmt.Index, false); err != nil {
		return err
	}

	q, err := e.resolveQuorum(stmt)
	if errors.Is(err, ErrUnknownQuorum) {
		return e.bufferStatement(stmt)
	}
	if err != nil {
		return err
	}
	return e.deliverStatement(stmt, q)
}

// Hand the statement with its resolved quorum to the slot.
func (e *Engine) deliverStatement(stmt *Statement, q *Quorum) error {
	slot, err := e.slotFor(stmt.Index, true)
	if err != nil {
		return err
	}

	resolved := *stmt
	resolved.Quorum = q
	out, err := slot.HandleStatement(&resolved, e.now)
	if errors.Is(err, ErrStaleStatement) {
		e.logger.Debugw("drop stale statement", "index", stmt.Index, "node", stmt.NodeID)
		return nil
	}
	if err != nil {
		return err
	}
	e.collect(out)
	return nil
}

// Buffer the statement until its quorum is known.
func (e *Engine) bufferStatement(stmt *Statement) error {
	if len(e.pending) >= e.cfg.MaxPendingStatements {
		return fmt.Errorf("%w: %s", ErrBufferFull, stmt.QuorumHash)
	}
	e.pending = append(e.pending, &pendingStatement{stmt: stmt, since: e.now})
	if _, ok := e.missing[stmt.QuorumHash]; !ok {
		e.missing[stmt.QuorumHash] = e.now
		e.effects.MissingQuorums = append(e.effects.MissingQuorums, stmt.QuorumHash)
	}
	e.logger.Debugw("buffer statement with unknown quorum", "index", stmt.Index, "node", stmt.NodeID, "hash", stmt.QuorumHash)
	return nil
}

// Retry the buffered statements, expired ones are dropped.
func (e *Engine) retryPending() {
	if len(e.pending) == 0 {
		return
	}
	pending := e.pending
	e.pending = nil
	for _, ps := range pending {
		q, ok := e.lookupQuorum(ps.stmt.QuorumHash)
		if !ok {
			if e.now-ps.since >= e.cfg.PendingQuorumTimeout {
				e.logger.Debugw("drop statement with unresolved quorum", "index", ps.stmt.Index, "node", ps.stmt.NodeID, "hash", ps.stmt.QuorumHash)
				continue
			}
			e.pending = append(e.pending, ps)
			continue
		}
		if err := e.deliverStatement(ps.stmt, q); err != nil {
			e.logger.Debugw("buffered statement rejected", "index", ps.stmt.Index, "node", ps.stmt.NodeID, "err", err)
		}
	}

	// forget hashes nothing waits for anymore
	waiting := make(map[string]struct{}, len(e.pending))
	for _, ps := range e.pending {
		waiting[ps.stmt.QuorumHash] = struct{}{}
	}
	for hash := range e.missing {
		if _, ok := waiting[hash]; !ok {
			delete(e.missing, hash)
		}
	}
}

// Get the slot of the index, a slot is created only for undecided
// indices inside the window.
func (e *Engine) slotFor(index uint64, create bool) (*Slot, error) {
	if slot, ok := e.slots.Get(&Slot{index: index}); ok {
		return slot, nil
	}
	if index < e.nextIndex || index > e.nextIndex+e.cfg.MaxFutureSlots {
		return nil, fmt.Errorf("%w: index %d, next index %d", ErrOutOfWindowSlot, index, e.nextIndex)
	}
	if !create {
		return nil, nil
	}
	if e.slots.Len() >= e.cfg.MaxOpenSlots && !e.evictOldest() {
		return nil, fmt.Errorf("%w: %d slots open", ErrOutOfWindowSlot, e.slots.Len())
	}
	slot := newSlot(index, e.slotCfg, e.logger)
	slot.lastActive = e.now
	// peers may start the nomination before the caller does
	if prev, ok := e.Slot(index - 1); ok {
		if v, ok := prev.ExternalizedValue(); ok {
			slot.nomination.prevValue = v
		}
	}
	e.slots.ReplaceOrInsert(slot)
	return slot, nil
}

// Evict the oldest delivered slot.
func (e *Engine) evictOldest() bool {
	oldest, ok := e.slots.Min()
	if !ok || oldest.index >= e.nextIndex {
		return false
	}
	e.slots.Delete(oldest)
	return true
}

// Nominate proposes a value for the slot.
func (e *Engine) Nominate(index uint64, value, prevValue Value) error {
	slot, err := e.slotFor(index, true)
	if err != nil {
		return err
	}
	out, err := slot.Nominate(value, prevValue, e.now)
	if err != nil {
		return err
	}
	e.collect(out)
	return nil
}

// ProcessTimers advances the logical clock and fires the expired
// slot timers, distinct slots are processed in parallel.
func (e *Engine) ProcessTimers(now time.Duration) error {
	if now > e.now {
		e.now = now
	}

	e.retryPending()

	var expired []*Slot
	e.slots.Ascend(func(slot *Slot) bool {
		if next, ok := slot.NextWakeup(); ok && next <= e.now {
			expired = append(expired, slot)
		}
		return true
	})

	outs := make([]*Output, len(expired))
	var g errgroup.Group
	for i, slot := range expired {
		i, slot := i, slot // per-iteration copy; module targets go 1.21
		g.Go(func() error {
			out, err := slot.ProcessTimers(e.now)
			if err != nil {
				return fmt.Errorf("slot %d: %w", slot.index, err)
			}
			outs[i] = out
			return nil
		})
	}
	err := g.Wait()

	// merged in index order
	for _, out := range outs {
		if out != nil {
			e.collect(out)
		}
	}
	e.evictExpired()
	return err
}

// Evict delivered slots idle for longer than the retention period.
func (e *Engine) evictExpired() {
	var stale []*Slot
	e.slots.Ascend(func(slot *Slot) bool {
		if slot.index >= e.nextIndex {
			return false
		}
		if e.now-slot.lastActive > e.cfg.SlotRetention {
			stale = append(stale, slot)
		}
		return true
	})
	for _, slot := range stale {
		e.slots.Delete(slot)
	}
}

// Merge the output of a slot into the effects.
func (e *Engine) collect(out *Output) {
	e.effects.Statements = append(e.effects.Statements, out.Statements...)
	if ext := out.Externalized; ext != nil && ext.Index >= e.nextIndex {
		e.decided[ext.Index] = ext.Value
		e.deliver()
	}
}

// Deliver the decided values in index order.
func (e *Engine) deliver() {
	for {
		v, ok := e.decided[e.nextIndex]
		if !ok {
			return
		}
		delete(e.decided, e.nextIndex)
		e.effects.Externalized = append(e.effects.Externalized, &ExternalizeValue{Index: e.nextIndex, Value: v})
		e.nextIndex++
	}
}

// AdvanceTo skips the delivery of the indices below index, the
// undecided slots below it are abandoned.
func (e *Engine) AdvanceTo(index uint64) {
	if index <= e.nextIndex {
		return
	}
	var abandoned []*Slot
	e.slots.AscendLessThan(&Slot{index: index}, func(slot *Slot) bool {
		if _, ok := slot.ExternalizedValue(); !ok {
			abandoned = append(abandoned, slot)
		}
		return true
	})
	for _, slot := range abandoned {
		e.slots.Delete(slot)
	}
	for i := range e.decided {
		if i < index {
			delete(e.decided, i)
		}
	}
	e.logger.Infow("advance slot index", "from", e.nextIndex, "to", index)
	e.nextIndex = index
	e.deliver()
}

// Drain returns and clears the accumulated effects.
func (e *Engine) Drain() Effects {
	effects := e.effects
	e.effects = Effects{}

	var next time.Duration
	e.slots.Ascend(func(slot *Slot) bool {
		if d, ok := slot.NextWakeup(); ok && (next == 0 || d < next) {
			next = d
		}
		return true
	})
	effects.NextWakeup = next
	return effects
}

// Slot returns the slot of the index if it is in memory.
func (e *Engine) Slot(index uint64) (*Slot, bool) {
	return e.slots.Get(&Slot{index: index})
}

// CatchupStatements returns the latest statement of every known
// node for the slot.
func (e *Engine) CatchupStatements(index uint64) []*Statement {
	slot, ok := e.Slot(index)
	if !ok {
		return nil
	}
	return slot.LatestStatements()
}

// PendingStatements returns the number of statements waiting
// for their quorum.
func (e *Engine) PendingStatements() int {
	return len(e.pending)
}

// OpenSlots returns the number of slots in memory.
func (e *Engine) OpenSlots() int {
	return e.slots.Len()
}
