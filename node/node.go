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

package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/wunderlist/ttlcache"
	"go.uber.org/zap"

	"github.com/mfaulk/mobilecoin/consensus"
	"github.com/mfaulk/mobilecoin/crypto"
	"github.com/mfaulk/mobilecoin/db"
	"github.com/mfaulk/mobilecoin/future"
	"github.com/mfaulk/mobilecoin/ledger"
	"github.com/mfaulk/mobilecoin/log"
	"github.com/mfaulk/mobilecoin/metrics"
	"github.com/mfaulk/mobilecoin/ultpb"

	// database backends selected by config
	_ "github.com/mfaulk/mobilecoin/db/badgerdb"
	_ "github.com/mfaulk/mobilecoin/db/boltdb"
	_ "github.com/mfaulk/mobilecoin/db/memdb"
)

const quorumBucket = "QUORUM"

var (
	ErrNodeStopped    = errors.New("node stopped")
	ErrQuorumNotFound = errors.New("quorum not found")
)

// Transport broadcasts signed statements to the peers.
type Transport interface {
	Broadcast(ctx context.Context, raw []byte) error
}

// QuorumFetcher asks the peers for the quorum of the hash.
type QuorumFetcher interface {
	FetchQuorum(ctx context.Context, hash string) (*ultpb.Quorum, error)
}

type fetchResult struct {
	hash   string
	quorum *ultpb.Quorum
	err    error
}

// Node is the central controller owning the consensus engine,
// all the engine calls happen in the event loop.
type Node struct {
	config   *Config
	logger   *zap.SugaredLogger
	database db.Database

	lm        *ledger.Manager
	engine    *consensus.Engine
	transport Transport
	fetcher   QuorumFetcher

	// hashes of the envelopes already processed
	seen *ttlcache.Cache

	// logical clock advanced by the ticker
	ticks uint64
	now   time.Duration
	// logical time of the first local nomination of a slot
	nominatedAt map[uint64]time.Duration
	// quorum hashes being fetched
	fetching map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	// channel for stopping all the subroutines
	stopChan chan struct{}

	// futures for task with error responses
	stmtFuture     chan *future.Statement
	nominateFuture chan *future.Nominate
	quorumFuture   chan *future.Quorum
	catchupFuture  chan *future.Catchup
	localFuture    chan *future.LocalQuorum
	advanceFuture  chan *future.Advance
	fetchDone      chan *fetchResult
}

// NewNode opens the database and resumes the engine after
// the last closed ledger.
func NewNode(conf *Config, transport Transport, fetcher QuorumFetcher) (*Node, error) {
	if transport == nil {
		return nil, errors.New("transport is nil")
	}

	database, err := db.Open(conf.DBBackend, conf.DBPath)
	if err != nil {
		return nil, err
	}
	if err := database.NewBucket(quorumBucket); err != nil {
		database.Close()
		return nil, fmt.Errorf("create quorum bucket failed: %v", err)
	}

	lm, err := ledger.NewManager(database, log.Named("ledger"))
	if err != nil {
		database.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:         conf,
		logger:         log.Named("node"),
		database:       database,
		lm:             lm,
		transport:      transport,
		fetcher:        fetcher,
		seen:           ttlcache.NewCache(conf.DedupeTTL),
		nominatedAt:    make(map[uint64]time.Duration),
		fetching:       make(map[string]struct{}),
		ctx:            ctx,
		cancel:         cancel,
		stopChan:       make(chan struct{}),
		stmtFuture:     make(chan *future.Statement),
		nominateFuture: make(chan *future.Nominate),
		quorumFuture:   make(chan *future.Quorum),
		catchupFuture:  make(chan *future.Catchup),
		localFuture:    make(chan *future.LocalQuorum),
		advanceFuture:  make(chan *future.Advance),
		fetchDone:      make(chan *fetchResult),
	}

	engineCfg := conf.engineConfig()
	engineCfg.Resolver = n
	engineCfg.Logger = log.Named("consensus")
	engine, err := consensus.NewEngine(engineCfg, lm.LastClosed()+1)
	if err != nil {
		n.close()
		return nil, err
	}
	n.engine = engine

	n.logger.Infow("node created", "nodeID", conf.NodeID, "quorum", engine.QuorumHash(), "nextIndex", engine.NextIndex())
	return n, nil
}

// Start runs the event loop in the background.
func (n *Node) Start() {
	n.startOnce.Do(func() {
		n.wg.Add(1)
		go n.eventLoop()
	})
}

// Stop signals all the goroutines to stop and closes the database.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopChan)
		n.cancel()
		n.wg.Wait()
		n.close()
		n.logger.Info("node stopped")
	})
}

func (n *Node) close() {
	n.cancel()
	if err := n.database.Close(); err != nil {
		n.logger.Warnw("close database failed", "err", err)
	}
}

// RecvStatement hands the signed statement bytes received from a
// peer to the engine.
func (n *Node) RecvStatement(raw []byte) error {
	sf := &future.Statement{Raw: raw}
	sf.Init()
	select {
	case n.stmtFuture <- sf:
	case <-n.stopChan:
		return ErrNodeStopped
	}
	return sf.Error()
}

// Nominate proposes the tx hashes for the next undecided slot
// and returns its index.
func (n *Node) Nominate(txHashes []string) (uint64, error) {
	nf := &future.Nominate{Value: NewConsensusValue(txHashes, n.config.MaxSlotValues)}
	nf.Init()
	select {
	case n.nominateFuture <- nf:
	case <-n.stopChan:
		return 0, ErrNodeStopped
	}
	if err := nf.Error(); err != nil {
		return 0, err
	}
	return nf.Index, nil
}

// GetQuorum returns the quorum of the hash if it is known.
func (n *Node) GetQuorum(hash string) (*ultpb.Quorum, error) {
	qf := &future.Quorum{QuorumHash: hash}
	qf.Init()
	select {
	case n.quorumFuture <- qf:
	case <-n.stopChan:
		return nil, ErrNodeStopped
	}
	if err := qf.Error(); err != nil {
		return nil, err
	}
	return qf.Quorum, nil
}

// AddQuorum saves a quorum received out of band.
func (n *Node) AddQuorum(q *ultpb.Quorum) error {
	qf := &future.Quorum{Quorum: q}
	qf.Init()
	select {
	case n.quorumFuture <- qf:
	case <-n.stopChan:
		return ErrNodeStopped
	}
	return qf.Error()
}

// Catchup returns the latest statements of the slot.
func (n *Node) Catchup(index uint64) ([]*ultpb.Statement, error) {
	cf := &future.Catchup{Index: index}
	cf.Init()
	select {
	case n.catchupFuture <- cf:
	case <-n.stopChan:
		return nil, ErrNodeStopped
	}
	if err := cf.Error(); err != nil {
		return nil, err
	}
	return cf.Statements, nil
}

// SetQuorum replaces the local quorum between slots, the slots
// already open keep the quorum they started with.
func (n *Node) SetQuorum(q *ultpb.Quorum) error {
	lf := &future.LocalQuorum{Quorum: q}
	lf.Init()
	select {
	case n.localFuture <- lf:
	case <-n.stopChan:
		return ErrNodeStopped
	}
	return lf.Error()
}

// Advance closes the values downloaded from peers from the index
// on and moves the engine past them.
func (n *Node) Advance(index uint64, values []string) error {
	af := &future.Advance{Index: index, Values: values}
	af.Init()
	select {
	case n.advanceFuture <- af:
	case <-n.stopChan:
		return ErrNodeStopped
	}
	return af.Error()
}

// LastClosed returns the index of the last persisted value.
func (n *Node) LastClosed() uint64 {
	return n.lm.LastClosed()
}

// Event loop for processing messages from peers and internal queries.
func (n *Node) eventLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case sf := <-n.stmtFuture:
			err := n.handleStatement(sf.Raw)
			if err != nil {
				n.logger.Debugw("recv statement failed", "err", err)
			}
			sf.Respond(err)
		case nf := <-n.nominateFuture:
			err := n.handleNominate(nf)
			if err != nil {
				n.logger.Errorw("nominate value failed", "err", err)
			}
			nf.Respond(err)
		case qf := <-n.quorumFuture:
			qf.Respond(n.handleQuorum(qf))
		case cf := <-n.catchupFuture:
			cf.Statements = n.engine.CatchupStatements(cf.Index)
			cf.Respond(nil)
		case lf := <-n.localFuture:
			lf.Respond(n.handleLocalQuorum(lf.Quorum))
		case af := <-n.advanceFuture:
			err := n.handleAdvance(af)
			if err != nil {
				n.logger.Warnw("advance ledger failed", "index", af.Index, "err", err)
			}
			af.Respond(err)
		case res := <-n.fetchDone:
			n.handleFetched(res)
		case <-ticker.C:
			n.handleTick()
		case <-n.stopChan:
			n.logger.Info("shutdown event loop")
			return
		}
	}
}

func (n *Node) handleStatement(raw []byte) error {
	key := crypto.SHA256Hash(raw)
	if _, ok := n.seen.Get(key); ok {
		metrics.StatementsReceived.WithLabelValues("duplicate").Inc()
		return nil
	}

	err := n.engine.Receive(raw)
	n.flush()
	if err != nil {
		metrics.StatementsReceived.WithLabelValues("rejected").Inc()
		return err
	}
	n.seen.Set(key, struct{}{})
	metrics.StatementsReceived.WithLabelValues("accepted").Inc()
	return nil
}

func (n *Node) handleNominate(nf *future.Nominate) error {
	index := nf.Index
	if index == 0 {
		index = n.engine.NextIndex()
	}
	prev := nf.PrevValue
	if prev == "" && index > 1 && index-1 <= n.lm.LastClosed() {
		v, err := n.lm.GetValue(index - 1)
		if err != nil {
			return err
		}
		prev = v
	}

	value := consensus.Value(ultpb.EncodeConsensusValue(nf.Value))
	err := n.engine.Nominate(index, value, prev)
	if err == nil {
		if _, ok := n.nominatedAt[index]; !ok {
			n.nominatedAt[index] = n.now
		}
		nf.Index = index
	}
	n.flush()
	return err
}

func (n *Node) handleQuorum(qf *future.Quorum) error {
	if qf.Quorum != nil {
		return n.saveQuorum(qf.Quorum)
	}
	q, ok := n.engine.Quorum(qf.QuorumHash)
	if !ok {
		return fmt.Errorf("%w: %s", ErrQuorumNotFound, qf.QuorumHash)
	}
	qf.Quorum = q
	return nil
}

func (n *Node) handleFetched(res *fetchResult) {
	delete(n.fetching, res.hash)
	if res.err != nil {
		metrics.QuorumFetches.WithLabelValues("failure").Inc()
		n.logger.Warnw("fetch quorum failed", "hash", res.hash, "err", res.err)
		return
	}
	metrics.QuorumFetches.WithLabelValues("success").Inc()
	if err := n.saveQuorum(res.quorum); err != nil {
		n.logger.Warnw("save fetched quorum failed", "hash", res.hash, "err", err)
	}
}

// Persist the quorum and retry the statements waiting for it.
func (n *Node) saveQuorum(q *ultpb.Quorum) error {
	hash, err := n.engine.AddQuorum(q)
	if err != nil {
		return err
	}
	if err := n.database.Put(quorumBucket, []byte(hash), ultpb.EncodeQuorum(q)); err != nil {
		return fmt.Errorf("save quorum failed: %v", err)
	}
	n.flush()
	return nil
}

func (n *Node) handleLocalQuorum(q *ultpb.Quorum) error {
	if err := n.engine.SetQuorum(q); err != nil {
		return err
	}
	hash := n.engine.QuorumHash()
	if err := n.database.Put(quorumBucket, []byte(hash), ultpb.EncodeQuorum(q)); err != nil {
		return fmt.Errorf("save quorum failed: %v", err)
	}
	n.config.Quorum = q
	n.logger.Infow("local quorum replaced", "hash", hash)
	return nil
}

// Close the downloaded values in order, the engine skips the
// slots closed that way.
func (n *Node) handleAdvance(af *future.Advance) error {
	validate := validateTxSet(n.config.MaxSlotValues)
	var err error
	for i, v := range af.Values {
		index := af.Index + uint64(i)
		if err = validate(v); err != nil {
			err = fmt.Errorf("value of index %d: %w", index, err)
			break
		}
		if err = n.lm.Close(&ledger.CloseInfo{Index: index, Value: v}); err != nil {
			break
		}
	}

	if next := n.lm.LastClosed() + 1; next > n.engine.NextIndex() {
		n.engine.AdvanceTo(next)
		metrics.ExternalizedIndex.Set(float64(next - 1))
		for index := range n.nominatedAt {
			if index < next {
				delete(n.nominatedAt, index)
			}
		}
	}
	n.flush()
	return err
}

// ResolveQuorum looks up the quorums saved by previous fetches.
func (n *Node) ResolveQuorum(hash string) (*ultpb.Quorum, bool) {
	b, err := n.database.Get(quorumBucket, []byte(hash))
	if err != nil {
		return nil, false
	}
	q, err := ultpb.DecodeQuorum(b)
	if err != nil {
		n.logger.Warnw("decode saved quorum failed", "hash", hash, "err", err)
		return nil, false
	}
	return q, true
}

func (n *Node) handleTick() {
	n.ticks++
	n.now = time.Duration(n.ticks) * n.config.TickInterval
	if err := n.engine.ProcessTimers(n.now); err != nil {
		n.logger.Errorw("process timers failed", "err", err)
	}
	n.flush()
}

// Carry out the effects accumulated by the engine.
func (n *Node) flush() {
	effects := n.engine.Drain()

	for _, stmt := range effects.Statements {
		raw, err := consensus.SignStatement(n.config.Seed, stmt)
		if err != nil {
			n.logger.Errorw("sign statement failed", "index", stmt.Index, "err", err)
			continue
		}
		// peers echo our own statements back
		n.seen.Set(crypto.SHA256Hash(raw), struct{}{})
		metrics.StatementsEmitted.WithLabelValues(stmt.StatementType().String()).Inc()
		if err := n.transport.Broadcast(n.ctx, raw); err != nil {
			n.logger.Warnw("broadcast statement failed", "index", stmt.Index, "err", err)
		}
	}

	for _, ext := range effects.Externalized {
		if err := n.lm.Close(&ledger.CloseInfo{Index: ext.Index, Value: ext.Value}); err != nil {
			n.logger.Errorw("close ledger failed", "index", ext.Index, "err", err)
			continue
		}
		metrics.ExternalizedIndex.Set(float64(ext.Index))
		if at, ok := n.nominatedAt[ext.Index]; ok {
			metrics.SlotDuration.Observe((n.now - at).Seconds())
		}
		for index := range n.nominatedAt {
			if index <= ext.Index {
				delete(n.nominatedAt, index)
			}
		}
	}

	for _, hash := range effects.MissingQuorums {
		n.fetchQuorum(hash)
	}

	metrics.OpenSlots.Set(float64(n.engine.OpenSlots()))
	metrics.PendingStatements.Set(float64(n.engine.PendingStatements()))
}

// Fetch the quorum in the background with exponential backoff,
// the result is handed back to the event loop.
func (n *Node) fetchQuorum(hash string) {
	if n.fetcher == nil {
		return
	}
	if _, ok := n.fetching[hash]; ok {
		return
	}
	n.fetching[hash] = struct{}{}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		res := n.doFetch(hash)
		select {
		case n.fetchDone <- res:
		case <-n.ctx.Done():
		}
	}()
}

func (n *Node) doFetch(hash string) *fetchResult {
	var quorum *ultpb.Quorum
	op := func() error {
		q, err := n.fetcher.FetchQuorum(n.ctx, hash)
		if err != nil {
			return err
		}
		if err := consensus.ValidateQuorum(q); err != nil {
			return backoff.Permanent(err)
		}
		if consensus.QuorumHash(q) != hash {
			return backoff.Permanent(fmt.Errorf("quorum hash mismatch: %s", hash))
		}
		quorum = q
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = n.config.FetchTimeout
	err := backoff.Retry(op, backoff.WithContext(b, n.ctx))
	return &fetchResult{hash: hash, quorum: quorum, err: err}
}
