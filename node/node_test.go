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
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfaulk/mobilecoin/consensus"
	"github.com/mfaulk/mobilecoin/crypto"
	"github.com/mfaulk/mobilecoin/future"
	"github.com/mfaulk/mobilecoin/ledger"
	"github.com/mfaulk/mobilecoin/metrics"
	"github.com/mfaulk/mobilecoin/ultpb"
)

type keypair struct {
	nodeID string
	seed   string
}

func newKeypairs(t *testing.T, n int) []keypair {
	var kps []keypair
	for i := 0; i < n; i++ {
		nodeID, seed, err := crypto.GetNodeKeypair()
		require.NoError(t, err)
		kps = append(kps, keypair{nodeID: nodeID, seed: seed})
	}
	return kps
}

func newTestConfig(kp keypair, quorum *ultpb.Quorum) *Config {
	return &Config{
		NodeID:            kp.nodeID,
		Seed:              kp.seed,
		Quorum:            quorum,
		DBBackend:         "memdb",
		NominationTimeout: time.Second,
		BallotTimeout:     time.Second,
		TimeoutBackoff:    2,
		MaxTimeout:        time.Minute,
		SlotRetention:     time.Hour,
		MaxSlotValues:     10,
		TickInterval:      time.Second,
		DedupeTTL:         time.Minute,
		FetchTimeout:      time.Second,
	}
}

type envelope struct {
	from string
	raw  []byte
}

// testNetwork delivers the broadcast envelopes in FIFO order and
// ticks every node once the network is idle.
type testNetwork struct {
	t     *testing.T
	ids   []string
	nodes map[string]*Node
	queue []envelope
}

type queueTransport struct {
	from string
	net  *testNetwork
}

func (qt *queueTransport) Broadcast(_ context.Context, raw []byte) error {
	qt.net.queue = append(qt.net.queue, envelope{from: qt.from, raw: raw})
	return nil
}

func newTestNetwork(t *testing.T, size int) *testNetwork {
	kps := newKeypairs(t, size)
	quorum := &ultpb.Quorum{Threshold: uint32(size - 1)}
	for _, kp := range kps {
		quorum.Validators = append(quorum.Validators, kp.nodeID)
	}

	net := &testNetwork{t: t, nodes: make(map[string]*Node)}
	for _, kp := range kps {
		n, err := NewNode(newTestConfig(kp, quorum), &queueTransport{from: kp.nodeID, net: net}, nil)
		require.NoError(t, err)
		t.Cleanup(n.Stop)
		net.ids = append(net.ids, kp.nodeID)
		net.nodes[kp.nodeID] = n
	}
	return net
}

func (net *testNetwork) nominate(id string, txHashes ...string) uint64 {
	nf := &future.Nominate{Value: NewConsensusValue(txHashes, 10)}
	require.NoError(net.t, net.nodes[id].handleNominate(nf))
	return nf.Index
}

// Run until every node closed the index, at most maxTicks
// clock advances are made.
func (net *testNetwork) run(index uint64, maxTicks int) {
	for ticks := 0; ; ticks++ {
		for len(net.queue) > 0 {
			env := net.queue[0]
			net.queue = net.queue[1:]
			for _, id := range net.ids {
				if id != env.from {
					require.NoError(net.t, net.nodes[id].handleStatement(env.raw))
				}
			}
		}

		done := true
		for _, n := range net.nodes {
			if n.LastClosed() < index {
				done = false
			}
		}
		if done {
			return
		}
		require.Less(net.t, ticks, maxTicks, "index %d not closed", index)
		for _, id := range net.ids {
			net.nodes[id].handleTick()
		}
	}
}

func (net *testNetwork) requireAgreement(index uint64) *ultpb.ConsensusValue {
	var agreed *ultpb.ConsensusValue
	for _, id := range net.ids {
		cv, err := net.nodes[id].lm.GetConsensusValue(index)
		require.NoError(net.t, err)
		if agreed == nil {
			agreed = cv
		}
		require.Equal(net.t, agreed, cv, "node %s", id)
	}
	return agreed
}

func TestNodeConsensus(t *testing.T) {
	net := newTestNetwork(t, 4)
	txs := [][]string{{"tx1", "tx2"}, {"tx2", "tx3"}, {"tx1"}, {"tx4"}}
	for i, id := range net.ids {
		assert.Equal(t, uint64(1), net.nominate(id, txs[i]...))
	}
	net.run(1, 200)

	cv := net.requireAgreement(1)
	require.NotEmpty(t, cv.TxHashList)
	for _, h := range cv.TxHashList {
		assert.Contains(t, []string{"tx1", "tx2", "tx3", "tx4"}, h)
	}

	// the next slot builds on the closed one
	for _, id := range net.ids {
		assert.Equal(t, uint64(2), net.nominate(id, "tx5"))
	}
	net.run(2, 200)
	assert.Equal(t, []string{"tx5"}, net.requireAgreement(2).TxHashList)

	for _, n := range net.nodes {
		assert.Equal(t, uint64(3), n.engine.NextIndex())
		assert.Empty(t, n.nominatedAt)
	}
}

func TestNodeSingleProposer(t *testing.T) {
	net := newTestNetwork(t, 4)
	// the other nodes have nothing to propose
	assert.Equal(t, uint64(1), net.nominate(net.ids[0], "tx1"))
	net.run(1, 2000)

	assert.Equal(t, []string{"tx1"}, net.requireAgreement(1).TxHashList)
}

func TestNodeNominateInvalid(t *testing.T) {
	net := newTestNetwork(t, 1)
	n := net.nodes[net.ids[0]]

	err := n.handleNominate(&future.Nominate{Value: NewConsensusValue(nil, 10)})
	assert.Error(t, err)
	assert.Empty(t, net.queue)
}

func signedStatement(t *testing.T, kp keypair, stmt *ultpb.Statement) []byte {
	stmt.NodeID = kp.nodeID
	raw, err := consensus.SignStatement(kp.seed, stmt)
	require.NoError(t, err)
	return raw
}

func TestNodeDedupe(t *testing.T) {
	net := newTestNetwork(t, 4)
	n := net.nodes[net.ids[0]]
	quorum, ok := n.engine.Quorum(n.engine.QuorumHash())
	require.True(t, ok)

	peer := newKeypairs(t, 1)[0]
	raw := signedStatement(t, peer, &ultpb.Statement{
		Index:      1,
		QuorumHash: n.engine.QuorumHash(),
		Quorum:     quorum,
		Pledge:     &ultpb.Nominate{VoteList: []string{string(encodeTxSet("tx1"))}},
	})

	accepted := testutil.ToFloat64(metrics.StatementsReceived.WithLabelValues("accepted"))
	duplicate := testutil.ToFloat64(metrics.StatementsReceived.WithLabelValues("duplicate"))

	require.NoError(t, n.handleStatement(raw))
	require.NoError(t, n.handleStatement(raw))
	assert.Equal(t, accepted+1, testutil.ToFloat64(metrics.StatementsReceived.WithLabelValues("accepted")))
	assert.Equal(t, duplicate+1, testutil.ToFloat64(metrics.StatementsReceived.WithLabelValues("duplicate")))

	// tampered envelopes are rejected
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xff
	assert.Error(t, n.handleStatement(tampered))
}

type mockFetcher struct {
	quorum *ultpb.Quorum
	calls  int
}

func (f *mockFetcher) FetchQuorum(_ context.Context, _ string) (*ultpb.Quorum, error) {
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("peer unavailable")
	}
	return f.quorum, nil
}

func waitFetched(t *testing.T, n *Node) *fetchResult {
	select {
	case res := <-n.fetchDone:
		return res
	case <-time.After(10 * time.Second):
		require.FailNow(t, "quorum fetch did not finish")
	}
	return nil
}

func TestNodeFetchQuorum(t *testing.T) {
	kps := newKeypairs(t, 2)
	local := &ultpb.Quorum{Threshold: 1, Validators: []string{kps[0].nodeID, kps[1].nodeID}}
	remote := &ultpb.Quorum{Threshold: 1, Validators: []string{kps[1].nodeID}}
	hash := consensus.QuorumHash(remote)

	fetcher := &mockFetcher{quorum: remote}
	conf := newTestConfig(kps[0], local)
	conf.FetchTimeout = 10 * time.Second
	n, err := NewNode(conf, &queueTransport{net: &testNetwork{}}, fetcher)
	require.NoError(t, err)
	defer n.Stop()

	raw := signedStatement(t, kps[1], &ultpb.Statement{
		Index:      1,
		QuorumHash: hash,
		Pledge:     &ultpb.Nominate{VoteList: []string{string(encodeTxSet("tx1"))}},
	})
	require.NoError(t, n.handleStatement(raw))
	assert.Equal(t, 1, n.engine.PendingStatements())
	assert.Contains(t, n.fetching, hash)

	// the first attempt fails and is retried
	res := waitFetched(t, n)
	require.NoError(t, res.err)
	assert.Equal(t, 2, fetcher.calls)
	n.handleFetched(res)

	assert.Empty(t, n.fetching)
	assert.Equal(t, 0, n.engine.PendingStatements())
	q, ok := n.ResolveQuorum(hash)
	require.True(t, ok)
	assert.Equal(t, remote, q)

	qf := &future.Quorum{QuorumHash: hash}
	require.NoError(t, n.handleQuorum(qf))
	assert.Equal(t, hash, consensus.QuorumHash(qf.Quorum))
	assert.ErrorIs(t, n.handleQuorum(&future.Quorum{QuorumHash: "unknown"}), ErrQuorumNotFound)
}

func TestNodeFetchQuorumMismatch(t *testing.T) {
	kps := newKeypairs(t, 2)
	local := &ultpb.Quorum{Threshold: 1, Validators: []string{kps[0].nodeID}}
	remote := &ultpb.Quorum{Threshold: 1, Validators: []string{kps[1].nodeID}}

	// the fetcher answers with a quorum of another hash
	fetcher := &mockFetcher{quorum: local, calls: 1}
	n, err := NewNode(newTestConfig(kps[0], local), &queueTransport{net: &testNetwork{}}, fetcher)
	require.NoError(t, err)
	defer n.Stop()

	raw := signedStatement(t, kps[1], &ultpb.Statement{
		Index:      1,
		QuorumHash: consensus.QuorumHash(remote),
		Pledge:     &ultpb.Nominate{VoteList: []string{string(encodeTxSet("tx1"))}},
	})
	require.NoError(t, n.handleStatement(raw))

	res := waitFetched(t, n)
	assert.Error(t, res.err)
	n.handleFetched(res)
	assert.Empty(t, n.fetching)
	assert.Equal(t, 1, n.engine.PendingStatements())
}

func TestNodeResume(t *testing.T) {
	kp := newKeypairs(t, 1)[0]
	quorum := &ultpb.Quorum{Threshold: 1, Validators: []string{kp.nodeID}}
	conf := newTestConfig(kp, quorum)
	conf.DBBackend = "boltdb"
	conf.DBPath = filepath.Join(t.TempDir(), "node.db")

	n, err := NewNode(conf, &queueTransport{net: &testNetwork{}}, nil)
	require.NoError(t, err)
	require.NoError(t, n.lm.Close(&ledger.CloseInfo{Index: 1, Value: string(encodeTxSet("tx1"))}))
	n.Stop()

	n, err = NewNode(conf, &queueTransport{net: &testNetwork{}}, nil)
	require.NoError(t, err)
	defer n.Stop()
	assert.Equal(t, uint64(1), n.LastClosed())
	assert.Equal(t, uint64(2), n.engine.NextIndex())
}

func TestNodeSetQuorum(t *testing.T) {
	net := newTestNetwork(t, 4)
	n := net.nodes[net.ids[0]]
	old := n.engine.QuorumHash()
	net.nominate(net.ids[0], "tx1")

	assert.ErrorIs(t, n.handleLocalQuorum(&ultpb.Quorum{}), consensus.ErrInvalidQuorum)
	assert.Equal(t, old, n.engine.QuorumHash())

	q := &ultpb.Quorum{Threshold: 2, Validators: net.ids[:3]}
	hash := consensus.QuorumHash(q)
	require.NoError(t, n.handleLocalQuorum(q))
	assert.Equal(t, hash, n.engine.QuorumHash())
	resolved, ok := n.ResolveQuorum(hash)
	require.True(t, ok)
	assert.Equal(t, q, resolved)

	localStatement := func(index uint64) *ultpb.Statement {
		for _, stmt := range n.engine.CatchupStatements(index) {
			if stmt.NodeID == n.config.NodeID {
				return stmt
			}
		}
		return nil
	}

	// the open slot keeps its quorum, the next one uses the new quorum
	stmt := localStatement(1)
	require.NotNil(t, stmt)
	assert.Equal(t, old, stmt.QuorumHash)
	require.NoError(t, n.handleNominate(&future.Nominate{Index: 2, Value: NewConsensusValue([]string{"tx2"}, 10)}))
	stmt = localStatement(2)
	require.NotNil(t, stmt)
	assert.Equal(t, hash, stmt.QuorumHash)
}

func TestNodeAdvance(t *testing.T) {
	net := newTestNetwork(t, 4)
	n := net.nodes[net.ids[0]]
	net.nominate(net.ids[0], "tx9")
	require.Contains(t, n.nominatedAt, uint64(1))

	values := []string{encodeTxSet("tx1"), encodeTxSet("tx2")}
	require.NoError(t, n.handleAdvance(&future.Advance{Index: 1, Values: values}))
	assert.Equal(t, uint64(2), n.LastClosed())
	assert.Equal(t, uint64(3), n.engine.NextIndex())
	v, err := n.lm.GetValue(2)
	require.NoError(t, err)
	assert.Equal(t, values[1], v)
	// the undecided slot is abandoned
	_, ok := n.engine.Slot(1)
	assert.False(t, ok)
	assert.Empty(t, n.nominatedAt)

	// the valid prefix is closed
	err = n.handleAdvance(&future.Advance{Index: 3, Values: []string{encodeTxSet("tx3"), encodeTxSet("b", "a")}})
	assert.ErrorIs(t, err, ErrInvalidTxSet)
	assert.Equal(t, uint64(3), n.LastClosed())
	assert.Equal(t, uint64(4), n.engine.NextIndex())

	// values have to follow the last closed one
	err = n.handleAdvance(&future.Advance{Index: 9, Values: values})
	assert.ErrorIs(t, err, ledger.ErrNonContiguous)
	assert.Equal(t, uint64(4), n.engine.NextIndex())
}

func TestNodeEventLoop(t *testing.T) {
	net := newTestNetwork(t, 4)
	n := net.nodes[net.ids[0]]
	hash := n.engine.QuorumHash()
	n.Start()

	err := n.RecvStatement([]byte{0xff})
	assert.ErrorIs(t, err, consensus.ErrMalformedStatement)

	q, err := n.GetQuorum(hash)
	require.NoError(t, err)
	assert.Len(t, q.Validators, 4)

	index, err := n.Nominate([]string{"tx1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), index)

	stmts, err := n.Catchup(1)
	require.NoError(t, err)
	assert.NotEmpty(t, stmts)

	require.NoError(t, n.SetQuorum(&ultpb.Quorum{Threshold: 1, Validators: net.ids[:1]}))
	require.NoError(t, n.Advance(1, []string{encodeTxSet("tx1")}))
	assert.Equal(t, uint64(1), n.LastClosed())

	n.Stop()
	assert.ErrorIs(t, n.Advance(2, nil), ErrNodeStopped)
	assert.ErrorIs(t, n.RecvStatement([]byte{0xff}), ErrNodeStopped)
	_, err = n.Nominate([]string{"tx1"})
	assert.ErrorIs(t, err, ErrNodeStopped)
}
