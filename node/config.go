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
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/mfaulk/mobilecoin/consensus"
	"github.com/mfaulk/mobilecoin/crypto"
	"github.com/mfaulk/mobilecoin/ultpb"
)

type Config struct {
	// node ID (public key derived from seed)
	NodeID string
	// seed of this node
	Seed string
	// initial quorum
	Quorum *ultpb.Quorum
	// database backend
	DBBackend string
	// database file path
	DBPath string

	NominationTimeout time.Duration
	BallotTimeout     time.Duration
	TimeoutBackoff    float64
	MaxTimeout        time.Duration

	MaxOpenSlots         int
	MaxFutureSlots       uint64
	SlotRetention        time.Duration
	PendingQuorumTimeout time.Duration
	MaxPendingStatements int
	// maximum number of tx hashes in a slot value
	MaxSlotValues int

	// interval of the logical clock
	TickInterval time.Duration
	// how long received envelopes are remembered
	DedupeTTL time.Duration
	// how long a missing quorum is fetched before giving up
	FetchTimeout time.Duration

	// address of the metrics server, empty to disable
	MetricsAddr string

	LogFile string
	Debug   bool
}

// Set the defaults of the optional keys.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db_backend", "boltdb")
	v.SetDefault("db_path", "ult.db")
	v.SetDefault("nomination_timeout", consensus.DefaultNominationTimeout)
	v.SetDefault("ballot_timeout", consensus.DefaultBallotTimeout)
	v.SetDefault("timeout_backoff", consensus.DefaultTimeoutBackoff)
	v.SetDefault("max_timeout", consensus.DefaultMaxTimeout)
	v.SetDefault("max_open_slots", consensus.DefaultMaxOpenSlots)
	v.SetDefault("max_future_slots", consensus.DefaultMaxFutureSlots)
	v.SetDefault("slot_retention", consensus.DefaultSlotRetention)
	v.SetDefault("pending_quorum_timeout", consensus.DefaultPendingQuorumTimeout)
	v.SetDefault("max_pending_statements", consensus.DefaultMaxPendingStatements)
	v.SetDefault("max_slot_values", 100)
	v.SetDefault("tick_interval", 100*time.Millisecond)
	v.SetDefault("dedupe_ttl", time.Minute)
	v.SetDefault("fetch_timeout", time.Minute)
	v.SetDefault("debug", false)
}

func NewConfig(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	if v.GetString("node_id") == "" {
		return nil, errors.New("node ID is empty")
	}
	if v.GetString("seed") == "" {
		return nil, errors.New("node seed is empty")
	}
	if !v.IsSet("quorum") {
		return nil, errors.New("quorum is nil")
	}

	nodeID := v.GetString("node_id")
	seed := v.GetString("seed")
	if !crypto.IsValidNodeID(nodeID) {
		return nil, fmt.Errorf("invalid node ID %s", nodeID)
	}
	// the seed has to sign for the node ID
	sig, err := crypto.Sign(seed, []byte(nodeID))
	if err != nil {
		return nil, fmt.Errorf("invalid node seed: %v", err)
	}
	if !crypto.Verify(nodeID, sig, []byte(nodeID)) {
		return nil, errors.New("node seed does not match node ID")
	}

	var qc quorumConfig
	if err := v.UnmarshalKey("quorum", &qc); err != nil {
		return nil, fmt.Errorf("parse quorum failed: %v", err)
	}
	quorum := qc.toQuorum()
	if err := consensus.ValidateQuorum(quorum); err != nil {
		return nil, err
	}

	c := &Config{
		NodeID:               nodeID,
		Seed:                 seed,
		Quorum:               quorum,
		DBBackend:            v.GetString("db_backend"),
		DBPath:               v.GetString("db_path"),
		NominationTimeout:    v.GetDuration("nomination_timeout"),
		BallotTimeout:        v.GetDuration("ballot_timeout"),
		TimeoutBackoff:       v.GetFloat64("timeout_backoff"),
		MaxTimeout:           v.GetDuration("max_timeout"),
		MaxOpenSlots:         v.GetInt("max_open_slots"),
		MaxFutureSlots:       v.GetUint64("max_future_slots"),
		SlotRetention:        v.GetDuration("slot_retention"),
		PendingQuorumTimeout: v.GetDuration("pending_quorum_timeout"),
		MaxPendingStatements: v.GetInt("max_pending_statements"),
		MaxSlotValues:        v.GetInt("max_slot_values"),
		TickInterval:         v.GetDuration("tick_interval"),
		DedupeTTL:            v.GetDuration("dedupe_ttl"),
		FetchTimeout:         v.GetDuration("fetch_timeout"),
		MetricsAddr:          v.GetString("metrics_addr"),
		LogFile:              v.GetString("log_file"),
		Debug:                v.GetBool("debug"),
	}
	if c.TickInterval <= 0 {
		return nil, errors.New("tick interval is not positive")
	}
	if c.MaxSlotValues <= 0 {
		return nil, errors.New("max slot values is not positive")
	}
	return c, nil
}

type quorumConfig struct {
	Threshold   uint32         `mapstructure:"threshold"`
	Validators  []string       `mapstructure:"validators"`
	NestQuorums []quorumConfig `mapstructure:"nest_quorums"`
}

func (qc *quorumConfig) toQuorum() *ultpb.Quorum {
	q := &ultpb.Quorum{
		Threshold:  qc.Threshold,
		Validators: qc.Validators,
	}
	for i := range qc.NestQuorums {
		q.NestQuorums = append(q.NestQuorums, qc.NestQuorums[i].toQuorum())
	}
	return q
}

// Engine configuration of the node.
func (c *Config) engineConfig() consensus.Config {
	return consensus.Config{
		NodeID:               c.NodeID,
		Quorum:               c.Quorum,
		NominationTimeout:    c.NominationTimeout,
		BallotTimeout:        c.BallotTimeout,
		TimeoutBackoff:       c.TimeoutBackoff,
		MaxTimeout:           c.MaxTimeout,
		MaxOpenSlots:         c.MaxOpenSlots,
		MaxFutureSlots:       c.MaxFutureSlots,
		SlotRetention:        c.SlotRetention,
		PendingQuorumTimeout: c.PendingQuorumTimeout,
		MaxPendingStatements: c.MaxPendingStatements,
		Combine:              combineTxSets(c.MaxSlotValues),
		Validate:             validateTxSet(c.MaxSlotValues),
	}
}
