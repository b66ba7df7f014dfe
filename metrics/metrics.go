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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StatementsReceived counts the inbound statements by result
	StatementsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ult_consensus_statements_received_total",
		Help: "Number of received statements by result (accepted, duplicate, rejected)",
	}, []string{"result"})

	// StatementsEmitted counts the statements broadcast by the local node
	StatementsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ult_consensus_statements_emitted_total",
		Help: "Number of statements emitted by the local node by type",
	}, []string{"type"})

	// ExternalizedIndex is the last slot index handed to the ledger
	ExternalizedIndex = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ult_consensus_externalized_index",
		Help: "Index of the last externalized slot",
	})

	// OpenSlots is the number of slots kept in memory
	OpenSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ult_consensus_open_slots",
		Help: "Number of slots kept by the engine",
	})

	// PendingStatements is the number of statements waiting for quorums
	PendingStatements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ult_consensus_pending_statements",
		Help: "Number of statements buffered for unknown quorums",
	})

	// QuorumFetches counts the quorum fetches by result
	QuorumFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ult_consensus_quorum_fetches_total",
		Help: "Number of quorum fetches by result (success, failure)",
	}, []string{"result"})

	// SlotDuration is the logical time from the first nomination
	// of a slot to its externalization
	SlotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ult_consensus_slot_seconds",
		Help:    "Time taken to externalize a slot in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
