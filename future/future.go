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

// Package future defines some futures as messages
// to communicate between the transport and node.
package future

import (
	"github.com/mfaulk/mobilecoin/ultpb"
)

type Future interface {
	Error() error
}

// Allow a future to respond an error in the future
type deferError struct {
	err       error
	errChan   chan error
	responded bool
}

// Every future should call this method to initialize
// underlying error channel
func (d *deferError) Init() {
	d.errChan = make(chan error, 1)
}

// Each future should respond error once and multiple
// calling with different error on the same future will
// have no effects.
func (d *deferError) Respond(err error) {
	if d.errChan == nil || d.responded {
		return
	}
	d.errChan <- err
	close(d.errChan)
	d.responded = true
}

// Error always return the first responded error
func (d *deferError) Error() error {
	if d.err != nil {
		return d.err
	}
	if d.errChan == nil {
		panic("waiting for response on nil channel")
	}
	d.err = <-d.errChan
	return d.err
}

// Future for node to add signed statement bytes to consensus engine
type Statement struct {
	deferError
	Raw []byte
}

// Future for node to nominate a local value for a slot
type Nominate struct {
	deferError
	Index     uint64
	Value     *ultpb.ConsensusValue
	PrevValue string
}

// Future for node to query a known quorum, or to add a
// fetched one when Quorum is set.
type Quorum struct {
	deferError
	QuorumHash string
	Quorum     *ultpb.Quorum
}

// Future for node to query the statements a lagging peer
// needs to catch up with a slot
type Catchup struct {
	deferError
	Index      uint64
	Statements []*ultpb.Statement
}

// Future for node to replace the local quorum, slots opened
// afterwards use the new one
type LocalQuorum struct {
	deferError
	Quorum *ultpb.Quorum
}

// Future for node to close the values downloaded from peers,
// Values[i] is the value of slot Index+i
type Advance struct {
	deferError
	Index  uint64
	Values []string
}
