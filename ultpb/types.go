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

// Package ultpb defines the consensus wire types and their
// deterministic binary encoding.
package ultpb

import "fmt"

// StatementVersion is the only envelope version this node speaks.
const StatementVersion uint32 = 1

type StatementType int32

// Statement types are ordered, later phases compare greater.
const (
	StatementType_NOMINATE StatementType = iota
	StatementType_PREPARE
	StatementType_CONFIRM
	StatementType_EXTERNALIZE
)

var statementTypeNames = map[StatementType]string{
	StatementType_NOMINATE:    "NOMINATE",
	StatementType_PREPARE:     "PREPARE",
	StatementType_CONFIRM:     "CONFIRM",
	StatementType_EXTERNALIZE: "EXTERNALIZE",
}

func (t StatementType) String() string {
	if name, ok := statementTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(t))
}

// Quorum is a k-of-n threshold tree over validators and nested quorums.
type Quorum struct {
	Threshold   uint32
	Validators  []string
	NestQuorums []*Quorum
}

// Size returns the number of direct members of the quorum.
func (q *Quorum) Size() int {
	if q == nil {
		return 0
	}
	return len(q.Validators) + len(q.NestQuorums)
}

// Ballot is a (counter, value) pair.
type Ballot struct {
	Counter uint32
	Value   string
}

func (b *Ballot) String() string {
	if b == nil {
		return "<nil>"
	}
	return fmt.Sprintf("(%d,%s)", b.Counter, b.Value)
}

// Pledge is the phase specific payload of a statement, it is
// implemented by *Nominate, *Prepare, *Confirm and *Externalize.
type Pledge interface {
	Type() StatementType
	isPledge()
}

// Nominate carries the voted and accepted nomination values.
type Nominate struct {
	VoteList   []string
	AcceptList []string
}

// Prepare is the pledge of a node in the PREPARE phase. P and Q
// are the two highest accepted prepared ballots (Q < P and
// incompatible), NC and NH bound the commit interval.
type Prepare struct {
	B  *Ballot
	P  *Ballot
	Q  *Ballot
	NC uint32
	NH uint32
}

// Confirm is the pledge of a node that has accepted a commit.
type Confirm struct {
	B         *Ballot
	NPrepared uint32
	NCommit   uint32
	NH        uint32
}

// Externalize is the final pledge of a slot.
type Externalize struct {
	Commit *Ballot
	NH     uint32
}

func (*Nominate) Type() StatementType    { return StatementType_NOMINATE }
func (*Prepare) Type() StatementType     { return StatementType_PREPARE }
func (*Confirm) Type() StatementType     { return StatementType_CONFIRM }
func (*Externalize) Type() StatementType { return StatementType_EXTERNALIZE }

func (*Nominate) isPledge()    {}
func (*Prepare) isPledge()     {}
func (*Confirm) isPledge()     {}
func (*Externalize) isPledge() {}

// Statement is a per (slot index, node) consensus assertion.
type Statement struct {
	Index      uint64
	NodeID     string
	QuorumHash string
	// Optional inline quorum matching QuorumHash.
	Quorum *Quorum
	Pledge Pledge
}

// StatementType returns the type of the statement pledge.
func (s *Statement) StatementType() StatementType {
	if s == nil || s.Pledge == nil {
		return -1
	}
	return s.Pledge.Type()
}

func (s *Statement) GetNominate() *Nominate {
	if p, ok := s.Pledge.(*Nominate); ok {
		return p
	}
	return nil
}

func (s *Statement) GetPrepare() *Prepare {
	if p, ok := s.Pledge.(*Prepare); ok {
		return p
	}
	return nil
}

func (s *Statement) GetConfirm() *Confirm {
	if p, ok := s.Pledge.(*Confirm); ok {
		return p
	}
	return nil
}

func (s *Statement) GetExternalize() *Externalize {
	if p, ok := s.Pledge.(*Externalize); ok {
		return p
	}
	return nil
}

func (s *Statement) String() string {
	if s == nil {
		return "<nil>"
	}
	switch p := s.Pledge.(type) {
	case *Nominate:
		return fmt.Sprintf("NOMINATE{i:%d n:%s votes:%v accepts:%v}", s.Index, s.NodeID, p.VoteList, p.AcceptList)
	case *Prepare:
		return fmt.Sprintf("PREPARE{i:%d n:%s b:%s p:%s q:%s nC:%d nH:%d}", s.Index, s.NodeID, p.B, p.P, p.Q, p.NC, p.NH)
	case *Confirm:
		return fmt.Sprintf("CONFIRM{i:%d n:%s b:%s nP:%d nC:%d nH:%d}", s.Index, s.NodeID, p.B, p.NPrepared, p.NCommit, p.NH)
	case *Externalize:
		return fmt.Sprintf("EXTERNALIZE{i:%d n:%s c:%s nH:%d}", s.Index, s.NodeID, p.Commit, p.NH)
	}
	return fmt.Sprintf("UNKNOWN{i:%d n:%s}", s.Index, s.NodeID)
}

// SignedStatement is the envelope exchanged between nodes, the
// signature covers Payload which is the encoded statement.
type SignedStatement struct {
	Version   uint32
	Payload   []byte
	Signature string
}

// ConsensusValue is the value nominated by a validator: the sorted
// list of transaction hashes it proposes for the next ledger.
type ConsensusValue struct {
	TxHashList []string
}
