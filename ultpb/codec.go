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

package ultpb

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mfaulk/mobilecoin/crypto"
)

// Nested quorums deeper than this are rejected while decoding.
const maxDecodeDepth = 8

var (
	ErrWireType      = errors.New("unexpected wire type")
	ErrNoPledge      = errors.New("statement has no pledge")
	ErrMultiPledge   = errors.New("statement has more than one pledge")
	ErrValueOverflow = errors.New("varint overflows uint32")
	ErrDecodeDepth   = errors.New("quorum nesting too deep")
)

// Field numbers of the statement envelope.
const (
	fieldStmtIndex       protowire.Number = 1
	fieldStmtNodeID      protowire.Number = 2
	fieldStmtQuorumHash  protowire.Number = 3
	fieldStmtQuorum      protowire.Number = 4
	fieldStmtNominate    protowire.Number = 5
	fieldStmtPrepare     protowire.Number = 6
	fieldStmtConfirm     protowire.Number = 7
	fieldStmtExternalize protowire.Number = 8
)

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendStrings(b []byte, num protowire.Number, ss []string) []byte {
	for _, s := range ss {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

func appendBallot(b []byte, num protowire.Number, ballot *Ballot) []byte {
	if ballot == nil {
		return b
	}
	var msg []byte
	msg = appendUint(msg, 1, uint64(ballot.Counter))
	msg = appendString(msg, 2, ballot.Value)
	return appendMessage(b, num, msg)
}

// walk iterates over the fields of an encoded message. The callback
// returns the number of bytes it consumed, zero means the field is
// unknown and gets skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func consumeUint64(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, ErrWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeUint32(typ protowire.Type, b []byte) (uint32, int, error) {
	v, n, err := consumeUint64(typ, b)
	if err != nil {
		return 0, 0, err
	}
	if v > math.MaxUint32 {
		return 0, 0, ErrValueOverflow
	}
	return uint32(v), n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, ErrWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func decodeBallot(b []byte) (*Ballot, error) {
	ballot := &Ballot{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint32(typ, b)
			ballot.Counter = v
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			ballot.Value = string(v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return ballot, nil
}

// EncodeQuorum encodes the quorum deterministically.
func EncodeQuorum(q *Quorum) []byte {
	var b []byte
	b = appendUint(b, 1, uint64(q.Threshold))
	b = appendStrings(b, 2, q.Validators)
	for _, nq := range q.NestQuorums {
		b = appendMessage(b, 3, EncodeQuorum(nq))
	}
	return b
}

// DecodeQuorum decodes bytes produced by EncodeQuorum.
func DecodeQuorum(b []byte) (*Quorum, error) {
	return decodeQuorum(b, 0)
}

func decodeQuorum(b []byte, depth int) (*Quorum, error) {
	if depth > maxDecodeDepth {
		return nil, ErrDecodeDepth
	}
	q := &Quorum{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint32(typ, b)
			q.Threshold = v
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err == nil {
				q.Validators = append(q.Validators, string(v))
			}
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			nq, err := decodeQuorum(v, depth+1)
			if err != nil {
				return 0, err
			}
			q.NestQuorums = append(q.NestQuorums, nq)
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// QuorumHash computes the base58 sha256 checksum of the encoded quorum.
func QuorumHash(q *Quorum) string {
	return crypto.SHA256Hash(EncodeQuorum(q))
}

func encodePledge(p Pledge) (protowire.Number, []byte, error) {
	var b []byte
	switch p := p.(type) {
	case *Nominate:
		b = appendStrings(b, 1, p.VoteList)
		b = appendStrings(b, 2, p.AcceptList)
		return fieldStmtNominate, b, nil
	case *Prepare:
		b = appendBallot(b, 1, p.B)
		b = appendBallot(b, 2, p.P)
		b = appendBallot(b, 3, p.Q)
		b = appendUint(b, 4, uint64(p.NC))
		b = appendUint(b, 5, uint64(p.NH))
		return fieldStmtPrepare, b, nil
	case *Confirm:
		b = appendBallot(b, 1, p.B)
		b = appendUint(b, 2, uint64(p.NPrepared))
		b = appendUint(b, 3, uint64(p.NCommit))
		b = appendUint(b, 4, uint64(p.NH))
		return fieldStmtConfirm, b, nil
	case *Externalize:
		b = appendBallot(b, 1, p.Commit)
		b = appendUint(b, 2, uint64(p.NH))
		return fieldStmtExternalize, b, nil
	}
	return 0, nil, ErrNoPledge
}

// EncodeStatement encodes the statement deterministically, the result
// is the payload covered by the envelope signature.
func EncodeStatement(stmt *Statement) ([]byte, error) {
	if stmt == nil {
		return nil, errors.New("statement is nil")
	}
	num, pledge, err := encodePledge(stmt.Pledge)
	if err != nil {
		return nil, err
	}
	var b []byte
	b = appendUint(b, fieldStmtIndex, stmt.Index)
	b = appendString(b, fieldStmtNodeID, stmt.NodeID)
	b = appendString(b, fieldStmtQuorumHash, stmt.QuorumHash)
	if stmt.Quorum != nil {
		b = appendMessage(b, fieldStmtQuorum, EncodeQuorum(stmt.Quorum))
	}
	b = appendMessage(b, num, pledge)
	return b, nil
}

func decodeNominate(b []byte) (*Nominate, error) {
	nom := &Nominate{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			if num == 1 {
				nom.VoteList = append(nom.VoteList, string(v))
			} else {
				nom.AcceptList = append(nom.AcceptList, string(v))
			}
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return nom, nil
}

func decodePrepare(b []byte) (*Prepare, error) {
	prep := &Prepare{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2, 3:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			ballot, err := decodeBallot(v)
			if err != nil {
				return 0, err
			}
			switch num {
			case 1:
				prep.B = ballot
			case 2:
				prep.P = ballot
			case 3:
				prep.Q = ballot
			}
			return n, nil
		case 4:
			v, n, err := consumeUint32(typ, b)
			prep.NC = v
			return n, err
		case 5:
			v, n, err := consumeUint32(typ, b)
			prep.NH = v
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return prep, nil
}

func decodeConfirm(b []byte) (*Confirm, error) {
	con := &Confirm{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			con.B, err = decodeBallot(v)
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			con.NPrepared = v
			return n, err
		case 3:
			v, n, err := consumeUint32(typ, b)
			con.NCommit = v
			return n, err
		case 4:
			v, n, err := consumeUint32(typ, b)
			con.NH = v
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return con, nil
}

func decodeExternalize(b []byte) (*Externalize, error) {
	ext := &Externalize{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			ext.Commit, err = decodeBallot(v)
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			ext.NH = v
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return ext, nil
}

// DecodeStatement decodes bytes produced by EncodeStatement.
func DecodeStatement(b []byte) (*Statement, error) {
	stmt := &Statement{}
	setPledge := func(p Pledge) error {
		if stmt.Pledge != nil {
			return ErrMultiPledge
		}
		stmt.Pledge = p
		return nil
	}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldStmtIndex:
			v, n, err := consumeUint64(typ, b)
			stmt.Index = v
			return n, err
		case fieldStmtNodeID:
			v, n, err := consumeBytes(typ, b)
			stmt.NodeID = string(v)
			return n, err
		case fieldStmtQuorumHash:
			v, n, err := consumeBytes(typ, b)
			stmt.QuorumHash = string(v)
			return n, err
		case fieldStmtQuorum:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			stmt.Quorum, err = DecodeQuorum(v)
			return n, err
		case fieldStmtNominate, fieldStmtPrepare, fieldStmtConfirm, fieldStmtExternalize:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			var p Pledge
			switch num {
			case fieldStmtNominate:
				p, err = decodeNominate(v)
			case fieldStmtPrepare:
				p, err = decodePrepare(v)
			case fieldStmtConfirm:
				p, err = decodeConfirm(v)
			default:
				p, err = decodeExternalize(v)
			}
			if err != nil {
				return 0, err
			}
			return n, setPledge(p)
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode statement failed: %w", err)
	}
	if stmt.Pledge == nil {
		return nil, ErrNoPledge
	}
	return stmt, nil
}

// EncodeSignedStatement encodes the envelope.
func EncodeSignedStatement(ss *SignedStatement) []byte {
	var b []byte
	b = appendUint(b, 1, uint64(ss.Version))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, ss.Payload)
	b = appendString(b, 3, ss.Signature)
	return b
}

// DecodeSignedStatement decodes the envelope without verifying it.
func DecodeSignedStatement(b []byte) (*SignedStatement, error) {
	ss := &SignedStatement{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint32(typ, b)
			ss.Version = v
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			ss.Payload = append([]byte(nil), v...)
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			ss.Signature = string(v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode envelope failed: %w", err)
	}
	return ss, nil
}

// EncodeConsensusValue encodes the consensus value.
func EncodeConsensusValue(cv *ConsensusValue) []byte {
	return appendStrings(nil, 1, cv.TxHashList)
}

// DecodeConsensusValue decodes bytes produced by EncodeConsensusValue.
func DecodeConsensusValue(b []byte) (*ConsensusValue, error) {
	cv := &ConsensusValue{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		v, n, err := consumeBytes(typ, b)
		if err == nil {
			cv.TxHashList = append(cv.TxHashList, string(v))
		}
		return n, err
	})
	if err != nil {
		return nil, err
	}
	return cv, nil
}
