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

	"github.com/mfaulk/mobilecoin/crypto"
	"github.com/mfaulk/mobilecoin/ultpb"
)

// Validator authenticates the signed statements received
// from other peers.
type Validator struct {
	version uint32
}

func NewValidator() *Validator {
	return &Validator{version: ultpb.StatementVersion}
}

// Decode checks the envelope version and the signature of the
// sender and returns the decoded statement.
func (v *Validator) Decode(raw []byte) (*Statement, error) {
	ss, err := ultpb.DecodeSignedStatement(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode envelope failed: %v", ErrMalformedStatement, err)
	}
	if ss.Version != v.version {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, ss.Version)
	}
	stmt, err := ultpb.DecodeStatement(ss.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode statement failed: %v", ErrMalformedStatement, err)
	}
	if !crypto.IsValidNodeID(stmt.NodeID) {
		return nil, fmt.Errorf("%w: invalid node ID %s", ErrMalformedStatement, stmt.NodeID)
	}
	if !crypto.Verify(stmt.NodeID, ss.Signature, ss.Payload) {
		return nil, fmt.Errorf("%w: node %s", ErrInvalidSignature, stmt.NodeID)
	}
	return stmt, nil
}

// SignStatement encodes the statement and wraps it in an envelope
// signed with the seed of the local node.
func SignStatement(seed string, stmt *Statement) ([]byte, error) {
	payload, err := ultpb.EncodeStatement(stmt)
	if err != nil {
		return nil, fmt.Errorf("encode statement failed: %v", err)
	}
	sig, err := crypto.Sign(seed, payload)
	if err != nil {
		return nil, fmt.Errorf("sign statement failed: %v", err)
	}
	ss := &ultpb.SignedStatement{
		Version:   ultpb.StatementVersion,
		Payload:   payload,
		Signature: sig,
	}
	return ultpb.EncodeSignedStatement(ss), nil
}
