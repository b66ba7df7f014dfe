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

import "errors"

var (
	// Dropped without penalizing later statements of the sender.
	ErrMalformedStatement = errors.New("malformed statement")
	// The quorum referenced by hash is not known yet.
	ErrUnknownQuorum = errors.New("unknown quorum")
	// An equal or newer statement of the sender is already known.
	ErrStaleStatement = errors.New("stale statement")
	// The slot index is outside of the accepted window.
	ErrOutOfWindowSlot = errors.New("slot out of window")
	// Processing the statement would break a ballot invariant,
	// the slot state is left untouched.
	ErrInvariantViolation = errors.New("invariant violation")
	ErrInvalidQuorum      = errors.New("invalid quorum")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidVersion     = errors.New("unsupported statement version")
	ErrBufferFull         = errors.New("pending statement buffer is full")
	ErrInvalidValue       = errors.New("invalid value")
)
