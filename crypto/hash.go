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

package crypto

import (
	"crypto/sha256"
	"encoding/binary"

	b58 "github.com/mr-tron/base58/base58"
)

// Domain separation tags, each derived hash function gets its
// own versioned tag so the outputs are independent.
const (
	NominationNeighborTag = "ult_nomination_neighbor_v0"
	NominationPriorityTag = "ult_nomination_priority_v0"
	StatementSigningTag   = "ult_statement_signing_v0"
)

// compute sha256 checksum (32 bytes)
func SHA256Hash(b []byte) string {
	v := sha256.Sum256(b)
	return b58.Encode(v[:])
}

// compute sha256 checksum (32 bytes)
func SHA256HashBytes(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// DomainHash hashes the length prefixed parts under the domain tag.
func DomainHash(tag string, parts ...[]byte) [32]byte {
	h := sha256.New()
	var lb [8]byte
	write := func(p []byte) {
		binary.BigEndian.PutUint64(lb[:], uint64(len(p)))
		h.Write(lb[:])
		h.Write(p)
	}
	write([]byte(tag))
	for _, p := range parts {
		write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DomainHashUint64 returns the first 8 bytes of DomainHash as an integer.
func DomainHashUint64(tag string, parts ...[]byte) uint64 {
	d := DomainHash(tag, parts...)
	return binary.BigEndian.Uint64(d[:8])
}
