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
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	b58 "github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/ed25519"
)

// Generate node keypair with ed25510 cryto algorithm, since we can
// always reconstruct the true private key using the same seed, we use
// the randomly generated seed as a equivalent private key.
func GetNodeKeypair() (string, string, error) {
	var seed [32]byte
	_, err := io.ReadFull(rand.Reader, seed[:])
	if err != nil {
		return "", "", err
	}
	return GetNodeKeypairFromSeed(seed[:])
}

// Generate node keypair from provided seed.
func GetNodeKeypairFromSeed(seed []byte) (string, string, error) {
	if len(seed) != ed25519.SeedSize {
		return "", "", errors.New("invalid seed, byte length is not 32")
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)

	node := &ULTKey{Code: KeyTypeNodeID}
	copy(node.Hash[:], publicKey)
	sd := &ULTKey{Code: KeyTypeSeed}
	copy(sd.Hash[:], seed)

	return EncodeKey(node), EncodeKey(sd), nil
}

// Reconstruct the true private key from the seed, it supposes to
// be only used in situations where you need to sign the data so
// the authenticity can be verified by the corresponding public key.
func getPrivateKey(seed string) (ed25519.PrivateKey, error) {
	if seed == "" {
		return nil, fmt.Errorf("empty seed")
	}
	k, err := DecodeKey(seed)
	if err != nil {
		return nil, err
	}
	if k.Code != KeyTypeSeed {
		return nil, ErrInvalidKey
	}
	return ed25519.NewKeyFromSeed(k.Hash[:]), nil
}

// Sign the data with provided seed (equivalent private key).
func Sign(seed string, data []byte) (string, error) {
	pk, err := getPrivateKey(seed)
	if err != nil {
		return "", err
	}
	msg := DomainHash(StatementSigningTag, data)
	signature := ed25519.Sign(pk, msg[:])
	return b58.Encode(signature), nil
}

// Verify the data signature with encoded string representation
// of the public key.
func Verify(publicKey, signature string, data []byte) bool {
	pk, err := DecodeKey(publicKey)
	if err != nil || pk.Code != KeyTypeNodeID {
		return false
	}
	sn, err := b58.Decode(signature)
	if err != nil || len(sn) != ed25519.SignatureSize {
		return false
	}
	msg := DomainHash(StatementSigningTag, data)
	return ed25519.Verify(ed25519.PublicKey(pk.Hash[:]), msg[:], sn)
}
