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

package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	b58 "github.com/mr-tron/base58/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHandler struct {
	statements [][]byte
	nominated  [][]string
}

func (m *mockHandler) RecvStatement(raw []byte) error {
	m.statements = append(m.statements, raw)
	return nil
}

func (m *mockHandler) Nominate(txHashes []string) (uint64, error) {
	if len(txHashes) == 0 {
		return 0, errors.New("empty tx set")
	}
	m.nominated = append(m.nominated, txHashes)
	return uint64(len(m.nominated)), nil
}

func TestLineTransport(t *testing.T) {
	var buf bytes.Buffer
	lt := newLineTransport(&buf)
	require.NoError(t, lt.Broadcast(context.Background(), []byte("envelope")))
	assert.Equal(t, "stmt "+b58.Encode([]byte("envelope"))+"\n", buf.String())

	// the output of one node is the input of another
	h := &mockHandler{}
	require.NoError(t, readCommands(&buf, h))
	assert.Equal(t, [][]byte{[]byte("envelope")}, h.statements)
}

func TestReadCommands(t *testing.T) {
	input := strings.Join([]string{
		"",
		"nominate tx1 tx2",
		"nominate",
		"stmt",
		"stmt 0OIl",
		"unknown command",
		"stmt " + b58.Encode([]byte{1, 2, 3}),
	}, "\n")

	h := &mockHandler{}
	require.NoError(t, readCommands(strings.NewReader(input), h))
	assert.Equal(t, [][]string{{"tx1", "tx2"}}, h.nominated)
	assert.Equal(t, [][]byte{{1, 2, 3}}, h.statements)
}
