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
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	b58 "github.com/mr-tron/base58/base58"

	"github.com/mfaulk/mobilecoin/log"
)

// lineTransport writes every envelope as a base58 line.
type lineTransport struct {
	mu sync.Mutex
	w  io.Writer
}

func newLineTransport(w io.Writer) *lineTransport {
	return &lineTransport{w: w}
}

func (lt *lineTransport) Broadcast(_ context.Context, raw []byte) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	_, err := fmt.Fprintf(lt.w, "stmt %s\n", b58.Encode(raw))
	return err
}

type commandHandler interface {
	RecvStatement(raw []byte) error
	Nominate(txHashes []string) (uint64, error)
}

const maxLineSize = 1 << 20

// Feed the commands read from r to the node until EOF.
func readCommands(r io.Reader, h commandHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "stmt":
			if len(fields) != 2 {
				log.Warnw("malformed stmt command", "fields", len(fields))
				continue
			}
			raw, err := b58.Decode(fields[1])
			if err != nil {
				log.Warnw("decode envelope failed", "err", err)
				continue
			}
			if err := h.RecvStatement(raw); err != nil {
				log.Debugw("recv statement failed", "err", err)
			}
		case "nominate":
			index, err := h.Nominate(fields[1:])
			if err != nil {
				log.Warnw("nominate failed", "err", err)
				continue
			}
			log.Infow("nominated value", "index", index, "txs", len(fields)-1)
		default:
			log.Warnw("unknown command", "command", fields[0])
		}
	}
	return scanner.Err()
}
