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
	"math"
	"math/bits"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/mfaulk/mobilecoin/ultpb"
)

// Maximum nesting level of a quorum.
const maxQuorumDepth = 4

// ValidateQuorum checks the quorum is a well formed threshold tree:
// every level is non-empty with a threshold in [1, n], no validator
// appears twice and no nested quorum is reachable twice.
func ValidateQuorum(q *Quorum) error {
	seen := make(map[string]struct{})
	visited := make(map[*Quorum]struct{})
	if err := validateQuorum(q, 0, seen, visited); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuorum, err)
	}
	return nil
}

func validateQuorum(q *Quorum, depth int, seen map[string]struct{}, visited map[*Quorum]struct{}) error {
	if q == nil {
		return fmt.Errorf("nil quorum at depth %d", depth)
	}
	if depth > maxQuorumDepth {
		return fmt.Errorf("quorum nested deeper than %d", maxQuorumDepth)
	}
	if _, ok := visited[q]; ok {
		return fmt.Errorf("quorum references itself")
	}
	visited[q] = struct{}{}

	n := q.Size()
	if n == 0 {
		return fmt.Errorf("empty quorum at depth %d", depth)
	}
	if q.Threshold < 1 || int(q.Threshold) > n {
		return fmt.Errorf("threshold %d outside [1,%d]", q.Threshold, n)
	}
	for _, v := range q.Validators {
		if v == "" {
			return fmt.Errorf("empty validator ID")
		}
		if _, ok := seen[v]; ok {
			return fmt.Errorf("duplicate validator %s", v)
		}
		seen[v] = struct{}{}
	}
	for _, nq := range q.NestQuorums {
		if err := validateQuorum(nq, depth+1, seen, visited); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeQuorum returns a deep copy of the quorum with validators
// and nested quorums sorted, equal trust configurations normalize
// to the same encoding.
func NormalizeQuorum(q *Quorum) *Quorum {
	if q == nil {
		return nil
	}
	nq := &Quorum{
		Threshold:  q.Threshold,
		Validators: append([]string(nil), q.Validators...),
	}
	sort.Strings(nq.Validators)
	for _, sub := range q.NestQuorums {
		nq.NestQuorums = append(nq.NestQuorums, NormalizeQuorum(sub))
	}
	sort.Sort(QuorumSlice(nq.NestQuorums))
	return nq
}

// QuorumHash is the hash statements use to reference the quorum.
func QuorumHash(q *Quorum) string {
	return ultpb.QuorumHash(NormalizeQuorum(q))
}

// Build a quorum with one node
func getSingletonQuorum(nodeID string) *Quorum {
	return &Quorum{
		Threshold:  1,
		Validators: []string{nodeID},
	}
}

// Check whether the input node set form quorum slice for input quorum
func isQuorumSlice(quorum *Quorum, nodeSet mapset.Set[string]) bool {
	threshold := int(quorum.Threshold)
	if threshold == 0 {
		return true
	}
	for _, vid := range quorum.Validators {
		if nodeSet.Contains(vid) {
			threshold--
			if threshold == 0 {
				return true
			}
		}
	}
	for _, nq := range quorum.NestQuorums {
		if isQuorumSlice(nq, nodeSet) {
			threshold--
			if threshold == 0 {
				return true
			}
		}
	}
	return false
}

// Check whether the input node set form V-blocking for input quorum,
// that is the node set intersects every slice of the quorum.
func isVblocking(quorum *Quorum, nodeSet mapset.Set[string]) bool {
	if quorum.Threshold == 0 {
		return false
	}
	leftTillBlock := quorum.Size() - int(quorum.Threshold) + 1
	for _, vid := range quorum.Validators {
		if nodeSet.Contains(vid) {
			leftTillBlock--
			if leftTillBlock == 0 {
				return true
			}
		}
	}
	for _, nq := range quorum.NestQuorums {
		if isVblocking(nq, nodeSet) {
			leftTillBlock--
			if leftTillBlock == 0 {
				return true
			}
		}
	}
	return false
}

// Collect the senders of the statements accepted by the filter.
func filterNodes(stmts map[string]*Statement, filter func(*Statement) bool) mapset.Set[string] {
	nodes := mapset.NewThreadUnsafeSet[string]()
	for id, st := range stmts {
		if filter(st) {
			nodes.Add(id)
		}
	}
	return nodes
}

// isVblockingStatements checks whether the senders of the statements
// accepted by the filter form a v-blocking set for the quorum.
func isVblockingStatements(quorum *Quorum, stmts map[string]*Statement, filter func(*Statement) bool) bool {
	return isVblocking(quorum, filterNodes(stmts, filter))
}

// isQuorum runs the federated voting closure: senders whose own slice
// is not satisfied by the remaining set are removed until a fixed
// point is reached, the fixed point is a quorum if it also satisfies
// the local quorum.
func isQuorum(quorum *Quorum, stmts map[string]*Statement, quorumOf func(*Statement) *Quorum, filter func(*Statement) bool) bool {
	nodes := filterNodes(stmts, filter)
	for {
		count := nodes.Cardinality()
		next := mapset.NewThreadUnsafeSet[string]()
		nodes.Each(func(id string) bool {
			if q := quorumOf(stmts[id]); q != nil && isQuorumSlice(q, nodes) {
				next.Add(id)
			}
			return false
		})
		nodes = next
		if nodes.Cardinality() == count {
			break
		}
	}
	return isQuorumSlice(quorum, nodes)
}

// quorumNodes returns the sorted set of all validators in the tree.
func quorumNodes(quorum *Quorum) []string {
	nodes := mapset.NewThreadUnsafeSet[string]()
	var collect func(q *Quorum)
	collect = func(q *Quorum) {
		for _, v := range q.Validators {
			nodes.Add(v)
		}
		for _, nq := range q.NestQuorums {
			collect(nq)
		}
	}
	collect(quorum)
	list := nodes.ToSlice()
	sort.Strings(list)
	return list
}

// nodeWeight is the fraction of the quorum slices containing the
// node, scaled to [0, MaxUint64].
func nodeWeight(quorum *Quorum, nodeID string) uint64 {
	n := uint64(quorum.Size())
	k := uint64(quorum.Threshold)
	if n == 0 || k == 0 {
		return 0
	}
	for _, v := range quorum.Validators {
		if v == nodeID {
			return mulDiv(math.MaxUint64, k, n)
		}
	}
	for _, nq := range quorum.NestQuorums {
		if w := nodeWeight(nq, nodeID); w > 0 {
			return mulDiv(w, k, n)
		}
	}
	return 0
}

// mulDiv computes a*b/c without overflow, b must not exceed c.
func mulDiv(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	quo, _ := bits.Div64(hi, lo, c)
	return quo
}
