// This file implements a generic SkipList, the ordered table behind the memory backend. A skip list maintains
// multiple forward-pointer layers over a sorted linked list. Each key may be promoted to higher levels with
// probability p, forming express lanes that let searches skip over large ranges. Operations start at the highest
// populated level and descend when advancing would overshoot the target key.
//
// Properties
// - Expected time complexity for Get/Set/Delete: O(log n)
// - Space complexity: O(n)
// - Probabilistic balancing controlled by promotion probability p (default 0.25)
// - Deterministic iteration order by key, which is what makes paged scans stable

package storage

import (
	"errors"
	"iter"
	"math/rand"
	"time"

	"github.com/l2w/quizlet/pkg/utils"
)

// ErrKeyNotFound is returned by SkipList lookups of absent keys.
var ErrKeyNotFound = errors.New("key was not found")

// skipListNode represents a node in the skip list.
type skipListNode[K any, V any] struct {
	key      K
	value    V
	forwards []*skipListNode[K, V] // forward pointers per level (0..level-1)
}

// SkipList is a probabilistically balanced ordered map. Keys are ordered by the compare function given at
// construction. It is not safe for concurrent use; callers hold their own lock.
type SkipList[K any, V any] struct {
	head            *skipListNode[K, V]
	compare         utils.CompareFn[K]
	level, maxLevel int
	p               float64 // Probability that a node is promoted to the next level.
	rnd             *rand.Rand
	size            int
}

// NewSkipList creates a new empty skip list ordered by `compare`.
// Defaults: maxLevel=16, p=0.25.
func NewSkipList[K any, V any](compare utils.CompareFn[K]) *SkipList[K, V] {
	const defaultMaxLevel = 16
	const defaultP = 0.25
	return &SkipList[K, V]{
		head:     &skipListNode[K, V]{forwards: make([]*skipListNode[K, V], defaultMaxLevel)},
		compare:  compare,
		level:    1,
		maxLevel: defaultMaxLevel,
		p:        defaultP,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// randomLevel generates a random level based on the skip list's probability p.
func (s *SkipList[K, V]) randomLevel() int {
	lvl := 1
	for lvl < s.maxLevel && s.rnd.Float64() < s.p {
		lvl++
	}
	return lvl
}

// seek returns the last node whose key is below `key`, recording the predecessor per level into `update` if given.
func (s *SkipList[K, V]) seek(key K, update []*skipListNode[K, V]) *skipListNode[K, V] {
	n := s.head
	for lvl := s.level - 1; lvl >= 0; lvl-- {
		for next := n.forwards[lvl]; next != nil && s.compare(next.key, key) < 0; next = n.forwards[lvl] {
			n = next
		}
		if update != nil {
			update[lvl] = n
		}
	}
	return n
}

// Get returns the value for key or ErrKeyNotFound if the key is absent.
func (s *SkipList[K, V]) Get(key K) (V, error) {
	var zero V
	if s == nil || s.head == nil {
		return zero, ErrKeyNotFound
	}
	// Candidate is at level 0 forward from the predecessor.
	n := s.seek(key, nil).forwards[0]
	if n != nil && s.compare(n.key, key) == 0 {
		return n.value, nil
	}
	return zero, ErrKeyNotFound
}

// Set inserts a new key/value or updates an existing one, reporting whether the key was already present.
func (s *SkipList[K, V]) Set(key K, value V) (bool /*alreadyExists*/, error) {
	if s == nil || s.head == nil {
		return false, errors.New("skip list not initialized")
	}
	// Track the last nodes before the position at each level.
	update := make([]*skipListNode[K, V], s.maxLevel)
	node := s.seek(key, update)
	if next := node.forwards[0]; next != nil && s.compare(next.key, key) == 0 {
		next.value = value
		return true, nil
	}
	// Insert a new node with a random level.
	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level; i < lvl; i++ {
			update[i] = s.head
		}
		s.level = lvl
	}
	newNode := &skipListNode[K, V]{key: key, value: value, forwards: make([]*skipListNode[K, V], lvl)}
	for i := 0; i < lvl; i++ {
		newNode.forwards[i] = update[i].forwards[i]
		update[i].forwards[i] = newNode
	}
	s.size++
	return false, nil
}

// Delete removes key from the list or returns ErrKeyNotFound.
// It finds predecessors at each level and rewires forward pointers to skip the
// target node, then trims empty top levels.
func (s *SkipList[K, V]) Delete(key K) error {
	if s == nil || s.head == nil {
		return ErrKeyNotFound
	}
	update := make([]*skipListNode[K, V], s.maxLevel)
	target := s.seek(key, update).forwards[0]
	if target == nil || s.compare(target.key, key) != 0 {
		return ErrKeyNotFound
	}
	for i := 0; i < s.level; i++ {
		if update[i].forwards[i] == target {
			update[i].forwards[i] = target.forwards[i]
		}
	}
	// Decrease level if the top levels are now empty.
	for s.level > 1 && s.head.forwards[s.level-1] == nil {
		s.level--
	}
	s.size--
	return nil
}

// Len returns the number of keys in the list.
func (s *SkipList[K, V]) Len() int {
	return s.size
}

// Ascend yields the pairs whose key is at or after `from`, in ascending key order.
func (s *SkipList[K, V]) Ascend(from K) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for n := s.seek(from, nil).forwards[0]; n != nil; n = n.forwards[0] {
			if !yield(n.key, n.value) {
				return
			}
		}
	}
}
