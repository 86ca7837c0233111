// MemoryBackend keeps quizzes in an ordered in-memory table, the same skip list a memtable is built on. It serves
// local runs without AWS credentials and backs the handler tests. Collections are read in pages of
// --memory_page_size documents so a long listing doesn't hold the table lock for its whole duration.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
)

var (
	memoryPageSize = flag.Int("memory_page_size", 100,
		"The number of documents the memory backend reads per page when listing a collection.")
	memoryExpectedQuizzes = flag.Uint("memory_expected_quizzes", 100_000,
		"The number of quizzes the memory backend's bloom filter is sized for.")
)

// keySeparator joins owner and id in table keys; it sorts below every printable character so an owner's quizzes
// are contiguous and ordered by id.
const keySeparator = "\x00"

// MemoryBackend is a Backend over a skip list of JSON documents.
type MemoryBackend struct { // Implements Backend.
	mux    sync.RWMutex // Protects against race conditions.
	table  *SkipList[string /*key*/, []byte /*document*/]
	filter *bloom.BloomFilter // Every key ever written; a negative answer skips the table lookup.
	schema Schema
	pages  atomic.Int64 // Number of pages read by collection scans.
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend is the constructor for MemoryBackend.
func NewMemoryBackend(schema Schema) *MemoryBackend {
	return &MemoryBackend{
		table:  NewSkipList[string, []byte](strings.Compare),
		filter: bloom.NewWithEstimates(*memoryExpectedQuizzes, 0.01 /*falsePositiveRate*/),
		schema: schema,
	}
}

// tableKey maps a quiz key to its position in the table.
func (m *MemoryBackend) tableKey(key Key) string {
	if m.schema.SortKey == "" {
		return key.ID
	}
	return key.Owner + keySeparator + key.ID
}

// decode parses one stored document.
func (m *MemoryBackend) decode(raw []byte) (Quiz, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Quiz{}, fmt.Errorf("%w: %w", ErrMalformedQuiz, err)
	}
	return m.schema.FromDocument(doc)
}

func (m *MemoryBackend) FetchOne(ctx context.Context, key Key) (Quiz, error) {
	if err := ctx.Err(); err != nil {
		return Quiz{}, err
	}
	tableKey := m.tableKey(key)
	m.mux.RLock()
	defer m.mux.RUnlock()
	if !m.filter.TestString(tableKey) {
		return Quiz{}, fmt.Errorf("%w: %s", ErrQuizNotFound, key)
	}
	raw, err := m.table.Get(tableKey)
	if errors.Is(err, ErrKeyNotFound) {
		return Quiz{}, fmt.Errorf("%w: %s", ErrQuizNotFound, key)
	} else if err != nil {
		return Quiz{}, err
	}
	return m.decode(raw)
}

// scanPage reads up to one page of documents whose key is at or after `from` and starts with `prefix`. It returns
// the cursor of the next page, or done when the scan is over.
func (m *MemoryBackend) scanPage(from, prefix string) (docs [][]byte, next string, done bool) {
	pageSize := max(*memoryPageSize, 1)
	m.mux.RLock()
	defer m.mux.RUnlock()
	m.pages.Add(1)
	for key, raw := range m.table.Ascend(from) {
		if !strings.HasPrefix(key, prefix) {
			return docs, "", true
		}
		if len(docs) == pageSize {
			return docs, key, false
		}
		docs = append(docs, raw)
	}
	return docs, "", true
}

func (m *MemoryBackend) FetchCollection(ctx context.Context, owner string) ([]Quiz, error) {
	prefix := ""
	if m.schema.SortKey != "" {
		if owner == "" {
			return nil, errors.New("owner is required to list quizzes of a multi-tenant table")
		}
		prefix = owner + keySeparator
	}

	quizzes := make([]Quiz, 0)
	for cursor := prefix; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		docs, next, done := m.scanPage(cursor, prefix)
		for _, raw := range docs {
			quiz, err := m.decode(raw)
			if err != nil { // Same as the DynamoDB backend: one bad document doesn't fail the listing.
				slog.Warn("Skipping malformed quiz document.", "table", m.schema.Table, "error", err)
				continue
			}
			quizzes = append(quizzes, quiz)
		}
		if done {
			return quizzes, nil
		}
		cursor = next
	}
}

func (m *MemoryBackend) Put(ctx context.Context, quiz Quiz) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(m.schema.Document(quiz))
	if err != nil {
		return fmt.Errorf("failed to encode quiz %s: %w", quiz.Key, err)
	}
	tableKey := m.tableKey(quiz.Key)
	m.mux.Lock()
	defer m.mux.Unlock()
	// NOTE: Since skip list is initialized, we'll ignore `Set` returned error.
	_, _ = m.table.Set(tableKey, raw)
	m.filter.AddString(tableKey)
	slog.Debug("Quiz stored in memory.", "key", quiz.Key, "quizzes", m.table.Len())
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	if err := m.table.Delete(m.tableKey(key)); err != nil && !errors.Is(err, ErrKeyNotFound) {
		return err
	}
	return nil
}
