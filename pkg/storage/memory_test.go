package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/l2w/quizlet/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_PutAndFetchOne(t *testing.T) {
	backend := NewMemoryBackend(SchemaFor(SingleTenant, ""))
	quiz := Quiz{Key: Key{ID: "q1"}, Name: "Geo", Time: 30, Questions: []any{}}
	require.NoError(t, backend.Put(t.Context(), quiz))

	got, err := backend.FetchOne(t.Context(), Key{ID: "q1"})
	require.NoError(t, err)
	assert.Equal(t, quiz, got)

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, backend.Put(t.Context(), Quiz{Key: Key{ID: "q1"}, Name: "History"}))
		got, err := backend.FetchOne(t.Context(), Key{ID: "q1"})
		require.NoError(t, err)
		assert.Equal(t, "History", got.Name)
		assert.Equal(t, 1, backend.table.Len())
	})
	t.Run("never_written", func(t *testing.T) {
		_, err := backend.FetchOne(t.Context(), Key{ID: "q2"})
		assert.ErrorIs(t, err, ErrQuizNotFound)
	})
}

func TestMemoryBackend_Delete(t *testing.T) {
	backend := NewMemoryBackend(SchemaFor(MultiTenant, ""))
	key := Key{Owner: "ada@example.com", ID: "q1"}
	require.NoError(t, backend.Put(t.Context(), Quiz{Key: key, Name: "Geo"}))

	require.NoError(t, backend.Delete(t.Context(), key))
	// The bloom filter still remembers the key; the table lookup must answer.
	_, err := backend.FetchOne(t.Context(), key)
	assert.ErrorIs(t, err, ErrQuizNotFound)
	assert.NoError(t, backend.Delete(t.Context(), key), "Deleting an absent quiz is not an error")
	assert.Equal(t, 0, backend.table.Len())
}

func TestMemoryBackend_FetchCollection(t *testing.T) {
	config.SetTestFlag(t, "memory_page_size", "2")

	t.Run("single_tenant_pages_whole_table", func(t *testing.T) {
		backend := NewMemoryBackend(SchemaFor(SingleTenant, ""))
		for i := range 5 {
			require.NoError(t, backend.Put(t.Context(), Quiz{Key: Key{ID: fmt.Sprintf("q%d", i)}, Name: "n"}))
		}
		quizzes, err := backend.FetchCollection(t.Context(), "" /*owner*/)
		require.NoError(t, err)
		require.Len(t, quizzes, 5)
		for i, quiz := range quizzes {
			assert.Equal(t, fmt.Sprintf("q%d", i), quiz.ID, "Quizzes come back in id order")
		}
		assert.Equal(t, int64(3), backend.pages.Load(), "Five quizzes in pages of two take three pages")
	})
	t.Run("multi_tenant_scopes_by_owner", func(t *testing.T) {
		backend := NewMemoryBackend(SchemaFor(MultiTenant, ""))
		for _, key := range []Key{
			{Owner: "ada@example.com", ID: "q2"},
			{Owner: "ada@example.com", ID: "q1"},
			{Owner: "ada@example.comx", ID: "q0"}, // Shares a prefix with ada's email.
			{Owner: "bob@example.com", ID: "q3"},
			{Owner: "ada@example.com", ID: "q3"},
		} {
			require.NoError(t, backend.Put(t.Context(), Quiz{Key: key, Name: "n"}))
		}
		quizzes, err := backend.FetchCollection(t.Context(), "ada@example.com")
		require.NoError(t, err)
		var ids []string
		for _, quiz := range quizzes {
			assert.Equal(t, "ada@example.com", quiz.Owner)
			ids = append(ids, quiz.ID)
		}
		assert.Equal(t, []string{"q1", "q2", "q3"}, ids)
	})
	t.Run("empty_collection", func(t *testing.T) {
		backend := NewMemoryBackend(SchemaFor(MultiTenant, ""))
		quizzes, err := backend.FetchCollection(t.Context(), "nobody@example.com")
		require.NoError(t, err)
		assert.NotNil(t, quizzes)
		assert.Empty(t, quizzes)
	})
	t.Run("multi_tenant_requires_owner", func(t *testing.T) {
		backend := NewMemoryBackend(SchemaFor(MultiTenant, ""))
		_, err := backend.FetchCollection(t.Context(), "")
		assert.Error(t, err)
	})
}

func TestMemoryBackend_CancelledContext(t *testing.T) {
	backend := NewMemoryBackend(SchemaFor(SingleTenant, ""))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.ErrorIs(t, backend.Put(ctx, Quiz{Key: Key{ID: "q1"}}), context.Canceled)
	_, err := backend.FetchOne(ctx, Key{ID: "q1"})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = backend.FetchCollection(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryBackend_SkipsMalformedDocuments(t *testing.T) {
	backend := NewMemoryBackend(SchemaFor(SingleTenant, ""))
	require.NoError(t, backend.Put(t.Context(), Quiz{Key: Key{ID: "q1"}, Name: "Geo"}))
	require.NoError(t, backend.Put(t.Context(), Quiz{Key: Key{ID: "q3"}, Name: "Math"}))
	_, err := backend.table.Set("q2", []byte(`{"Id":"q2","time":"thirty"}`))
	require.NoError(t, err)

	quizzes, err := backend.FetchCollection(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, quizzes, 2)
	assert.Equal(t, "q1", quizzes[0].ID)
	assert.Equal(t, "q3", quizzes[1].ID)
}
