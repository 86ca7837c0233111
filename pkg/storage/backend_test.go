package storage

import (
	"testing"

	"github.com/l2w/quizlet/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	promclient "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// observedRequests returns how many requests of `op` with `status` were recorded.
func observedRequests(t *testing.T, op, status string) uint64 {
	t.Helper()
	metric := &promclient.Metric{}
	require.NoError(t, backendLatency.WithLabelValues(op, status).(prometheus.Metric).Write(metric))
	return metric.GetHistogram().GetSampleCount()
}

func TestSchemaFromFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		schema, err := SchemaFromFlags()
		require.NoError(t, err)
		assert.Equal(t, SchemaFor(SingleTenant, ""), schema)
	})
	t.Run("multi_tenant_custom_table", func(t *testing.T) {
		config.SetTestFlag(t, "tenancy", "multi")
		config.SetTestFlag(t, "dynamo_table", "quizzes-dev")
		schema, err := SchemaFromFlags()
		require.NoError(t, err)
		assert.Equal(t, SchemaFor(MultiTenant, "quizzes-dev"), schema)
	})
	t.Run("unknown_tenancy", func(t *testing.T) {
		config.SetTestFlag(t, "tenancy", "everyone")
		_, err := SchemaFromFlags()
		assert.Error(t, err)
	})
}

func TestNewBackend(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		config.SetTestFlag(t, "storage_backend", "memory")
		backend, err := NewBackend(t.Context(), SchemaFor(SingleTenant, ""))
		require.NoError(t, err)
		require.IsType(t, &instrumented{}, backend)
		assert.IsType(t, &MemoryBackend{}, backend.(*instrumented).next)
	})
	t.Run("unknown", func(t *testing.T) {
		config.SetTestFlag(t, "storage_backend", "sqlite")
		_, err := NewBackend(t.Context(), SchemaFor(SingleTenant, ""))
		assert.Error(t, err)
	})
}

func TestInstrument(t *testing.T) {
	backend := Instrument(NewMemoryBackend(SchemaFor(SingleTenant, "")))
	okBefore := observedRequests(t, "fetch_one", "ok")
	notFoundBefore := observedRequests(t, "fetch_one", "not_found")
	putsBefore := observedRequests(t, "put", "ok")

	require.NoError(t, backend.Put(t.Context(), Quiz{Key: Key{ID: "q1"}}))
	_, err := backend.FetchOne(t.Context(), Key{ID: "q1"})
	require.NoError(t, err)
	_, err = backend.FetchOne(t.Context(), Key{ID: "q2"})
	require.ErrorIs(t, err, ErrQuizNotFound)

	assert.Equal(t, putsBefore+1, observedRequests(t, "put", "ok"))
	assert.Equal(t, okBefore+1, observedRequests(t, "fetch_one", "ok"))
	assert.Equal(t, notFoundBefore+1, observedRequests(t, "fetch_one", "not_found"))
}
