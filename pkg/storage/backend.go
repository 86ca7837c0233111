// A Backend is the source of truth for quizzes. Every quiz read that misses the response cache and every write
// lands here. The production backend is DynamoDB; the memory backend serves local runs and tests.

package storage

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tenancy = flag.String("tenancy", string(SingleTenant),
		"Which API to serve: 'single' for one shared collection or 'multi' for per-owner collections behind auth.")
	backendType = flag.String("storage_backend", "dynamodb",
		"The backing store holding quizzes; one of 'dynamodb' or 'memory'.")

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quizlet_backend_request_duration_seconds",
		Help:    "Latency of backing store requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op" /* fetch_one | fetch_collection | put | delete */, "status" /* ok | not_found | error */})
)

// Backend reads and writes quizzes. Implementations are safe for concurrent use.
type Backend interface {
	// FetchOne returns the quiz stored under `key`, or ErrQuizNotFound.
	FetchOne(ctx context.Context, key Key) (Quiz, error)
	// FetchCollection returns every quiz of `owner`; the owner is ignored by single-tenant schemas. The result is
	// fully materialized, paging through the store as needed.
	FetchCollection(ctx context.Context, owner string) ([]Quiz, error)
	// Put creates or overwrites a quiz.
	Put(ctx context.Context, quiz Quiz) error
	// Delete removes a quiz. Deleting an absent quiz is not an error.
	Delete(ctx context.Context, key Key) error
}

// SchemaFromFlags returns the table layout selected by --tenancy and --dynamo_table.
func SchemaFromFlags() (Schema, error) {
	t, err := ParseTenancy(*tenancy)
	if err != nil {
		return Schema{}, err
	}
	return SchemaFor(t, *dynamoTable), nil
}

// NewBackend builds the flag-configured backend for `schema`.
func NewBackend(ctx context.Context, schema Schema) (Backend, error) {
	switch *backendType {
	case "dynamodb":
		client, err := NewDynamoClient(ctx)
		if err != nil {
			return nil, err
		}
		return Instrument(NewDynamoBackend(client, schema)), nil
	case "memory":
		return Instrument(NewMemoryBackend(schema)), nil
	default:
		return nil, fmt.Errorf("unknown --storage_backend %q", *backendType)
	}
}

// instrumented records the latency and outcome of every call of the wrapped backend.
type instrumented struct { // Implements Backend.
	next Backend
}

var _ Backend = (*instrumented)(nil)

// Instrument wraps `backend` with request metrics.
func Instrument(backend Backend) Backend {
	return &instrumented{next: backend}
}

// observe records one request of operation `op` that started at `start`.
func observe(op string, start time.Time, err error) {
	status := "ok"
	if errors.Is(err, ErrQuizNotFound) {
		status = "not_found"
	} else if err != nil {
		status = "error"
	}
	backendLatency.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

func (b *instrumented) FetchOne(ctx context.Context, key Key) (quiz Quiz, err error) {
	defer func(start time.Time) { observe("fetch_one", start, err) }(time.Now())
	return b.next.FetchOne(ctx, key)
}

func (b *instrumented) FetchCollection(ctx context.Context, owner string) (quizzes []Quiz, err error) {
	defer func(start time.Time) { observe("fetch_collection", start, err) }(time.Now())
	return b.next.FetchCollection(ctx, owner)
}

func (b *instrumented) Put(ctx context.Context, quiz Quiz) (err error) {
	defer func(start time.Time) { observe("put", start, err) }(time.Now())
	return b.next.Put(ctx, quiz)
}

func (b *instrumented) Delete(ctx context.Context, key Key) (err error) {
	defer func(start time.Time) { observe("delete", start, err) }(time.Now())
	return b.next.Delete(ctx, key)
}
