// QuizAPI serves quiz CRUD for one tenancy. Reads go through the response cache: a record is cached under its
// request path, an owner's collection under "getAllQuizzes:{email}". Writes hit the backend first and, once it
// succeeded, drop every cache key the write made stale. The single-tenant collection is always read from the
// backend.

package port

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/l2w/quizlet/pkg/auth"
	"github.com/l2w/quizlet/pkg/cache"
	"github.com/l2w/quizlet/pkg/storage"
)

var (
	errInvalidQuiz = errors.New("invalid quiz")

	backendReadTimeout = flag.Duration("backend_read_timeout", 10*time.Second,
		"Upper bound of a backend read that fills the response cache.")
)

// collectionKeyPrefix is the cache key of a whole collection; multi-tenant keys append ":{email}".
const collectionKeyPrefix = "getAllQuizzes"

// statusOf maps a request error to its HTTP status code.
func statusOf(err error) int {
	switch {
	case errors.Is(err, storage.ErrQuizNotFound):
		return http.StatusNotFound
	case errors.Is(err, errInvalidQuiz):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrTokenMissing), errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// QuizAPI holds the collaborators of the quiz routes.
type QuizAPI struct {
	schema    storage.Schema
	backend   storage.Backend
	cache     *cache.Store[[]byte /*encoded response*/]
	validator auth.TokenValidator // Only used by multi-tenant routes.
}

// NewQuizAPI is the constructor for QuizAPI. The multi-tenant API requires a token validator.
func NewQuizAPI(schema storage.Schema, backend storage.Backend, store *cache.Store[[]byte],
	validator auth.TokenValidator) (*QuizAPI, error) {
	if backend == nil || store == nil {
		return nil, errors.New("expected a non-nil backend and cache")
	}
	if schema.Tenancy == storage.MultiTenant && validator == nil {
		return nil, errors.New("the multi-tenant API requires a token validator")
	}
	return &QuizAPI{schema: schema, backend: backend, cache: store, validator: validator}, nil
}

// Handler returns the CORS-enabled router serving the API of the configured tenancy.
func (a *QuizAPI) Handler() http.Handler {
	router := newRouter()
	switch a.schema.Tenancy {
	case storage.MultiTenant:
		collection, record := "/api/user/:email/quiz", "/api/user/:email/quiz/:id"
		router.POST(collection, measured(collection, a.authenticated(a.createQuiz)))
		router.GET(collection, measured(collection, a.authenticated(a.listQuizzes)))
		router.GET(record, measured(record, a.authenticated(a.getQuiz)))
		router.PUT(record, measured(record, a.authenticated(a.updateQuiz)))
		router.DELETE(record, measured(record, a.authenticated(a.deleteQuiz)))
	default:
		collection, record := "/api/quiz", "/api/quiz/:id"
		router.POST(collection, measured(collection, a.createQuiz))
		router.POST(collection+"/", measured(collection, a.createQuiz))
		router.GET(collection, measured(collection, a.listQuizzes))
		router.GET(record, measured(record, a.getQuiz))
		router.DELETE(record, measured(record, a.deleteQuiz))
	}
	return withCORS(router)
}

// authenticated rejects requests without a valid bearer token before `next` runs.
func (a *QuizAPI) authenticated(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		claims, err := a.validator.Validate(token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		slog.Debug("Request authenticated.", "subject", claims.Subject, "path", r.URL.Path)
		next(w, r, ps)
	}
}

// owner returns the email path parameter; it's empty for single-tenant routes.
func (a *QuizAPI) owner(ps httprouter.Params) (string, error) {
	if a.schema.Tenancy != storage.MultiTenant {
		return "", nil
	}
	email := ps.ByName("email")
	if email == "" {
		return "", fmt.Errorf("%w: missing owner email", errInvalidQuiz)
	}
	return email, nil
}

// quizKey returns the key named by the path parameters.
func (a *QuizAPI) quizKey(ps httprouter.Params) (storage.Key, error) {
	owner, err := a.owner(ps)
	if err != nil {
		return storage.Key{}, err
	}
	id := ps.ByName("id")
	if id == "" {
		return storage.Key{}, fmt.Errorf("%w: missing quiz id", errInvalidQuiz)
	}
	return storage.Key{Owner: owner, ID: id}, nil
}

// recordCacheKey is the request path of the record's GET route.
func (a *QuizAPI) recordCacheKey(key storage.Key) string {
	if a.schema.Tenancy == storage.MultiTenant {
		return "/api/user/" + key.Owner + "/quiz/" + key.ID
	}
	return "/api/quiz/" + key.ID
}

func (a *QuizAPI) collectionCacheKey(owner string) string {
	if a.schema.Tenancy == storage.MultiTenant {
		return collectionKeyPrefix + ":" + owner
	}
	return collectionKeyPrefix
}

// readBody parses and validates a create or update body. `name` must be a non-empty string, `time` a number and
// `questions`, when present, a list.
func readBody(w http.ResponseWriter, r *http.Request) (storage.Quiz, error) {
	var body map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		return storage.Quiz{}, fmt.Errorf("%w: body is not a JSON object: %w", errInvalidQuiz, err)
	}
	var quiz storage.Quiz
	name, ok := body["name"].(string)
	if !ok || name == "" {
		return storage.Quiz{}, fmt.Errorf("%w: name must be a non-empty string", errInvalidQuiz)
	}
	quiz.Name = name
	quiz.Time, ok = body["time"].(float64)
	if !ok {
		return storage.Quiz{}, fmt.Errorf("%w: time must be a number", errInvalidQuiz)
	}
	quiz.Questions = []any{}
	if value, found := body["questions"]; found && value != nil {
		if quiz.Questions, ok = value.([]any); !ok {
			return storage.Quiz{}, fmt.Errorf("%w: questions must be a list", errInvalidQuiz)
		}
	}
	return quiz, nil
}

// cacheFillContext is the context of a backend read filling the cache. Concurrent misses of the same key wait on
// that one read, so it keeps the request's values but not its cancellation: a client hanging up must not fail the
// requests sharing its read.
func cacheFillContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), *backendReadTimeout)
}

// writeCached writes a read-through result and tells the client whether it came from the cache.
func writeCached(w http.ResponseWriter, body []byte, hit bool) {
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeRawJSON(w, body)
}

func (a *QuizAPI) createQuiz(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	owner, err := a.owner(ps)
	if err != nil {
		writeError(w, r, err)
		return
	}
	quiz, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	quiz.Key = storage.Key{Owner: owner, ID: uuid.NewString()}
	if err := a.backend.Put(r.Context(), quiz); err != nil {
		writeError(w, r, fmt.Errorf("failed to create quiz: %w", err))
		return
	}
	// The new record has no cached entry yet; only the listing it joins is stale.
	a.cache.Invalidate(a.collectionCacheKey(owner))
	slog.Info("Quiz created.", "key", quiz.Key)
	writeJSON(w, http.StatusOK, a.schema.Document(quiz))
}

func (a *QuizAPI) getQuiz(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key, err := a.quizKey(ps)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cacheKey := a.recordCacheKey(key)
	body, hit, err := a.cache.GetOrCompute(cacheKey, func() ([]byte, error) {
		ctx, cancel := cacheFillContext(r)
		defer cancel()
		quiz, err := a.backend.FetchOne(ctx, key)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(a.schema.Document(quiz))
		if err != nil {
			return nil, fmt.Errorf("failed to encode quiz %s: %w", key, err)
		}
		a.cache.Set(cacheKey, body)
		return body, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCached(w, body, hit)
}

// fetchCollection reads and encodes the whole collection of `owner` from the backend.
func (a *QuizAPI) fetchCollection(ctx context.Context, owner string) ([]byte, error) {
	quizzes, err := a.backend.FetchCollection(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list quizzes: %w", err)
	}
	docs := make([]map[string]any, 0, len(quizzes))
	for _, quiz := range quizzes {
		docs = append(docs, a.schema.Document(quiz))
	}
	body, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quizzes: %w", err)
	}
	return body, nil
}

func (a *QuizAPI) listQuizzes(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	owner, err := a.owner(ps)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if a.schema.Tenancy != storage.MultiTenant {
		body, err := a.fetchCollection(r.Context(), owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeRawJSON(w, body)
		return
	}

	cacheKey := a.collectionCacheKey(owner)
	body, hit, err := a.cache.GetOrCompute(cacheKey, func() ([]byte, error) {
		ctx, cancel := cacheFillContext(r)
		defer cancel()
		body, err := a.fetchCollection(ctx, owner)
		if err != nil {
			return nil, err
		}
		a.cache.Set(cacheKey, body)
		return body, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCached(w, body, hit)
}

func (a *QuizAPI) updateQuiz(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key, err := a.quizKey(ps)
	if err != nil {
		writeError(w, r, err)
		return
	}
	quiz, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	quiz.Key = key
	if err := a.backend.Put(r.Context(), quiz); err != nil {
		writeError(w, r, fmt.Errorf("failed to update quiz: %w", err))
		return
	}
	a.cache.Invalidate(a.recordCacheKey(key), a.collectionCacheKey(key.Owner))
	slog.Info("Quiz updated.", "key", key)
	writeJSON(w, http.StatusOK, a.schema.Document(quiz))
}

func (a *QuizAPI) deleteQuiz(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key, err := a.quizKey(ps)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.backend.Delete(r.Context(), key); err != nil {
		writeError(w, r, fmt.Errorf("failed to delete quiz: %w", err))
		return
	}
	a.cache.Invalidate(a.recordCacheKey(key), a.collectionCacheKey(key.Owner))
	slog.Info("Quiz deleted.", "key", key)
	writeJSON(w, http.StatusOK, struct{}{})
}
