package port

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/l2w/quizlet/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCache builds a response cache with a few entries in it.
func newTestCache(t *testing.T) *cache.Store[[]byte] {
	store := cache.NewStore[[]byte](cache.NewHyperClock[string, []byte](t.Context(), 100, time.Millisecond, nil),
		time.Minute)
	store.Set("/api/quiz/q1", []byte(`{"Id":"q1"}`))
	store.Set("/api/quiz/q2", []byte(`{"Id":"q2"}`))
	store.Set("getAllQuizzes:ada@example.com", []byte(`[]`))
	return store
}

func TestRedisHandler(t *testing.T) {
	_, err := newRedisHandler(nil)
	assert.Error(t, err)

	store := newTestCache(t)
	handler, err := newRedisHandler(store)
	require.NoError(t, err)

	t.Run("ping", func(t *testing.T) {
		assert.Equal(t, "PONG", handler.handle(redisCommand{command: "ping"}).writeString)
		assert.Equal(t, []byte("hello"), handler.handle(redisCommand{command: "PING", args: []string{"hello"}}).writeBulk)
	})
	t.Run("get_cached_key", func(t *testing.T) {
		output := handler.handle(redisCommand{command: "GET", args: []string{"/api/quiz/q1"}})
		assert.Equal(t, []byte(`{"Id":"q1"}`), output.writeBulk)
	})
	t.Run("get_missing_key", func(t *testing.T) {
		assert.True(t, handler.handle(redisCommand{command: "GET", args: []string{"/api/quiz/q9"}}).writeNil)
	})
	t.Run("keys_glob", func(t *testing.T) {
		output := handler.handle(redisCommand{command: "KEYS", args: []string{"/api/quiz/*"}})
		assert.Equal(t, []string{"/api/quiz/q1", "/api/quiz/q2"}, output.writeArray)

		output = handler.handle(redisCommand{command: "KEYS", args: []string{"nothing*"}})
		assert.NotNil(t, output.writeArray)
		assert.Empty(t, output.writeArray)
	})
	t.Run("dbsize", func(t *testing.T) {
		assert.Equal(t, 3, *handler.handle(redisCommand{command: "DBSIZE"}).writeInt)
	})
	t.Run("del_invalidates", func(t *testing.T) {
		output := handler.handle(redisCommand{command: "DEL", args: []string{"/api/quiz/q1", "/api/quiz/q9"}})
		assert.Equal(t, 1, *output.writeInt)
		_, found := store.Get("/api/quiz/q1")
		assert.False(t, found)
	})
	t.Run("wrong_arity", func(t *testing.T) {
		for _, cmd := range []redisCommand{
			{command: "GET"},
			{command: "GET", args: []string{"a", "b"}},
			{command: "DEL"},
			{command: "KEYS"},
			{command: "DBSIZE", args: []string{"x"}},
		} {
			output := handler.handle(cmd)
			require.NotNil(t, output.err, "command %v", cmd)
			assert.Contains(t, *output.err, "wrong number of arguments")
		}
	})
	t.Run("unknown_command", func(t *testing.T) {
		output := handler.handle(redisCommand{command: "SET", args: []string{"k", "v"}})
		require.NotNil(t, output.err)
		assert.Equal(t, "ERR unknown command 'SET'", *output.err)
	})
	t.Run("flushall", func(t *testing.T) {
		assert.Equal(t, RedisOk, handler.handle(redisCommand{command: "FLUSHALL"}).writeString)
		assert.Equal(t, 0, store.Len())
	})
	t.Run("quit", func(t *testing.T) {
		output := handler.handle(redisCommand{command: "QUIT"})
		assert.True(t, output.closeConnection)
		assert.Equal(t, RedisOk, output.writeString)
	})
}

func TestRunCacheAdminServer(t *testing.T) {
	t.Run("disabled_without_address", func(t *testing.T) {
		assert.NoError(t, RunCacheAdminServer(t.Context(), newTestCache(t)))
	})
	t.Run("serves_resp", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		ready := make(chan string, 1)
		serverErr := make(chan error, 1)
		go func() { serverErr <- runRedisServer(ctx, "127.0.0.1:0", newTestCache(t), ready) }()

		var address string
		select {
		case address = <-ready:
		case <-time.After(5 * time.Second):
			require.FailNow(t, "Cache admin port did not start in time")
		}

		conn, err := net.Dial("tcp", address)
		require.NoError(t, err)
		defer conn.Close()
		reader := bufio.NewReader(conn)

		_, err = conn.Write([]byte("*2\r\n$3\r\nGET\r\n$12\r\n/api/quiz/q2\r\n"))
		require.NoError(t, err)
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "$11\r\n", line)
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "{\"Id\":\"q2\"}\r\n", line)

		_, err = conn.Write([]byte("*1\r\n$6\r\nDBSIZE\r\n"))
		require.NoError(t, err)
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, ":3\r\n", line)

		cancel()
		select {
		case err := <-serverErr:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			require.FailNow(t, "Cache admin port did not stop in time")
		}
	})
}
