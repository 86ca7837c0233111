// The cache admin port speaks the Redis protocol so operators can inspect and invalidate the response cache with
// redis-cli, e.g. `redis-cli -p 6380 KEYS 'getAllQuizzes*'` or `DEL /api/quiz/<id>`. It's disabled unless
// --cache_admin_address is set, and it only ever touches the cache, never the backing store.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/l2w/quizlet/pkg/scan"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var cacheAdminAddress = flag.String("cache_admin_address", "",
	"The ip:port to serve the Redis protocol cache admin port on, e.g. localhost:6380; empty disables it.")

// CacheAdmin is the part of the response cache the admin port operates on.
type CacheAdmin interface {
	Get(key string) ([]byte, bool)
	Invalidate(keys ...string) int
	Keys() []string
	Len() int
	Purge()
}

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeBulk       []byte   // Writes a bulk string if set.
	writeArray      []string // Writes an array of bulk strings if non-nil.
	writeString     string   // Writes a simple string otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisBulk(b []byte) redisOutput {
	return redisOutput{writeBulk: b}
}

func writeRedisArray(items []string) redisOutput {
	if items == nil {
		items = []string{}
	}
	return redisOutput{writeArray: items}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

// wrongArity is the error of a command called with an unexpected number of arguments.
func wrongArity(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// writeTo sends the output over a redcon connection.
func (o redisOutput) writeTo(conn redcon.Conn) {
	switch {
	case o.err != nil:
		conn.WriteError(*o.err)
	case o.writeNil:
		conn.WriteNull()
	case o.writeInt != nil:
		conn.WriteInt(*o.writeInt)
	case o.writeBulk != nil:
		conn.WriteBulk(o.writeBulk)
	case o.writeArray != nil:
		conn.WriteArray(len(o.writeArray))
		for _, item := range o.writeArray {
			conn.WriteBulkString(item)
		}
	default:
		conn.WriteString(o.writeString)
	}
}

type redisHandler struct {
	cache CacheAdmin
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(cache CacheAdmin) (*redisHandler, error) {
	if cache == nil {
		return nil, errors.New("expected a non-nil cache")
	}
	return &redisHandler{cache: cache}, nil
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	switch strings.ToUpper(cmd.command) {
	case "PING":
		if len(cmd.args) == 1 {
			return writeRedisBulk([]byte(cmd.args[0]))
		}
		return writeRedisString("PONG")
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "GET":
		if len(cmd.args) != 1 {
			return wrongArity(cmd.command)
		}
		if value, found := rh.cache.Get(cmd.args[0]); found {
			return writeRedisBulk(value)
		}
		return writeRedisNil()
	case "DEL":
		if len(cmd.args) < 1 {
			return wrongArity(cmd.command)
		}
		removed := rh.cache.Invalidate(cmd.args...)
		slog.Info("Cache keys invalidated through the admin port.", "keys", cmd.args, "removed", removed)
		return writeRedisInt(removed)
	case "KEYS":
		if len(cmd.args) != 1 {
			return wrongArity(cmd.command)
		}
		keys := slices.Collect(scan.MatchGlob(cmd.args[0], slices.Values(rh.cache.Keys())))
		slices.Sort(keys)
		return writeRedisArray(keys)
	case "DBSIZE":
		if len(cmd.args) != 0 {
			return wrongArity(cmd.command)
		}
		return writeRedisInt(rh.cache.Len())
	case "FLUSHALL", "FLUSHDB":
		rh.cache.Purge()
		slog.Info("Response cache purged through the admin port.")
		return writeRedisString(RedisOk)
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// serveRedisConn handles one parsed command of a connection.
func (rh *redisHandler) serveRedisConn(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		return
	}
	// Convert redcon.Command to redisCommand.
	command := redisCommand{command: string(cmd.Args[0]), args: make([]string, len(cmd.Args)-1)}
	for i := 1; i < len(cmd.Args); i++ {
		command.args[i-1] = string(cmd.Args[i])
	}
	output := rh.handle(command)
	output.writeTo(conn)
	if output.closeConnection {
		if err := conn.Close(); err != nil {
			slog.Error("Failed to close cache admin connection.", "error", err)
		}
	}
}

// RunCacheAdminServer serves the cache admin port on --cache_admin_address until `ctx` is done. It returns right
// away when the address is empty.
func RunCacheAdminServer(ctx context.Context, cache CacheAdmin) error {
	if *cacheAdminAddress == "" {
		slog.Info("Cache admin port is disabled.")
		return nil
	}
	return runRedisServer(ctx, *cacheAdminAddress, cache, nil /*ready*/)
}

// runRedisServer serves the Redis protocol on `address`. `ready`, if non-nil, receives the bound address once the
// listener is up.
func runRedisServer(ctx context.Context, address string, cache CacheAdmin, ready chan<- string) error {
	redisHandler, err := newRedisHandler(cache)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, address,
		/*handler*/ redisHandler.serveRedisConn,
		/*accept*/ func(conn redcon.Conn) bool {
			slog.Debug("Cache admin connection accepted.", "remote", conn.RemoteAddr())
			return true
		},
		/*close*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Cache admin connection closed.", "remote", conn.RemoteAddr(), "error", err)
			}
		})

	serverErrSignal := make(chan error, 1)
	go func() {
		signal := make(chan error, 1)
		go func() {
			if err := <-signal; err == nil && ready != nil {
				ready <- redisServer.Addr().String()
			}
		}()
		if err := redisServer.ListenServeAndSignal(signal); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()
	slog.Info("Cache admin port listening.", "address", address)

	select {
	case <-ctx.Done():
		if err := redisServer.Close(); err != nil {
			return fmt.Errorf("failed to close the cache admin port: %w", err)
		}
	case err, ok := <-serverErrSignal:
		if ok {
			return fmt.Errorf("cache admin port stopped unexpectedly: %w", err)
		}
	}

	return nil // Exited with no errors.
}
