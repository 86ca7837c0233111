// Spins up the quizlet server: the quiz HTTP API with its response cache, plus the optional cache admin port.

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/l2w/quizlet/pkg/auth"
	"github.com/l2w/quizlet/pkg/cache"
	"github.com/l2w/quizlet/pkg/config"
	"github.com/l2w/quizlet/pkg/port"
	"github.com/l2w/quizlet/pkg/storage"
	"github.com/l2w/quizlet/pkg/utils"
	"golang.org/x/sync/errgroup"
)

var printVersion = flag.Bool("print_version", false, "Print the version and exit.")

func main() {
	if err := config.InitFlags(); err != nil {
		slog.Error("Failed to initialize flags.", "error", err)
		os.Exit(2)
	}
	utils.InitLogging()

	if *printVersion {
		slog.Info("Quizlet build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("Quizlet server stopped.", "error", err)
		os.Exit(1)
	}
}

// run wires the server together and blocks until `ctx` is done or a server fails.
func run(ctx context.Context) error {
	schema, err := storage.SchemaFromFlags()
	if err != nil {
		return err
	}
	backend, err := storage.NewBackend(ctx, schema)
	if err != nil {
		return err
	}
	var validator auth.TokenValidator
	if schema.Tenancy == storage.MultiTenant {
		if validator, err = auth.NewValidatorFromFlags(ctx); err != nil {
			return err
		}
	}
	responseCache := cache.NewStoreFromFlags[[]byte](ctx)
	api, err := port.NewQuizAPI(schema, backend, responseCache, validator)
	if err != nil {
		return err
	}
	slog.Info("Quizlet server starting.", "tenancy", schema.Tenancy, "table", schema.Table,
		"cache_ttl", responseCache.TTL(), "version", utils.Version)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return port.RunHTTPServer(groupCtx, api.Handler()) })
	group.Go(func() error { return port.RunCacheAdminServer(groupCtx, responseCache) })
	return group.Wait()
}
