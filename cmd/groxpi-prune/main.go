// Command groxpi-prune deletes cached files that haven't been
// downloaded in N days. It runs as a standalone process against the
// same Redis and storage backend as the server/worker, never
// importing package main from cmd/groxpi, per the spec's resolution
// of the prune/main circular reference: the collaborator is invoked
// externally with its own dependency-injected KV and Storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/phuslu/log"

	"github.com/groxpi/groxpi-redis/internal/config"
	"github.com/groxpi/groxpi-redis/internal/kvstore"
	"github.com/groxpi/groxpi-redis/internal/logger"
	"github.com/groxpi/groxpi-redis/internal/storage"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "list stale files without deleting them")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [--dry-run] <days>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	days, err := parseDays(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.Load()
	logger.Init(logger.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Color: cfg.LogColor})

	kv, err := kvstore.New(cfg.RedisURL, cfg.RedisPrefix, string(cfg.PackageType))
	if err != nil {
		log.Fatal().Err(err).Msg("connect to redis")
	}
	defer kv.Close()

	backend, err := newStorageBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}
	defer backend.Close()

	ctx := context.Background()
	deleted, err := prune(ctx, kv, backend, days, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("prune failed")
	}

	if *dryRun {
		fmt.Printf("%d file(s) would be deleted\n", deleted)
	} else {
		fmt.Printf("%d file(s) deleted\n", deleted)
	}
}

func parseDays(arg string) (int, error) {
	var days int
	if _, err := fmt.Sscanf(arg, "%d", &days); err != nil || days < 0 {
		return 0, fmt.Errorf("days must be a non-negative integer, got %q", arg)
	}
	return days, nil
}

func newStorageBackend(cfg *config.Config) (storage.Backend, error) {
	if cfg.StorageDriver == config.StorageS3 {
		return storage.NewS3(cfg)
	}
	return storage.NewLocal(cfg.FileStorageDir, cfg.PackageType)
}

// prune finds every cached file whose last-downloaded timestamp is
// older than days and deletes it from storage, returning the count
// affected. dryRun still walks the full candidate set so the reported
// count matches what a real run would delete.
func prune(ctx context.Context, kv *kvstore.Client, backend storage.Backend, days int, dryRun bool) (int, error) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	staleURLs, err := kv.StaleFileURLs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("scan stale urls: %w", err)
	}

	deleted := 0
	for _, url := range staleURLs {
		present, err := backend.Check(ctx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("check file presence")
			continue
		}
		if !present {
			continue
		}

		if dryRun {
			log.Info().Str("url", url).Msg("would delete stale file")
			deleted++
			continue
		}

		if err := backend.Delete(ctx, url); err != nil {
			log.Warn().Err(err).Str("url", url).Msg("delete stale file")
			continue
		}
		log.Info().Str("url", url).Msg("deleted stale file")
		deleted++
	}

	return deleted, nil
}
