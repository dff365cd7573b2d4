// Command promo-ingest bulk-loads single-use promotion codes from
// gzip-compressed code lists into the promotion_codes table.
//
// Code lists come from campaign partners and routinely overlap (the same
// code exported into several files), so ingest streams every file through a
// shared bloom filter to drop duplicates before touching the database, then
// loads the survivors with COPY in fixed-size batches.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/cartkit/promo-engine/internal/repository"
)

const (
	bloomCapacity = 50_000_000
	bloomFPR      = 0.0001
	insertBatch   = 10_000
	progressEvery = 1_000_000
	minCodeLen    = 8
	maxCodeLen    = 32
)

func main() {
	var (
		dataDir     string
		promotionID string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.gz code list files")
	flag.StringVar(&promotionID, "promotion-id", "", "parent promotion id the codes resolve to")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if promotionID == "" {
		slog.Error("--promotion-id is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, promotionID, databaseURL); err != nil {
		slog.Error("code ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("code ingest completed successfully")
}

func run(ctx context.Context, dataDir, promotionID, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list code files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.gz files in %s", dataDir)
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	codes := repository.NewBatchCodeRepository(pool)

	// dedup is shared across files: TestAndAddString under a lock keeps each
	// code's first occurrence and drops the rest.
	dedup := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	var dedupMu sync.Mutex

	batches := make(chan []string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(scanFile(gctx, i, f, dedup, &dedupMu, batches))
	}

	// Single writer keeps COPY batches ordered and the pool uncontended. On
	// failure it keeps draining the channel so scanners never block.
	var total int64
	writeDone := make(chan error, 1)
	go func() {
		var writeErr error
		for batch := range batches {
			if writeErr != nil {
				continue
			}
			n, err := codes.InsertCodes(ctx, promotionID, batch)
			if err != nil {
				writeErr = err
				continue
			}
			total += n
			slog.Info("insert progress", slog.Int64("total", total))
		}
		writeDone <- writeErr
	}()

	scanErr := g.Wait()
	close(batches)
	if err := <-writeDone; err != nil {
		return errors.Wrap(err, "insert codes")
	}
	if scanErr != nil {
		return errors.Wrap(scanErr, "scan code files")
	}

	slog.Info("ingest summary", slog.Int64("codes_inserted", total), slog.Int("files", len(files)))
	return nil
}

// scanFile streams one gzip file, filters and de-duplicates codes, and sends
// full batches to the writer.
func scanFile(
	ctx context.Context,
	idx int,
	path string,
	dedup *bloom.BloomFilter,
	dedupMu *sync.Mutex,
	batches chan<- []string,
) func() error {
	return func() error {
		batch := make([]string, 0, insertBatch)
		var seen uint64

		err := streamGzFile(ctx, path, func(raw string) {
			code := strings.ToUpper(strings.TrimSpace(raw))
			if len(code) < minCodeLen || len(code) > maxCodeLen {
				return
			}

			seen++
			if seen%progressEvery == 0 {
				slog.Info("scan progress", slog.Int("file", idx+1), slog.Uint64("codes", seen))
			}

			dedupMu.Lock()
			dup := dedup.TestAndAddString(code)
			dedupMu.Unlock()
			if dup {
				return
			}

			batch = append(batch, code)
			if len(batch) == insertBatch {
				batches <- batch
				batch = make([]string, 0, insertBatch)
			}
		})
		if err != nil {
			return errors.Wrapf(err, "scan file %d", idx+1)
		}

		if len(batch) > 0 {
			batches <- batch
		}

		slog.Info("scan complete", slog.Int("file", idx+1), slog.Uint64("total_codes", seen))
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
