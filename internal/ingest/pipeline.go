package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lockdown/internal/config"
	"lockdown/internal/parse"
	"lockdown/internal/storage"
)

var (
	// ErrInvalidPath marks a filename that failed containment validation.
	// Rejected before any I/O.
	ErrInvalidPath = errors.New("invalid path")

	// ErrMissingSource marks a filename that passed validation but does not
	// exist under the ingest directory.
	ErrMissingSource = errors.New("missing source")
)

// Result partitions the lines of one ingestion call. Inserted + Duplicates +
// Skipped equals the number of lines processed.
type Result struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Pipeline reads raw log lines, parses them and inserts normalized events.
// Each call runs in one transaction: duplicates are isolated per row, a
// store failure discards the whole call's inserts.
type Pipeline struct {
	store        storage.Store
	parser       *parse.Parser
	dir          string
	maxLineBytes int
	logger       *slog.Logger
	runs         *RunLog
}

func NewPipeline(store storage.Store, parser *parse.Parser, cfg config.IngestConfig, logger *slog.Logger) *Pipeline {
	maxLineBytes := cfg.MaxLineBytes
	if maxLineBytes <= 0 {
		maxLineBytes = 1024 * 1024
	}
	return &Pipeline{
		store:        store,
		parser:       parser,
		dir:          cfg.Dir,
		maxLineBytes: maxLineBytes,
		logger:       logger,
		runs:         NewRunLog(cfg.RunHistory),
	}
}

func (p *Pipeline) Runs() *RunLog {
	return p.runs
}

// IngestFile ingests up to maxLines lines (0 = all) from name, which must be
// a bare filename inside the configured ingest directory.
func (p *Pipeline) IngestFile(ctx context.Context, name string, maxLines int) (Result, error) {
	if err := validateName(name); err != nil {
		return Result{}, err
	}
	path := filepath.Join(p.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, fmt.Errorf("%w: %s", ErrMissingSource, name)
		}
		return Result{}, err
	}
	defer f.Close()

	started := time.Now().UTC()
	res, err := p.IngestReader(ctx, f, maxLines)
	if err != nil {
		return Result{}, err
	}
	p.runs.Add(RunRecord{File: name, Result: res, Started: started, Took: time.Since(started)})
	if p.logger != nil {
		p.logger.Info("ingested file",
			"file", name,
			"inserted", res.Inserted,
			"duplicates", res.Duplicates,
			"skipped", res.Skipped,
		)
	}
	return res, nil
}

// IngestReader is the transactional core shared by file and kafka feeds.
func (p *Pipeline) IngestReader(ctx context.Context, r io.Reader, maxLines int) (Result, error) {
	batch, err := p.store.Begin(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	processed := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), p.maxLineBytes)
	for scanner.Scan() {
		if maxLines > 0 && processed >= maxLines {
			break
		}
		processed++
		ev := p.parser.Parse(scanner.Text())
		if ev == nil {
			res.Skipped++
			continue
		}
		if _, err := batch.Insert(ctx, *ev); err != nil {
			if errors.Is(err, storage.ErrDuplicateFingerprint) {
				res.Duplicates++
				continue
			}
			_ = batch.Rollback()
			return Result{}, err
		}
		res.Inserted++
	}
	if err := scanner.Err(); err != nil {
		_ = batch.Rollback()
		return Result{}, fmt.Errorf("read lines: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// validateName keeps caller-supplied names inside the ingest directory:
// no separators, no parent references, no absolute paths.
func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPath)
	}
	if strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return fmt.Errorf("%w: %q contains path separators", ErrInvalidPath, name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q contains parent reference", ErrInvalidPath, name)
	}
	return nil
}
