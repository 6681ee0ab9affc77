// Package importer drives batch ingestion: it walks a path, fingerprints
// every activity file, runs the parse and normalize stages, and persists
// the results. Files in a batch are independent. One corrupt download must
// never block the rest of the batch, so per-file failures are recorded in
// the report and the walk continues. Only a storage failure aborts.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"fittrail/pkg/database"
	"fittrail/pkg/normalizer"
	"fittrail/pkg/parser"
)

// defaultWorkers bounds parse parallelism when the caller passes none.
// Parsing is CPU-bound but short; a small fixed pool keeps memory flat
// even for directories with thousands of files.
const defaultWorkers = 4

// Importer wires the pipeline stages together around one database handle.
type Importer struct {
	DB         *database.Database
	Normalizer normalizer.Config
	Workers    int
}

// Failure records one file that could not be imported and why. The reason
// is a human-readable string because the report crosses the API boundary.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarizes one batch. Every file lands in exactly one of the
// three buckets, so Imported+Duplicates+len(Failed) equals the number of
// candidate files found.
type Report struct {
	BatchID         string    `json:"batch_id"`
	Imported        int       `json:"imported"`
	Duplicates      int       `json:"duplicates"`
	Failed          []Failure `json:"failed"`
	RejectedSamples int       `json:"rejected_samples"`
}

// outcome is the internal per-file verdict funneled back to the collector.
type outcome struct {
	path      string
	imported  bool
	duplicate bool
	rejected  int
	fileErr   error // per-file problem, recorded and skipped
	fatalErr  error // storage problem, aborts the batch
}

// ImportPath ingests a single file or every activity file under a
// directory. With force set, files whose fingerprint is already stored are
// deleted and rewritten instead of skipped. The returned report is valid
// even when err is non-nil: it covers the files processed before the abort.
func (imp *Importer) ImportPath(ctx context.Context, path string, force bool) (*Report, error) {
	report := &Report{BatchID: uuid.NewString(), Failed: []Failure{}}

	files, err := collectFiles(path)
	if err != nil {
		return report, err
	}
	if len(files) == 0 {
		log.Printf("import %s: no activity files found", path)
		return report, nil
	}
	log.Printf("import %s: batch %s, %d file(s)", path, report.BatchID, len(files))

	workers := imp.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(files) {
		workers = len(files)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string)
	results := make(chan outcome)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range jobs {
				results <- imp.importFile(ctx, file, force)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, file := range files {
			select {
			case jobs <- file:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var fatal error
	for res := range results {
		switch {
		case res.fatalErr != nil:
			if fatal == nil {
				fatal = res.fatalErr
				cancel()
			}
		case res.fileErr != nil:
			log.Printf("import %s: %v", res.path, res.fileErr)
			report.Failed = append(report.Failed, Failure{Path: res.path, Reason: res.fileErr.Error()})
		case res.duplicate:
			report.Duplicates++
		case res.imported:
			report.Imported++
			report.RejectedSamples += res.rejected
		}
	}
	// Worker completion order scrambles the failure list; sort it so the
	// report is stable for callers and tests.
	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].Path < report.Failed[j].Path
	})

	log.Printf("import %s: done, imported=%d duplicates=%d failed=%d rejected_samples=%d",
		path, report.Imported, report.Duplicates, len(report.Failed), report.RejectedSamples)
	if fatal != nil {
		return report, fatal
	}
	return report, ctx.Err()
}

// importFile runs one file through fingerprint, dedup gate, parse,
// normalize and persist.
func (imp *Importer) importFile(ctx context.Context, path string, force bool) outcome {
	res := outcome{path: path}
	if ctx.Err() != nil {
		res.fatalErr = ctx.Err()
		return res
	}

	data, err := os.ReadFile(path)
	if err != nil {
		res.fileErr = fmt.Errorf("read: %w", err)
		return res
	}
	fingerprint := Fingerprint(data)

	// The gate runs before parsing so a duplicate costs one indexed
	// lookup, not a full decode.
	if !force {
		exists, err := imp.DB.ExistsByFingerprint(ctx, fingerprint)
		if err != nil {
			res.fatalErr = err
			return res
		}
		if exists {
			res.duplicate = true
			return res
		}
	}

	parsed, err := parser.Parse(path, data)
	if err != nil {
		res.fileErr = err
		return res
	}
	normalized, err := normalizer.Normalize(parsed, imp.Normalizer)
	if err != nil {
		res.fileErr = fmt.Errorf("normalize: %w", err)
		return res
	}
	normalized.Activity.ContentFingerprint = fingerprint
	normalized.Activity.SourceFilePath = path

	if force {
		// Full replace: the old row and all children go before the new
		// ones arrive, so a reimport never leaves mixed generations.
		if _, err := imp.DB.DeleteActivityByFingerprint(ctx, fingerprint); err != nil {
			res.fatalErr = err
			return res
		}
	}

	_, err = imp.DB.SaveActivity(ctx, &normalized.Activity,
		normalized.Samples, normalized.RoutePoints, normalized.Laps)
	if errors.Is(err, database.ErrDuplicateActivity) {
		// Lost a race against a concurrent import of the same file.
		res.duplicate = true
		return res
	}
	if err != nil {
		res.fatalErr = err
		return res
	}
	res.imported = true
	res.rejected = normalized.RejectedSamples
	return res
}

// Fingerprint is the content identity of a file: SHA-256 over the raw
// bytes, before any parsing. Renamed copies of the same download hash the
// same; a re-export with different bytes hashes differently even when it
// describes the same workout.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// collectFiles resolves a path to the list of candidate files. A directory
// is walked recursively for known extensions; an explicitly named file is
// always a candidate, whatever its extension, since Parse sniffs content.
func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("import path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if hasActivityExtension(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	sort.Strings(files)
	return files, nil
}

func hasActivityExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fit", ".tcx", ".gpx":
		return true
	}
	return false
}
