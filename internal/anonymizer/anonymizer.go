// Package anonymizer walks a source tree, replaces detected PII with
// stable type-tagged tokens, writes an anonymized mirror tree, and
// persists the token mapping that makes the whole operation reversible.
package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/raaihank/pii-vault/internal/chunker"
	"github.com/raaihank/pii-vault/internal/config"
	"github.com/raaihank/pii-vault/internal/detector"
	"github.com/raaihank/pii-vault/internal/logger"
	"github.com/raaihank/pii-vault/internal/manifest"
	"github.com/raaihank/pii-vault/internal/memory"
)

// ReportFileName is the optional human-readable summary written next to
// the anonymized tree.
const ReportFileName = "anonymization_report.txt"

// errSkipped marks a file intentionally left out of text processing.
var errSkipped = errors.New("file skipped")

// Result describes a completed anonymization run.
type Result struct {
	OutputDir    string
	ManifestPath string
	Statistics   manifest.Statistics
}

// DirectoryAnonymizer anonymizes directory contents and optionally
// file and directory names. One instance owns one entity memory; reuse
// across Run calls keeps token numbering consistent between passes.
type DirectoryAnonymizer struct {
	cfg    *config.Config
	mem    *memory.EntityMemory
	engine *engine
	policy *filePolicy
	logger *logger.Logger

	mu       sync.Mutex
	stats    manifest.Statistics
	segCache map[string]string // path segment -> anonymized segment
}

// New creates a directory anonymizer around the given detector.
func New(cfg *config.Config, det detector.Detector, log *logger.Logger) (*DirectoryAnonymizer, error) {
	splitter, err := chunker.NewSplitter(cfg.Chunking.MaxSize, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	mem := memory.New()
	return &DirectoryAnonymizer{
		cfg: cfg,
		mem: mem,
		engine: &engine{
			detector:   det,
			splitter:   splitter,
			mem:        mem,
			maxRetries: cfg.Detector.MaxRetries,
			backoff:    cfg.Detector.RetryBackoff,
			logger:     log,
		},
		policy:   newFilePolicy(cfg.Anonymizer),
		logger:   log,
		segCache: make(map[string]string),
	}, nil
}

// Memory exposes the run's entity memory.
func (a *DirectoryAnonymizer) Memory() *memory.EntityMemory {
	return a.mem
}

// PreloadManifest seeds entity memory from a prior run's manifest so this
// pass reuses existing tokens and continues the same numbering.
func (a *DirectoryAnonymizer) PreloadManifest(manifestPath string) error {
	man, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	if err := a.mem.Preload([]memory.Mapping(man.Mappings)); err != nil {
		return err
	}

	a.logger.Info("Preloaded entity memory from manifest",
		zap.String("manifest", manifestPath),
		zap.Int("entries", len(man.Mappings)),
	)
	return nil
}

// Run anonymizes every regular file under inputDir into outputDir and
// writes the manifest. Per-file errors are aggregated into the statistics;
// integrity-threatening errors (mapping conflict, manifest I/O) abort the
// run. An aborted run writes no manifest and its output must not be used.
func (a *DirectoryAnonymizer) Run(ctx context.Context, inputDir, outputDir string) (*Result, error) {
	inputDir, err := filepath.Abs(inputDir)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(inputDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("input directory does not exist: %s", inputDir)
	}

	files, err := a.gatherFiles(inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk input directory: %w", err)
	}

	a.mu.Lock()
	a.stats = manifest.Statistics{TotalFiles: len(files)}
	a.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	a.logger.Info("Starting anonymization run",
		zap.String("input", inputDir),
		zap.String("output", outputDir),
		zap.Int("files", len(files)),
		zap.Int("workers", a.cfg.Anonymizer.MaxWorkers),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalOnce sync.Once
		fatalErr  error
	)
	setFatal := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < a.cfg.Anonymizer.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rel := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				a.processOne(runCtx, inputDir, outputDir, rel, setFatal)
			}
		}()
	}

feed:
	for _, rel := range files {
		select {
		case jobs <- rel:
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if fatalErr != nil {
		return nil, fatalErr
	}
	if err := ctx.Err(); err != nil {
		// Interrupted mid-walk: partial output, no manifest.
		return nil, err
	}

	a.mu.Lock()
	stats := a.stats
	a.mu.Unlock()

	man := manifest.New(a.mem.Export(), stats)
	manifestPath := filepath.Join(outputDir, a.cfg.Output.MappingFile)
	if err := man.Write(manifestPath); err != nil {
		// Anonymized output without a manifest is unrecoverable.
		return nil, err
	}

	if a.cfg.Anonymizer.CreateReport {
		if err := a.writeReport(outputDir, stats); err != nil {
			a.logger.Warn("Failed to write report", zap.Error(err))
		}
	}

	a.logger.Info("Anonymization run complete",
		zap.Int("processed", stats.ProcessedFiles),
		zap.Int("skipped", stats.SkippedFiles),
		zap.Int("failed", stats.FailedFiles),
		zap.Int("entities", a.mem.Len()),
		zap.String("manifest", manifestPath),
	)

	return &Result{
		OutputDir:    outputDir,
		ManifestPath: manifestPath,
		Statistics:   stats,
	}, nil
}

// gatherFiles collects relative paths of all regular files, pruning
// excluded directories. Paths are ordered shallowest-first so parent
// directory names are tokenized before their children under sequential
// processing.
func (a *DirectoryAnonymizer) gatherFiles(inputDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(inputDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, rerr := filepath.Rel(inputDir, p)
		if rerr != nil {
			return rerr
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if a.policy.excludeDir(rel) {
				a.logger.Debug("Skipping excluded directory", zap.String("dir", rel))
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		di := strings.Count(files[i], string(filepath.Separator))
		dj := strings.Count(files[j], string(filepath.Separator))
		if di != dj {
			return di < dj
		}
		return files[i] < files[j]
	})

	return files, nil
}

// processOne classifies one file's outcome into the run statistics.
func (a *DirectoryAnonymizer) processOne(ctx context.Context, inputDir, outputDir, rel string, setFatal func(error)) {
	err := a.processFile(ctx, inputDir, outputDir, rel)

	var (
		decodeErr   *DecodeError
		conflictErr *memory.ConflictError
	)
	switch {
	case err == nil:
		a.mu.Lock()
		a.stats.ProcessedFiles++
		a.mu.Unlock()
	case errors.Is(err, errSkipped):
		a.mu.Lock()
		a.stats.SkippedFiles++
		a.mu.Unlock()
	case errors.As(err, &decodeErr):
		a.logger.Warn("Skipping undecodable file", zap.String("file", rel), zap.Error(err))
		a.mu.Lock()
		a.stats.SkippedFiles++
		a.mu.Unlock()
	case errors.As(err, &conflictErr):
		setFatal(err)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Run-level cancellation is reported by Run itself.
	default:
		a.logger.Error("Failed to process file", zap.String("file", rel), zap.Error(err))
		a.mu.Lock()
		a.stats.FailedFiles++
		a.stats.Errors = append(a.stats.Errors, manifest.FileError{File: rel, Error: err.Error()})
		a.mu.Unlock()
	}
}

// processFile anonymizes a single file into the output tree.
func (a *DirectoryAnonymizer) processFile(ctx context.Context, inputDir, outputDir, rel string) error {
	if a.policy.excluded(rel) || !a.policy.included(rel) {
		a.logger.Debug("Skipping file by pattern", zap.String("file", rel))
		return errSkipped
	}

	content, err := os.ReadFile(filepath.Join(inputDir, rel))
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	if !a.policy.isTextType(rel) {
		return a.handleNonText(ctx, outputDir, rel, content)
	}
	if looksBinary(content) {
		return &DecodeError{Path: rel, Reason: "binary content behind a text extension"}
	}

	anonymized, err := a.engine.anonymizeText(ctx, string(content))
	if err != nil {
		return err
	}

	outRel, err := a.outputRelPath(ctx, rel)
	if err != nil {
		return err
	}

	return writeOutput(filepath.Join(outputDir, outRel), []byte(anonymized))
}

// handleNonText copies binaries verbatim when configured, otherwise skips.
func (a *DirectoryAnonymizer) handleNonText(ctx context.Context, outputDir, rel string, content []byte) error {
	if !a.cfg.Anonymizer.CopyBinary {
		a.logger.Debug("Skipping file (not in allowed types)", zap.String("file", rel))
		return errSkipped
	}

	outRel, err := a.outputRelPath(ctx, rel)
	if err != nil {
		return err
	}
	if err := writeOutput(filepath.Join(outputDir, outRel), content); err != nil {
		return err
	}

	a.logger.Debug("Copied file verbatim", zap.String("file", rel))
	return errSkipped
}

// outputRelPath maps an input-relative path to its output-relative path,
// tokenizing every segment unless original filenames are kept.
func (a *DirectoryAnonymizer) outputRelPath(ctx context.Context, rel string) (string, error) {
	if a.cfg.Anonymizer.KeepOriginalFilenames {
		return rel, nil
	}

	segments := strings.Split(filepath.ToSlash(rel), "/")
	out := make([]string, len(segments))
	for i, segment := range segments {
		isFile := i == len(segments)-1
		anon, err := a.anonymizeSegment(ctx, segment, isFile)
		if err != nil {
			return "", err
		}
		out[i] = anon
	}

	return filepath.FromSlash(path.Join(out...)), nil
}

// anonymizeSegment tokenizes one path segment through the shared entity
// memory, so a name in a path gets the same token as the same name in
// file content. File extensions (all suffixes, .tar.gz style) are never
// tokenized.
func (a *DirectoryAnonymizer) anonymizeSegment(ctx context.Context, segment string, isFile bool) (string, error) {
	kind := "d"
	if isFile {
		kind = "f"
	}
	key := kind + "\x00" + segment

	a.mu.Lock()
	if cached, ok := a.segCache[key]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	base, ext := segment, ""
	if isFile {
		for e := filepath.Ext(base); e != "" && e != base; e = filepath.Ext(base) {
			ext = e + ext
			base = strings.TrimSuffix(base, e)
		}
	}

	anonBase, err := a.engine.anonymizeText(ctx, base)
	if err != nil {
		return "", err
	}
	anon := strings.TrimSpace(anonBase) + ext

	// Two workers may race here; memory guarantees they built the same
	// result, so the duplicate store is harmless.
	a.mu.Lock()
	a.segCache[key] = anon
	a.mu.Unlock()

	return anon, nil
}

// writeReport writes the human-readable run summary.
func (a *DirectoryAnonymizer) writeReport(outputDir string, stats manifest.Statistics) error {
	var b strings.Builder
	b.WriteString("Anonymization Report\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&b, "Total files found: %d\n", stats.TotalFiles)
	fmt.Fprintf(&b, "Files processed: %d\n", stats.ProcessedFiles)
	fmt.Fprintf(&b, "Files skipped: %d\n", stats.SkippedFiles)
	fmt.Fprintf(&b, "Files failed: %d\n", stats.FailedFiles)

	if len(stats.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors encountered: %d\n", len(stats.Errors))
		for i, fileErr := range stats.Errors {
			if i >= 10 {
				break
			}
			fmt.Fprintf(&b, "  - %s: %s\n", fileErr.File, fileErr.Error)
		}
	}

	b.WriteString("\n" + strings.Repeat("=", 50) + "\n")
	b.WriteString("Anonymization summary:\n")

	counts := make(map[string]int)
	for _, entry := range a.mem.Export() {
		if tag, _, ok := memory.ParseToken(entry.Token); ok {
			counts[tag]++
		}
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		fmt.Fprintf(&b, "  - %s: %d unique replacements\n", tag, counts[tag])
	}

	return os.WriteFile(filepath.Join(outputDir, ReportFileName), []byte(b.String()), 0o644)
}

func writeOutput(outPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(outPath, content, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
