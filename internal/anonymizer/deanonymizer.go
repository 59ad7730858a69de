package anonymizer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/pii-vault/internal/logger"
	"github.com/raaihank/pii-vault/internal/manifest"
	"github.com/raaihank/pii-vault/internal/memory"
)

// RestoreResult summarizes a restoration run.
type RestoreResult struct {
	OutputDir     string
	TotalFiles    int
	RestoredFiles int
	FailedFiles   int
	Errors        []manifest.FileError
}

// Deanonymizer restores an anonymized tree to its original content using
// only the persisted manifest. The mapping is read-only here; restoration
// never mutates entity memory.
type Deanonymizer struct {
	manifestPath string
	// pairs is ordered by descending token length so a token that is a
	// literal prefix of another is never matched inside the longer one.
	pairs  []memory.Mapping
	logger *logger.Logger
}

// NewDeanonymizer loads the manifest at manifestPath.
func NewDeanonymizer(manifestPath string, log *logger.Logger) (*Deanonymizer, error) {
	man, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, err
	}

	log.Info("Loaded manifest",
		zap.String("manifest", manifestPath),
		zap.String("run_id", man.RunID),
		zap.Int("entries", len(man.Mappings)),
	)

	return &Deanonymizer{
		manifestPath: abs,
		pairs:        man.PairsByTokenLength(),
		logger:       log,
	}, nil
}

// RestoreText substitutes every token back to its original literal,
// longest token first.
func (d *Deanonymizer) RestoreText(text string) string {
	for _, pair := range d.pairs {
		text = strings.ReplaceAll(text, pair.Token, pair.Original)
	}
	return text
}

// Run restores anonymizedDir into outputDir. restoreFilenames also maps
// tokens inside path segments back to their originals. The restored tree
// is byte-for-byte equal to the original at every location that was
// successfully anonymized.
func (d *Deanonymizer) Run(ctx context.Context, anonymizedDir, outputDir string, restoreFilenames bool) (*RestoreResult, error) {
	anonymizedDir, err := filepath.Abs(anonymizedDir)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(anonymizedDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("anonymized directory does not exist: %s", anonymizedDir)
	}

	result := &RestoreResult{OutputDir: outputDir}

	err = filepath.WalkDir(anonymizedDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}

		// Run artifacts are not part of the original tree.
		if entry.Name() == ReportFileName {
			return nil
		}
		if abs, aerr := filepath.Abs(p); aerr == nil && abs == d.manifestPath {
			return nil
		}

		rel, rerr := filepath.Rel(anonymizedDir, p)
		if rerr != nil {
			return rerr
		}

		result.TotalFiles++
		if ferr := d.restoreFile(p, rel, outputDir, restoreFilenames); ferr != nil {
			d.logger.Error("Failed to restore file", zap.String("file", rel), zap.Error(ferr))
			result.FailedFiles++
			result.Errors = append(result.Errors, manifest.FileError{File: rel, Error: ferr.Error()})
			return nil
		}
		result.RestoredFiles++
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("Restoration complete",
		zap.Int("total", result.TotalFiles),
		zap.Int("restored", result.RestoredFiles),
		zap.Int("failed", result.FailedFiles),
	)

	return result, nil
}

// restoreFile rewrites one file into the restored tree.
func (d *Deanonymizer) restoreFile(srcPath, rel, outputDir string, restoreFilenames bool) error {
	content, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	outRel := rel
	if restoreFilenames {
		segments := strings.Split(filepath.ToSlash(rel), "/")
		for i, segment := range segments {
			segments[i] = d.RestoreText(segment)
		}
		outRel = filepath.FromSlash(path.Join(segments...))
	}

	// Binary files were copied verbatim; tokens never occur in them.
	restored := content
	if !looksBinary(content) {
		restored = []byte(d.RestoreText(string(content)))
	}

	return writeOutput(filepath.Join(outputDir, outRel), restored)
}
