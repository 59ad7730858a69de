package anonymizer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/raaihank/pii-vault/internal/config"
	"github.com/raaihank/pii-vault/internal/detector"
	"github.com/raaihank/pii-vault/internal/logger"
	"github.com/raaihank/pii-vault/internal/manifest"
)

func testConfig() *config.Config {
	cfg := config.GetDefaults()
	cfg.Anonymizer.MaxWorkers = 1
	cfg.Anonymizer.CreateReport = true
	cfg.Detector.MaxRetries = 0
	return cfg
}

func newTestAnonymizer(t *testing.T, cfg *config.Config) *DirectoryAnonymizer {
	t.Helper()
	log := logger.NewNop()
	det, err := detector.NewPatternDetector([]string{"all"}, log)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	a, err := New(cfg, det, log)
	if err != nil {
		t.Fatalf("Failed to create anonymizer: %v", err)
	}
	return a
}

func writeTree(t *testing.T, root string, files map[string][]byte) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		content, rerr := os.ReadFile(p)
		if rerr != nil {
			return rerr
		}
		out[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to read tree %s: %v", root, err)
	}
	return out
}

func TestRunRoundTrip(t *testing.T) {
	input := t.TempDir()
	anonDir := filepath.Join(t.TempDir(), "anon")
	restoredDir := filepath.Join(t.TempDir(), "restored")

	original := map[string][]byte{
		"report-123-45-6789.txt": []byte("SSN 123-45-6789 belongs to someone reachable at alice@example.com.\n"),
		"notes/contacts.md":      []byte("Primary: alice@example.com\nSecondary: bob@example.com\nCall 555-867-5309.\n"),
		"notes/clean.txt":        []byte("nothing sensitive in this one\n"),
	}
	writeTree(t, input, original)

	cfg := testConfig()
	a := newTestAnonymizer(t, cfg)

	result, err := a.Run(context.Background(), input, anonDir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Statistics.ProcessedFiles != 3 || result.Statistics.FailedFiles != 0 {
		t.Fatalf("Statistics = %+v", result.Statistics)
	}

	anonTree := readTree(t, anonDir)
	for rel, content := range anonTree {
		if rel == cfg.Output.MappingFile || rel == ReportFileName {
			continue
		}
		for _, raw := range []string{"123-45-6789", "alice@example.com", "bob@example.com", "555-867-5309"} {
			if strings.Contains(content, raw) || strings.Contains(rel, raw) {
				t.Errorf("Raw PII %q survives in %s", raw, rel)
			}
		}
	}

	// The SSN in the filename shares its token with the SSN in content.
	var ssnFile string
	for rel := range anonTree {
		if strings.Contains(rel, "REDACTED_SSN1") {
			ssnFile = rel
		}
	}
	if ssnFile == "" {
		t.Fatalf("Filename not tokenized: %v", keysOf(anonTree))
	}
	if !strings.HasSuffix(ssnFile, ".txt") {
		t.Errorf("Extension not preserved: %s", ssnFile)
	}
	if !strings.Contains(anonTree[ssnFile], "REDACTED_SSN1") {
		t.Errorf("Content token differs from filename token: %s", anonTree[ssnFile])
	}

	d, err := NewDeanonymizer(result.ManifestPath, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to load deanonymizer: %v", err)
	}
	if _, err := d.Run(context.Background(), anonDir, restoredDir, true); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	restored := readTree(t, restoredDir)
	if len(restored) != len(original) {
		t.Fatalf("Restored %d files, want %d: %v", len(restored), len(original), keysOf(restored))
	}
	for rel, content := range original {
		if restored[rel] != string(content) {
			t.Errorf("File %s not restored byte-for-byte:\n got: %q\nwant: %q", rel, restored[rel], string(content))
		}
	}
}

func keysOf(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestRunFilePolicy(t *testing.T) {
	t.Run("BinaryExtensionSkipped", func(t *testing.T) {
		input := t.TempDir()
		writeTree(t, input, map[string][]byte{
			"data.bin":  {0x00, 0x01, 0x02},
			"readme.md": []byte("hello alice@example.com"),
		})

		cfg := testConfig()
		a := newTestAnonymizer(t, cfg)
		result, err := a.Run(context.Background(), input, filepath.Join(t.TempDir(), "out"))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Statistics.ProcessedFiles != 1 || result.Statistics.SkippedFiles != 1 {
			t.Errorf("Statistics = %+v", result.Statistics)
		}
	})

	t.Run("BinaryCopiedVerbatim", func(t *testing.T) {
		input := t.TempDir()
		outDir := filepath.Join(t.TempDir(), "out")
		raw := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
		writeTree(t, input, map[string][]byte{"image.png": raw})

		cfg := testConfig()
		cfg.Anonymizer.CopyBinary = true
		cfg.Anonymizer.KeepOriginalFilenames = true
		a := newTestAnonymizer(t, cfg)

		result, err := a.Run(context.Background(), input, outDir)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		// Copied files are counted as skipped: their content was never scanned.
		if result.Statistics.SkippedFiles != 1 {
			t.Errorf("Statistics = %+v", result.Statistics)
		}

		copied, err := os.ReadFile(filepath.Join(outDir, "image.png"))
		if err != nil {
			t.Fatalf("Copied file missing: %v", err)
		}
		if string(copied) != string(raw) {
			t.Error("Binary file modified during copy")
		}
	})

	t.Run("BinaryBehindTextExtensionSkipped", func(t *testing.T) {
		input := t.TempDir()
		writeTree(t, input, map[string][]byte{
			"fake.txt": {'h', 'i', 0x00, 'x'},
		})

		cfg := testConfig()
		a := newTestAnonymizer(t, cfg)
		result, err := a.Run(context.Background(), input, filepath.Join(t.TempDir(), "out"))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Statistics.SkippedFiles != 1 || result.Statistics.FailedFiles != 0 {
			t.Errorf("Undecodable file must be skipped, not failed: %+v", result.Statistics)
		}
	})

	t.Run("ExcludedDirectoryPruned", func(t *testing.T) {
		input := t.TempDir()
		writeTree(t, input, map[string][]byte{
			".git/config":  []byte("secret alice@example.com"),
			"kept/file.md": []byte("hello"),
		})

		cfg := testConfig()
		a := newTestAnonymizer(t, cfg)
		result, err := a.Run(context.Background(), input, filepath.Join(t.TempDir(), "out"))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		// Pruned directories never reach the statistics.
		if result.Statistics.TotalFiles != 1 {
			t.Errorf("Statistics = %+v", result.Statistics)
		}
	})

	t.Run("IncludePatternsRestrict", func(t *testing.T) {
		input := t.TempDir()
		writeTree(t, input, map[string][]byte{
			"a.md":  []byte("x"),
			"b.txt": []byte("y"),
		})

		cfg := testConfig()
		cfg.Anonymizer.IncludePatterns = []string{"**/*.md", "*.md"}
		a := newTestAnonymizer(t, cfg)
		result, err := a.Run(context.Background(), input, filepath.Join(t.TempDir(), "out"))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Statistics.ProcessedFiles != 1 || result.Statistics.SkippedFiles != 1 {
			t.Errorf("Statistics = %+v", result.Statistics)
		}
	})
}

func TestRunConcurrencyConsistency(t *testing.T) {
	files := make(map[string][]byte)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		files[name+".txt"] = []byte("Contact " + name + "@corp.example or 555-867-5309.\n")
	}

	mappingSet := func(workers int) map[string]bool {
		input := t.TempDir()
		writeTree(t, input, files)

		cfg := testConfig()
		cfg.Anonymizer.MaxWorkers = workers
		cfg.Anonymizer.KeepOriginalFilenames = true
		a := newTestAnonymizer(t, cfg)

		result, err := a.Run(context.Background(), input, filepath.Join(t.TempDir(), "out"))
		if err != nil {
			t.Fatalf("Run with %d workers failed: %v", workers, err)
		}

		man, err := manifest.Load(result.ManifestPath)
		if err != nil {
			t.Fatalf("Load manifest: %v", err)
		}
		set := make(map[string]bool)
		for _, pair := range man.Mappings {
			set[pair.Original] = true
		}
		return set
	}

	sequential := mappingSet(1)
	concurrent := mappingSet(8)

	// Ordinal assignment may differ between runs; the set of entities must not.
	if len(sequential) != len(concurrent) {
		t.Fatalf("Entity sets differ: %d vs %d", len(sequential), len(concurrent))
	}
	for original := range sequential {
		if !concurrent[original] {
			t.Errorf("Entity %q missing from concurrent run", original)
		}
	}
}

func TestRunIdentityAcrossFiles(t *testing.T) {
	input := t.TempDir()
	writeTree(t, input, map[string][]byte{
		"one.txt": []byte("mail alice@example.com"),
		"two.txt": []byte("cc alice@example.com"),
	})

	cfg := testConfig()
	cfg.Anonymizer.KeepOriginalFilenames = true
	a := newTestAnonymizer(t, cfg)
	outDir := filepath.Join(t.TempDir(), "out")

	if _, err := a.Run(context.Background(), input, outDir); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	tree := readTree(t, outDir)
	if tree["one.txt"] != "mail REDACTED_EMAIL1" || tree["two.txt"] != "cc REDACTED_EMAIL1" {
		t.Errorf("Same entity must share one token across files: %q / %q", tree["one.txt"], tree["two.txt"])
	}
}

func TestPreloadManifestContinuity(t *testing.T) {
	input1 := t.TempDir()
	writeTree(t, input1, map[string][]byte{"a.txt": []byte("alice@example.com")})

	cfg := testConfig()
	cfg.Anonymizer.KeepOriginalFilenames = true

	first := newTestAnonymizer(t, cfg)
	result, err := first.Run(context.Background(), input1, filepath.Join(t.TempDir(), "out1"))
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	input2 := t.TempDir()
	writeTree(t, input2, map[string][]byte{"b.txt": []byte("alice@example.com and carol@example.com")})

	second := newTestAnonymizer(t, cfg)
	if err := second.PreloadManifest(result.ManifestPath); err != nil {
		t.Fatalf("PreloadManifest failed: %v", err)
	}
	out2 := filepath.Join(t.TempDir(), "out2")
	if _, err := second.Run(context.Background(), input2, out2); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	content := readTree(t, out2)["b.txt"]
	if !strings.Contains(content, "REDACTED_EMAIL1") || !strings.Contains(content, "REDACTED_EMAIL2") {
		t.Errorf("Preloaded run must reuse tokens and continue numbering: %q", content)
	}
}

func TestRunCancelledWritesNoManifest(t *testing.T) {
	input := t.TempDir()
	writeTree(t, input, map[string][]byte{"a.txt": []byte("alice@example.com")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig()
	a := newTestAnonymizer(t, cfg)
	outDir := filepath.Join(t.TempDir(), "out")

	if _, err := a.Run(ctx, input, outDir); err == nil {
		t.Fatal("Cancelled run must return an error")
	}
	if _, err := os.Stat(filepath.Join(outDir, cfg.Output.MappingFile)); !os.IsNotExist(err) {
		t.Error("Cancelled run must not write a manifest")
	}
}

func TestRunMissingInput(t *testing.T) {
	cfg := testConfig()
	a := newTestAnonymizer(t, cfg)

	if _, err := a.Run(context.Background(), filepath.Join(t.TempDir(), "absent"), t.TempDir()); err == nil {
		t.Error("Missing input directory must fail")
	}
}
