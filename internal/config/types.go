package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Anonymizer AnonymizerConfig `yaml:"anonymizer" mapstructure:"anonymizer"`
	Detector   DetectorConfig   `yaml:"detector" mapstructure:"detector"`
	Chunking   ChunkingConfig   `yaml:"chunking" mapstructure:"chunking"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// AnonymizerConfig controls the directory walk and file policy
type AnonymizerConfig struct {
	// FileTypes is the extension allowlist for text processing, e.g. [".txt", ".md"].
	// An empty list means any file that passes the binary sniff is processed.
	FileTypes []string `yaml:"file_types" mapstructure:"file_types"`
	// IncludePatterns / ExcludePatterns are doublestar globs matched against
	// the path relative to the input root. Excludes win over includes.
	IncludePatterns []string `yaml:"include_patterns" mapstructure:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns" mapstructure:"exclude_patterns"`
	// KeepOriginalFilenames disables tokenization of file and directory names.
	KeepOriginalFilenames bool `yaml:"keep_original_filenames" mapstructure:"keep_original_filenames"`
	// CopyBinary copies binary files verbatim instead of skipping them.
	CopyBinary bool `yaml:"copy_binary" mapstructure:"copy_binary"`
	// MaxWorkers bounds file-level concurrency. 1 gives deterministic ordinals.
	MaxWorkers   int  `yaml:"max_workers" mapstructure:"max_workers"`
	CreateReport bool `yaml:"create_report" mapstructure:"create_report"`
}

// DetectorConfig selects and tunes the PII detection backend
type DetectorConfig struct {
	// Backend is one of: pattern, model, remote.
	Backend string `yaml:"backend" mapstructure:"backend"`
	// EntityTypes lists PII categories to detect, or ["all"].
	EntityTypes []string `yaml:"entity_types" mapstructure:"entity_types"`
	// MaxRetries bounds per-chunk retries on detection failure.
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	// MaxConcurrent bounds in-flight detector calls across all workers;
	// 0 disables the semaphore.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	// RequestsPerSec rate-limits detector calls; 0 disables the limiter.
	RequestsPerSec float64      `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	Model          ModelConfig  `yaml:"model" mapstructure:"model"`
	Remote         RemoteConfig `yaml:"remote" mapstructure:"remote"`
	Cache          CacheConfig  `yaml:"cache" mapstructure:"cache"`
}

// ModelConfig configures the local NER model backend
type ModelConfig struct {
	Path                string  `yaml:"path" mapstructure:"path"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MaxLength           int     `yaml:"max_length" mapstructure:"max_length"`
}

// RemoteConfig configures the HTTP detector backend
type RemoteConfig struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CacheConfig configures the Redis detection-result cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL  string        `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// ChunkingConfig controls how large texts are windowed for the detector
type ChunkingConfig struct {
	// MaxSize is the maximum chunk size in runes.
	MaxSize int `yaml:"max_size" mapstructure:"max_size"`
	// Overlap is the number of runes shared between adjacent chunks.
	Overlap int `yaml:"overlap" mapstructure:"overlap"`
}

// OutputConfig controls run artifacts
type OutputConfig struct {
	// MappingFile is the manifest filename written into the output directory.
	MappingFile string `yaml:"mapping_file" mapstructure:"mapping_file"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Anonymizer: AnonymizerConfig{
			FileTypes:       []string{".txt", ".md", ".csv", ".json", ".html", ".py", ".java", ".ipynb"},
			ExcludePatterns: []string{"**/.git/**", "**/__pycache__/**", "**/node_modules/**"},
			MaxWorkers:      4,
			CreateReport:    true,
		},
		Detector: DetectorConfig{
			Backend:        "pattern",
			EntityTypes:    []string{"all"},
			MaxRetries:     3,
			RetryBackoff:   500 * time.Millisecond,
			MaxConcurrent:  2,
			RequestsPerSec: 0,
			Model: ModelConfig{
				ConfidenceThreshold: 0.35,
				MaxLength:           512,
			},
			Remote: RemoteConfig{
				URL:     "http://localhost:8431",
				Timeout: 30 * time.Second,
			},
			Cache: CacheConfig{
				Enabled:   false,
				RedisURL:  "redis://localhost:6379/0",
				KeyPrefix: "piivault:detect:",
				TTL:       24 * time.Hour,
			},
		},
		Chunking: ChunkingConfig{
			MaxSize: 4000,
			Overlap: 200,
		},
		Output: OutputConfig{
			MappingFile: "anonymization_mapping.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
