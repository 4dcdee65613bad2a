// Package config persists the small, fixed set of knobs recorded in a
// cache directory's config file: the format version, block size, and
// hash algorithm. Unlike a full application config, none of these are
// meant to be edited by hand after the cache is created — they are
// written once on first open and checked for a match on every
// subsequent open.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config file format version written by this
// package. Bumping it is a breaking change to the on-disk format.
const CurrentVersion = 1

// HashAlgorithmSHA256 is the only hash algorithm this implementation
// currently produces or accepts.
const HashAlgorithmSHA256 = "sha256"

// Config is the persisted, immutable-per-cache configuration.
type Config struct {
	Version       uint32 `yaml:"version"`
	BlockSize     uint64 `yaml:"block_size"`
	HashAlgorithm string `yaml:"hash_algorithm"`
}

// FileName is the name of the config file within a cache directory.
const FileName = "config"

// ErrMismatch is returned by Validate when the on-disk config does
// not match the caller's requested block size or hash algorithm.
var ErrMismatch = errors.New("config: mismatched cache configuration")

// New returns a Config for a freshly created cache using blockSize.
func New(blockSize uint64) Config {
	return Config{
		Version:       CurrentVersion,
		BlockSize:     blockSize,
		HashAlgorithm: HashAlgorithmSHA256,
	}
}

// Save writes cfg to <cacheDir>/config, creating the directory if needed.
func Save(cfg Config, cacheDir string) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("config: create cache dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	path := filepath.Join(cacheDir, FileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Load reads <cacheDir>/config. It returns os.ErrNotExist (wrapped) when
// the cache directory has never been initialized.
func Load(cacheDir string) (Config, error) {
	path := filepath.Join(cacheDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that an existing on-disk config is compatible with the
// block size requested for this open. A cache opened with a different
// block size would hash identical content to different addresses,
// silently corrupting deduplication, so any mismatch is rejected outright.
func Validate(existing Config, wantBlockSize uint64) error {
	if existing.BlockSize != wantBlockSize {
		return fmt.Errorf("%w: cache has block_size=%d, requested %d", ErrMismatch, existing.BlockSize, wantBlockSize)
	}
	if existing.HashAlgorithm != HashAlgorithmSHA256 {
		return fmt.Errorf("%w: cache uses hash_algorithm=%q, this build supports %q",
			ErrMismatch, existing.HashAlgorithm, HashAlgorithmSHA256)
	}
	return nil
}
