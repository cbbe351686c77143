package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// Input limits for configuration files and environment overrides.
const (
	maxConfigSize = 10 << 20
	maxJSONDepth  = 100
	maxEnvVarLen  = 10000
	maxPathLen    = 4096
)

func validateConfigPath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("empty config path")
	case len(path) > maxPathLen:
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	case filepath.Ext(path) != ".json":
		return fmt.Errorf("only JSON config files allowed: %s", path)
	}

	// Relative paths must stay below the working directory.
	if !filepath.IsAbs(path) {
		parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
		if slices.Contains(parts, "..") {
			return fmt.Errorf("path traversal not allowed: %s", path)
		}
	}
	return nil
}

// safeReadFile reads a regular JSON file no larger than maxConfigSize.
func safeReadFile(fs afero.Fs, path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	return data, nil
}

func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// validateJSONDepth walks the token stream and rejects documents nested
// deeper than maxJSONDepth or with unbalanced delimiters.
func validateJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("malformed JSON: %w", err)
		}

		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch delim {
		case '{', '[':
			if depth++; depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: %d > %d", depth, maxJSONDepth)
			}
		default:
			depth--
		}
	}

	if depth != 0 {
		return fmt.Errorf("malformed JSON: unclosed brackets (depth=%d)", depth)
	}
	return nil
}
