package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	envHubToken = "HF_TOKEN"
	envCacheDir = "SPTUNE_CACHE_DIR"
	envOutDir   = "SPTUNE_OUT_DIR"
)

// resolveHubToken prefers the flag or config value, then $HF_TOKEN.
func resolveHubToken(value string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(envHubToken))
}

// resolveCacheDir prefers the flag or config value, then $SPTUNE_CACHE_DIR.
// Empty means the Hub library default.
func resolveCacheDir(value string) string {
	if v := strings.TrimSpace(value); v != "" {
		return filepath.Clean(v)
	}
	if v := strings.TrimSpace(os.Getenv(envCacheDir)); v != "" {
		return filepath.Clean(v)
	}
	return ""
}

// resolvePromptOut picks where init writes a side's checkpoint: the explicit
// path, else <outDir>/<side>_prompt.safetensors with outDir falling back to
// $SPTUNE_OUT_DIR and then ./prompts. Parent directories are created.
func resolvePromptOut(side, explicit, outDir string) (string, error) {
	path := strings.TrimSpace(explicit)
	if path == "" {
		dir := strings.TrimSpace(outDir)
		if dir == "" {
			dir = strings.TrimSpace(os.Getenv(envOutDir))
		}
		if dir == "" {
			dir = filepath.Join(".", "prompts")
		}
		if side == "" {
			return "", fmt.Errorf("prompt side is required")
		}
		path = filepath.Join(dir, side+"_prompt.safetensors")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
