// Package batch expands command line arguments into the list of capture
// files a scan runs over.
package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/qrscan/internal/frame"
)

// DiscoverOptions controls how directories are expanded.
type DiscoverOptions struct {
	// Recursive descends into subdirectories.
	Recursive bool
	// Include restricts directory entries to base names matching one of the
	// patterns. Empty means every format frame.LoadFile understands.
	Include []string
	// Exclude drops base names matching any pattern. It applies to explicit
	// files as well.
	Exclude []string
}

// Discover returns the capture files named by args. Files are kept in
// argument order; directory contents are added in lexical order.
func Discover(args []string, opts DiscoverOptions) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			found, err := discoverInDirectory(arg, opts)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
		} else if !matchesAnyPattern(arg, opts.Exclude) {
			files = append(files, arg)
		}
	}

	return files, nil
}

// discoverInDirectory walks dir, skipping subdirectories unless recursive.
func discoverInDirectory(dir string, opts DiscoverOptions) ([]string, error) {
	var files []string

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if !opts.Recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		if shouldIncludeFile(path, opts) {
			files = append(files, path)
		}
		return nil
	}

	if err := filepath.WalkDir(dir, walkFn); err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

// shouldIncludeFile applies exclude patterns first, then include patterns
// or the supported format list.
func shouldIncludeFile(path string, opts DiscoverOptions) bool {
	if matchesAnyPattern(path, opts.Exclude) {
		return false
	}
	if len(opts.Include) == 0 {
		return frame.IsSupported(path)
	}
	return matchesAnyPattern(path, opts.Include)
}

// matchesAnyPattern checks the base name of path against shell patterns.
func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
