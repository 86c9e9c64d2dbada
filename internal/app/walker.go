package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"qrrename/internal/metrics"
	"qrrename/internal/worker"
)

// Registrar is told how many tasks a directory will produce before any of
// them is sent
type Registrar interface {
	Expect(dir string, n int)
}

// RootError reports a root directory that could not be scanned
type RootError struct {
	Root string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("cannot scan %s: %v", e.Root, e.Err)
}

func (e *RootError) Unwrap() error {
	return e.Err
}

// WalkerOptions controls which files become tasks
type WalkerOptions struct {
	Extensions     []string
	Exclude        []string
	FollowSymlinks bool
}

// DirectoryWalker enumerates image files under a set of roots. Every
// directory and file is keyed by its real path and visited once, so
// overlapping roots and symlink cycles produce no duplicates. A symlinked
// file whose target is itself scanned under a root is left to the target.
type DirectoryWalker struct {
	extensions     map[string]bool
	exclude        []string
	followSymlinks bool
	registrar      Registrar
	metrics        *metrics.Collector
	logger         *zap.Logger

	seenDirs  map[string]bool
	seenFiles map[string]bool
	realRoots []string
}

// NewDirectoryWalker creates a walker. Extensions are matched case-insensitively.
func NewDirectoryWalker(opts WalkerOptions, registrar Registrar, metricsCollector *metrics.Collector, logger *zap.Logger) *DirectoryWalker {
	exts := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}

	return &DirectoryWalker{
		extensions:     exts,
		exclude:        opts.Exclude,
		followSymlinks: opts.FollowSymlinks,
		registrar:      registrar,
		metrics:        metricsCollector,
		logger:         logger,
		seenDirs:       make(map[string]bool),
		seenFiles:      make(map[string]bool),
	}
}

// Walk sends a task for every image file under roots and returns the roots
// that could not be scanned. It stops early when ctx is done. The caller
// closes tasks.
func (w *DirectoryWalker) Walk(ctx context.Context, roots []string, tasks chan<- worker.Task) []*RootError {
	var rootErrs []*RootError

	for _, root := range roots {
		if resolved, err := filepath.EvalSymlinks(root); err == nil {
			if abs, err := filepath.Abs(resolved); err == nil {
				w.realRoots = append(w.realRoots, abs)
			}
		}
	}

	for _, root := range roots {
		if ctx.Err() != nil {
			break
		}

		if err := w.walkRoot(ctx, root, tasks); err != nil {
			rootErr := &RootError{Root: root, Err: err}
			w.logger.Error("Skipping root", zap.String("root", root), zap.Error(err))
			w.metrics.IncRootError()
			rootErrs = append(rootErrs, rootErr)
		}
	}

	return rootErrs
}

func (w *DirectoryWalker) walkRoot(ctx context.Context, root string, tasks chan<- worker.Task) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}

	// the root itself must be listable; errors below it are logged
	entries, err := os.ReadDir(abs)
	if err != nil {
		return err
	}

	w.walkDir(ctx, abs, abs, entries, tasks)
	return nil
}

func (w *DirectoryWalker) walkDir(ctx context.Context, root, dir string, entries []os.DirEntry, tasks chan<- worker.Task) {
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		w.logger.Warn("Cannot resolve directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	if w.seenDirs[realDir] {
		w.logger.Debug("Directory already visited", zap.String("dir", dir), zap.String("real_path", realDir))
		return
	}
	w.seenDirs[realDir] = true

	var files []string
	var subdirs []string

	for _, entry := range entries {
		name := entry.Name()
		if w.excluded(name) {
			continue
		}
		path := filepath.Join(dir, name)

		isDir, isFile := entry.IsDir(), entry.Type().IsRegular()
		realPath := filepath.Join(realDir, name)

		if entry.Type()&os.ModeSymlink != 0 {
			if !w.followSymlinks {
				continue
			}
			info, err := os.Stat(path)
			if err != nil {
				w.logger.Debug("Skipping broken symlink", zap.String("path", path), zap.Error(err))
				continue
			}
			isDir, isFile = info.IsDir(), info.Mode().IsRegular()
			if isFile {
				if realPath, err = filepath.EvalSymlinks(path); err != nil {
					continue
				}
				if w.scannedDirectly(realPath) {
					w.logger.Debug("Skipping symlink to scanned file", zap.String("path", path), zap.String("real_path", realPath))
					continue
				}
			}
		}

		switch {
		case isDir:
			subdirs = append(subdirs, path)
		case isFile && w.extensions[strings.ToLower(filepath.Ext(name))]:
			if w.seenFiles[realPath] {
				continue
			}
			w.seenFiles[realPath] = true
			files = append(files, path)
		}
	}

	if len(files) > 0 {
		w.registrar.Expect(dir, len(files))
		w.metrics.AddDiscovered(len(files))
		w.logger.Debug("Found images", zap.String("dir", dir), zap.Int("count", len(files)))

		for _, path := range files {
			select {
			case tasks <- worker.Task{Path: path, Root: root, Dir: dir}:
			case <-ctx.Done():
				return
			}
		}
	}

	for _, sub := range subdirs {
		if ctx.Err() != nil {
			return
		}
		entries, err := os.ReadDir(sub)
		if err != nil {
			w.logger.Warn("Cannot read directory", zap.String("dir", sub), zap.Error(err))
			continue
		}
		w.walkDir(ctx, root, sub, entries, tasks)
	}
}

// scannedDirectly reports whether realPath is reached as a regular file by
// walking one of the roots
func (w *DirectoryWalker) scannedDirectly(realPath string) bool {
	if !w.extensions[strings.ToLower(filepath.Ext(realPath))] {
		return false
	}

	for _, root := range w.realRoots {
		rel, err := filepath.Rel(root, realPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		reached := true
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			if w.excluded(part) {
				reached = false
				break
			}
		}
		if reached {
			return true
		}
	}
	return false
}

func (w *DirectoryWalker) excluded(name string) bool {
	for _, pattern := range w.exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
