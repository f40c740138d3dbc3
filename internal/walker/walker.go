// Package walker performs the recursive traversal of a space root. Directory
// discovery is serial and lexicographic within a subtree; content extraction
// fans out across a bounded worker pool, so the merged output stream carries
// no cross-file ordering guarantee.
package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/beaglenote/wikidex/internal/debug"
	"github.com/beaglenote/wikidex/internal/extract"
	"github.com/beaglenote/wikidex/internal/types"
)

// aicontextDir holds generated folder summaries; it is walked only when the
// generator asks for it.
const aicontextDir = ".aicontext"

// templatesDir is first-class content despite the leading dot.
const templatesDir = ".templates"

// Options tune one traversal.
type Options struct {
	Workers          int      // extraction pool size; 0 means 4
	Exclude          []string // doublestar globs against space-relative paths
	FollowSymlinks   bool     // follow symlinks that resolve inside the root
	IncludeAIContext bool     // descend into .aicontext (generator only)
}

// Result is one merged-stream item: a file record plus its extraction.
// Err is set when extraction failed; the record is still valid and reaches
// the index with an empty body.
type Result struct {
	Record     types.FileRecord
	Extraction *extract.Extraction
	Err        error
}

// Stats counts what one traversal saw.
type Stats struct {
	Files   int
	Folders int
	Skipped int
}

// Walker discovers files under space roots.
type Walker struct {
	opts      Options
	extractor *extract.Extractor
}

// New creates a walker bound to an extractor.
func New(opts Options, extractor *extract.Extractor) *Walker {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Walker{opts: opts, extractor: extractor}
}

// Discover runs the serial traversal, invoking fn for every file record in
// deterministic per-subtree order. Unreadable directories are logged and
// skipped, never fatal.
func (w *Walker) Discover(ctx context.Context, space *types.Space, fn func(types.FileRecord) error) (Stats, error) {
	visited := map[string]bool{space.RootPath: true}
	stats := &Stats{}
	err := w.walkDir(ctx, space, space.RootPath, visited, stats, fn)
	return *stats, err
}

// Stream runs discovery with extraction fanned out over the worker pool.
// The returned channel closes when the walk finishes; wait() reports the
// first fatal error (context cancellation only — per-file failures travel
// in Result.Err).
func (w *Walker) Stream(ctx context.Context, space *types.Space) (<-chan Result, func() (Stats, error)) {
	records := make(chan types.FileRecord, 64) // backpressure between discoverer and extractors
	results := make(chan Result, 64)

	var stats Stats
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(records)
		s, err := w.Discover(ctx, space, func(rec types.FileRecord) error {
			select {
			case records <- rec:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		stats = s
		return err
	})

	workers := &errgroup.Group{}
	for i := 0; i < w.opts.Workers; i++ {
		workers.Go(func() error {
			for rec := range records {
				ext, err := w.extractor.Extract(&rec)
				if err != nil {
					debug.LogWalk("extraction failed for %s: %v", rec.RelativePath, err)
				}
				select {
				case results <- Result{Record: rec, Extraction: ext, Err: err}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		workers.Wait() //nolint:errcheck // surfaced via g below
		close(results)
	}()

	wait := func() (Stats, error) {
		if err := g.Wait(); err != nil {
			return stats, err
		}
		return stats, workers.Wait()
	}
	return results, wait
}

func (w *Walker) walkDir(ctx context.Context, space *types.Space, dir string, visited map[string]bool, stats *Stats, fn func(types.FileRecord) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		debug.LogWalk("skipping unreadable directory %s: %v", dir, err)
		stats.Skipped++
		return nil
	}
	// os.ReadDir sorts by name; keep it explicit for the ordering contract.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)
		rel, relErr := filepath.Rel(space.RootPath, path)
		if relErr != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		if w.excluded(rel) {
			stats.Skipped++
			continue
		}

		isDir, target, ok := w.resolveEntry(space.RootPath, path, entry)
		if !ok {
			stats.Skipped++
			continue
		}

		if isDir {
			if w.skipDirName(name) {
				stats.Skipped++
				continue
			}
			if visited[target] {
				debug.LogWalk("cycle detected, skipping %s -> %s", path, target)
				continue
			}
			visited[target] = true
			stats.Folders++
			if err := w.walkDir(ctx, space, path, visited, stats, fn); err != nil {
				return err
			}
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			debug.LogWalk("skipping unstattable file %s: %v", path, err)
			stats.Skipped++
			continue
		}

		ext := types.NormalizeExtension(filepath.Ext(name))
		rec := types.FileRecord{
			SpaceID:      space.ID,
			RelativePath: rel,
			AbsolutePath: path,
			Size:         info.Size(),
			ModifiedAt:   info.ModTime(),
			Extension:    ext,
			Category:     types.CategoryForExtension(ext),
		}
		stats.Files++
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// resolveEntry classifies a directory entry, resolving symlinks and refusing
// any that escape the space root. Returns ok=false for entries to skip
// (non-regular files, escaping or broken symlinks).
func (w *Walker) resolveEntry(root, path string, entry os.DirEntry) (isDir bool, realPath string, ok bool) {
	mode := entry.Type()

	if mode&os.ModeSymlink != 0 {
		if !w.opts.FollowSymlinks {
			return false, "", false
		}
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			debug.LogWalk("skipping unresolvable symlink %s: %v", path, err)
			return false, "", false
		}
		if !withinRoot(root, resolved) {
			debug.LogWalk("skipping symlink escaping root: %s -> %s", path, resolved)
			return false, "", false
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return false, "", false
		}
		if info.IsDir() {
			return true, resolved, true
		}
		return false, resolved, info.Mode().IsRegular()
	}

	if mode.IsDir() {
		return true, path, true
	}
	// Sockets, devices and other irregular files are skipped.
	return false, path, mode.IsRegular()
}

// skipDirName applies the dot-directory rule: hidden directories are
// skipped except .templates (always) and .aicontext (generator runs only).
func (w *Walker) skipDirName(name string) bool {
	if !strings.HasPrefix(name, ".") {
		return false
	}
	if name == templatesDir {
		return false
	}
	if name == aicontextDir && w.opts.IncludeAIContext {
		return false
	}
	return true
}

func (w *Walker) excluded(rel string) bool {
	for _, pattern := range w.opts.Exclude {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}

func withinRoot(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
