// Package aicontext generates per-folder summary documents for wiki spaces.
// A run walks each space, fingerprints every folder, and asks an LLM to
// summarize the folders whose contents changed since the last run. Artifacts
// land in <folder>/.aicontext/folder-context.md inside the space itself, so
// the next index rebuild picks them up as ordinary documents.
package aicontext

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/beaglenote/wikidex/internal/datastore"
	"github.com/beaglenote/wikidex/internal/debug"
	"github.com/beaglenote/wikidex/internal/errors"
	"github.com/beaglenote/wikidex/internal/registry"
	"github.com/beaglenote/wikidex/internal/types"
	"github.com/beaglenote/wikidex/internal/walker"
)

// stateCollection persists per-folder fingerprints between runs.
const stateCollection = "aiContextState"

// artifactFile is the summary filename inside the context directory.
const artifactFile = "folder-context.md"

// Prompt size caps keep a folder summary request bounded.
const (
	perFileExcerpt = 500
	promptBudget   = 8 << 10
)

// Report summarizes one generation run.
type Report struct {
	Spaces      int           `json:"spaces"`
	Folders     int           `json:"folders"`
	Generated   int           `json:"generated"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"-"`
	DurationMs  int64         `json:"durationMs"`
	CompletedAt time.Time     `json:"completedAt"`
}

// folderState is the persisted fingerprint map, keyed "spaceId/folderPath".
type folderState map[string]uint64

// Generator runs AI-context generation over registered spaces. At most one
// run is in flight at a time, enforced by an atomic flag.
type Generator struct {
	reg        *registry.Registry
	data       *datastore.Store
	walk       *walker.Walker
	dirName    string
	perCall    time.Duration
	processing atomic.Bool
}

// New creates a generator. dirName is the artifact directory name inside
// each folder; perCall bounds every individual LLM call.
func New(reg *registry.Registry, data *datastore.Store, walk *walker.Walker, dirName string, perCall time.Duration) *Generator {
	if dirName == "" {
		dirName = ".aicontext"
	}
	if perCall <= 0 {
		perCall = 60 * time.Second
	}
	return &Generator{reg: reg, data: data, walk: walk, dirName: dirName, perCall: perCall}
}

// InProgress reports whether a run is currently executing.
func (g *Generator) InProgress() bool {
	return g.processing.Load()
}

// Run generates context documents for the named spaces, or for every
// registered space when spaceIDs is empty. Concurrent runs are refused with
// a busy error. Per-folder failures are logged and counted, never fatal.
func (g *Generator) Run(ctx context.Context, provider Provider, spaceIDs ...int64) (*Report, error) {
	if !g.processing.CompareAndSwap(false, true) {
		return nil, errors.New(errors.KindBusy, "aicontext.Run", "context generation already in progress")
	}
	defer g.processing.Store(false)
	return g.run(ctx, provider, spaceIDs)
}

// Launch acquires the single-flight flag before returning, so a concurrent
// trigger is refused with a busy error immediately; the run itself proceeds
// in the background.
func (g *Generator) Launch(ctx context.Context, provider Provider, spaceIDs ...int64) error {
	if !g.processing.CompareAndSwap(false, true) {
		return errors.New(errors.KindBusy, "aicontext.Launch", "context generation already in progress")
	}
	go func() {
		defer g.processing.Store(false)
		if _, err := g.run(ctx, provider, spaceIDs); err != nil {
			debug.LogAIContext("background run failed: %v", err)
		}
	}()
	return nil
}

func (g *Generator) run(ctx context.Context, provider Provider, spaceIDs []int64) (*Report, error) {
	const op = "aicontext.Run"

	start := time.Now()

	spaces, err := g.targetSpaces(op, spaceIDs)
	if err != nil {
		return nil, err
	}

	state := make(folderState)
	if _, err := g.data.Read(stateCollection, &state); err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	report := &Report{Spaces: len(spaces)}
	for _, space := range spaces {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.KindInternal, op, err)
		}
		if err := g.runSpace(ctx, provider, space, state, report); err != nil {
			return nil, err
		}
	}

	if err := g.data.Write(stateCollection, state); err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	report.Duration = time.Since(start)
	report.DurationMs = report.Duration.Milliseconds()
	report.CompletedAt = time.Now()
	debug.LogAIContext("run complete: %d folders, %d generated, %d skipped, %d failed in %v",
		report.Folders, report.Generated, report.Skipped, report.Failed, report.Duration)
	return report, nil
}

func (g *Generator) targetSpaces(op string, spaceIDs []int64) ([]*types.Space, error) {
	if len(spaceIDs) == 0 {
		return g.reg.All(), nil
	}
	spaces := make([]*types.Space, 0, len(spaceIDs))
	for _, id := range spaceIDs {
		space, err := g.reg.Get(id)
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, space)
	}
	return spaces, nil
}

// folderEntry is one source file feeding a folder summary.
type folderEntry struct {
	name    string
	title   string
	body    string
	size    int64
	modTime time.Time
}

func (g *Generator) runSpace(ctx context.Context, provider Provider, space *types.Space, state folderState, report *Report) error {
	results, wait := g.walk.Stream(ctx, space)

	folders := make(map[string][]folderEntry)
	for res := range results {
		if res.Err != nil || res.Extraction == nil {
			continue
		}
		dir := path.Dir(res.Record.RelativePath)
		if dir == "." {
			dir = ""
		}
		folders[dir] = append(folders[dir], folderEntry{
			name:    path.Base(res.Record.RelativePath),
			title:   res.Extraction.Title,
			body:    res.Extraction.Body,
			size:    res.Record.Size,
			modTime: res.Record.ModifiedAt,
		})
	}
	if _, err := wait(); err != nil {
		return err
	}

	names := make([]string, 0, len(folders))
	for dir := range folders {
		names = append(names, dir)
	}
	sort.Strings(names)

	for _, dir := range names {
		entries := folders[dir]
		report.Folders++

		stateKey := fmt.Sprintf("%d/%s", space.ID, dir)
		fp := fingerprint(entries)
		if state[stateKey] == fp {
			report.Skipped++
			continue
		}

		if err := g.generateFolder(ctx, provider, space, dir, entries); err != nil {
			debug.LogAIContext("folder %s in space %s failed: %v", dir, space.Name, err)
			report.Failed++
			continue
		}
		state[stateKey] = fp
		report.Generated++
	}
	return nil
}

func (g *Generator) generateFolder(ctx context.Context, provider Provider, space *types.Space, dir string, entries []folderEntry) error {
	callCtx, cancel := context.WithTimeout(ctx, g.perCall)
	defer cancel()

	summary, err := provider.Generate(callCtx, buildPrompt(space.Name, dir, entries))
	if err != nil {
		return err
	}

	target := filepath.Join(space.RootPath, filepath.FromSlash(dir), g.dirName)
	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Folder Context: %s\n\n", displayFolder(dir))
	fmt.Fprintf(&b, "_Generated %s by %s._\n\n", time.Now().Format(time.RFC3339), provider.Name())
	b.WriteString(strings.TrimSpace(summary))
	b.WriteString("\n")

	return os.WriteFile(filepath.Join(target, artifactFile), []byte(b.String()), 0644)
}

// fingerprint hashes the sorted (name, size, mtime) triples of a folder so
// content changes, additions and deletions all invalidate the summary.
func fingerprint(entries []folderEntry) uint64 {
	sorted := make([]folderEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	h := xxhash.New()
	for _, e := range sorted {
		fmt.Fprintf(h, "%s|%d|%d\n", e.name, e.size, e.modTime.UnixNano())
	}
	return h.Sum64()
}

func buildPrompt(spaceName, dir string, entries []folderEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the contents of the folder %q in the wiki space %q.\n", displayFolder(dir), spaceName)
	b.WriteString("Write a concise markdown overview: what the folder contains, the main topics, and how the documents relate. Do not invent content.\n\n")

	for _, e := range entries {
		if b.Len() >= promptBudget {
			break
		}
		fmt.Fprintf(&b, "## %s (%s)\n", e.name, e.title)
		excerpt := e.body
		if len(excerpt) > perFileExcerpt {
			excerpt = excerpt[:perFileExcerpt]
		}
		if excerpt != "" {
			b.WriteString(excerpt)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func displayFolder(dir string) string {
	if dir == "" {
		return "/"
	}
	return dir
}
