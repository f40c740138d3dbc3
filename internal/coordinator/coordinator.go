// Package coordinator wires the registry, walker, extractor and both
// indexes into one service object. It owns rebuild orchestration, the
// durable document mirror, and the read paths that join filesystem content
// with registry permissions.
package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/beaglenote/wikidex/internal/datastore"
	"github.com/beaglenote/wikidex/internal/debug"
	"github.com/beaglenote/wikidex/internal/errors"
	"github.com/beaglenote/wikidex/internal/extract"
	"github.com/beaglenote/wikidex/internal/index"
	"github.com/beaglenote/wikidex/internal/registry"
	"github.com/beaglenote/wikidex/internal/suggest"
	"github.com/beaglenote/wikidex/internal/types"
	"github.com/beaglenote/wikidex/internal/walker"
)

// Coordinator is the process-wide service object handed to the HTTP layer.
type Coordinator struct {
	reg       *registry.Registry
	ix        *index.Index
	sug       *suggest.Suggester
	data      *datastore.Store
	walk      *walker.Walker
	extractor *extract.Extractor

	rebuilding atomic.Bool
}

// New assembles a coordinator from its parts.
func New(reg *registry.Registry, ix *index.Index, sug *suggest.Suggester, data *datastore.Store, walk *walker.Walker, extractor *extract.Extractor) *Coordinator {
	return &Coordinator{reg: reg, ix: ix, sug: sug, data: data, walk: walk, extractor: extractor}
}

// Registry exposes the space registry for handlers.
func (c *Coordinator) Registry() *registry.Registry { return c.reg }

// Rebuilding reports whether a rebuild is currently in flight.
func (c *Coordinator) Rebuilding() bool { return c.rebuilding.Load() }

// Rebuild walks every registered space and swaps in fresh index and
// suggestion generations. Refuses to overlap with a running rebuild.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	const op = "coordinator.Rebuild"
	if !c.rebuilding.CompareAndSwap(false, true) {
		return errors.New(errors.KindBusy, op, "rebuild already in progress")
	}
	defer c.rebuilding.Store(false)
	return c.runRebuild(ctx)
}

// RebuildAsync starts a rebuild in the background and returns immediately.
// Refuses to overlap with a running rebuild.
func (c *Coordinator) RebuildAsync(ctx context.Context) error {
	const op = "coordinator.RebuildAsync"
	if !c.rebuilding.CompareAndSwap(false, true) {
		return errors.New(errors.KindBusy, op, "rebuild already in progress")
	}
	go func() {
		defer c.rebuilding.Store(false)
		if err := c.runRebuild(ctx); err != nil {
			debug.LogIndex("background rebuild failed: %v", err)
		}
	}()
	return nil
}

func (c *Coordinator) runRebuild(ctx context.Context) error {
	const op = "coordinator.Rebuild"

	ixBuilder := index.NewBuilder()
	sugBuilder := c.sug.NewBuilder()

	for _, space := range c.reg.All() {
		results, wait := c.walk.Stream(ctx, space)
		for res := range results {
			if res.Extraction == nil {
				continue
			}
			doc := documentFrom(space, &res.Record, res.Extraction)
			ixBuilder.Add(doc)
			sugBuilder.AddDocument(doc.Title, doc.Path)
		}
		stats, err := wait()
		if err != nil {
			return errors.Wrap(errors.KindInternal, op, err)
		}
		c.reg.SetCounts(space.ID, stats.Files, stats.Folders)
	}

	c.ix.Swap(ixBuilder)
	c.sug.Swap(sugBuilder)

	return c.persistMirror(op)
}

// Hydrate restores the in-memory indexes from the durable document mirror,
// so queries work before the first filesystem rebuild completes.
func (c *Coordinator) Hydrate() error {
	const op = "coordinator.Hydrate"

	var docs []*types.IndexedDocument
	found, err := c.data.Read(datastore.DocumentsCollection, &docs)
	if err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	if !found || len(docs) == 0 {
		return nil
	}

	ixBuilder := index.NewBuilder()
	sugBuilder := c.sug.NewBuilder()
	for _, doc := range docs {
		ixBuilder.Add(doc)
		sugBuilder.AddDocument(doc.Title, doc.Path)
	}
	c.ix.Swap(ixBuilder)
	c.sug.Swap(sugBuilder)
	debug.LogIndex("hydrated %d documents from the mirror", len(docs))
	return nil
}

// persistMirror writes the active generation's documents to the durable
// mirror, sorted by key for stable diffs.
func (c *Coordinator) persistMirror(op string) error {
	snap := c.ix.Snapshot()
	docs := snap.Documents()
	snap.Release()

	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	if err := c.data.Write(datastore.DocumentsCollection, docs); err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	return nil
}

// Stats reports the active generation's summary.
func (c *Coordinator) Stats() types.IndexStats {
	snap := c.ix.Snapshot()
	defer snap.Release()
	return snap.Stats()
}

// DeleteSpace removes a space and evicts its documents from both indexes
// and the mirror. The suggestion index has no per-document removal, so it
// is regenerated from the surviving documents.
func (c *Coordinator) DeleteSpace(id int64, userID string) error {
	const op = "coordinator.DeleteSpace"

	if err := c.reg.Delete(id, userID); err != nil {
		return err
	}
	c.ix.RemoveSpace(id)

	snap := c.ix.Snapshot()
	sugBuilder := c.sug.NewBuilder()
	snap.EachDoc(func(doc *types.IndexedDocument) bool {
		sugBuilder.AddDocument(doc.Title, doc.Path)
		return true
	})
	snap.Release()
	c.sug.Swap(sugBuilder)

	return c.persistMirror(op)
}

// ReadDocument opens one document for display: visibility-checked, path
// traversal rejected, content extracted with the same rules as indexing.
func (c *Coordinator) ReadDocument(userID, spaceName, relPath string) (*types.IndexedDocument, error) {
	const op = "coordinator.ReadDocument"

	space, err := c.reg.GetByName(spaceName)
	if err != nil {
		return nil, err
	}
	if !space.VisibleTo(userID) {
		return nil, errors.New(errors.KindPermissionDenied, op, "space %q is not visible", spaceName)
	}

	rel, err := safeRelPath(op, relPath)
	if err != nil {
		return nil, err
	}
	abs := filepath.Join(space.RootPath, filepath.FromSlash(rel))

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(op, "document", rel)
		}
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	if info.IsDir() {
		return nil, errors.Validation(op, "%q is a folder, not a document", rel)
	}

	ext := types.NormalizeExtension(filepath.Ext(abs))
	rec := types.FileRecord{
		SpaceID:      space.ID,
		RelativePath: rel,
		AbsolutePath: abs,
		Size:         info.Size(),
		ModifiedAt:   info.ModTime(),
		Extension:    ext,
		Category:     types.CategoryForExtension(ext),
	}
	extraction, err := c.extractor.Extract(&rec)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	return documentFrom(space, &rec, extraction), nil
}

// safeRelPath normalizes a request path and refuses escapes from the root.
func safeRelPath(op, relPath string) (string, error) {
	rel := strings.TrimPrefix(strings.TrimSpace(relPath), "/")
	if rel == "" {
		return "", errors.Validation(op, "missing document path")
	}
	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || filepath.IsAbs(cleaned) {
		return "", errors.Validation(op, "invalid document path %q", relPath)
	}
	return cleaned, nil
}

// FolderNode is one level of the space content tree.
type FolderNode struct {
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	Folders   []*FolderNode  `json:"folders"`
	Documents []DocumentInfo `json:"documents"`
}

// DocumentInfo is the tree's per-file entry, metadata only.
type DocumentInfo struct {
	Name       string             `json:"name"`
	Path       string             `json:"path"`
	Size       int64              `json:"size"`
	ModifiedAt time.Time          `json:"modifiedAt"`
	Category   types.FileCategory `json:"type"`
}

// FolderTree walks a space and returns its hierarchical folder/document
// tree. Folders appear even when empty of documents only if a descendant
// carries one; the walk shares the index walker's skip rules.
func (c *Coordinator) FolderTree(ctx context.Context, spaceID int64, userID string) (*FolderNode, error) {
	const op = "coordinator.FolderTree"

	space, err := c.reg.Get(spaceID)
	if err != nil {
		return nil, err
	}
	if !space.VisibleTo(userID) {
		return nil, errors.New(errors.KindPermissionDenied, op, "space %q is not visible", space.Name)
	}

	root := &FolderNode{Name: space.Name, Path: ""}
	byPath := map[string]*FolderNode{"": root}

	ensureFolder := func(dir string) *FolderNode {
		if node, ok := byPath[dir]; ok {
			return node
		}
		node := root
		var prefix string
		for _, segment := range strings.Split(dir, "/") {
			if prefix == "" {
				prefix = segment
			} else {
				prefix = prefix + "/" + segment
			}
			child, ok := byPath[prefix]
			if !ok {
				child = &FolderNode{Name: segment, Path: prefix}
				node.Folders = append(node.Folders, child)
				byPath[prefix] = child
			}
			node = child
		}
		return node
	}

	_, err = c.walk.Discover(ctx, space, func(rec types.FileRecord) error {
		dir := ""
		if idx := strings.LastIndexByte(rec.RelativePath, '/'); idx >= 0 {
			dir = rec.RelativePath[:idx]
		}
		node := ensureFolder(dir)
		node.Documents = append(node.Documents, DocumentInfo{
			Name:       rec.RelativePath[strings.LastIndexByte(rec.RelativePath, '/')+1:],
			Path:       rec.RelativePath,
			Size:       rec.Size,
			ModifiedAt: rec.ModifiedAt,
			Category:   rec.Category,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	sortTree(root)
	return root, nil
}

func sortTree(node *FolderNode) {
	sort.Slice(node.Folders, func(i, j int) bool { return node.Folders[i].Name < node.Folders[j].Name })
	sort.Slice(node.Documents, func(i, j int) bool { return node.Documents[i].Name < node.Documents[j].Name })
	for _, child := range node.Folders {
		sortTree(child)
	}
}

// Templates lists the space's template files, seeding the .templates
// directory with a sample when missing or empty.
func (c *Coordinator) Templates(spaceID int64, userID string) ([]DocumentInfo, error) {
	const op = "coordinator.Templates"

	space, err := c.reg.Get(spaceID)
	if err != nil {
		return nil, err
	}
	if !space.VisibleTo(userID) {
		return nil, errors.New(errors.KindPermissionDenied, op, "space %q is not visible", space.Name)
	}

	dir, err := registry.EnsureTemplatesDir(space.RootPath)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	templates := make([]DocumentInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		ext := types.NormalizeExtension(filepath.Ext(entry.Name()))
		templates = append(templates, DocumentInfo{
			Name:       entry.Name(),
			Path:       filepath.ToSlash(filepath.Join(".templates", entry.Name())),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
			Category:   types.CategoryForExtension(ext),
		})
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

func documentFrom(space *types.Space, rec *types.FileRecord, ex *extract.Extraction) *types.IndexedDocument {
	return &types.IndexedDocument{
		Key:        rec.Key(),
		SpaceID:    space.ID,
		SpaceName:  space.Name,
		Title:      ex.Title,
		Path:       rec.RelativePath,
		Tags:       ex.Tags,
		Body:       ex.Body,
		Category:   rec.Category,
		Viewer:     ex.Viewer,
		Size:       rec.Size,
		ModifiedAt: rec.ModifiedAt,
	}
}
