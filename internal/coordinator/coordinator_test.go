package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaglenote/wikidex/internal/datastore"
	"github.com/beaglenote/wikidex/internal/errors"
	"github.com/beaglenote/wikidex/internal/extract"
	"github.com/beaglenote/wikidex/internal/index"
	"github.com/beaglenote/wikidex/internal/registry"
	"github.com/beaglenote/wikidex/internal/search"
	"github.com/beaglenote/wikidex/internal/suggest"
	"github.com/beaglenote/wikidex/internal/types"
	"github.com/beaglenote/wikidex/internal/walker"
)

type fixture struct {
	coord  *Coordinator
	engine *search.Engine
	sug    *suggest.Suggester
	reg    *registry.Registry
	data   *datastore.Store
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	data, err := datastore.Open(filepath.Join(dir, "meta", "wiki.db"))
	require.NoError(t, err)
	t.Cleanup(func() { data.Close() })

	reg, err := registry.New(data)
	require.NoError(t, err)

	extractor := extract.New(1 << 20)
	walk := walker.New(walker.Options{Workers: 2, IncludeAIContext: true}, extractor)
	ix := index.New()
	sug := suggest.New(2, 4)
	coord := New(reg, ix, sug, data, walk, extractor)

	return &fixture{
		coord:  coord,
		engine: search.New(ix, reg),
		sug:    sug,
		reg:    reg,
		data:   data,
		dir:    dir,
	}
}

func (f *fixture) addSpace(t *testing.T, name string, files map[string]string) *types.Space {
	t.Helper()
	root := filepath.Join(f.dir, "spaces", name)
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
	}
	sp, err := f.reg.Create(registry.CreateParams{
		Name: name, OwnerID: "alice", Visibility: types.VisibilityPublic, RootPath: root,
	})
	require.NoError(t, err)
	return sp
}

func TestRebuildIndexesSpaces(t *testing.T) {
	f := newFixture(t)
	f.addSpace(t, "docs", map[string]string{
		"guide.md":       "---\ntags: ops\n---\n\n# Deployment Guide\n\nRollout steps.\n",
		"notes/plan.txt": "quarterly planning notes\n",
	})

	require.NoError(t, f.coord.Rebuild(context.Background()))

	stats := f.coord.Stats()
	assert.Equal(t, 2, stats.DocumentCount)
	assert.Equal(t, 1, stats.SpaceCount)
	assert.False(t, stats.LastBuildAt.IsZero())

	results, err := f.engine.Search(context.Background(), search.Options{Query: "rollout", UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Deployment Guide", results[0].Title)
	assert.Equal(t, "docs", results[0].SpaceName)

	// suggestion index built in the same pass
	assert.NotEmpty(t, f.sug.Suggest("deploy", 5))

	// counts recorded back onto the space
	sp, err := f.reg.GetByName("docs")
	require.NoError(t, err)
	assert.Equal(t, 2, sp.FileCount)
}

func TestRebuildRefusesOverlap(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.coord.Rebuild(context.Background()))
	assert.False(t, f.coord.Rebuilding())

	// simulate an in-flight rebuild
	f.coord.rebuilding.Store(true)
	err := f.coord.Rebuild(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindBusy))
	err = f.coord.RebuildAsync(context.Background())
	assert.True(t, errors.Is(err, errors.KindBusy))
	f.coord.rebuilding.Store(false)
}

func TestHydrateFromMirror(t *testing.T) {
	f := newFixture(t)
	f.addSpace(t, "docs", map[string]string{"a.md": "# Alpha\n\nalpha body\n"})
	require.NoError(t, f.coord.Rebuild(context.Background()))

	// a fresh process with the same datastore serves queries pre-rebuild
	ix := index.New()
	sug := suggest.New(2, 4)
	extractor := extract.New(1 << 20)
	walk := walker.New(walker.Options{Workers: 2}, extractor)
	reg2, err := registry.New(f.data)
	require.NoError(t, err)
	coord2 := New(reg2, ix, sug, f.data, walk, extractor)

	require.NoError(t, coord2.Hydrate())
	assert.Equal(t, 1, coord2.Stats().DocumentCount)

	engine2 := search.New(ix, reg2)
	results, err := engine2.Search(context.Background(), search.Options{Query: "alpha", UserID: "bob"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDeleteSpaceCascades(t *testing.T) {
	f := newFixture(t)
	keep := f.addSpace(t, "keep", map[string]string{"k.md": "# Keep\n\nkeep body\n"})
	drop := f.addSpace(t, "drop", map[string]string{"d.md": "# Drop\n\ndrop body\n"})
	require.NoError(t, f.coord.Rebuild(context.Background()))
	require.Equal(t, 2, f.coord.Stats().SpaceCount)

	err := f.coord.DeleteSpace(drop.ID, "mallory")
	assert.True(t, errors.Is(err, errors.KindPermissionDenied))

	require.NoError(t, f.coord.DeleteSpace(drop.ID, "alice"))

	stats := f.coord.Stats()
	assert.Equal(t, 1, stats.DocumentCount)

	results, err := f.engine.Search(context.Background(), search.Options{Query: "drop", UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, results)

	// suggestions regenerated without the deleted space
	assert.Empty(t, f.sug.Suggest("drop", 5))
	assert.NotEmpty(t, f.sug.Suggest("keep", 5))

	_, err = f.reg.Get(keep.ID)
	assert.NoError(t, err)
}

func TestReadDocument(t *testing.T) {
	f := newFixture(t)
	f.addSpace(t, "docs", map[string]string{
		"notes/guide.md": "---\ntags: ops\n---\n\n# Guide\n\nfull text\n",
	})

	doc, err := f.coord.ReadDocument("bob", "docs", "notes/guide.md")
	require.NoError(t, err)
	assert.Equal(t, "Guide", doc.Title)
	assert.Contains(t, doc.Body, "full text")
	assert.Equal(t, types.ViewerMarkdown, doc.Viewer)
	assert.Equal(t, []string{"ops"}, doc.Tags)

	_, err = f.coord.ReadDocument("bob", "docs", "missing.md")
	assert.True(t, errors.Is(err, errors.KindNotFound))

	_, err = f.coord.ReadDocument("bob", "docs", "../outside.md")
	assert.True(t, errors.Is(err, errors.KindValidationFailed))

	_, err = f.coord.ReadDocument("bob", "docs", "notes")
	assert.True(t, errors.Is(err, errors.KindValidationFailed), "folders are not documents")

	_, err = f.coord.ReadDocument("bob", "ghost", "a.md")
	assert.True(t, errors.Is(err, errors.KindNotFound))
}

func TestReadDocumentVisibility(t *testing.T) {
	f := newFixture(t)
	root := filepath.Join(f.dir, "spaces", "secret")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "s.md"), []byte("# S\n"), 0644))
	_, err := f.reg.Create(registry.CreateParams{
		Name: "secret", OwnerID: "alice", Visibility: types.VisibilityPrivate, RootPath: root,
	})
	require.NoError(t, err)

	_, err = f.coord.ReadDocument("bob", "secret", "s.md")
	assert.True(t, errors.Is(err, errors.KindPermissionDenied))

	_, err = f.coord.ReadDocument("alice", "secret", "s.md")
	assert.NoError(t, err)
}

func TestFolderTree(t *testing.T) {
	f := newFixture(t)
	sp := f.addSpace(t, "docs", map[string]string{
		"top.md":        "# Top\n",
		"a/one.md":      "# One\n",
		"a/deep/two.md": "# Two\n",
		"b/three.md":    "# Three\n",
	})

	tree, err := f.coord.FolderTree(context.Background(), sp.ID, "bob")
	require.NoError(t, err)

	require.Len(t, tree.Documents, 1, "only top.md sits at the root")
	assert.Equal(t, "top.md", tree.Documents[0].Name)

	names := []string{}
	for _, fold := range tree.Folders {
		names = append(names, fold.Name)
	}
	assert.Contains(t, names, "a")
	assert.Contains(t, names, "b")

	var a *FolderNode
	for _, fold := range tree.Folders {
		if fold.Name == "a" {
			a = fold
		}
	}
	require.NotNil(t, a)
	require.Len(t, a.Folders, 1)
	assert.Equal(t, "a/deep", a.Folders[0].Path)
	require.Len(t, a.Folders[0].Documents, 1)
	assert.Equal(t, "two.md", a.Folders[0].Documents[0].Name)
}

func TestTemplates(t *testing.T) {
	f := newFixture(t)
	sp := f.addSpace(t, "docs", map[string]string{"seed.md": "# S\n"})

	templates, err := f.coord.Templates(sp.ID, "bob")
	require.NoError(t, err)
	require.Len(t, templates, 1, "sample template created on first access")
	assert.Equal(t, "sample.md", templates[0].Name)
	assert.Equal(t, ".templates/sample.md", templates[0].Path)
}
