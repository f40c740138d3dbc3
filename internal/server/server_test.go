package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaglenote/wikidex/internal/activity"
	"github.com/beaglenote/wikidex/internal/aicontext"
	"github.com/beaglenote/wikidex/internal/config"
	"github.com/beaglenote/wikidex/internal/coordinator"
	"github.com/beaglenote/wikidex/internal/datastore"
	"github.com/beaglenote/wikidex/internal/extract"
	"github.com/beaglenote/wikidex/internal/index"
	"github.com/beaglenote/wikidex/internal/registry"
	"github.com/beaglenote/wikidex/internal/search"
	"github.com/beaglenote/wikidex/internal/suggest"
	"github.com/beaglenote/wikidex/internal/types"
	"github.com/beaglenote/wikidex/internal/walker"
)

const api = "/applications/wiki/api"

type fixture struct {
	srv *Server
	reg *registry.Registry
	dir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(dir, "data")

	data, err := datastore.Open(cfg.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { data.Close() })

	reg, err := registry.New(data)
	require.NoError(t, err)

	extractor := extract.New(cfg.Index.MaxFileSize)
	walk := walker.New(walker.Options{Workers: 2, IncludeAIContext: true}, extractor)
	genWalk := walker.New(walker.Options{Workers: 2}, extractor)
	ix := index.New()
	sug := suggest.New(cfg.Index.SuggestionMin, cfg.Index.SuggestionMax)
	coord := coordinator.New(reg, ix, sug, data, walk, extractor)
	users := activity.New(data)
	gen := aicontext.New(reg, data, genWalk, cfg.AI.ContextDirName, cfg.AITimeout())

	srv := New(cfg, coord, search.New(ix, reg), sug, users, gen)
	return &fixture{srv: srv, reg: reg, dir: dir}
}

func (f *fixture) addSpace(t *testing.T, name, owner string, vis types.Visibility, files map[string]string) *types.Space {
	t.Helper()
	root := filepath.Join(f.dir, "spaces", name)
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
	}
	sp, err := f.reg.Create(registry.CreateParams{
		Name: name, OwnerID: owner, Visibility: vis, RootPath: root,
	})
	require.NoError(t, err)
	return sp
}

func (f *fixture) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) rebuild(t *testing.T) {
	t.Helper()
	// synchronous rebuild keeps the tests deterministic
	require.NoError(t, f.srvCoord().Rebuild(context.Background()))
}

func (f *fixture) srvCoord() *coordinator.Coordinator { return f.srv.coord }

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)
	f.addSpace(t, "docs", "alice", types.VisibilityPublic, map[string]string{
		"guide.md": "# Deployment Guide\n\nrollout steps\n",
	})
	f.rebuild(t)

	rec := f.do(t, http.MethodGet, api+"/search?q=rollout", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[[]types.SearchResult](t, rec)
	require.Len(t, results, 1)
	assert.Equal(t, "Deployment Guide", results[0].Title)
	assert.Empty(t, results[0].Content)

	// includeContent opts in
	rec = f.do(t, http.MethodGet, api+"/search?q=rollout&includeContent=true", "bob", nil)
	results = decode[[]types.SearchResult](t, rec)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "rollout steps")
}

func TestSearchEmptyQueryReturnsEmptyList(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, api+"/search?q=", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSearchUnknownFileTypeIs400(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, api+"/search?q=x&fileTypes=spreadsheet", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "validation_failed", body["kind"])
}

func TestSuggestionsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.addSpace(t, "docs", "alice", types.VisibilityPublic, map[string]string{
		"deployment.md": "# Deployment Guide\n",
	})
	f.rebuild(t)

	rec := f.do(t, http.MethodGet, api+"/search/suggestions?q=deploy", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	suggestions := decode[[]string](t, rec)
	assert.NotEmpty(t, suggestions)

	rec = f.do(t, http.MethodGet, api+"/search/suggestions?q=x", "bob", nil)
	assert.JSONEq(t, "[]", rec.Body.String(), "below minimum length")
}

func TestStatsAndRebuildEndpoints(t *testing.T) {
	f := newFixture(t)
	f.addSpace(t, "docs", "alice", types.VisibilityPublic, map[string]string{"a.md": "# A\n"})

	rec := f.do(t, http.MethodPost, api+"/search/rebuild", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, true, body["success"])

	// async rebuild may still be running; poll the stats endpoint
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = f.do(t, http.MethodGet, api+"/search/stats", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		stats := decode[map[string]interface{}](t, rec)
		if stats["documentCount"].(float64) >= 1 {
			break
		}
		require.True(t, time.Now().Before(deadline), "rebuild never completed")
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSpacesCRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, api+"/spaces", "alice", map[string]string{
		"name": "handbook", "description": "team handbook", "visibility": "team",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[types.Space](t, rec)
	assert.Equal(t, "handbook", created.Name)
	assert.Equal(t, types.VisibilityTeam, created.Visibility)
	assert.FileExists(t, filepath.Join(created.RootPath, "README.md"), "empty root seeded")

	// default visibility is private
	rec = f.do(t, http.MethodPost, api+"/spaces", "alice", map[string]string{"name": "scratch"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, types.VisibilityPrivate, decode[types.Space](t, rec).Visibility)

	// duplicate name for the same owner conflicts
	rec = f.do(t, http.MethodPost, api+"/spaces", "alice", map[string]string{"name": "handbook"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// list respects visibility
	rec = f.do(t, http.MethodGet, api+"/spaces", "bob", nil)
	spaces := decode[[]types.Space](t, rec)
	require.Len(t, spaces, 1)
	assert.Equal(t, "handbook", spaces[0].Name)

	// owner-only update
	rec = f.do(t, http.MethodPut, api+"/spaces/"+itoa(created.ID), "bob", map[string]string{"name": "stolen"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodPut, api+"/spaces/"+itoa(created.ID), "alice", map[string]string{"description": "updated"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "updated", decode[types.Space](t, rec).Description)

	// get maps missing ids to 404, bad ids to 400
	rec = f.do(t, http.MethodGet, api+"/spaces/9999", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, api+"/spaces/zero", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// delete cascades and returns success
	rec = f.do(t, http.MethodDelete, api+"/spaces/"+itoa(created.ID), "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, api+"/spaces/"+itoa(created.ID), "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrivateSpaceHiddenFromOthers(t *testing.T) {
	f := newFixture(t)
	sp := f.addSpace(t, "secret", "alice", types.VisibilityPrivate, map[string]string{"s.md": "# S\n"})

	rec := f.do(t, http.MethodGet, api+"/spaces/"+itoa(sp.ID), "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, api+"/spaces/"+itoa(sp.ID)+"/folders", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFoldersAndTemplates(t *testing.T) {
	f := newFixture(t)
	sp := f.addSpace(t, "docs", "alice", types.VisibilityPublic, map[string]string{
		"top.md":     "# Top\n",
		"sub/one.md": "# One\n",
	})

	rec := f.do(t, http.MethodGet, api+"/spaces/"+itoa(sp.ID)+"/folders", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tree := decode[coordinator.FolderNode](t, rec)
	assert.Len(t, tree.Documents, 1)
	require.Len(t, tree.Folders, 1)
	assert.Equal(t, "sub", tree.Folders[0].Name)

	rec = f.do(t, http.MethodGet, api+"/spaces/"+itoa(sp.ID)+"/templates", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	templates := decode[[]coordinator.DocumentInfo](t, rec)
	require.Len(t, templates, 1)
	assert.Equal(t, "sample.md", templates[0].Name)
}

func TestReadDocumentEndpoint(t *testing.T) {
	f := newFixture(t)
	f.addSpace(t, "docs", "alice", types.VisibilityPublic, map[string]string{
		"guide.md": "# Guide\n\nbody\n",
	})

	rec := f.do(t, http.MethodGet, api+"/documents?spaceName=docs&path=guide.md", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[types.IndexedDocument](t, rec)
	assert.Equal(t, "Guide", doc.Title)
	assert.Contains(t, doc.Body, "body")

	rec = f.do(t, http.MethodGet, api+"/documents?spaceName=docs&path=../../etc/passwd", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, api+"/documents?spaceName=docs&path=ghost.md", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserActivityEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, api+"/user/visit", "alice", map[string]string{
		"spaceName": "docs", "path": "a.md", "title": "A",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, api+"/user/star", "alice", map[string]string{
		"spaceName": "docs", "path": "a.md", "title": "A", "action": "star",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, api+"/user/activity", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	act := decode[types.UserActivity](t, rec)
	assert.Len(t, act.Recent, 1)
	assert.Len(t, act.Starred, 1)

	// another user's view is independent
	rec = f.do(t, http.MethodGet, api+"/user/activity", "bob", nil)
	act = decode[types.UserActivity](t, rec)
	assert.Empty(t, act.Recent)

	// invalid star action is 400
	rec = f.do(t, http.MethodPost, api+"/user/star", "alice", map[string]string{
		"spaceName": "docs", "path": "a.md", "action": "sparkle",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFolderViewEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, api+"/user/folder-view-preference", "alice", map[string]interface{}{
		"spaceId": 3, "folderPath": "notes", "viewMode": "grid",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, api+"/user/folder-view-preferences", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[map[string]map[string]string](t, rec)
	assert.Equal(t, "grid", views["3"]["notes"])

	rec = f.do(t, http.MethodPost, api+"/user/folder-view-preference", "alice", map[string]interface{}{
		"spaceId": 3, "folderPath": "notes", "viewMode": "mosaic",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAISettingsEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, api+"/settings/ai", "alice", map[string]interface{}{
		"provider": "gemini", "apiKey": "sk-secret-12345678", "model": "gemini-2.0-flash", "enabled": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decode[types.AISettings](t, rec)
	assert.NotContains(t, settings.APIKey, "secret", "key masked in responses")
	assert.Contains(t, settings.APIKey, "5678")

	rec = f.do(t, http.MethodGet, api+"/settings/ai", "alice", nil)
	settings = decode[types.AISettings](t, rec)
	assert.NotContains(t, settings.APIKey, "secret")

	// unknown provider on test is a validation failure
	rec = f.do(t, http.MethodPost, api+"/settings/ai/test", "alice", map[string]interface{}{
		"provider": "carrier-pigeon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAIContextTriggerPermissions(t *testing.T) {
	f := newFixture(t)
	sp := f.addSpace(t, "docs", "alice", types.VisibilityPublic, map[string]string{"a.md": "# A\n"})

	// non-owner refused
	rec := f.do(t, http.MethodPost, api+"/spaces/"+itoa(sp.ID)+"/ai-context", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// owner without AI enabled gets a validation failure
	rec = f.do(t, http.MethodPost, api+"/spaces/"+itoa(sp.ID)+"/ai-context", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
