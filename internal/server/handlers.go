package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/beaglenote/wikidex/internal/activity"
	"github.com/beaglenote/wikidex/internal/aicontext"
	"github.com/beaglenote/wikidex/internal/errors"
	"github.com/beaglenote/wikidex/internal/registry"
	"github.com/beaglenote/wikidex/internal/search"
	"github.com/beaglenote/wikidex/internal/suggest"
	"github.com/beaglenote/wikidex/internal/types"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"rebuilding": s.coord.Rebuilding(),
	})
}

// --- search ---

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := search.Options{
		Query:          q.Get("q"),
		UserID:         userID(r),
		FileTypes:      splitList(q.Get("fileTypes")),
		SpaceNames:     splitList(q.Get("spaceNames")),
		IncludeContent: boolParam(q.Get("includeContent")),
	}
	// The singular form is kept for older clients.
	if name := strings.TrimSpace(q.Get("spaceName")); name != "" {
		opts.SpaceNames = append(opts.SpaceNames, name)
	}
	if raw := q.Get("maxResults"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, errors.Validation("server.search", "invalid maxResults %q", raw))
			return
		}
		opts.MaxResults = n
	}
	if opts.MaxResults == 0 {
		opts.MaxResults = s.cfg.Index.MaxResults
	}

	results, err := s.engine.Search(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := suggest.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, errors.Validation("server.suggestions", "invalid limit %q", raw))
			return
		}
		if n > 0 {
			limit = n
		}
	}

	suggestions := s.suggester.Suggest(q.Get("q"), limit)
	if suggestions == nil {
		suggestions = []string{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.coord.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documentCount":   stats.DocumentCount,
		"tokenCount":      stats.TokenCount,
		"spaceCount":      stats.SpaceCount,
		"lastBuildAt":     stats.LastBuildAt,
		"buildDurationMs": stats.BuildDuration.Milliseconds(),
	})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.RebuildAsync(context.Background()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "rebuild started",
	})
}

// --- spaces ---

func (s *Server) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Registry().List(userID(r)))
}

type createSpaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	RootPath    string `json:"rootPath"`
}

func (s *Server) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	var req createSpaceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	root := req.RootPath
	if root == "" {
		root = s.cfg.SpaceRoot(req.Name)
	}
	space, err := s.coord.Registry().Create(registry.CreateParams{
		Name:        req.Name,
		Description: req.Description,
		Visibility:  types.Visibility(req.Visibility),
		RootPath:    root,
		OwnerID:     userID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, space)
}

func (s *Server) handleGetSpace(w http.ResponseWriter, r *http.Request) {
	id, err := spaceIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	space, err := s.coord.Registry().Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !space.VisibleTo(userID(r)) {
		writeError(w, errors.New(errors.KindPermissionDenied, "server.getSpace",
			"space %q is not visible", space.Name))
		return
	}
	writeJSON(w, http.StatusOK, space)
}

type updateSpaceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Visibility  *string `json:"visibility"`
}

func (s *Server) handleUpdateSpace(w http.ResponseWriter, r *http.Request) {
	id, err := spaceIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateSpaceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	params := registry.UpdateParams{Name: req.Name, Description: req.Description}
	if req.Visibility != nil {
		v := types.Visibility(*req.Visibility)
		params.Visibility = &v
	}
	space, err := s.coord.Registry().Update(id, userID(r), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, space)
}

func (s *Server) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	id, err := spaceIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.coord.DeleteSpace(id, userID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	id, err := spaceIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tree, err := s.coord.FolderTree(r.Context(), id, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	id, err := spaceIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	templates, err := s.coord.Templates(id, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleAIContext(w http.ResponseWriter, r *http.Request) {
	id, err := spaceIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	space, err := s.coord.Registry().Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if space.OwnerID != userID(r) {
		writeError(w, errors.New(errors.KindPermissionDenied, "server.aiContext",
			"only the owner can generate context for a space"))
		return
	}

	settings, err := s.users.RawAISettings(userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if !settings.Enabled {
		writeError(w, errors.Validation("server.aiContext", "AI features are disabled for this user"))
		return
	}
	provider, err := aicontext.NewProvider(settings)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.generator.Launch(context.Background(), provider, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"message": "context generation started",
	})
}

// --- documents ---

func (s *Server) handleReadDocument(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doc, err := s.coord.ReadDocument(userID(r), q.Get("spaceName"), q.Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// --- user activity & preferences ---

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	act, err := s.users.GetActivity(userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

type visitRequest struct {
	SpaceName string `json:"spaceName"`
	Path      string `json:"path"`
	Title     string `json:"title"`
}

func (s *Server) handleVisit(w http.ResponseWriter, r *http.Request) {
	var req visitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	act, err := s.users.RecordVisit(userID(r), req.SpaceName, req.Path, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

type starRequest struct {
	SpaceName string `json:"spaceName"`
	Path      string `json:"path"`
	Title     string `json:"title"`
	Action    string `json:"action"`
}

func (s *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	var req starRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	act, err := s.users.ToggleStar(userID(r), req.SpaceName, req.Path, req.Title,
		activity.StarAction(req.Action))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

func (s *Server) handleGetFolderViews(w http.ResponseWriter, r *http.Request) {
	views, err := s.users.GetFolderViews(userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type folderViewRequest struct {
	SpaceID    int64  `json:"spaceId"`
	FolderPath string `json:"folderPath"`
	ViewMode   string `json:"viewMode"`
}

func (s *Server) handleSetFolderView(w http.ResponseWriter, r *http.Request) {
	var req folderViewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	prefs, err := s.users.SetFolderView(userID(r), req.SpaceID, req.FolderPath,
		types.ViewMode(req.ViewMode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// --- AI settings ---

func (s *Server) handleGetAISettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.users.GetAISettings(userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetAISettings(w http.ResponseWriter, r *http.Request) {
	var req types.AISettings
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	settings, err := s.users.SetAISettings(userID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleTestAISettings probes the provider named in the request body, or the
// stored settings when the body is empty. Probe failures surface as 502 with
// the probe result attached.
func (s *Server) handleTestAISettings(w http.ResponseWriter, r *http.Request) {
	var req types.AISettings
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	stored, err := s.users.RawAISettings(userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Provider == "" {
		req = *stored
	} else if maskedKey(req.APIKey) {
		req.APIKey = stored.APIKey
	}

	provider, err := aicontext.NewProvider(&req)
	if err != nil {
		writeError(w, err)
		return
	}

	result := aicontext.TestConnection(r.Context(), provider, s.cfg.AITimeout())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

// --- helpers ---

func spaceIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "spaceID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Validation("server.spaceID", "invalid space id %q", raw)
	}
	return id, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func boolParam(raw string) bool {
	switch strings.ToLower(raw) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func maskedKey(key string) bool {
	return strings.ContainsRune(key, '•')
}
