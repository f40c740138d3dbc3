// Package types holds the shared record types of the wiki indexing core.
// Records are flat structs with every field present; optional content is an
// empty string, never an absent field.
package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Visibility controls who can see a space.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityTeam    Visibility = "team"
)

// ValidVisibility reports whether v is one of the known visibility values.
func ValidVisibility(v Visibility) bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityTeam:
		return true
	}
	return false
}

// Space is a named root directory plus metadata; the unit of isolation for
// documents and permissions. RootPath is stored resolved/canonical.
type Space struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	RootPath    string     `json:"rootPath"`
	Visibility  Visibility `json:"visibility"`
	OwnerID     string     `json:"ownerId"`
	FileCount   int        `json:"fileCount"`
	FolderCount int        `json:"folderCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// VisibleTo implements the access rule: owner, or public/team visibility.
func (s *Space) VisibleTo(userID string) bool {
	if s.OwnerID == userID {
		return true
	}
	return s.Visibility == VisibilityPublic || s.Visibility == VisibilityTeam
}

// FileCategory classifies files by extension for filtering and viewer hints.
type FileCategory string

const (
	CategoryDocument FileCategory = "document"
	CategoryCode     FileCategory = "code"
	CategoryImage    FileCategory = "image"
	CategoryPDF      FileCategory = "pdf"
	CategoryArchive  FileCategory = "archive"
	CategoryAudio    FileCategory = "audio"
	CategoryVideo    FileCategory = "video"
	CategoryOther    FileCategory = "other"
)

// categoryByExtension is the static extension -> category table. Extensions
// are lowercased with no leading dot.
var categoryByExtension = map[string]FileCategory{
	"md": CategoryDocument, "txt": CategoryDocument, "log": CategoryDocument, "rst": CategoryDocument,

	"js": CategoryCode, "ts": CategoryCode, "py": CategoryCode, "java": CategoryCode,
	"c": CategoryCode, "cpp": CategoryCode, "go": CategoryCode, "rs": CategoryCode,
	"rb": CategoryCode, "php": CategoryCode, "sh": CategoryCode, "json": CategoryCode,
	"xml": CategoryCode, "yml": CategoryCode, "yaml": CategoryCode, "html": CategoryCode,
	"css": CategoryCode,

	"png": CategoryImage, "jpg": CategoryImage, "jpeg": CategoryImage,
	"gif": CategoryImage, "svg": CategoryImage, "webp": CategoryImage,

	"pdf": CategoryPDF,

	"zip": CategoryArchive, "rar": CategoryArchive, "7z": CategoryArchive,
	"tar": CategoryArchive, "gz": CategoryArchive,

	"mp3": CategoryAudio, "wav": CategoryAudio, "flac": CategoryAudio,

	"mp4": CategoryVideo, "mov": CategoryVideo, "webm": CategoryVideo,
}

// CategoryForExtension maps a lowercased, dot-stripped extension to its
// category; unknown extensions are CategoryOther.
func CategoryForExtension(ext string) FileCategory {
	if cat, ok := categoryByExtension[ext]; ok {
		return cat
	}
	return CategoryOther
}

// ValidCategory reports whether s names a known file category.
func ValidCategory(s string) bool {
	switch FileCategory(s) {
	case CategoryDocument, CategoryCode, CategoryImage, CategoryPDF,
		CategoryArchive, CategoryAudio, CategoryVideo, CategoryOther:
		return true
	}
	return false
}

// NormalizeExtension lowercases an extension and strips the leading dot.
func NormalizeExtension(ext string) string {
	return strings.TrimPrefix(strings.ToLower(ext), ".")
}

// FileRecord is the walker's per-file output. Transient; never persisted.
type FileRecord struct {
	SpaceID      int64
	RelativePath string // forward-slash separated, relative to the space root
	AbsolutePath string
	Size         int64
	ModifiedAt   time.Time
	Extension    string // lowercased, no leading dot
	Category     FileCategory
}

// Key returns the stable doc key "spaceId:relativePath".
func (fr *FileRecord) Key() string {
	return DocKey(fr.SpaceID, fr.RelativePath)
}

// DocKey builds the stable identifier for an indexed file.
func DocKey(spaceID int64, relativePath string) string {
	return strconv.FormatInt(spaceID, 10) + ":" + relativePath
}

// SplitDocKey is the inverse of DocKey. Returns an error on malformed keys.
func SplitDocKey(key string) (spaceID int64, relativePath string, err error) {
	idx := strings.IndexByte(key, ':')
	if idx <= 0 {
		return 0, "", fmt.Errorf("malformed doc key %q", key)
	}
	spaceID, err = strconv.ParseInt(key[:idx], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed doc key %q: %w", key, err)
	}
	return spaceID, key[idx+1:], nil
}

// Viewer hints tell the HTTP boundary how to render a document.
type Viewer string

const (
	ViewerMarkdown Viewer = "markdown"
	ViewerCode     Viewer = "code"
	ViewerText     Viewer = "text"
	ViewerImage    Viewer = "image"
	ViewerPDF      Viewer = "pdf"
	ViewerBinary   Viewer = "binary"
)

// IndexedDocument is the unit stored in the inverted index. Exactly one
// exists per doc key; reinsertion replaces prior postings atomically from a
// query's perspective.
type IndexedDocument struct {
	Key        string       `json:"key"`
	SpaceID    int64        `json:"spaceId"`
	SpaceName  string       `json:"spaceName"`
	Title      string       `json:"title"`
	Path       string       `json:"path"`
	Tags       []string     `json:"tags"`
	Body       string       `json:"body"` // empty for binary types
	Category   FileCategory `json:"type"`
	Viewer     Viewer       `json:"viewer"`
	Size       int64        `json:"size"`
	ModifiedAt time.Time    `json:"modifiedAt"`
}

// SearchResult is one scored hit returned by the query engine. Content is
// populated only when the caller asked for it.
type SearchResult struct {
	Key        string       `json:"docKey"`
	Title      string       `json:"title"`
	Excerpt    string       `json:"excerpt"`
	Path       string       `json:"path"`
	SpaceName  string       `json:"spaceName"`
	ModifiedAt time.Time    `json:"modifiedAt"`
	Tags       []string     `json:"tags"`
	Category   FileCategory `json:"type"`
	Size       int64        `json:"size"`
	Relevance  float64      `json:"relevance"`
	Content    string       `json:"content,omitempty"`
}

// IndexStats summarizes the active index generation.
type IndexStats struct {
	DocumentCount int           `json:"documentCount"`
	TokenCount    int           `json:"tokenCount"`
	SpaceCount    int           `json:"spaceCount"`
	LastBuildAt   time.Time     `json:"lastBuildAt"`
	BuildDuration time.Duration `json:"-"`
}

// RecentEntry is one item in a user's most-recent-first visit log.
type RecentEntry struct {
	SpaceName string    `json:"spaceName"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	VisitedAt time.Time `json:"visitedAt"`
}

// StarredEntry is one starred document reference. References are logical
// (spaceName, path) pairs; they never hold the document in existence.
type StarredEntry struct {
	SpaceName string    `json:"spaceName"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	StarredAt time.Time `json:"starredAt"`
}

// UserActivity is the per-user visit/star record.
type UserActivity struct {
	UserID    string         `json:"userId"`
	Recent    []RecentEntry  `json:"recent"`
	Starred   []StarredEntry `json:"starred"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ViewMode is a per-folder display preference.
type ViewMode string

const (
	ViewModeGrid    ViewMode = "grid"
	ViewModeDetails ViewMode = "details"
	ViewModeCards   ViewMode = "cards"
)

// ValidViewMode reports whether m is a known folder view mode.
func ValidViewMode(m ViewMode) bool {
	switch m {
	case ViewModeGrid, ViewModeDetails, ViewModeCards:
		return true
	}
	return false
}

// UserPreferences is the per-user settings record. FolderViews maps
// spaceID -> folderPath -> view mode; the empty folder path is the root.
type UserPreferences struct {
	UserID             string                         `json:"userId"`
	Bio                string                         `json:"bio"`
	Location           string                         `json:"location"`
	Timezone           string                         `json:"timezone"`
	EmailNotifications bool                           `json:"emailNotifications"`
	DarkMode           bool                           `json:"darkMode"`
	DefaultLanguage    string                         `json:"defaultLanguage"`
	FolderViews        map[string]map[string]ViewMode `json:"folderViewPreferences"`
}

// AISettings is the per-user LLM provider configuration. The API key is
// stored in full but must be masked before leaving the process.
type AISettings struct {
	UserID      string  `json:"userId"`
	Provider    string  `json:"provider"`
	APIKey      string  `json:"apiKey"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
	Endpoint    string  `json:"endpoint"`
	Enabled     bool    `json:"enabled"`
}
