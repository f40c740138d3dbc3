// Package activity is the per-user visit/star log and preference store.
// Records are persisted through the datastore as one collection per user;
// a striped per-user lock lets unrelated users write in parallel.
package activity

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beaglenote/wikidex/internal/datastore"
	"github.com/beaglenote/wikidex/internal/debug"
	"github.com/beaglenote/wikidex/internal/errors"
	"github.com/beaglenote/wikidex/internal/types"
)

// RecentLimit bounds the per-user recent list.
const RecentLimit = 20

// maskVisible is the number of trailing API key characters left unmasked.
const maskVisible = 4

// StarAction is a toggleStar direction.
type StarAction string

const (
	ActionStar   StarAction = "star"
	ActionUnstar StarAction = "unstar"
)

// Store manages user activity, folder-view preferences and AI settings.
type Store struct {
	data *datastore.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex // userID -> write lock
}

// New creates a store over the collection database.
func New(data *datastore.Store) *Store {
	return &Store{data: data, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// GetActivity returns the user's activity record, synthesizing an empty one
// on first read.
func (s *Store) GetActivity(userID string) (*types.UserActivity, error) {
	const op = "activity.GetActivity"
	if userID == "" {
		return nil, errors.Validation(op, "missing user id")
	}

	var act types.UserActivity
	found, err := s.data.Read(datastore.ActivityCollection(userID), &act)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	if !found {
		act = types.UserActivity{UserID: userID}
	}
	if act.Recent == nil {
		act.Recent = []types.RecentEntry{}
	}
	if act.Starred == nil {
		act.Starred = []types.StarredEntry{}
	}
	return &act, nil
}

// RecordVisit prepends a visit to the user's recent list, deduplicating by
// (spaceName, path) and truncating to the recent limit. Persisted before the
// call returns.
func (s *Store) RecordVisit(userID, spaceName, path, title string) (*types.UserActivity, error) {
	const op = "activity.RecordVisit"
	if userID == "" || spaceName == "" || path == "" {
		return nil, errors.Validation(op, "userId, spaceName and path are required")
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	act, err := s.GetActivity(userID)
	if err != nil {
		return nil, err
	}

	kept := act.Recent[:0]
	for _, entry := range act.Recent {
		if entry.SpaceName != spaceName || entry.Path != path {
			kept = append(kept, entry)
		}
	}
	entry := types.RecentEntry{SpaceName: spaceName, Path: path, Title: title, VisitedAt: time.Now()}
	act.Recent = append([]types.RecentEntry{entry}, kept...)
	if len(act.Recent) > RecentLimit {
		act.Recent = act.Recent[:RecentLimit]
	}
	act.UpdatedAt = time.Now()

	if err := s.data.Write(datastore.ActivityCollection(userID), act); err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	debug.LogStore("recorded visit %s/%s for user %s", spaceName, path, userID)
	return act, nil
}

// ToggleStar stars or unstars a (spaceName, path) reference. Starring is
// idempotent; unstarring a missing entry is a no-op.
func (s *Store) ToggleStar(userID, spaceName, path, title string, action StarAction) (*types.UserActivity, error) {
	const op = "activity.ToggleStar"
	if userID == "" || spaceName == "" || path == "" {
		return nil, errors.Validation(op, "userId, spaceName and path are required")
	}
	if action != ActionStar && action != ActionUnstar {
		return nil, errors.Validation(op, "invalid action %q", string(action))
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	act, err := s.GetActivity(userID)
	if err != nil {
		return nil, err
	}

	kept := act.Starred[:0]
	for _, entry := range act.Starred {
		if entry.SpaceName != spaceName || entry.Path != path {
			kept = append(kept, entry)
		}
	}
	act.Starred = kept
	if action == ActionStar {
		act.Starred = append(act.Starred, types.StarredEntry{
			SpaceName: spaceName, Path: path, Title: title, StarredAt: time.Now(),
		})
	}
	act.UpdatedAt = time.Now()

	if err := s.data.Write(datastore.ActivityCollection(userID), act); err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	return act, nil
}

// GetPreferences returns the user's preference record, synthesizing defaults
// on first read.
func (s *Store) GetPreferences(userID string) (*types.UserPreferences, error) {
	const op = "activity.GetPreferences"
	if userID == "" {
		return nil, errors.Validation(op, "missing user id")
	}

	var prefs types.UserPreferences
	found, err := s.data.Read(datastore.PreferencesCollection(userID), &prefs)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	if !found {
		prefs = types.UserPreferences{UserID: userID}
	}
	if prefs.FolderViews == nil {
		prefs.FolderViews = make(map[string]map[string]types.ViewMode)
	}
	return &prefs, nil
}

// SetFolderView records a per-folder display preference. The empty folder
// path addresses the space root.
func (s *Store) SetFolderView(userID string, spaceID int64, folderPath string, mode types.ViewMode) (*types.UserPreferences, error) {
	const op = "activity.SetFolderView"
	if userID == "" {
		return nil, errors.Validation(op, "missing user id")
	}
	if spaceID <= 0 {
		return nil, errors.Validation(op, "invalid space id %d", spaceID)
	}
	if !types.ValidViewMode(mode) {
		return nil, errors.Validation(op, "invalid viewMode %q", string(mode))
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	prefs, err := s.GetPreferences(userID)
	if err != nil {
		return nil, err
	}

	key := strconv.FormatInt(spaceID, 10)
	views, ok := prefs.FolderViews[key]
	if !ok {
		views = make(map[string]types.ViewMode)
		prefs.FolderViews[key] = views
	}
	views[folderPath] = mode

	if err := s.data.Write(datastore.PreferencesCollection(userID), prefs); err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	return prefs, nil
}

// GetFolderViews returns the spaceId -> folderPath -> viewMode map.
func (s *Store) GetFolderViews(userID string) (map[string]map[string]types.ViewMode, error) {
	prefs, err := s.GetPreferences(userID)
	if err != nil {
		return nil, err
	}
	return prefs.FolderViews, nil
}

// GetAISettings returns the user's LLM settings with the API key masked.
// First read synthesizes a disabled default.
func (s *Store) GetAISettings(userID string) (*types.AISettings, error) {
	settings, err := s.readAISettings(userID)
	if err != nil {
		return nil, err
	}
	masked := *settings
	masked.APIKey = MaskKey(settings.APIKey)
	return &masked, nil
}

// RawAISettings returns settings with the key unmasked, for provider calls.
func (s *Store) RawAISettings(userID string) (*types.AISettings, error) {
	return s.readAISettings(userID)
}

func (s *Store) readAISettings(userID string) (*types.AISettings, error) {
	const op = "activity.GetAISettings"
	if userID == "" {
		return nil, errors.Validation(op, "missing user id")
	}

	var settings types.AISettings
	found, err := s.data.Read(datastore.AISettingsCollection(userID), &settings)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	if !found {
		settings = types.AISettings{UserID: userID}
	}
	return &settings, nil
}

// SetAISettings stores LLM provider settings. A masked API key value (as
// produced by a prior read) preserves the key already on record.
func (s *Store) SetAISettings(userID string, settings types.AISettings) (*types.AISettings, error) {
	const op = "activity.SetAISettings"
	if userID == "" {
		return nil, errors.Validation(op, "missing user id")
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.readAISettings(userID)
	if err != nil {
		return nil, err
	}

	settings.UserID = userID
	if isMasked(settings.APIKey) {
		settings.APIKey = current.APIKey
	}

	if err := s.data.Write(datastore.AISettingsCollection(userID), settings); err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	debug.LogStore("updated ai settings for user %s (provider=%s)", userID, settings.Provider)

	masked := settings
	masked.APIKey = MaskKey(settings.APIKey)
	return &masked, nil
}

// MaskKey replaces all but the last four characters with bullets. Short keys
// are fully masked.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	runes := []rune(key)
	if len(runes) <= maskVisible {
		return strings.Repeat("•", len(runes))
	}
	return strings.Repeat("•", len(runes)-maskVisible) + string(runes[len(runes)-maskVisible:])
}

func isMasked(key string) bool {
	return strings.ContainsRune(key, '•')
}
