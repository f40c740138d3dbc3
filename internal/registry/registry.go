// Package registry is the source of truth for spaces: named filesystem
// roots with visibility and ownership. The registry loads its state from the
// spaces collection at startup and persists before mutating in memory.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beaglenote/wikidex/internal/datastore"
	"github.com/beaglenote/wikidex/internal/debug"
	"github.com/beaglenote/wikidex/internal/errors"
	"github.com/beaglenote/wikidex/internal/types"
)

// Registry manages the space records. Reads take the RLock; mutations
// persist through the store first and update memory on success.
type Registry struct {
	store *datastore.Store

	mu     sync.RWMutex
	spaces map[int64]*types.Space
	nextID int64
}

// New loads existing spaces from the store.
func New(store *datastore.Store) (*Registry, error) {
	r := &Registry{
		store:  store,
		spaces: make(map[int64]*types.Space),
		nextID: 1,
	}

	var persisted []*types.Space
	if _, err := store.Read(datastore.SpacesCollection, &persisted); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "registry.New", err)
	}
	for _, sp := range persisted {
		r.spaces[sp.ID] = sp
		if sp.ID >= r.nextID {
			r.nextID = sp.ID + 1
		}
	}

	debug.LogStore("registry loaded %d spaces", len(r.spaces))
	return r, nil
}

// List returns the spaces visible to userID, ordered by name.
func (r *Registry) List(userID string) []*types.Space {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Space
	for _, sp := range r.spaces {
		if sp.VisibleTo(userID) {
			cp := *sp
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns every registered space regardless of visibility. Used by the
// indexing side, which enforces visibility at query time.
func (r *Registry) All() []*types.Space {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Space, 0, len(r.spaces))
	for _, sp := range r.spaces {
		cp := *sp
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the space with the given id.
func (r *Registry) Get(id int64) (*types.Space, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sp, ok := r.spaces[id]
	if !ok {
		return nil, errors.NotFound("registry.Get", "space", fmt.Sprintf("%d", id))
	}
	cp := *sp
	return &cp, nil
}

// GetByName returns the space with the given unique name.
func (r *Registry) GetByName(name string) (*types.Space, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sp := range r.spaces {
		if sp.Name == name {
			cp := *sp
			return &cp, nil
		}
	}
	return nil, errors.NotFound("registry.GetByName", "space", name)
}

// CreateParams carries the space creation request.
type CreateParams struct {
	Name        string
	Description string
	Visibility  types.Visibility
	RootPath    string
	OwnerID     string
}

// Create registers a new space. The root directory is created if missing and
// seeded from the starter template when it has no visible entries; a root
// with any visible entry is left untouched.
func (r *Registry) Create(p CreateParams) (*types.Space, error) {
	const op = "registry.Create"

	if strings.TrimSpace(p.Name) == "" {
		return nil, errors.Validation(op, "space name is required")
	}
	if p.Visibility == "" {
		p.Visibility = types.VisibilityPrivate
	}
	if !types.ValidVisibility(p.Visibility) {
		return nil, errors.Validation(op, "invalid visibility %q", p.Visibility)
	}
	if p.RootPath == "" {
		return nil, errors.Validation(op, "root path is required")
	}

	if err := os.MkdirAll(p.RootPath, 0755); err != nil {
		return nil, errors.New(errors.KindValidationFailed, op,
			"root path %q cannot be created", p.RootPath)
	}

	resolved, err := canonicalRoot(p.RootPath)
	if err != nil {
		return nil, errors.New(errors.KindValidationFailed, op,
			"root path %q is missing or not a directory", p.RootPath)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sp := range r.spaces {
		if sp.OwnerID == p.OwnerID && sp.Name == p.Name {
			return nil, errors.New(errors.KindConflict, op,
				"space name %q already exists", p.Name)
		}
	}

	seeded, err := seedIfEmpty(resolved)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	if seeded {
		debug.LogStore("seeded starter template into %s", resolved)
	}

	now := time.Now()
	sp := &types.Space{
		ID:          r.nextID,
		Name:        p.Name,
		Description: p.Description,
		RootPath:    resolved,
		Visibility:  p.Visibility,
		OwnerID:     p.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.spaces[sp.ID] = sp
	r.nextID++
	if err := r.persistLocked(); err != nil {
		delete(r.spaces, sp.ID)
		r.nextID--
		return nil, err
	}

	cp := *sp
	return &cp, nil
}

// UpdateParams carries the mutable space fields. Nil members are unchanged.
type UpdateParams struct {
	Name        *string
	Description *string
	Visibility  *types.Visibility
}

// Update renames a space or changes its visibility. Owner only.
func (r *Registry) Update(id int64, userID string, p UpdateParams) (*types.Space, error) {
	const op = "registry.Update"

	r.mu.Lock()
	defer r.mu.Unlock()

	sp, ok := r.spaces[id]
	if !ok {
		return nil, errors.NotFound(op, "space", fmt.Sprintf("%d", id))
	}
	if sp.OwnerID != userID {
		return nil, errors.New(errors.KindPermissionDenied, op, "only the owner can modify a space")
	}

	prev := *sp
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, errors.Validation(op, "space name is required")
		}
		for _, other := range r.spaces {
			if other.ID != id && other.OwnerID == userID && other.Name == name {
				return nil, errors.New(errors.KindConflict, op, "space name %q already exists", name)
			}
		}
		sp.Name = name
	}
	if p.Description != nil {
		sp.Description = *p.Description
	}
	if p.Visibility != nil {
		if !types.ValidVisibility(*p.Visibility) {
			return nil, errors.Validation(op, "invalid visibility %q", *p.Visibility)
		}
		sp.Visibility = *p.Visibility
	}
	sp.UpdatedAt = time.Now()

	if err := r.persistLocked(); err != nil {
		*sp = prev
		return nil, err
	}

	cp := *sp
	return &cp, nil
}

// Delete removes a space. Owner only. Document eviction from the index is
// the coordinator's job; the registry only drops the record.
func (r *Registry) Delete(id int64, userID string) error {
	const op = "registry.Delete"

	r.mu.Lock()
	defer r.mu.Unlock()

	sp, ok := r.spaces[id]
	if !ok {
		return errors.NotFound(op, "space", fmt.Sprintf("%d", id))
	}
	if sp.OwnerID != userID {
		return errors.New(errors.KindPermissionDenied, op, "only the owner can delete a space")
	}

	delete(r.spaces, id)
	if err := r.persistLocked(); err != nil {
		r.spaces[id] = sp
		return err
	}
	return nil
}

// SetCounts records maintained (non-authoritative) file/folder counts.
func (r *Registry) SetCounts(id int64, files, folders int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sp, ok := r.spaces[id]; ok {
		sp.FileCount = files
		sp.FolderCount = folders
		if err := r.persistLocked(); err != nil {
			debug.LogStore("failed to persist space counts: %v", err)
		}
	}
}

func (r *Registry) persistLocked() error {
	all := make([]*types.Space, 0, len(r.spaces))
	for _, sp := range r.spaces {
		all = append(all, sp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if err := r.store.Write(datastore.SpacesCollection, all); err != nil {
		return errors.Wrap(errors.KindInternal, "registry.persist", err)
	}
	return nil
}

// canonicalRoot resolves symlinks and verifies the path is a directory.
func canonicalRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}
