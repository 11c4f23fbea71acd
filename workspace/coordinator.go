package workspace

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tag identifies a cache entry: which kind of payload it is (workspace
// snapshot, document list, ...) and which workspace it belongs to. Purge
// decisions match on WorkspaceID exactly, never on string similarity.
type Tag struct {
	Kind        string
	WorkspaceID string
}

// FetchFunc loads a payload from the backing API on a cache miss.
type FetchFunc func(ctx context.Context) (any, error)

// View is the projection of the active workspace's data currently shown to
// the UI, plus its transient loading/error state.
type View struct {
	WorkspaceID string
	Data        map[string]any // keyed by Tag.Kind
	Loading     bool
	Err         error
}

// Coordinator tracks the active workspace and keeps the secondary
// read-through cache consistent across workspace switches.
//
// Retention policy: entries scoped exclusively to the workspace being left
// are purged at switch time (they are not retained for later revisits);
// entries scoped to the workspace being entered are reused immediately and
// are never purged by a switch. On teardown only transient loading/error
// state is dropped — the cache survives so re-entering the same workspace
// is instant.
type Coordinator struct {
	mu      sync.Mutex
	active  string // "" until the first Enter
	cache   map[Tag]any
	data    map[string]any
	loading bool
	err     error
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		cache: make(map[Tag]any),
		data:  make(map[string]any),
	}
}

// Enter makes workspaceID the active workspace.
//
// First load (no active workspace yet): any cache hits for workspaceID
// populate the view immediately, avoiding a loading flash; nothing is
// purged. A real switch additionally clears the old view and purges cache
// entries tagged exclusively to the workspace being left.
func (c *Coordinator) Enter(workspaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == workspaceID {
		return
	}

	if c.active != "" {
		oldID := c.active
		c.data = make(map[string]any)
		c.purgeLocked(oldID, workspaceID)
	}

	c.active = workspaceID
	c.populateViewLocked(workspaceID)
}

// Leave clears only the transient error and loading state. The data cache is
// deliberately retained so a later re-entry to the same workspace is
// instant.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	c.err = nil
}

// Put records a fetched payload in the cache and, when it belongs to the
// active workspace, in the live view.
func (c *Coordinator) Put(kind, workspaceID string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[Tag{Kind: kind, WorkspaceID: workspaceID}] = payload
	if workspaceID == c.active {
		c.data[kind] = payload
	}
}

// Lookup returns the cached payload for the tag, if any. Data-fetching
// collaborators check here before issuing a network request.
func (c *Coordinator) Lookup(kind, workspaceID string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.cache[Tag{Kind: kind, WorkspaceID: workspaceID}]
	return payload, ok
}

// Resolve is the read-through path: a cache hit is returned without any
// loading-state transition; a miss runs fetch under the loading flag and
// caches the result.
func (c *Coordinator) Resolve(ctx context.Context, kind, workspaceID string, fetch FetchFunc) (any, error) {
	if payload, ok := c.Lookup(kind, workspaceID); ok {
		return payload, nil
	}

	c.mu.Lock()
	c.loading = true
	c.err = nil
	c.mu.Unlock()

	payload, err := fetch(ctx)

	c.mu.Lock()
	c.loading = false
	if err != nil {
		c.err = err
		c.mu.Unlock()
		return nil, err
	}
	c.cache[Tag{Kind: kind, WorkspaceID: workspaceID}] = payload
	if workspaceID == c.active {
		c.data[kind] = payload
	}
	c.mu.Unlock()
	return payload, nil
}

// ActiveID returns the active workspace id, or "" before the first Enter.
func (c *Coordinator) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Snapshot returns a copy of the live view.
func (c *Coordinator) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := make(map[string]any, len(c.data))
	for kind, payload := range c.data {
		data[kind] = payload
	}
	return View{
		WorkspaceID: c.active,
		Data:        data,
		Loading:     c.loading,
		Err:         c.err,
	}
}

// CachedTags lists the tags currently held in the cache.
func (c *Coordinator) CachedTags() []Tag {
	c.mu.Lock()
	defer c.mu.Unlock()
	tags := make([]Tag, 0, len(c.cache))
	for tag := range c.cache {
		tags = append(tags, tag)
	}
	return tags
}

// purgeLocked drops entries tagged with oldID unless they are also valid for
// newID. An entry tagged with the workspace being entered is never purged.
func (c *Coordinator) purgeLocked(oldID, newID string) {
	purged := 0
	for tag := range c.cache {
		if tag.WorkspaceID == oldID && tag.WorkspaceID != newID {
			delete(c.cache, tag)
			purged++
		}
	}
	if purged > 0 {
		log.Debug().
			Str("old_workspace", oldID).
			Str("new_workspace", newID).
			Int("purged", purged).
			Msg("Purged workspace-scoped cache entries")
	}
}

func (c *Coordinator) populateViewLocked(workspaceID string) {
	for tag, payload := range c.cache {
		if tag.WorkspaceID == workspaceID {
			c.data[tag.Kind] = payload
		}
	}
}
