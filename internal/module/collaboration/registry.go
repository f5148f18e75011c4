package collaboration

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry is the live table of open connections and the project each has
// joined. It keeps a per-project index so broadcast fan-out is proportional
// to that project's connections, not the whole table.
//
// Presence is derived, never stored: OnlineUserIDs rescans the table on every
// call. Entries must be pruned synchronously on close/error; an abandoned
// entry is the engine's primary leak risk.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session            // connectionID -> session
	byProject map[uuid.UUID]map[string]*Session // projectID -> connectionID -> session
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		byProject: make(map[uuid.UUID]map[string]*Session),
	}
}

// Register records a joined session. Multiple sessions may share a userId
// (several tabs); each connection registers independently.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID] = s
	room := r.byProject[s.ProjectID]
	if room == nil {
		room = make(map[string]*Session)
		r.byProject[s.ProjectID] = room
	}
	room[s.ID] = s
}

// Unregister removes a session by connection id and reports whether it was
// present.
func (r *Registry) Unregister(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		return false
	}
	delete(r.sessions, connectionID)
	if room := r.byProject[s.ProjectID]; room != nil {
		delete(room, connectionID)
		if len(room) == 0 {
			delete(r.byProject, s.ProjectID)
		}
	}
	return true
}

// Project returns the sessions currently joined to the project.
func (r *Registry) Project(projectID uuid.UUID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.byProject[projectID]
	out := make([]*Session, 0, len(room))
	for _, s := range room {
		out = append(out, s)
	}
	return out
}

// OnlineUserIDs returns the deduplicated set of userIds with at least one
// live connection to the project, sorted for stable output.
func (r *Registry) OnlineUserIDs(projectID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.byProject[projectID]
	seen := make(map[string]struct{}, len(room))
	out := make([]string, 0, len(room))
	for _, s := range room {
		if _, dup := seen[s.UserID]; dup {
			continue
		}
		seen[s.UserID] = struct{}{}
		out = append(out, s.UserID)
	}
	sort.Strings(out)
	return out
}

// IsOnline reports whether the userId has at least one live connection to the
// project.
func (r *Registry) IsOnline(projectID uuid.UUID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.byProject[projectID] {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// All returns every registered session across all projects.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions across all projects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
