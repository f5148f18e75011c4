package collaboration

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store errors.
var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrMemberNotFound    = errors.New("member not found")
	ErrAlreadyMember     = errors.New("already a member")
	ErrCannotChangeOwner = errors.New("cannot change the owner's role")
	ErrCannotRemoveOwner = errors.New("cannot remove the owner")
)

// Store is the in-memory repository of collaboration projects. State is
// volatile by design: members and messages live until the process ends.
//
// The store's own lock makes individual reads and writes race-free (the HTTP
// surface reads concurrently with the websocket hub); frame-level atomicity
// across check-then-mutate sequences is provided by the Hub, which serializes
// all frame handling.
type Store struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]*Project
	byToken  map[string]uuid.UUID
	logger   *zap.Logger
}

// NewStore creates an empty project store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		projects: make(map[uuid.UUID]*Project),
		byToken:  make(map[string]uuid.UUID),
		logger:   logger,
	}
}

// Create allocates a new project owned by ownerUserID, with a fresh share
// token, the shared-link default role set to editor, the owner seeded as the
// only member, and one system message announcing creation.
func (s *Store) Create(ownerUserID, ownerName, name, description string) (*Project, error) {
	token, err := generateShareToken()
	if err != nil {
		return nil, fmt.Errorf("generate share token: %w", err)
	}

	now := time.Now()
	project := &Project{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		OwnerUserID: ownerUserID,
		ShareToken:  token,
		DefaultRole: RoleEditor,
		CreatedAt:   now,
		Members: []*Member{
			{
				ID:          uuid.New(),
				UserID:      ownerUserID,
				DisplayName: ownerName,
				Role:        RoleOwner,
				JoinedAt:    now,
			},
		},
	}
	project.Messages = append(project.Messages, &ChatMessage{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		AuthorUserID: SystemUserID,
		AuthorName:   SystemUserID,
		Body:         fmt.Sprintf("%s created the project", ownerName),
		Kind:         MessageKindSystem,
		Timestamp:    now,
	})

	s.mu.Lock()
	s.projects[project.ID] = project
	s.byToken[token] = project.ID
	s.mu.Unlock()

	s.logger.Info("project created",
		zap.String("project_id", project.ID.String()),
		zap.String("owner_user_id", ownerUserID),
		zap.String("name", name),
	)

	return project, nil
}

// GetByID returns the project with the given id.
func (s *Store) GetByID(id uuid.UUID) (*Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	return p, ok
}

// GetByShareToken resolves a share token to its project. Used by the
// invite-link flow; the token is the only credential needed.
func (s *Store) GetByShareToken(token string) (*Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, false
	}
	p, ok := s.projects[id]
	return p, ok
}

// View runs fn with the project under the store's read lock and reports
// whether the project exists. Read-only callers (the HTTP surface) use this
// to build snapshots without racing the hub's mutations.
func (s *Store) View(id uuid.UUID, fn func(*Project)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// ViewByShareToken is View keyed by share token.
func (s *Store) ViewByShareToken(token string, fn func(*Project)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return false
	}
	p, ok := s.projects[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// Count returns the number of projects held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.projects)
}

// AddMember appends a member to the project roster. At most one member may
// exist per userId; adding a duplicate returns ErrAlreadyMember.
func (s *Store) AddMember(projectID uuid.UUID, member *Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return ErrProjectNotFound
	}
	if p.MemberByUserID(member.UserID) != nil {
		return ErrAlreadyMember
	}
	p.Members = append(p.Members, member)
	return nil
}

// UpdateMemberRole changes a member's role. The owner's role is immutable:
// ownership transfer is not supported by any exposed operation.
func (s *Store) UpdateMemberRole(projectID uuid.UUID, targetUserID string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return ErrProjectNotFound
	}
	target := p.MemberByUserID(targetUserID)
	if target == nil {
		return ErrMemberNotFound
	}
	if target.Role == RoleOwner || targetUserID == p.OwnerUserID {
		return ErrCannotChangeOwner
	}
	target.Role = role
	return nil
}

// RemoveMember deletes a member from the roster. The owner cannot be removed.
func (s *Store) RemoveMember(projectID uuid.UUID, targetUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return ErrProjectNotFound
	}
	idx := -1
	for i, m := range p.Members {
		if m.UserID == targetUserID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrMemberNotFound
	}
	if p.Members[idx].Role == RoleOwner || targetUserID == p.OwnerUserID {
		return ErrCannotRemoveOwner
	}
	p.Members = append(p.Members[:idx], p.Members[idx+1:]...)
	return nil
}

// AppendMessage appends a chat message to the project's log, truncating the
// body to the code-point limit. Messages are immutable and never deleted.
func (s *Store) AppendMessage(projectID uuid.UUID, authorUserID, authorName, body string, kind MessageKind) (*ChatMessage, error) {
	if utf8.RuneCountInString(body) > maxMessageRunes {
		runes := []rune(body)
		body = string(runes[:maxMessageRunes])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil, ErrProjectNotFound
	}
	msg := &ChatMessage{
		ID:           uuid.New(),
		ProjectID:    projectID,
		AuthorUserID: authorUserID,
		AuthorName:   authorName,
		Body:         body,
		Kind:         kind,
		Timestamp:    time.Now(),
	}
	p.Messages = append(p.Messages, msg)
	return msg, nil
}

// RecentMessages returns a copy of the newest messages, oldest first, capped
// at limit.
func (s *Store) RecentMessages(projectID uuid.UUID, limit int) []*ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil
	}
	msgs := p.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// NormalizeEmail lowers and trims an email address for roster comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
