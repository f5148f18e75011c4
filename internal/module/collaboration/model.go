package collaboration

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageKind distinguishes user chat from engine-generated notices.
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindSystem MessageKind = "system"
)

// SystemUserID is the author recorded on engine-generated messages.
const SystemUserID = "system"

// maxMessageRunes is the chat body limit in code points; longer bodies are truncated.
const maxMessageRunes = 2000

// pendingUserIDPrefix marks invited members that have never connected.
const pendingUserIDPrefix = "pending_"

// Member is a user's membership record in a project.
type Member struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// IsPending reports whether this member was invited but has never joined.
func (m *Member) IsPending() bool {
	return strings.HasPrefix(m.UserID, pendingUserIDPrefix)
}

// ChatMessage is one immutable entry in a project's message log.
type ChatMessage struct {
	ID           uuid.UUID   `json:"id"`
	ProjectID    uuid.UUID   `json:"projectId"`
	AuthorUserID string      `json:"authorUserId"`
	AuthorName   string      `json:"authorName"`
	Body         string      `json:"body"`
	Kind         MessageKind `json:"kind"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Project is a shared collaboration workspace: a member roster plus a chat log.
// Exactly one member holds RoleOwner, assigned at creation; ownership never
// transfers. ShareToken is generated once and is stable for the project's
// lifetime.
type Project struct {
	ID          uuid.UUID
	Name        string
	Description string
	OwnerUserID string
	ShareToken  string
	DefaultRole Role // role granted when joining through the shared link
	Members     []*Member
	Messages    []*ChatMessage
	CreatedAt   time.Time
}

// MemberByUserID returns the member with the given userId, or nil.
func (p *Project) MemberByUserID(userID string) *Member {
	for _, m := range p.Members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

// MemberByEmail returns the member with the given email, or nil. Emails are
// compared after the store's normalization (lowercase, trimmed).
func (p *Project) MemberByEmail(email string) *Member {
	for _, m := range p.Members {
		if m.Email != "" && m.Email == email {
			return m
		}
	}
	return nil
}

// generateShareToken returns a cryptographically random URL-safe token.
func generateShareToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
