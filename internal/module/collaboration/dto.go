package collaboration

import (
	"time"

	"github.com/google/uuid"
)

// Inbound frame types.
const (
	frameJoin   = "join"
	frameChat   = "chat"
	frameInvite = "invite"
	frameRole   = "role"
	frameRemove = "remove"
	framePing   = "ping"
)

// Outbound event types.
const (
	eventInit              = "init"
	eventChatMessage       = "chat_message"
	eventUserOnline        = "user_online"
	eventUserOffline       = "user_offline"
	eventMemberAdded       = "member_added"
	eventMemberRoleChanged = "member_role_changed"
	eventMemberRemoved     = "member_removed"
	eventInviteSent        = "invite_sent"
	eventError             = "error"
	eventPong              = "pong"
)

// inboundFrame is the envelope for every client frame: a type discriminator
// plus the union of per-type fields. Unknown fields are ignored by
// encoding/json, so one envelope covers the whole protocol.
type inboundFrame struct {
	Type         string `json:"type"`
	ProjectID    string `json:"projectId"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	Content      string `json:"content"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	TargetUserID string `json:"targetUserId"`
}

// MemberView is a member as sent over the wire. Online is a point-in-time
// projection computed from the registry when the snapshot is built; it is not
// a stored fact.
type MemberView struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	Role        Role      `json:"role"`
	Online      bool      `json:"online"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// ProjectView is the full project snapshot carried by the init event.
type ProjectView struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	OwnerUserID string       `json:"ownerUserId"`
	DefaultRole Role         `json:"defaultRole"`
	Members     []MemberView `json:"members"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type initEvent struct {
	Type          string         `json:"type"`
	Project       ProjectView    `json:"project"`
	OnlineUserIDs []string       `json:"onlineUserIds"`
	Messages      []*ChatMessage `json:"messages"`
}

type chatMessageEvent struct {
	Type    string       `json:"type"`
	Message *ChatMessage `json:"message"`
}

type userOnlineEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type userOfflineEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type memberAddedEvent struct {
	Type   string     `json:"type"`
	Member MemberView `json:"member"`
}

type memberRoleChangedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

type memberRemovedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type inviteSentEvent struct {
	Type      string `json:"type"`
	Email     string `json:"email"`
	ShareLink string `json:"shareLink"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongEvent struct {
	Type string `json:"type"`
}
