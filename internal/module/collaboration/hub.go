package collaboration

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagecraft/server/internal/shared/metrics"
)

// Sink delivers outbound frames to one connection. Implementations must be
// safe for concurrent use and must never block the caller indefinitely.
type Sink interface {
	Send(payload []byte) error
	Close()
}

// Session is the per-connection protocol state. A session starts Pending (no
// identity), becomes Joined on a valid join frame, and is Closed when the
// transport tears it down. All fields besides ID and sink are guarded by the
// hub's lock.
type Session struct {
	ID        string
	UserID    string
	UserName  string
	ProjectID uuid.UUID

	sink   Sink
	joined bool
	closed bool
}

// HubConfig holds protocol handler settings.
type HubConfig struct {
	// BaseURL is the public base used to build share links.
	BaseURL string
	// HistoryLimit caps the message snapshot sent in the init event.
	HistoryLimit int
}

// Hub is the protocol handler: it parses inbound frames, validates them
// against the role model and project store, mutates state, and fans out
// broadcasts. One mutex serializes all frame handling and disconnects, which
// makes every mutation atomic with respect to other frames and gives each
// project's broadcasts a single observable order.
type Hub struct {
	mu       sync.Mutex
	store    *Store
	registry *Registry
	config   HubConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics // optional
}

// NewHub creates a protocol handler over the given store and registry.
// metrics may be nil.
func NewHub(cfg HubConfig, store *Store, registry *Registry, logger *zap.Logger, m *metrics.Metrics) *Hub {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &Hub{
		store:    store,
		registry: registry,
		config:   cfg,
		logger:   logger,
		metrics:  m,
	}
}

// NewSession registers a pending session for a freshly accepted connection.
// No identity is bound until a valid join frame arrives.
func (h *Hub) NewSession(sink Sink) *Session {
	return &Session{
		ID:   uuid.NewString(),
		sink: sink,
	}
}

// ShareLink renders the invite link for a share token.
func (h *Hub) ShareLink(token string) string {
	return strings.TrimRight(h.config.BaseURL, "/") + "/join/" + token
}

// HandleFrame processes one inbound frame to completion. Unparseable JSON and
// unknown frame types are dropped silently; the connection stays open. Every
// frame except join is a no-op while the session is pending.
func (h *Hub) HandleFrame(s *Session, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.logger.Debug("dropping unparseable frame", zap.String("connection_id", s.ID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if s.closed {
		return
	}
	if h.metrics != nil {
		h.metrics.CollabFramesTotal.WithLabelValues(frame.Type).Inc()
	}

	switch frame.Type {
	case frameJoin:
		h.handleJoin(s, &frame)
	case frameChat:
		if s.joined {
			h.handleChat(s, &frame)
		}
	case frameInvite:
		if s.joined {
			h.handleInvite(s, &frame)
		}
	case frameRole:
		if s.joined {
			h.handleRole(s, &frame)
		}
	case frameRemove:
		if s.joined {
			h.handleRemove(s, &frame)
		}
	case framePing:
		if s.joined {
			h.send(s, pongEvent{Type: eventPong})
		}
	default:
		// Unknown type: ignore.
	}
}

// Disconnect tears down a session on transport close or error: the registry
// entry is pruned synchronously and the remaining connections on the project
// receive user_offline. The event fires on every close, even when other
// connections for the same userId remain live; the roster and messages are
// untouched. No system chat message is produced, asymmetric with join.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if !s.joined {
		return
	}

	h.registry.Unregister(s.ID)
	if h.metrics != nil {
		h.metrics.CollabConnectionsActive.Dec()
	}
	h.broadcast(s.ProjectID, userOfflineEvent{Type: eventUserOffline, UserID: s.UserID}, "")

	h.logger.Info("collaborator disconnected",
		zap.String("connection_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.String("project_id", s.ProjectID.String()),
	)
}

// Shutdown closes every live connection. Read loops observe the close and
// run their normal Disconnect teardown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := h.registry.All()
	h.mu.Unlock()

	for _, s := range sessions {
		s.sink.Close()
	}
}

func (h *Hub) handleJoin(s *Session, frame *inboundFrame) {
	if s.joined {
		// The only transition out of Pending is join; a second join has
		// nowhere to go.
		return
	}

	projectID, err := uuid.Parse(frame.ProjectID)
	if err != nil {
		h.sendError(s, "project not found")
		return
	}
	project, ok := h.store.GetByID(projectID)
	if !ok {
		h.sendError(s, "project not found")
		return
	}
	if frame.UserID == "" {
		h.sendError(s, "userId is required")
		return
	}

	s.UserID = frame.UserID
	s.UserName = frame.UserName
	s.ProjectID = projectID
	s.joined = true
	h.registry.Register(s)
	if h.metrics != nil {
		h.metrics.CollabConnectionsActive.Inc()
	}

	if project.MemberByUserID(frame.UserID) == nil {
		member := &Member{
			ID:          uuid.New(),
			UserID:      frame.UserID,
			DisplayName: frame.UserName,
			Role:        project.DefaultRole,
			JoinedAt:    time.Now(),
		}
		if err := h.store.AddMember(projectID, member); err != nil {
			h.logger.Warn("add member on join", zap.Error(err))
		}
	}

	notice, err := h.store.AppendMessage(projectID, SystemUserID, SystemUserID,
		fmt.Sprintf("%s joined", frame.UserName), MessageKindSystem)
	if err != nil {
		h.logger.Warn("append join notice", zap.Error(err))
	}

	h.send(s, initEvent{
		Type:          eventInit,
		Project:       h.projectView(project),
		OnlineUserIDs: h.registry.OnlineUserIDs(projectID),
		Messages:      h.store.RecentMessages(projectID, h.config.HistoryLimit),
	})
	h.broadcast(projectID, userOnlineEvent{
		Type:     eventUserOnline,
		UserID:   frame.UserID,
		UserName: frame.UserName,
	}, s.ID)
	if notice != nil {
		h.broadcast(projectID, chatMessageEvent{Type: eventChatMessage, Message: notice}, "")
	}

	h.logger.Info("collaborator joined",
		zap.String("connection_id", s.ID),
		zap.String("user_id", frame.UserID),
		zap.String("project_id", projectID.String()),
	)
}

func (h *Hub) handleChat(s *Session, frame *inboundFrame) {
	project, ok := h.store.GetByID(s.ProjectID)
	if !ok {
		h.sendError(s, "project not found")
		return
	}
	if Authorize(project, s.UserID, RoleViewer) != DecisionAllowed {
		h.sendError(s, "permission denied")
		return
	}

	msg, err := h.store.AppendMessage(s.ProjectID, s.UserID, s.UserName, frame.Content, MessageKindText)
	if err != nil {
		h.sendError(s, "permission denied")
		return
	}
	// The sender receives its own echo and renders chat from the broadcast.
	h.broadcast(s.ProjectID, chatMessageEvent{Type: eventChatMessage, Message: msg}, "")
}

func (h *Hub) handleInvite(s *Session, frame *inboundFrame) {
	project, ok := h.store.GetByID(s.ProjectID)
	if !ok {
		h.sendError(s, "project not found")
		return
	}
	if Authorize(project, s.UserID, RoleEditor) != DecisionAllowed {
		h.sendError(s, "permission denied")
		return
	}

	email := NormalizeEmail(frame.Email)
	if email == "" {
		h.sendError(s, "email is required")
		return
	}
	if !frame.Role.IsAssignable() {
		h.sendError(s, "invalid role")
		return
	}
	if project.MemberByEmail(email) != nil {
		h.sendError(s, "already a member")
		return
	}

	member := &Member{
		ID:          uuid.New(),
		UserID:      pendingUserIDPrefix + uuid.NewString()[:8],
		DisplayName: email,
		Email:       email,
		Role:        frame.Role,
		JoinedAt:    time.Now(),
	}
	if err := h.store.AddMember(s.ProjectID, member); err != nil {
		h.sendError(s, "already a member")
		return
	}

	h.broadcast(s.ProjectID, memberAddedEvent{
		Type:   eventMemberAdded,
		Member: h.memberViewIn(s.ProjectID, member),
	}, "")
	h.send(s, inviteSentEvent{
		Type:      eventInviteSent,
		Email:     email,
		ShareLink: h.ShareLink(project.ShareToken),
	})

	h.logger.Info("member invited",
		zap.String("project_id", s.ProjectID.String()),
		zap.String("invited_by", s.UserID),
		zap.String("email", email),
	)
}

func (h *Hub) handleRole(s *Session, frame *inboundFrame) {
	project, ok := h.store.GetByID(s.ProjectID)
	if !ok {
		h.sendError(s, "project not found")
		return
	}
	if Authorize(project, s.UserID, RoleOwner) != DecisionAllowed {
		h.sendError(s, "permission denied")
		return
	}
	if !frame.Role.IsAssignable() {
		h.sendError(s, "invalid role")
		return
	}

	switch err := h.store.UpdateMemberRole(s.ProjectID, frame.TargetUserID, frame.Role); err {
	case nil:
	case ErrMemberNotFound:
		h.sendError(s, "member not found")
		return
	case ErrCannotChangeOwner:
		h.sendError(s, "cannot change the owner's role")
		return
	default:
		h.sendError(s, "permission denied")
		return
	}

	h.broadcast(s.ProjectID, memberRoleChangedEvent{
		Type:   eventMemberRoleChanged,
		UserID: frame.TargetUserID,
		Role:   frame.Role,
	}, "")
}

func (h *Hub) handleRemove(s *Session, frame *inboundFrame) {
	project, ok := h.store.GetByID(s.ProjectID)
	if !ok {
		h.sendError(s, "project not found")
		return
	}
	if Authorize(project, s.UserID, RoleOwner) != DecisionAllowed {
		h.sendError(s, "permission denied")
		return
	}

	switch err := h.store.RemoveMember(s.ProjectID, frame.TargetUserID); err {
	case nil:
	case ErrMemberNotFound:
		h.sendError(s, "member not found")
		return
	case ErrCannotRemoveOwner:
		h.sendError(s, "cannot remove the owner")
		return
	default:
		h.sendError(s, "permission denied")
		return
	}

	h.broadcast(s.ProjectID, memberRemovedEvent{
		Type:   eventMemberRemoved,
		UserID: frame.TargetUserID,
	}, "")
}

// projectView builds the wire snapshot of a project, projecting the current
// online state onto each member.
func (h *Hub) projectView(p *Project) ProjectView {
	members := make([]MemberView, 0, len(p.Members))
	for _, m := range p.Members {
		members = append(members, h.memberViewIn(p.ID, m))
	}
	return ProjectView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		OwnerUserID: p.OwnerUserID,
		DefaultRole: p.DefaultRole,
		Members:     members,
		CreatedAt:   p.CreatedAt,
	}
}

func (h *Hub) memberViewIn(projectID uuid.UUID, m *Member) MemberView {
	return MemberView{
		ID:          m.ID,
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
		Email:       m.Email,
		Role:        m.Role,
		Online:      !m.IsPending() && h.registry.IsOnline(projectID, m.UserID),
		JoinedAt:    m.JoinedAt,
	}
}

func (h *Hub) sendError(s *Session, message string) {
	h.send(s, errorEvent{Type: eventError, Message: message})
}

// send marshals and delivers one event to a single session. Delivery is best
// effort: a failed write is the transport's problem to surface via its close
// path.
func (h *Hub) send(s *Session, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err))
		return
	}
	if err := s.sink.Send(payload); err != nil {
		h.logger.Debug("send to connection failed",
			zap.String("connection_id", s.ID), zap.Error(err))
	}
}

// broadcast delivers one event to every connection joined to the project,
// optionally excluding one connection id. Fan-out cost is proportional to the
// project's live connections.
func (h *Hub) broadcast(projectID uuid.UUID, event any, exceptID string) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal broadcast", zap.Error(err))
		return
	}
	for _, target := range h.registry.Project(projectID) {
		if target.ID == exceptID {
			continue
		}
		if err := target.sink.Send(payload); err != nil {
			h.logger.Debug("broadcast to connection failed",
				zap.String("connection_id", target.ID), zap.Error(err))
			continue
		}
		if h.metrics != nil {
			h.metrics.CollabBroadcastsTotal.Inc()
		}
	}
}
