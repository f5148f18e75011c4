package collaboration

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSink records delivered events for assertions.
type fakeSink struct {
	mu     sync.Mutex
	events []map[string]any
	closed bool
}

func (f *fakeSink) Send(payload []byte) error {
	var evt map[string]any
	if err := json.Unmarshal(payload, &evt); err != nil {
		return err
	}
	f.mu.Lock()
	f.events = append(f.events, evt)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSink) byType(typ string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, evt := range f.events {
		if evt["type"] == typ {
			out = append(out, evt)
		}
	}
	return out
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeSink) reset() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}

type hubFixture struct {
	hub      *Hub
	store    *Store
	registry *Registry
	project  *Project
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	logger := zap.NewNop()
	store := NewStore(logger)
	registry := NewRegistry()
	hub := NewHub(HubConfig{BaseURL: "http://collab.test", HistoryLimit: 50}, store, registry, logger, nil)

	project, err := store.Create("owner", "Olivia", "My Site", "a shared build")
	require.NoError(t, err)

	return &hubFixture{hub: hub, store: store, registry: registry, project: project}
}

func frameJSON(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}

func (fx *hubFixture) connect() (*Session, *fakeSink) {
	sink := &fakeSink{}
	return fx.hub.NewSession(sink), sink
}

func (fx *hubFixture) join(t *testing.T, userID, userName string) (*Session, *fakeSink) {
	t.Helper()
	s, sink := fx.connect()
	fx.hub.HandleFrame(s, frameJSON(t, map[string]any{
		"type":      "join",
		"projectId": fx.project.ID.String(),
		"userId":    userID,
		"userName":  userName,
	}))
	return s, sink
}

func TestHub_Join_ProjectNotFound(t *testing.T) {
	fx := newHubFixture(t)
	s, sink := fx.connect()

	fx.hub.HandleFrame(s, frameJSON(t, map[string]any{
		"type":      "join",
		"projectId": "3f0a0c9e-0000-0000-0000-000000000000",
		"userId":    "u2",
		"userName":  "Bob",
	}))

	require.Len(t, sink.byType("error"), 1)
	assert.Equal(t, 0, fx.registry.Len())

	// The connection stays pending; further frames are silently ignored.
	fx.hub.HandleFrame(s, frameJSON(t, map[string]any{"type": "chat", "content": "hello"}))
	assert.Equal(t, 1, sink.count())
}

func TestHub_Join_Success(t *testing.T) {
	fx := newHubFixture(t)
	_, ownerSink := fx.join(t, "owner", "Olivia")
	ownerSink.reset()

	_, sink := fx.join(t, "u2", "Bob")

	// Joiner receives init plus the join notice; its own user_online is
	// excluded (it already knows it is online).
	inits := sink.byType("init")
	require.Len(t, inits, 1)
	assert.Empty(t, sink.byType("user_online"))
	require.Len(t, sink.byType("chat_message"), 1)

	project := inits[0]["project"].(map[string]any)
	members := project["members"].([]any)
	assert.Len(t, members, 2)
	online := inits[0]["onlineUserIds"].([]any)
	assert.Contains(t, online, "u2")
	assert.Contains(t, online, "owner")

	// Other connections receive user_online and the system join notice.
	onlines := ownerSink.byType("user_online")
	require.Len(t, onlines, 1)
	assert.Equal(t, "u2", onlines[0]["userId"])
	assert.Equal(t, "Bob", onlines[0]["userName"])
	notices := ownerSink.byType("chat_message")
	require.Len(t, notices, 1)
	msg := notices[0]["message"].(map[string]any)
	assert.Equal(t, "system", msg["authorUserId"])
	assert.Contains(t, msg["body"], "Bob")

	// The joiner was added with the project's shared-link default role.
	member := fx.project.MemberByUserID("u2")
	require.NotNil(t, member)
	assert.Equal(t, RoleEditor, member.Role)
}

func TestHub_Join_Idempotent(t *testing.T) {
	fx := newHubFixture(t)

	// N joins by the same userId, across different connections, produce one
	// roster entry.
	for i := 0; i < 3; i++ {
		fx.join(t, "u2", "Bob")
	}

	assert.Len(t, fx.project.Members, 2)
	assert.Equal(t, []string{"u2"}, fx.registry.OnlineUserIDs(fx.project.ID))
}

func TestHub_Join_SecondJoinIgnored(t *testing.T) {
	fx := newHubFixture(t)
	s, sink := fx.join(t, "u2", "Bob")
	before := sink.count()

	fx.hub.HandleFrame(s, frameJSON(t, map[string]any{
		"type":      "join",
		"projectId": fx.project.ID.String(),
		"userId":    "u2",
		"userName":  "Bob",
	}))

	assert.Equal(t, before, sink.count())
	assert.Len(t, fx.project.Members, 2)
}

func TestHub_Init_MessageSnapshotCapped(t *testing.T) {
	fx := newHubFixture(t)
	for i := 0; i < 60; i++ {
		_, err := fx.store.AppendMessage(fx.project.ID, "owner", "Olivia", "backlog", MessageKindText)
		require.NoError(t, err)
	}

	_, sink := fx.join(t, "u2", "Bob")

	inits := sink.byType("init")
	require.Len(t, inits, 1)
	assert.Len(t, inits[0]["messages"].([]any), 50)
}

func TestHub_Chat_BroadcastToAllIncludingSender(t *testing.T) {
	fx := newHubFixture(t)
	_, ownerSink := fx.join(t, "owner", "Olivia")
	s2, sink2 := fx.join(t, "u2", "Bob")
	ownerSink.reset()
	sink2.reset()

	fx.hub.HandleFrame(s2, frameJSON(t, map[string]any{"type": "chat", "content": "hello world"}))

	// Exactly one chat_message per joined connection, sender included: the
	// sender renders its own echo from the broadcast.
	for _, sink := range []*fakeSink{ownerSink, sink2} {
		msgs := sink.byType("chat_message")
		require.Len(t, msgs, 1)
		body := msgs[0]["message"].(map[string]any)
		assert.Equal(t, "hello world", body["body"])
		assert.Equal(t, "u2", body["authorUserId"])
	}
}

func TestHub_Chat_TruncatesLongBody(t *testing.T) {
	fx := newHubFixture(t)
	s, sink := fx.join(t, "u2", "Bob")
	sink.reset()

	fx.hub.HandleFrame(s, frameJSON(t, map[string]any{
		"type":    "chat",
		"content": strings.Repeat("x", 2500),
	}))

	msgs := sink.byType("chat_message")
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0]["message"].(map[string]any)["body"], 2000)
}

func TestHub_Chat_DeniedAfterRemoval(t *testing.T) {
	fx := newHubFixture(t)
	owner, _ := fx.join(t, "owner", "Olivia")
	s2, sink2 := fx.join(t, "u2", "Bob")

	fx.hub.HandleFrame(owner, frameJSON(t, map[string]any{
		"type":         "remove",
		"projectId":    fx.project.ID.String(),
		"targetUserId": "u2",
	}))
	require.Nil(t, fx.project.MemberByUserID("u2"))
	sink2.reset()

	before := len(fx.project.Messages)
	fx.hub.HandleFrame(s2, frameJSON(t, map[string]any{"type": "chat", "content": "still here?"}))

	require.Len(t, sink2.byType("error"), 1)
	assert.Empty(t, sink2.byType("chat_message"))
	assert.Len(t, fx.project.Messages, before)
}

func TestHub_Invite_ByEditor(t *testing.T) {
	fx := newHubFixture(t)
	_, ownerSink := fx.join(t, "owner", "Olivia")
	s2, sink2 := fx.join(t, "u2", "Bob")
	ownerSink.reset()
	sink2.reset()

	fx.hub.HandleFrame(s2, frameJSON(t, map[string]any{
		"type":      "invite",
		"projectId": fx.project.ID.String(),
		"email":     "X@Y.Com",
		"role":      "viewer",
	}))

	// Roster gains a placeholder member with the requested role.
	member := fx.project.MemberByEmail("x@y.com")
	require.NotNil(t, member)
	assert.Equal(t, RoleViewer, member.Role)
	assert.True(t, member.IsPending())

	// member_added goes to every connection; invite_sent only to the sender.
	for _, sink := range []*fakeSink{ownerSink, sink2} {
		added := sink.byType("member_added")
		require.Len(t, added, 1)
		view := added[0]["member"].(map[string]any)
		assert.Equal(t, "viewer", view["role"])
		assert.Equal(t, false, view["online"])
	}
	assert.Empty(t, ownerSink.byType("invite_sent"))
	sent := sink2.byType("invite_sent")
	require.Len(t, sent, 1)
	assert.Equal(t, "x@y.com", sent[0]["email"])
	assert.Equal(t, "http://collab.test/join/"+fx.project.ShareToken, sent[0]["shareLink"])
}

func TestHub_Invite_DuplicateEmail(t *testing.T) {
	fx := newHubFixture(t)
	s2, sink2 := fx.join(t, "u2", "Bob")
	sink2.reset()

	invite := frameJSON(t, map[string]any{
		"type":  "invite",
		"email": "x@y.com",
		"role":  "viewer",
	})
	fx.hub.HandleFrame(s2, invite)
	fx.hub.HandleFrame(s2, invite)

	assert.Len(t, sink2.byType("member_added"), 1)
	assert.Len(t, sink2.byType("error"), 1)
}

func TestHub_Invite_DeniedForViewer(t *testing.T) {
	fx := newHubFixture(t)
	s2, sink2 := fx.join(t, "u2", "Bob")
	require.NoError(t, fx.store.UpdateMemberRole(fx.project.ID, "u2", RoleViewer))
	sink2.reset()

	before := len(fx.project.Members)
	fx.hub.HandleFrame(s2, frameJSON(t, map[string]any{
		"type":  "invite",
		"email": "x@y.com",
		"role":  "viewer",
	}))

	require.Len(t, sink2.byType("error"), 1)
	assert.Len(t, fx.project.Members, before)
}

func TestHub_Role_EditorDenied(t *testing.T) {
	fx := newHubFixture(t)
	_, ownerSink := fx.join(t, "owner", "Olivia")
	s2, sink2 := fx.join(t, "u2", "Bob")
	ownerSink.reset()
	sink2.reset()

	fx.hub.HandleFrame(s2, frameJSON(t, map[string]any{
		"type":         "role",
		"targetUserId": "owner",
		"role":         "viewer",
	}))

	// Rejected with an error to the caller only; roster unchanged, no
	// broadcast to anyone else.
	require.Len(t, sink2.byType("error"), 1)
	assert.Equal(t, 0, ownerSink.count())
	assert.Equal(t, RoleOwner, fx.project.MemberByUserID("owner").Role)
}

func TestHub_Role_OwnerUpdatesMember(t *testing.T) {
	fx := newHubFixture(t)
	owner, ownerSink := fx.join(t, "owner", "Olivia")
	_, sink2 := fx.join(t, "u2", "Bob")
	ownerSink.reset()
	sink2.reset()

	fx.hub.HandleFrame(owner, frameJSON(t, map[string]any{
		"type":         "role",
		"targetUserId": "u2",
		"role":         "viewer",
	}))

	assert.Equal(t, RoleViewer, fx.project.MemberByUserID("u2").Role)
	for _, sink := range []*fakeSink{ownerSink, sink2} {
		changed := sink.byType("member_role_changed")
		require.Len(t, changed, 1)
		assert.Equal(t, "u2", changed[0]["userId"])
		assert.Equal(t, "viewer", changed[0]["role"])
	}
}

func TestHub_OwnerInvariant(t *testing.T) {
	fx := newHubFixture(t)
	owner, ownerSink := fx.join(t, "owner", "Olivia")
	ownerSink.reset()

	// Even the owner cannot change or remove the owner.
	fx.hub.HandleFrame(owner, frameJSON(t, map[string]any{
		"type":         "role",
		"targetUserId": "owner",
		"role":         "viewer",
	}))
	fx.hub.HandleFrame(owner, frameJSON(t, map[string]any{
		"type":         "remove",
		"targetUserId": "owner",
	}))

	assert.Len(t, ownerSink.byType("error"), 2)
	require.NotNil(t, fx.project.MemberByUserID("owner"))
	assert.Equal(t, RoleOwner, fx.project.MemberByUserID("owner").Role)
}

func TestHub_Remove_ByOwner(t *testing.T) {
	fx := newHubFixture(t)
	owner, _ := fx.join(t, "owner", "Olivia")
	_, sink2 := fx.join(t, "u2", "Bob")
	sink2.reset()

	fx.hub.HandleFrame(owner, frameJSON(t, map[string]any{
		"type":         "remove",
		"targetUserId": "u2",
	}))

	assert.Nil(t, fx.project.MemberByUserID("u2"))
	removed := sink2.byType("member_removed")
	require.Len(t, removed, 1)
	assert.Equal(t, "u2", removed[0]["userId"])
}

func TestHub_Ping(t *testing.T) {
	fx := newHubFixture(t)
	_, ownerSink := fx.join(t, "owner", "Olivia")
	s2, sink2 := fx.join(t, "u2", "Bob")
	ownerSink.reset()
	sink2.reset()

	fx.hub.HandleFrame(s2, frameJSON(t, map[string]any{"type": "ping"}))

	assert.Len(t, sink2.byType("pong"), 1)
	assert.Equal(t, 0, ownerSink.count())
}

func TestHub_PendingFramesIgnored(t *testing.T) {
	fx := newHubFixture(t)
	s, sink := fx.connect()

	for _, typ := range []string{"chat", "invite", "role", "remove", "ping"} {
		fx.hub.HandleFrame(s, frameJSON(t, map[string]any{"type": typ}))
	}

	assert.Equal(t, 0, sink.count())
}

func TestHub_MalformedAndUnknownFramesIgnored(t *testing.T) {
	fx := newHubFixture(t)
	s, sink := fx.join(t, "u2", "Bob")
	sink.reset()

	fx.hub.HandleFrame(s, []byte("{not valid json"))
	fx.hub.HandleFrame(s, frameJSON(t, map[string]any{"type": "dance"}))

	assert.Equal(t, 0, sink.count())
}

func TestHub_Disconnect(t *testing.T) {
	fx := newHubFixture(t)
	_, ownerSink := fx.join(t, "owner", "Olivia")
	s2, _ := fx.join(t, "u2", "Bob")
	ownerSink.reset()

	fx.hub.Disconnect(s2)

	offline := ownerSink.byType("user_offline")
	require.Len(t, offline, 1)
	assert.Equal(t, "u2", offline[0]["userId"])
	assert.NotContains(t, fx.registry.OnlineUserIDs(fx.project.ID), "u2")

	// Roster and messages survive the disconnect, and no system chat
	// message is produced (asymmetric with join).
	assert.NotNil(t, fx.project.MemberByUserID("u2"))
	last := fx.project.Messages[len(fx.project.Messages)-1]
	assert.NotContains(t, last.Body, "left")

	// Idempotent.
	ownerSink.reset()
	fx.hub.Disconnect(s2)
	assert.Equal(t, 0, ownerSink.count())
}

func TestHub_Disconnect_MultiTab(t *testing.T) {
	fx := newHubFixture(t)
	_, ownerSink := fx.join(t, "owner", "Olivia")
	tab1, _ := fx.join(t, "u2", "Bob")
	fx.join(t, "u2", "Bob")
	ownerSink.reset()

	fx.hub.Disconnect(tab1)

	// user_offline fires on every close, even though another connection for
	// u2 remains; the recomputed presence set is authoritative.
	assert.Len(t, ownerSink.byType("user_offline"), 1)
	assert.Contains(t, fx.registry.OnlineUserIDs(fx.project.ID), "u2")
}

func TestHub_Shutdown(t *testing.T) {
	fx := newHubFixture(t)
	_, sink1 := fx.join(t, "owner", "Olivia")
	_, sink2 := fx.join(t, "u2", "Bob")

	fx.hub.Shutdown()

	assert.True(t, sink1.closed)
	assert.True(t, sink2.closed)
}
