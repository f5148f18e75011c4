package collaboration

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(zap.NewNop())
}

func createTestProject(t *testing.T, s *Store) *Project {
	t.Helper()
	p, err := s.Create("u1", "Alice", "My Site", "a website build")
	require.NoError(t, err)
	return p
}

func TestStore_Create(t *testing.T) {
	s := newTestStore(t)
	p := createTestProject(t, s)

	assert.Equal(t, "u1", p.OwnerUserID)
	assert.Equal(t, RoleEditor, p.DefaultRole)
	assert.NotEmpty(t, p.ShareToken)

	// The creator is seeded as the single owner member.
	require.Len(t, p.Members, 1)
	assert.Equal(t, RoleOwner, p.Members[0].Role)
	assert.Equal(t, "u1", p.Members[0].UserID)
	assert.Equal(t, "Alice", p.Members[0].DisplayName)

	// One system message announcing creation.
	require.Len(t, p.Messages, 1)
	assert.Equal(t, MessageKindSystem, p.Messages[0].Kind)
	assert.Equal(t, SystemUserID, p.Messages[0].AuthorUserID)
}

func TestStore_ShareTokensAreUnique(t *testing.T) {
	s := newTestStore(t)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		p := createTestProject(t, s)
		assert.False(t, seen[p.ShareToken])
		seen[p.ShareToken] = true
	}
}

func TestStore_GetByShareToken(t *testing.T) {
	s := newTestStore(t)
	p := createTestProject(t, s)

	got, ok := s.GetByShareToken(p.ShareToken)
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)

	_, ok = s.GetByShareToken("no-such-token")
	assert.False(t, ok)
}

func TestStore_GetByID_Missing(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.GetByID(uuid.New())
	assert.False(t, ok)
}

func TestStore_AddMember(t *testing.T) {
	s := newTestStore(t)
	p := createTestProject(t, s)

	err := s.AddMember(p.ID, &Member{ID: uuid.New(), UserID: "u2", DisplayName: "Bob", Role: RoleEditor})
	require.NoError(t, err)
	assert.Len(t, p.Members, 2)

	// One member per distinct userId per project.
	err = s.AddMember(p.ID, &Member{ID: uuid.New(), UserID: "u2", DisplayName: "Bob again", Role: RoleViewer})
	assert.ErrorIs(t, err, ErrAlreadyMember)
	assert.Len(t, p.Members, 2)
}

func TestStore_UpdateMemberRole(t *testing.T) {
	s := newTestStore(t)
	p := createTestProject(t, s)
	require.NoError(t, s.AddMember(p.ID, &Member{ID: uuid.New(), UserID: "u2", Role: RoleEditor}))

	require.NoError(t, s.UpdateMemberRole(p.ID, "u2", RoleViewer))
	assert.Equal(t, RoleViewer, p.MemberByUserID("u2").Role)

	// The owner's role is immutable.
	err := s.UpdateMemberRole(p.ID, "u1", RoleViewer)
	assert.ErrorIs(t, err, ErrCannotChangeOwner)
	assert.Equal(t, RoleOwner, p.MemberByUserID("u1").Role)

	assert.ErrorIs(t, s.UpdateMemberRole(p.ID, "ghost", RoleViewer), ErrMemberNotFound)
}

func TestStore_RemoveMember(t *testing.T) {
	s := newTestStore(t)
	p := createTestProject(t, s)
	require.NoError(t, s.AddMember(p.ID, &Member{ID: uuid.New(), UserID: "u2", Role: RoleEditor}))

	require.NoError(t, s.RemoveMember(p.ID, "u2"))
	assert.Nil(t, p.MemberByUserID("u2"))

	// The owner cannot be removed.
	err := s.RemoveMember(p.ID, "u1")
	assert.ErrorIs(t, err, ErrCannotRemoveOwner)
	assert.NotNil(t, p.MemberByUserID("u1"))

	assert.ErrorIs(t, s.RemoveMember(p.ID, "ghost"), ErrMemberNotFound)
}

func TestStore_AppendMessage_Truncation(t *testing.T) {
	s := newTestStore(t)
	p := createTestProject(t, s)

	// Multi-byte runes: truncation counts code points, not bytes.
	body := strings.Repeat("héllo wörld ", 400) // 4800 runes
	msg, err := s.AppendMessage(p.ID, "u1", "Alice", body, MessageKindText)
	require.NoError(t, err)
	assert.Equal(t, maxMessageRunes, utf8.RuneCountInString(msg.Body))

	short, err := s.AppendMessage(p.ID, "u1", "Alice", "hi", MessageKindText)
	require.NoError(t, err)
	assert.Equal(t, "hi", short.Body)
}

func TestStore_RecentMessages(t *testing.T) {
	s := newTestStore(t)
	p := createTestProject(t, s)

	for i := 0; i < 60; i++ {
		_, err := s.AppendMessage(p.ID, "u1", "Alice", "message", MessageKindText)
		require.NoError(t, err)
	}

	recent := s.RecentMessages(p.ID, 50)
	require.Len(t, recent, 50)
	// Newest messages win; the creation notice falls out of the window.
	assert.Equal(t, MessageKindText, recent[0].Kind)

	all := s.RecentMessages(p.ID, 0)
	assert.Len(t, all, 61)

	assert.Nil(t, s.RecentMessages(uuid.New(), 50))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "x@y.com", NormalizeEmail("  X@Y.Com "))
}
