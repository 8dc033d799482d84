package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"meeshy/internal/domain/conversation"
	"meeshy/internal/repository"
	meeshy_errors "meeshy/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConvRepo struct {
	repository.ConversationRepository

	conv    conversation.Conversation
	convErr error

	member    conversation.Member
	memberErr error

	participant conversation.AnonymousParticipant
	link        conversation.ShareLink
	partErr     error
}

func (f *fakeConvRepo) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	if f.convErr != nil {
		return conversation.Conversation{}, f.convErr
	}
	return f.conv, nil
}

func (f *fakeConvRepo) GetMember(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Member, error) {
	if f.memberErr != nil {
		return conversation.Member{}, f.memberErr
	}
	return f.member, nil
}

func (f *fakeConvRepo) GetAnonymousParticipant(ctx context.Context, sessionToken string, conversationID uuid.UUID) (conversation.AnonymousParticipant, conversation.ShareLink, error) {
	if f.partErr != nil {
		return conversation.AnonymousParticipant{}, conversation.ShareLink{}, f.partErr
	}
	return f.participant, f.link, nil
}

func groupConversation() conversation.Conversation {
	return conversation.Conversation{ID: uuid.New(), Type: conversation.TypeGroup}
}

func activeMember() conversation.Member {
	return conversation.Member{
		IsActive:       true,
		CanSendMessage: true,
		CanSendFiles:   true,
		CanSendImages:  true,
	}
}

func activeLink() conversation.ShareLink {
	return conversation.ShareLink{
		ID:                     uuid.New(),
		IsActive:               true,
		AllowAnonymousMessages: true,
		AllowAnonymousFiles:    true,
		AllowAnonymousImages:   true,
	}
}

func activeParticipant() conversation.AnonymousParticipant {
	return conversation.AnonymousParticipant{
		ID:              uuid.New(),
		DisplayName:     "Guest",
		Language:        "fr",
		IsActive:        true,
		CanSendMessages: true,
		CanSendFiles:    true,
	}
}

func newTestResolver(repo *fakeConvRepo) *Resolver {
	return NewResolver(repo, DefaultLimits(), nil)
}

func TestResolveRegisteredMember(t *testing.T) {
	repo := &fakeConvRepo{conv: groupConversation(), member: activeMember()}
	r := newTestResolver(repo)

	grant, err := r.Resolve(context.Background(), Registered(uuid.New()), repo.conv.ID)
	require.NoError(t, err)

	assert.True(t, grant.CanSendMessages)
	assert.True(t, grant.CanSendFiles)
	assert.True(t, grant.CanSendImages)
	assert.Equal(t, 2000, grant.ContentLimit)
	assert.Equal(t, 60, grant.RateLimitTokens)
	assert.Contains(t, grant.AllowedAttachmentTypes, "image")
	assert.Contains(t, grant.AllowedAttachmentTypes, "file")
}

func TestResolveGlobalConversationSkipsMembership(t *testing.T) {
	repo := &fakeConvRepo{
		conv:      conversation.Conversation{ID: uuid.New(), Type: conversation.TypeGlobal},
		memberErr: meeshy_errors.ErrNotFound,
	}
	r := newTestResolver(repo)

	grant, err := r.Resolve(context.Background(), Registered(uuid.New()), repo.conv.ID)
	require.NoError(t, err)
	assert.True(t, grant.CanSendMessages)
	assert.Equal(t, 2000, grant.ContentLimit)
}

func TestResolveRegisteredDenials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(repo *fakeConvRepo)
		reason string
	}{
		{
			name:   "conversation missing",
			mutate: func(r *fakeConvRepo) { r.convErr = meeshy_errors.ErrNotFound },
			reason: ReasonConversationNotFound,
		},
		{
			name:   "not a member",
			mutate: func(r *fakeConvRepo) { r.memberErr = meeshy_errors.ErrNotFound },
			reason: ReasonNotAMember,
		},
		{
			name:   "membership inactive",
			mutate: func(r *fakeConvRepo) { r.member.IsActive = false },
			reason: ReasonMembershipInactive,
		},
		{
			name:   "messages disabled",
			mutate: func(r *fakeConvRepo) { r.member.CanSendMessage = false },
			reason: ReasonMessagesDisabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeConvRepo{conv: groupConversation(), member: activeMember()}
			tt.mutate(repo)
			r := newTestResolver(repo)

			_, err := r.Resolve(context.Background(), Registered(uuid.New()), repo.conv.ID)
			var denial *Denial
			require.ErrorAs(t, err, &denial)
			assert.Equal(t, tt.reason, denial.Reason)
		})
	}
}

func TestResolveAnonymousGrant(t *testing.T) {
	repo := &fakeConvRepo{
		conv:        groupConversation(),
		participant: activeParticipant(),
		link:        activeLink(),
	}
	r := newTestResolver(repo)

	grant, err := r.Resolve(context.Background(), Anonymous("session-token"), repo.conv.ID)
	require.NoError(t, err)

	assert.True(t, grant.CanSendMessages)
	assert.Equal(t, 500, grant.ContentLimit)
	assert.Equal(t, 10, grant.RateLimitTokens)
	assert.Equal(t, "Guest", grant.DisplayName)
	assert.Equal(t, "fr", grant.Language)
	require.True(t, grant.ParticipantID.Valid)
	assert.Equal(t, repo.participant.ID, grant.ParticipantID.UUID)
	require.True(t, grant.ShareLinkID.Valid)
	assert.Equal(t, repo.link.ID, grant.ShareLinkID.UUID)
}

func TestResolveAnonymousDenials(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(repo *fakeConvRepo)
		reason string
	}{
		{
			name:   "no share link session",
			mutate: func(r *fakeConvRepo) { r.partErr = meeshy_errors.ErrNotFound },
			reason: ReasonNoShareLink,
		},
		{
			name:   "participant deactivated",
			mutate: func(r *fakeConvRepo) { r.participant.IsActive = false },
			reason: ReasonPermissionsRevoked,
		},
		{
			name:   "link inactive",
			mutate: func(r *fakeConvRepo) { r.link.IsActive = false },
			reason: ReasonLinkInactive,
		},
		{
			name: "link expired",
			mutate: func(r *fakeConvRepo) {
				r.link.ExpiresAt = sql.NullTime{Time: now.Add(-time.Hour), Valid: true}
			},
			reason: ReasonLinkExpired,
		},
		{
			name: "quota exhausted",
			mutate: func(r *fakeConvRepo) {
				r.link.MaxUses = sql.NullInt32{Int32: 5, Valid: true}
				r.link.CurrentUses = 5
			},
			reason: ReasonLinkQuotaExhausted,
		},
		{
			name:   "link forbids anonymous messages",
			mutate: func(r *fakeConvRepo) { r.link.AllowAnonymousMessages = false },
			reason: ReasonLinkMessagesDisabled,
		},
		{
			name:   "participant send permission withdrawn",
			mutate: func(r *fakeConvRepo) { r.participant.CanSendMessages = false },
			reason: ReasonPermissionsRevoked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeConvRepo{
				conv:        groupConversation(),
				participant: activeParticipant(),
				link:        activeLink(),
			}
			tt.mutate(repo)
			r := newTestResolver(repo).WithClock(func() time.Time { return now })

			_, err := r.Resolve(context.Background(), Anonymous("session-token"), repo.conv.ID)
			var denial *Denial
			require.ErrorAs(t, err, &denial)
			assert.Equal(t, tt.reason, denial.Reason)
		})
	}
}

func TestResolveAnonymousCapabilitiesIntersect(t *testing.T) {
	repo := &fakeConvRepo{
		conv:        groupConversation(),
		participant: activeParticipant(),
		link:        activeLink(),
	}
	// The link allows files but the participant was restricted.
	repo.participant.CanSendFiles = false
	r := newTestResolver(repo)

	grant, err := r.Resolve(context.Background(), Anonymous("session-token"), repo.conv.ID)
	require.NoError(t, err)
	assert.False(t, grant.CanSendFiles)
	assert.False(t, grant.CanSendImages)
	assert.Empty(t, grant.AllowedAttachmentTypes)
}

func TestResolveInfrastructureFault(t *testing.T) {
	repo := &fakeConvRepo{convErr: assert.AnError}
	r := newTestResolver(repo)

	_, err := r.Resolve(context.Background(), Registered(uuid.New()), uuid.New())
	var fault *meeshy_errors.ResolverFault
	require.ErrorAs(t, err, &fault)
	var denial *Denial
	assert.False(t, errors.As(err, &denial))
}
