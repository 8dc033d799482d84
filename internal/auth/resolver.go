package auth

import (
	"context"
	"errors"
	"time"

	"meeshy/internal/domain/conversation"
	"meeshy/internal/repository"
	meeshy_errors "meeshy/pkg/errors"
	"meeshy/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Limits holds the capability ceilings handed out with each grant. Anonymous
// senders get a materially shorter content limit and a smaller send budget.
type Limits struct {
	RegisteredContentLimit int
	AnonymousContentLimit  int
	RegisteredRateTokens   int
	AnonymousRateTokens    int
}

func DefaultLimits() Limits {
	return Limits{
		RegisteredContentLimit: 2000,
		AnonymousContentLimit:  500,
		RegisteredRateTokens:   60,
		AnonymousRateTokens:    10,
	}
}

var registeredAttachmentTypes = []string{"image", "file", "audio", "video"}

// Resolver decides whether a sender may post into a conversation and with
// which capabilities. Expected failures come back as *Denial; infrastructure
// failures as *ResolverFault.
type Resolver struct {
	convRepo repository.ConversationRepository
	limits   Limits
	clock    func() time.Time
	log      *logger.Logger
}

func NewResolver(convRepo repository.ConversationRepository, limits Limits, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{
		convRepo: convRepo,
		limits:   limits,
		clock:    time.Now,
		log:      log,
	}
}

// WithClock substitutes the time source, for tests.
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	r.clock = clock
	return r
}

// Resolve evaluates the authorization state machine for one send attempt.
func (r *Resolver) Resolve(ctx context.Context, sender SenderContext, conversationID uuid.UUID) (PermissionGrant, error) {
	conv, err := r.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, meeshy_errors.ErrNotFound) {
			return PermissionGrant{}, Deny(ReasonConversationNotFound)
		}
		return PermissionGrant{}, r.fault("conversation lookup", err)
	}

	switch sender.Kind {
	case SenderRegistered:
		return r.resolveRegistered(ctx, sender, conv)
	case SenderAnonymous:
		return r.resolveAnonymous(ctx, sender, conv)
	default:
		return PermissionGrant{}, Deny(ReasonUnknownSender)
	}
}

func (r *Resolver) resolveRegistered(ctx context.Context, sender SenderContext, conv conversation.Conversation) (PermissionGrant, error) {
	// Global conversations grant registered senders default capabilities
	// without a membership row.
	if conv.Type == conversation.TypeGlobal {
		return PermissionGrant{
			Sender:                 sender,
			ConversationID:         conv.ID,
			CanSendMessages:        true,
			CanSendFiles:           true,
			CanSendImages:          true,
			ContentLimit:           r.limits.RegisteredContentLimit,
			AllowedAttachmentTypes: registeredAttachmentTypes,
			RateLimitTokens:        r.limits.RegisteredRateTokens,
		}, nil
	}

	member, err := r.convRepo.GetMember(ctx, conv.ID, sender.UserID)
	if err != nil {
		if errors.Is(err, meeshy_errors.ErrNotFound) {
			return PermissionGrant{}, Deny(ReasonNotAMember)
		}
		return PermissionGrant{}, r.fault("membership lookup", err)
	}
	if !member.IsActive {
		return PermissionGrant{}, Deny(ReasonMembershipInactive)
	}
	if !member.CanSendMessage {
		return PermissionGrant{}, Deny(ReasonMessagesDisabled)
	}

	var types []string
	if member.CanSendImages {
		types = append(types, "image")
	}
	if member.CanSendFiles {
		types = append(types, "file", "audio", "video")
	}

	return PermissionGrant{
		Sender:                 sender,
		ConversationID:         conv.ID,
		CanSendMessages:        true,
		CanSendFiles:           member.CanSendFiles,
		CanSendImages:          member.CanSendImages,
		ContentLimit:           r.limits.RegisteredContentLimit,
		AllowedAttachmentTypes: types,
		RateLimitTokens:        r.limits.RegisteredRateTokens,
	}, nil
}

func (r *Resolver) resolveAnonymous(ctx context.Context, sender SenderContext, conv conversation.Conversation) (PermissionGrant, error) {
	participant, link, err := r.convRepo.GetAnonymousParticipant(ctx, sender.SessionToken, conv.ID)
	if err != nil {
		if errors.Is(err, meeshy_errors.ErrNotFound) {
			return PermissionGrant{}, Deny(ReasonNoShareLink)
		}
		return PermissionGrant{}, r.fault("anonymous participant lookup", err)
	}
	if !participant.IsActive {
		return PermissionGrant{}, Deny(ReasonPermissionsRevoked)
	}

	// Link-level gates first, short-circuiting on the first failure, so the
	// client learns the most actionable reason.
	if !link.IsActive {
		return PermissionGrant{}, Deny(ReasonLinkInactive)
	}
	if link.Expired(r.clock()) {
		return PermissionGrant{}, Deny(ReasonLinkExpired)
	}
	if link.QuotaExhausted() {
		return PermissionGrant{}, Deny(ReasonLinkQuotaExhausted)
	}
	if !link.AllowAnonymousMessages {
		return PermissionGrant{}, Deny(ReasonLinkMessagesDisabled)
	}
	if !participant.CanSendMessages {
		return PermissionGrant{}, Deny(ReasonPermissionsRevoked)
	}

	// Capabilities are the intersection of link and participant flags: the
	// participant can be further restricted but never widened past its link.
	canFiles := link.AllowAnonymousFiles && participant.CanSendFiles
	canImages := link.AllowAnonymousImages && participant.CanSendFiles

	var types []string
	if canImages {
		types = append(types, "image")
	}
	if canFiles {
		types = append(types, "file")
	}

	return PermissionGrant{
		Sender:                 sender,
		ConversationID:         conv.ID,
		CanSendMessages:        true,
		CanSendFiles:           canFiles,
		CanSendImages:          canImages,
		ContentLimit:           r.limits.AnonymousContentLimit,
		AllowedAttachmentTypes: types,
		RateLimitTokens:        r.limits.AnonymousRateTokens,
		ParticipantID:          uuid.NullUUID{UUID: participant.ID, Valid: true},
		ShareLinkID:            uuid.NullUUID{UUID: link.ID, Valid: true},
		DisplayName:            participant.DisplayName,
		Language:               participant.Language,
	}, nil
}

func (r *Resolver) fault(op string, err error) error {
	fault := &meeshy_errors.ResolverFault{Op: op, Err: err}
	r.log.Logger.Error("authorization resolver fault",
		zap.String("op", op),
		zap.Error(err),
	)
	return fault
}
