package app

import (
	"context"

	"github.com/dkeye/Pulse/internal/domain"
)

// IdentityValidator resolves a bearer credential to an identity. Missing or
// malformed credentials yield domain.ErrUnauthenticated.
type IdentityValidator interface {
	Validate(ctx context.Context, credential string) (domain.Identity, error)
}

// UserDirectory reports the account status of a user.
// Unknown users yield domain.ErrNotFound.
type UserDirectory interface {
	User(ctx context.Context, id domain.UserID) (*domain.User, error)
}

// AccessChecker answers the room-kind specific join preconditions.
type AccessChecker interface {
	ConversationParticipants(ctx context.Context, conversationID string) ([]domain.UserID, error)
	Stream(ctx context.Context, streamID string) (*domain.Stream, error)
	HasStreamAccess(ctx context.Context, stream *domain.Stream, uid domain.UserID) (bool, error)
}

// MessageStore records chat history. Persistence is best-effort.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg domain.Message) error
}

// ViewerCountSink receives the viewer count after each stream membership change.
type ViewerCountSink interface {
	UpdateViewerCount(ctx context.Context, streamID string, count int) error
}

// Directory is the full set of collaborators the hub talks to.
type Directory interface {
	UserDirectory
	AccessChecker
	MessageStore
	ViewerCountSink
}
