package relay

import (
	"context"

	"github.com/samvad-hq/samvad-relay/pkg/profiles"
	"github.com/samvad-hq/samvad-relay/pkg/publishers"
	"github.com/samvad-hq/samvad-relay/pkg/request"
)

// Requester performs outbound calls. *request.Client satisfies it.
type Requester interface {
	Do(ctx context.Context, opts request.Options) (any, error)
	Go(ctx context.Context, opts request.Options) *request.Future
}

// EventPublisher delivers completed-call events downstream.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// ProfileSource resolves named request templates.
type ProfileSource interface {
	ByID(id string) (profiles.Profile, bool)
}
