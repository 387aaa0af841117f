package publish

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// Signer is the opaque external signing capability: relaycore builds
// unsigned event templates and hands them here, never touching a private
// key itself.
type Signer interface {
	Sign(ctx context.Context, event nostr.Event) (nostr.Event, error)
}
