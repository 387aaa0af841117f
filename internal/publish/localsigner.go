package publish

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// LocalSigner signs events in-process with a hex private key, the simplest
// Signer: the current user's own nsec, held in memory for the life of the
// process.
type LocalSigner struct {
	privKey string
}

// NewLocalSigner constructs a LocalSigner from a hex-encoded private key.
func NewLocalSigner(privKeyHex string) *LocalSigner {
	return &LocalSigner{privKey: privKeyHex}
}

// Sign fills in PubKey/CreatedAt/ID and signs ev with the held private key.
func (s *LocalSigner) Sign(_ context.Context, ev nostr.Event) (nostr.Event, error) {
	if err := ev.Sign(s.privKey); err != nil {
		return nostr.Event{}, fmt.Errorf("localsigner: sign: %w", err)
	}
	return ev, nil
}
