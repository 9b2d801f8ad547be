package interfaces

import (
	"context"

	domaintypes "proteus/internal/domain/types"
)

// PreKeyStore is the external, mutable collaborator a Session consults to
// look up and retire one-time pre-keys during a handshake. Implementations
// must treat a missing id as a non-error: LoadPreKey returns (nil, nil).
// The pre-key identified by MaxPreKeyID is permanent; callers, not the
// store, are responsible for never issuing a DeletePreKey for it.
type PreKeyStore interface {
	LoadPreKey(ctx context.Context, id uint16) (*domaintypes.PreKey, error)
	DeletePreKey(ctx context.Context, id uint16) error
}
