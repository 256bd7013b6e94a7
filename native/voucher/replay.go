package voucher

import (
	"fmt"
	"strings"

	coreerrors "bunnyriven/core/errors"
)

// Replay modes accepted by NewReplayGuard.
const (
	ReplayModeCap   = "cap"
	ReplayModeNonce = "nonce"
)

// ReplayGuard decides whether a verified voucher may take effect again.
// Engines call Consume after signature verification and before any state
// change.
type ReplayGuard interface {
	Consume(msg Message) error
}

// CapBounded accepts every verified voucher. Reuse is bounded by the ledger
// caps the engine enforces afterwards.
type CapBounded struct{}

func (CapBounded) Consume(Message) error { return nil }

type replayStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// NonceRegistry makes every voucher single-use by recording the message hash.
// The message rather than the signature is recorded so a malleated signature
// cannot pass twice.
type NonceRegistry struct {
	store  replayStore
	prefix string
}

func NewNonceRegistry(store replayStore, module string) *NonceRegistry {
	return &NonceRegistry{store: store, prefix: strings.TrimSpace(module) + "/voucher/used/"}
}

func (r *NonceRegistry) key(msg Message) []byte {
	buf := make([]byte, 0, len(r.prefix)+len(msg))
	buf = append(buf, r.prefix...)
	return append(buf, msg[:]...)
}

// Used reports whether msg has already been consumed.
func (r *NonceRegistry) Used(msg Message) (bool, error) {
	return r.store.KVGet(r.key(msg), nil)
}

func (r *NonceRegistry) Consume(msg Message) error {
	used, err := r.Used(msg)
	if err != nil {
		return err
	}
	if used {
		return coreerrors.ErrVoucherUsed
	}
	return r.store.KVPut(r.key(msg), true)
}

// NewReplayGuard builds the guard selected by mode. An empty mode selects the
// cap-bounded default.
func NewReplayGuard(mode string, store replayStore, module string) (ReplayGuard, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ReplayModeCap:
		return CapBounded{}, nil
	case ReplayModeNonce:
		if store == nil {
			return nil, fmt.Errorf("voucher: nonce replay guard requires state")
		}
		return NewNonceRegistry(store, module), nil
	default:
		return nil, fmt.Errorf("voucher: unknown replay mode %q", mode)
	}
}
