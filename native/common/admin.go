package common

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	coreerrors "bunnyriven/core/errors"
	"bunnyriven/core/events"
	"bunnyriven/core/types"
)

const (
	EventTypeAuthoritySet         = "admin.authority_set"
	EventTypeOwnershipTransferred = "admin.ownership_transferred"
	EventTypePaused               = "admin.paused"
	EventTypeUnpaused             = "admin.unpaused"
)

type adminState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type adminRecord struct {
	Owner     ethcommon.Address
	Authority ethcommon.Address
	Paused    bool
}

// AdminOps centralises the owner-gated controls of a module: ownership,
// the voucher authority and the pause switch. The record lives in module
// state so it reverts together with the rest of a failed call.
type AdminOps struct {
	state   adminState
	module  string
	emitter events.Emitter
}

func NewAdminOps(state adminState, module string) *AdminOps {
	return &AdminOps{state: state, module: strings.TrimSpace(module), emitter: events.NoopEmitter{}}
}

// SetEmitter configures the sink for admin events. Passing nil discards them.
func (a *AdminOps) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

func (a *AdminOps) Module() string { return a.module }

func (a *AdminOps) key() []byte {
	return []byte(a.module + "/admin")
}

func (a *AdminOps) load() (adminRecord, bool, error) {
	var rec adminRecord
	if a == nil || a.state == nil {
		return rec, false, fmt.Errorf("admin: state not configured")
	}
	ok, err := a.state.KVGet(a.key(), &rec)
	if err != nil {
		return rec, false, err
	}
	return rec, ok, nil
}

// Init records the initial owner and authority. It is a no-op when the module
// has already been initialised, so restarting against persisted state keeps
// any rotated authority or transferred ownership.
func (a *AdminOps) Init(owner, authority ethcommon.Address) error {
	if owner == (ethcommon.Address{}) {
		return fmt.Errorf("admin: %s owner required", a.module)
	}
	_, ok, err := a.load()
	if err != nil || ok {
		return err
	}
	return a.state.KVPut(a.key(), adminRecord{Owner: owner, Authority: authority})
}

func (a *AdminOps) Owner() (ethcommon.Address, error) {
	rec, _, err := a.load()
	return rec.Owner, err
}

// Authority implements voucher.AuthoritySource.
func (a *AdminOps) Authority() (ethcommon.Address, error) {
	rec, _, err := a.load()
	return rec.Authority, err
}

// RequireOwner returns ErrNotOwner unless caller is the current owner.
func (a *AdminOps) RequireOwner(caller ethcommon.Address) error {
	owner, err := a.Owner()
	if err != nil {
		return err
	}
	if owner == (ethcommon.Address{}) || caller != owner {
		return coreerrors.ErrNotOwner
	}
	return nil
}

// RequireSelfOrOwner scopes reads of per-account rows to the holder and the
// owner.
func (a *AdminOps) RequireSelfOrOwner(caller, holder ethcommon.Address) error {
	if caller == holder && caller != (ethcommon.Address{}) {
		return nil
	}
	return a.RequireOwner(caller)
}

func (a *AdminOps) update(caller ethcommon.Address, mutate func(*adminRecord)) error {
	if err := a.RequireOwner(caller); err != nil {
		return err
	}
	rec, _, err := a.load()
	if err != nil {
		return err
	}
	mutate(&rec)
	return a.state.KVPut(a.key(), rec)
}

// SetAuthority rotates the voucher signer. Vouchers signed by the previous
// authority stop verifying immediately.
func (a *AdminOps) SetAuthority(caller, authority ethcommon.Address) error {
	if authority == (ethcommon.Address{}) {
		return fmt.Errorf("admin: authority must not be the zero address")
	}
	if err := a.update(caller, func(rec *adminRecord) { rec.Authority = authority }); err != nil {
		return err
	}
	a.emit(EventTypeAuthoritySet, map[string]string{"authority": authority.Hex()})
	return nil
}

func (a *AdminOps) TransferOwnership(caller, newOwner ethcommon.Address) error {
	if newOwner == (ethcommon.Address{}) {
		return fmt.Errorf("admin: new owner must not be the zero address")
	}
	if err := a.update(caller, func(rec *adminRecord) { rec.Owner = newOwner }); err != nil {
		return err
	}
	a.emit(EventTypeOwnershipTransferred, map[string]string{
		"previousOwner": caller.Hex(),
		"newOwner":      newOwner.Hex(),
	})
	return nil
}

func (a *AdminOps) Pause(caller ethcommon.Address) error {
	if err := a.update(caller, func(rec *adminRecord) { rec.Paused = true }); err != nil {
		return err
	}
	a.emit(EventTypePaused, nil)
	return nil
}

func (a *AdminOps) Unpause(caller ethcommon.Address) error {
	if err := a.update(caller, func(rec *adminRecord) { rec.Paused = false }); err != nil {
		return err
	}
	a.emit(EventTypeUnpaused, nil)
	return nil
}

// IsPaused implements PauseView. Only this module's switch is known; other
// module names report false.
func (a *AdminOps) IsPaused(module string) (bool, error) {
	if module != a.module {
		return false, nil
	}
	rec, _, err := a.load()
	return rec.Paused, err
}

// CheckActive is Guard bound to this module.
func (a *AdminOps) CheckActive() error {
	return Guard(a, a.module)
}

func (a *AdminOps) emit(eventType string, attrs map[string]string) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrs["module"] = a.module
	a.emitter.Emit(events.Record{Evt: &types.Event{Type: eventType, Attributes: attrs}})
}
