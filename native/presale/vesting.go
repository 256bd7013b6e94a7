package presale

import (
	ethcommon "github.com/ethereum/go-ethereum/common"

	coreerrors "bunnyriven/core/errors"
)

// Vesting gates sale-token withdrawals. It is closed until the owner opens it
// globally or grants individual buyers.
type Vesting struct {
	state ledgerState
}

func NewVesting(state ledgerState) *Vesting {
	return &Vesting{state: state}
}

func (v *Vesting) flag(key []byte) (bool, error) {
	var open bool
	if _, err := v.state.KVGet(key, &open); err != nil {
		return false, err
	}
	return open, nil
}

func (v *Vesting) GlobalOpen() (bool, error) { return v.flag(vestingGlobalKey) }

func (v *Vesting) SetGlobal(open bool) error {
	return v.state.KVPut(vestingGlobalKey, open)
}

func (v *Vesting) Grant(buyer ethcommon.Address, permitted bool) error {
	return v.state.KVPut(vestingGrantKey(buyer), permitted)
}

func (v *Vesting) Permitted(buyer ethcommon.Address) (bool, error) {
	open, err := v.GlobalOpen()
	if err != nil || open {
		return open, err
	}
	return v.flag(vestingGrantKey(buyer))
}

func (v *Vesting) CheckPermitted(buyer ethcommon.Address) error {
	ok, err := v.Permitted(buyer)
	if err != nil {
		return err
	}
	if !ok {
		return coreerrors.ErrWithdrawalNotPermitted
	}
	return nil
}
