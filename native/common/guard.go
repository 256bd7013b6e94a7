package common

import coreerrors "bunnyriven/core/errors"

// ErrModulePaused is returned by Guard when the module switch is off.
var ErrModulePaused = coreerrors.ErrModulePaused

type PauseView interface {
	IsPaused(module string) (bool, error)
}

// Guard rejects the call when module is paused. A nil view or empty module
// name never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	paused, err := p.IsPaused(module)
	if err != nil {
		return err
	}
	if paused {
		return ErrModulePaused
	}
	return nil
}
