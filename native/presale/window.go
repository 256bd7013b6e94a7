package presale

import (
	"fmt"

	coreerrors "bunnyriven/core/errors"
)

const secondsPerDay = 24 * 60 * 60

// Window is the half-open sale interval [Start, End) in unix seconds.
type Window struct {
	Start int64
	End   int64
}

// NewWindow builds a window lasting durationDays from start, matching the
// deployment parameters of the sale.
func NewWindow(start int64, durationDays uint32) Window {
	return Window{Start: start, End: start + int64(durationDays)*secondsPerDay}
}

func (w Window) Validate() error {
	if w.Start >= w.End {
		return fmt.Errorf("presale: window start %d must precede end %d", w.Start, w.End)
	}
	return nil
}

// CheckOpen gates purchases only; withdrawals ignore the window.
func (w Window) CheckOpen(now int64) error {
	if now < w.Start {
		return coreerrors.ErrNotStarted
	}
	if now >= w.End {
		return coreerrors.ErrEnded
	}
	return nil
}
