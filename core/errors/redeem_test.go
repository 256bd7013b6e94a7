package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindUnwrapsTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("presale: buy: %w", ErrTicketCapExceeded)
	require.Equal(t, "TicketCapExceeded", Kind(wrapped))
	require.True(t, IsPolicy(wrapped))

	require.Equal(t, "Internal", Kind(fmt.Errorf("disk on fire")))
	require.False(t, IsPolicy(fmt.Errorf("disk on fire")))
	require.Equal(t, "", Kind(nil))
}

func TestReasonStrings(t *testing.T) {
	require.Equal(t, "presale hasn't started yet", ErrNotStarted.Error())
	require.Equal(t, "you can't withdraw yet", ErrWithdrawalNotPermitted.Error())
	require.Equal(t, "maximum value of ticket", ErrTicketCapExceeded.Error())
}
