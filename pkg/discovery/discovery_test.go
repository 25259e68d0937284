package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvertiseWithdraw(t *testing.T) {
	a := New()
	require.NoError(t, a.Advertise("conduit-test-instance", 18201))
	a.Withdraw()
}

func TestAdvertiseReplacesPriorRecord(t *testing.T) {
	a := New()
	require.NoError(t, a.Advertise("conduit-test-instance", 18202))
	require.NoError(t, a.Advertise("conduit-test-instance", 18203))
	a.Withdraw()
}

func TestWithdrawWithoutAdvertiseIsNoop(t *testing.T) {
	a := New()
	a.Withdraw()
}
