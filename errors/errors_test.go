package errors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err   error
		class string
	}{
		{ErrMailboxFull.GenWithStackByArgs("a#1"), "delivery"},
		{ErrActorNotFound.FastGenByArgs("svc"), "delivery"},
		{ErrNoPeers.GenWithStackByArgs(), "remote"},
		{ErrRemoteHandler.GenWithStackByArgs("svc", "boom"), "remote"},
		{ErrAlreadyStopped.GenWithStackByArgs("a#1"), "lifecycle"},
		{ErrPoolStartup.GenWithStackByArgs("p", 3, "boom"), "lifecycle"},
		{ErrActorStopped.GenWithStackByArgs("a#1"), "cancellation"},
		{context.Canceled, "unknown"},
		{nil, "unknown"},
	}
	for _, c := range cases {
		require.Equal(t, c.class, Class(c.err), "%v", c.err)
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	t.Parallel()

	err := ErrMailboxClosed.GenWithStackByArgs("a#1")
	err = Annotate(err, "tell")
	err = Trace(err)
	require.True(t, IsDeliveryError(err))
	require.False(t, IsRemoteError(err))
	require.True(t, ErrMailboxClosed.Equal(err))
	require.Contains(t, err.Error(), "mailbox of a#1 is closed")
}

func TestUnhandledMessageFormatsType(t *testing.T) {
	t.Parallel()

	err := ErrUnhandledMessage.GenWithStackByArgs("a#1", 42)
	require.Contains(t, err.Error(), "message of type int")
}

func TestWireCodeRoundTrip(t *testing.T) {
	err := ErrMailboxFull.GenWithStackByArgs("svc#1")
	code := WireCode(Trace(err))
	require.Equal(t, "mailbox_full", code)

	back := FromWire(code, "remote: mailbox of svc#1 is full")
	require.True(t, ErrMailboxFull.Equal(back))
	require.True(t, IsDeliveryError(back))
	require.Contains(t, back.Error(), "remote: mailbox of svc#1 is full")

	require.Empty(t, WireCode(New("plain")))
	require.Empty(t, WireCode(ErrNoPeers.GenWithStackByArgs()))
	require.Nil(t, FromWire("nope", "x"))
}
