package core

import (
	"context"
	"testing"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/stretchr/testify/require"
)

func TestSystemShutdownStopsEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sys := NewSystem(WithMailboxCapacity(8))

	ref, err := sys.Spawn(newTestActor(), WithName("single"))
	require.NoError(t, err)
	require.Equal(t, 8, ref.Stats().MailboxCapacity)

	c := newCounters()
	p, err := sys.SpawnPool(ctx, 3, c.factory(nil), WithName("pool"))
	require.NoError(t, err)
	require.Len(t, sys.Stats(), 4)

	require.NoError(t, sys.Shutdown(ctx))
	require.Equal(t, StateStopped, ref.State())
	require.True(t, p.Stopped())
	require.Equal(t, int32(3), c.stopped.Load())

	_, err = sys.Spawn(newTestActor())
	require.True(t, cerrors.ErrSystemShutdown.Equal(err))
	_, err = sys.SpawnPool(ctx, 1, c.factory(nil))
	require.True(t, cerrors.ErrSystemShutdown.Equal(err))

	// idempotent
	require.NoError(t, sys.Shutdown(ctx))
}

func TestSystemShutdownSkipsStoppedActors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sys := NewSystem()

	ref, err := sys.Spawn(newTestActor())
	require.NoError(t, err)
	require.NoError(t, ref.StopAndWait(ctx))
	require.NoError(t, sys.Shutdown(ctx))
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	ref, _ := spawnTest(t)

	require.NoError(t, reg.Register("svc-a", ref))
	err := reg.Register("svc-a", ref)
	require.True(t, cerrors.ErrNameRegistered.Equal(err))

	target, err := reg.Lookup("svc-a")
	require.NoError(t, err)
	sum, err := Ask[int](context.Background(), target, add{A: 3, B: 4})
	require.NoError(t, err)
	require.Equal(t, 7, sum)

	_, err = reg.Lookup("svc-b")
	require.True(t, cerrors.ErrActorNotFound.Equal(err))
	require.True(t, cerrors.IsDeliveryError(err))

	require.NoError(t, reg.Register("svc-b", ref))
	require.Equal(t, []string{"svc-a", "svc-b"}, reg.Names())
	require.True(t, reg.Unregister("svc-a"))
	require.False(t, reg.Unregister("svc-a"))
	require.Equal(t, []string{"svc-b"}, reg.Names())
}

func TestParseSendPolicy(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]SendPolicy{"": SendBlock, "block": SendBlock, "FAIL": SendFail} {
		got, err := ParseSendPolicy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseSendPolicy("drop")
	require.Error(t, err)
}
