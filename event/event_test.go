package event_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/parallax/event"
)

func TestFuncInvokesWrappedFunction(t *testing.T) {
	called := false
	f := event.NewFunc(func() { called = true })

	f.Invoke()

	require.True(t, called)
}

func TestFuncSkipsInvokeWhenCancelled(t *testing.T) {
	called := false
	f := event.NewFunc(func() { called = true })

	f.Cancel()
	f.Invoke()

	require.False(t, called)
	require.True(t, f.IsCancelled())
}

func TestKeyOrdering(t *testing.T) {
	a := event.Key{TS: 1, UID: 5}
	b := event.Key{TS: 1, UID: 6}
	c := event.Key{TS: 2, UID: 0}

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.True(t, b.Less(c))
}

func TestIDIsDestroy(t *testing.T) {
	id := event.ID{UID: event.DestroyUID}
	require.True(t, id.IsDestroy())

	other := event.ID{UID: 3}
	require.False(t, other.IsDestroy())
}
