package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/parallax/kernel"
)

func TestEachFacadeGetsADistinctRunID(t *testing.T) {
	f, err := kernel.New(kernel.Config{MaxThreads: 1, SimulatorImpl: kernel.Multithreaded})
	require.NoError(t, err)
	require.NotEmpty(t, f.RunID())

	g, err := kernel.New(kernel.Config{MaxThreads: 1, SimulatorImpl: kernel.Multithreaded})
	require.NoError(t, err)
	require.NotEmpty(t, g.RunID())

	require.NotEqual(t, f.RunID(), g.RunID())
}
