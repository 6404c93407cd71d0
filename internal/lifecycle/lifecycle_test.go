package lifecycle

import (
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRoundTrip(t *testing.T) {
	reg := NewRegistry(t.TempDir())

	require.NoError(t, reg.Register(1234, 8080))
	require.NoError(t, reg.Register(5678, 8080))
	require.NoError(t, reg.Register(9999, 9090))

	managed, err := reg.ManagedFor(8080)
	require.NoError(t, err)
	require.Len(t, managed, 2)

	require.NoError(t, reg.Remove(1234))
	managed, err = reg.ManagedFor(8080)
	require.NoError(t, err)
	require.Len(t, managed, 1)
	require.Equal(t, 5678, managed[0].PID)

	// Removing an unknown PID is not an error.
	require.NoError(t, reg.Remove(42))
}

func TestRegistryReRegisterReplacesStaleEntry(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	require.NoError(t, reg.Register(1234, 8080))
	require.NoError(t, reg.Register(1234, 9090))

	old, err := reg.ManagedFor(8080)
	require.NoError(t, err)
	require.Empty(t, old)

	cur, err := reg.ManagedFor(9090)
	require.NoError(t, err)
	require.Len(t, cur, 1)
}

func TestNeverSignalsSelf(t *testing.T) {
	err := signalPID(os.Getpid(), syscall.SIGKILL)
	require.ErrorIs(t, err, ErrNeverSelf)
}

func TestPortBusyDetection(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	port := l.Addr().(*net.TCPAddr).Port
	require.True(t, PortBusy(port))

	require.NoError(t, l.Close())
	require.False(t, PortBusy(port))
}

func TestEnsurePortAvailableRefusesWithoutRestart(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	reg := NewRegistry(t.TempDir())
	err = EnsurePortAvailable(reg, port, false)
	require.ErrorIs(t, err, ErrPortOccupied)
}

func TestEnsurePortAvailableRefusesUnmanagedHolder(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	reg := NewRegistry(t.TempDir())
	err = EnsurePortAvailable(reg, port, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmanaged")
}

func TestEnsurePortAvailableFreePort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	reg := NewRegistry(t.TempDir())
	require.NoError(t, EnsurePortAvailable(reg, port, false))
}
