package tor

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// Prevent parallel Tor instances.
var torTestMutex sync.Mutex

func requireTor(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Tor test in short mode")
	}
	if _, err := exec.LookPath("tor"); err != nil {
		t.Skip("tor binary not found in PATH")
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestTorManager(t *testing.T) {
	requireTor(t)
	torTestMutex.Lock()
	defer torTestMutex.Unlock()

	tm, err := StartTor(context.Background(), quietLogger())
	require.NoError(t, err, "Failed to start embedded Tor")
	require.NotZero(t, tm.SocksPort)
	dataDir := tm.DataDir

	dialer, err := tm.GetSocks5Dialer()
	require.NoError(t, err)
	require.NotNil(t, dialer)

	require.NoError(t, tm.StopTor())
	_, err = os.Stat(dataDir)
	require.True(t, os.IsNotExist(err), "Tor data directory not cleaned up")
}

func TestOnionListener(t *testing.T) {
	requireTor(t)
	torTestMutex.Lock()
	defer torTestMutex.Unlock()

	tm, err := StartTor(context.Background(), quietLogger())
	require.NoError(t, err)
	defer tm.StopTor()

	port, err := freePort()
	require.NoError(t, err)

	hs, err := tm.Listen(context.Background(), port)
	if err != nil {
		t.Skipf("Tor network unavailable, skipping: %v", err)
	}
	defer hs.Close()
	require.NotEmpty(t, hs.ID)
}

func TestGetSocks5DialerWithoutTor(t *testing.T) {
	tm := &TorManager{SocksPort: 9050, log: quietLogger()}
	dialer, err := tm.GetSocks5Dialer()
	require.NoError(t, err)
	require.NotNil(t, dialer)
}
