package ipc

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(buf *syncBuffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func serveStatus(t *testing.T, listener net.Listener, state string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, _ Request) Response {
			return Response{OK: true, State: state}
		}), nil)
	}()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestAcquireReplacesSocketLeftByCrashedDaemon(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), SocketName)

	crashed, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	crashed.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, crashed.Close())
	_, err = os.Stat(socketPath)
	require.NoError(t, err)

	var logs syncBuffer
	listener, err := Acquire(context.Background(), socketPath, 50*time.Millisecond, 2, testLogger(&logs))
	require.NoError(t, err)
	serveStatus(t, listener, "idle")

	require.Contains(t, logs.String(), "removed stale daemon socket")

	resp, err := Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "idle", resp.State)
}

func TestAcquireReplacesLeftoverRegularFile(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), SocketName)
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	listener, err := Acquire(context.Background(), socketPath, 50*time.Millisecond, 2, nil)
	require.NoError(t, err)
	defer listener.Close()

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSocket)
}

func TestAcquireReturnsAlreadyRunningForLiveDaemon(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), SocketName)
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	serveStatus(t, listener, "recording")

	var logs syncBuffer
	_, err = Acquire(context.Background(), socketPath, 80*time.Millisecond, 1, testLogger(&logs))
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.NotContains(t, logs.String(), "removed stale daemon socket")

	// The running daemon keeps its socket.
	resp, err := Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "recording", resp.State)
}

func TestAcquireDoesNotUnlinkWhenProbeInconclusive(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), SocketName)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				time.Sleep(250 * time.Millisecond)
			}(conn)
		}
	}()

	_, err = Acquire(context.Background(), socketPath, 30*time.Millisecond, 0, nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyRunning)
	require.Contains(t, err.Error(), "probe existing socket")

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
	<-acceptDone
}

func TestAcquireCreatesPrivateRuntimeDir(t *testing.T) {
	runtimeDir := filepath.Join(t.TempDir(), "run", "user")
	socketPath := filepath.Join(runtimeDir, SocketName)

	listener, err := Acquire(context.Background(), socketPath, 50*time.Millisecond, 0, nil)
	require.NoError(t, err)
	defer listener.Close()

	dirInfo, err := os.Stat(runtimeDir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	sockInfo, err := os.Stat(socketPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), sockInfo.Mode().Perm())
}

func TestRuntimeSocketPath(t *testing.T) {
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	path, err := RuntimeSocketPath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(runtimeDir, "dictum.sock"), path)

	t.Setenv("XDG_RUNTIME_DIR", "  ")
	_, err = RuntimeSocketPath()
	require.Error(t, err)
}
