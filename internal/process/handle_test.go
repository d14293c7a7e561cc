package process

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func waitDone(t *testing.T, h *Handle, timeout time.Duration) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(timeout):
		t.Fatalf("process %s did not exit within %s", h.Name(), timeout)
	}
}

func TestStart_ExitCodeAndEnv(t *testing.T) {
	requireUnix(t)
	out := &syncBuffer{}
	d := Descriptor{Name: "env", Command: "sh -c 'echo $GREETING; exit 3'", WorkDir: t.TempDir()}
	h, err := Start(d, StartOptions{Env: []string{"GREETING=hello", "PATH=/usr/bin:/bin"}, Stdout: out})
	require.NoError(t, err)
	assert.Greater(t, h.PID(), 0)

	waitDone(t, h, 3*time.Second)
	st := h.Exit()
	assert.Equal(t, 3, st.Code)
	assert.Error(t, st.Err)
	assert.False(t, st.ExitedAt.IsZero())
	assert.Equal(t, "hello\n", out.String())
}

func TestStart_SpawnError(t *testing.T) {
	requireUnix(t)
	_, err := Start(Descriptor{Name: "ghost", Command: "main.py", Interpreter: "no-such-interpreter-xyz"}, StartOptions{})
	require.Error(t, err)
	var se *SpawnError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "ghost", se.App)
	assert.True(t, IsSpawnError(err))
}

func TestStop_Graceful(t *testing.T) {
	requireUnix(t)
	h, err := Start(Descriptor{Name: "sleeper", Command: "sleep 30", WorkDir: t.TempDir()}, StartOptions{})
	require.NoError(t, err)
	require.True(t, Alive(h.PID()))

	require.NoError(t, h.Stop(2*time.Second))
	assert.True(t, h.Exited())
	assert.Equal(t, -1, h.Exit().Code, "terminated by signal")

	// idempotent
	require.NoError(t, h.Stop(time.Second))
}

func TestStop_EscalatesToKill(t *testing.T) {
	requireUnix(t)
	d := Descriptor{Name: "stubborn", Command: "sh -c 'trap \"\" TERM; while true; do sleep 0.05; done'", WorkDir: t.TempDir()}
	h, err := Start(d, StartOptions{})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond) // let the trap install

	start := time.Now()
	err = h.Stop(200 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShutdownTimeout))
	assert.True(t, h.Exited())
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestUptime(t *testing.T) {
	requireUnix(t)
	h, err := Start(Descriptor{Name: "quick", Command: "sleep 0.1", WorkDir: t.TempDir()}, StartOptions{})
	require.NoError(t, err)
	waitDone(t, h, 3*time.Second)
	up := h.Uptime()
	assert.GreaterOrEqual(t, up, 90*time.Millisecond)
	assert.Equal(t, up, h.Uptime(), "uptime is frozen after exit")
}

func TestSample(t *testing.T) {
	requireUnix(t)
	h, err := Start(Descriptor{Name: "sampled", Command: "sleep 5", WorkDir: t.TempDir()}, StartOptions{})
	require.NoError(t, err)
	defer h.Kill()

	u, err := Sample(h.PID())
	require.NoError(t, err)
	assert.Greater(t, u.RSSBytes, uint64(0))
}

// forkerCmd exits right away but leaves a child holding the inherited output.
const forkerCmd = "sh -c 'sleep 10 & exit 7'"

func TestDone_NotHeldByOrphanWithoutWriters(t *testing.T) {
	requireUnix(t)
	h, err := Start(Descriptor{Name: "forker", Command: forkerCmd, WorkDir: t.TempDir()}, StartOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = killGroup(h.PID()) })

	waitDone(t, h, 2*time.Second)
	assert.Equal(t, 7, h.Exit().Code)
	assert.Error(t, h.Exit().Err)
}

func TestDone_BoundedByWaitDelayWithWriter(t *testing.T) {
	requireUnix(t)
	out := &syncBuffer{}
	h, err := Start(Descriptor{Name: "forker", Command: forkerCmd, WorkDir: t.TempDir()}, StartOptions{Stdout: out, Stderr: out})
	require.NoError(t, err)
	t.Cleanup(func() { _ = killGroup(h.PID()) })

	waitDone(t, h, outputWaitDelay+2*time.Second)
	assert.Equal(t, 7, h.Exit().Code)
}

func TestDone_CleanExitWithOrphanHasNoError(t *testing.T) {
	requireUnix(t)
	out := &syncBuffer{}
	h, err := Start(Descriptor{Name: "forker", Command: "sh -c 'sleep 10 & exit 0'", WorkDir: t.TempDir()}, StartOptions{Stdout: out})
	require.NoError(t, err)
	t.Cleanup(func() { _ = killGroup(h.PID()) })

	waitDone(t, h, outputWaitDelay+2*time.Second)
	assert.Equal(t, 0, h.Exit().Code)
	assert.NoError(t, h.Exit().Err)
}
