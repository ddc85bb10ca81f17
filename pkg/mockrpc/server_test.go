package mockrpc

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func verifyNoLeaks(t *testing.T) {
	t.Helper()
	http.DefaultTransport.(*http.Transport).CloseIdleConnections()
	goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func TestServerRoundTrip(t *testing.T) {
	defer verifyNoLeaks(t)

	srv, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, WaitReady(ctx, srv.URL(), time.Second))

	client := NewClient(srv.URL())
	defer client.HTTP.CloseIdleConnections()

	res, err := client.Call(ctx, "ping", []int{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.JSONEq(t, `"pong"`, string(res.Result))

	res, err = client.Call(ctx, "sum", []float64{1, 2, 3})
	require.NoError(t, err)
	assert.JSONEq(t, `6`, string(res.Result))

	res, err = client.Call(ctx, "authRequired", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, "missing auth", res.Error)

	client.Authorization = "Bearer qa"
	res, err = client.Call(ctx, "authRequired", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)

	res, err = client.CallRaw(ctx, []byte("{oops"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "invalid JSON", res.Error)

	require.NoError(t, srv.Shutdown(ctx))
}

func TestListenOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = Listen(ln.Addr().String(), nil)
	assert.Error(t, err)
}

func TestWaitReadyTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	err = WaitReady(context.Background(), EndpointURL(addr.Port), 400*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestWaitReadyRetriesServerErrors(t *testing.T) {
	defer verifyNoLeaks(t)

	var calls atomic.Int32
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})}
	go server.Serve(ln)
	defer server.Close()

	url := "http://" + ln.Addr().String() + Path
	require.NoError(t, WaitReady(context.Background(), url, 5*time.Second))
	assert.Equal(t, int32(2), calls.Load())
	require.NoError(t, server.Close())
}

func TestInProcessService(t *testing.T) {
	defer verifyNoLeaks(t)

	svc := NewInProcess(0, nil)
	assert.Equal(t, "http://localhost:0/rpc", svc.URL())
	assert.Zero(t, svc.PID())

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	assert.Error(t, svc.Start(ctx), "second start")
	assert.NotEqual(t, "http://localhost:0/rpc", svc.URL())
	require.NoError(t, WaitReady(ctx, svc.URL(), 2*time.Second))

	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.Stop(ctx), "stop is idempotent")
}

func TestProcessService(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sleep(1)")
	}
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	svc := NewProcess([]string{sleep, "30"}, 4999, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, svc.Start(ctx))
	pid := svc.PID()
	assert.Positive(t, pid)
	assert.Equal(t, "http://localhost:4999/rpc", svc.URL())

	require.NoError(t, svc.Stop(ctx))
	assert.Zero(t, svc.PID())
	assert.NoError(t, KillPID(pid), "killing an exited process is not an error")
}

// lockedBuffer collects child output while the test reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProcessServiceStopsGrandchildren(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on process groups")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	// The background sleep holds the output pipe open for as long as it
	// lives, as the server under `go run` does.
	out := &lockedBuffer{}
	svc := NewProcess([]string{sh, "-c", "sleep 30 & echo started; wait"}, 4998, nil)
	svc.Stdout = out
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, svc.Start(ctx))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "started") }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Stop(ctx), "the background sleep must die with the shell")
}

func TestProcessServiceEmptyCommand(t *testing.T) {
	assert.Error(t, NewProcess(nil, 4000, nil).Start(context.Background()))
}
