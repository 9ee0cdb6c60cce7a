// ABOUTME: Tests for the relay hub using in-memory agent connections
// ABOUTME: Covers broadcast isolation, dispatch, snapshots and controller errors

package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/2389/strudel-bridge/internal/correlator"
	"github.com/2389/strudel-bridge/internal/events"
	"github.com/2389/strudel-bridge/internal/protocol"
)

// fakeConn is the hub end of an in-memory agent connection.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	stall  bool
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(stall bool) *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		stall:  stall,
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data := <-f.in:
		return websocket.MessageText, data, nil
	case <-f.closed:
		return 0, nil, io.EOF
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, _ websocket.MessageType, data []byte) error {
	if f.stall {
		select {
		case <-f.closed:
			return io.ErrClosedPipe
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case f.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeConn) Close(websocket.StatusCode, string) error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	f.in <- data
}

func (f *fakeConn) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case data := <-f.out:
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hub message")
		return protocol.Message{}
	}
}

func attach(t *testing.T, h *Hub, conn *fakeConn) *Connection {
	t.Helper()
	c := h.register(conn, "127.0.0.1:0")
	done := make(chan struct{})
	go func() {
		h.serve(t.Context(), c)
		close(done)
	}()
	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		<-done
	})
	return c
}

// answerSnapshots replies to every snapshot request with reply(requestID).
func answerSnapshots(t *testing.T, conn *fakeConn, reply func(string) string) {
	go func() {
		for {
			select {
			case data := <-conn.out:
				msg, err := protocol.Decode(data)
				if err != nil || msg.Type != protocol.TypeGetCurrentCode {
					continue
				}
				out, _ := protocol.Encode(protocol.CurrentCode(msg.RequestID, reply(msg.RequestID)))
				conn.in <- out
			case <-conn.closed:
				return
			case <-t.Context().Done():
				return
			}
		}
	}()
}

func TestWelcomeIsFirstMessage(t *testing.T) {
	h := New(Options{}, nil, nil, nil)
	conn := newFakeConn(false)
	attach(t, h, conn)

	msg := conn.next(t)
	assert.Equal(t, protocol.TypeConnected, msg.Type)
	assert.Equal(t, protocol.WelcomeText, msg.WelcomeText())
}

func TestBroadcast_StalledPeerDoesNotBlockOthers(t *testing.T) {
	h := New(Options{SendBuffer: 4}, nil, nil, nil)
	fast := newFakeConn(false)
	stalled := newFakeConn(true)
	attach(t, h, fast)
	attach(t, h, stalled)
	fast.next(t)

	for i := range 20 {
		start := time.Now()
		n := h.Broadcast(protocol.ExecuteCode(fmt.Sprintf("n(%d)", i), ""))
		assert.Less(t, time.Since(start), time.Second)
		assert.GreaterOrEqual(t, n, 1)

		msg := fast.next(t)
		assert.Equal(t, fmt.Sprintf("n(%d)", i), msg.Code)
	}

	assert.Equal(t, 1, h.ClientCount())
	select {
	case <-stalled.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled connection was not closed")
	}
}

func TestBroadcast_SkipsDeadConnections(t *testing.T) {
	h := New(Options{}, nil, nil, nil)
	conn := newFakeConn(false)
	c := attach(t, h, conn)
	conn.next(t)

	c.markDead()
	assert.Equal(t, 0, h.Broadcast(protocol.StopAll()))
}

func TestDisconnectRemovesConnection(t *testing.T) {
	ev := events.NewBroadcaster(nil)
	defer ev.Close()
	sub, _ := ev.Subscribe(t.Context())

	h := New(Options{}, ev, nil, nil)
	conn := newFakeConn(false)
	c := attach(t, h, conn)
	require.True(t, h.HasConnectedClients())

	require.NoError(t, conn.Close(websocket.StatusGoingAway, ""))
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, c.Alive())

	var kinds []events.Kind
	for len(kinds) < 2 {
		select {
		case e := <-sub:
			assert.Equal(t, c.ID, e.ConnID)
			kinds = append(kinds, e.Kind)
		case <-time.After(time.Second):
			t.Fatal("missing lifecycle event")
		}
	}
	assert.Equal(t, []events.Kind{events.KindConnected, events.KindDisconnected}, kinds)
}

func TestBrowserReadyRecordsMetadata(t *testing.T) {
	ev := events.NewBroadcaster(nil)
	defer ev.Close()
	sub, _ := ev.Subscribe(t.Context())

	h := New(Options{}, ev, nil, nil)
	conn := newFakeConn(false)
	attach(t, h, conn)

	conn.send(t, protocol.BrowserReady(protocol.ReadyInfo{URL: "https://strudel.cc/", Version: protocol.Version, HasEditor: true}))

	require.Eventually(t, func() bool {
		infos := h.Connections()
		return len(infos) == 1 && infos[0].Ready != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "https://strudel.cc/", h.Connections()[0].Ready.URL)

	for {
		select {
		case e := <-sub:
			if e.Kind == events.KindReady {
				require.NotNil(t, e.Ready)
				assert.Equal(t, protocol.Version, e.Ready.Version)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("no ready event")
		}
	}
}

func TestExecutionResultPublished(t *testing.T) {
	ev := events.NewBroadcaster(nil)
	defer ev.Close()
	sub, _ := ev.Subscribe(t.Context())

	h := New(Options{}, ev, nil, nil)
	conn := newFakeConn(false)
	attach(t, h, conn)

	conn.send(t, protocol.Result(protocol.ExecutionResult{Success: false, Error: "No editor found"}))

	for {
		select {
		case e := <-sub:
			if e.Kind == events.KindResult {
				require.NotNil(t, e.Result)
				assert.Equal(t, "No editor found", e.Result.Error)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("no result event")
		}
	}
}

func TestHealthCheckAnsweredOnSameConnection(t *testing.T) {
	h := New(Options{}, nil, nil, nil)
	asking := newFakeConn(false)
	other := newFakeConn(false)
	attach(t, h, asking)
	attach(t, h, other)
	asking.next(t)
	other.next(t)

	asking.send(t, protocol.HealthCheck())

	reply := asking.next(t)
	assert.Equal(t, protocol.TypeHealthResponse, reply.Type)
	assert.Equal(t, "ok", reply.Status)

	select {
	case data := <-other.out:
		t.Fatalf("other connection got %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMalformedFrameIgnored(t *testing.T) {
	h := New(Options{}, nil, nil, nil)
	conn := newFakeConn(false)
	attach(t, h, conn)
	conn.next(t)

	conn.in <- []byte("not json")
	conn.in <- []byte(`{"code":"no type"}`)
	conn.send(t, protocol.HealthCheck())

	assert.Equal(t, protocol.TypeHealthResponse, conn.next(t).Type)
	assert.Equal(t, 1, h.ClientCount())
}

func TestControllerWithoutAgents(t *testing.T) {
	h := New(Options{}, nil, nil, nil)

	assert.ErrorIs(t, h.SendCommand(`s("bd")`, ""), ErrNoAgentConnected)
	assert.ErrorIs(t, h.Stop(), ErrNoAgentConnected)
	assert.Equal(t, Status{Connected: false, Count: 0}, h.ConnectionStatus())

	start := time.Now()
	code, err := h.FetchSnapshot(t.Context(), time.Minute)
	assert.ErrorIs(t, err, ErrNoAgentConnected)
	assert.Empty(t, code)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSendCommand(t *testing.T) {
	h := New(Options{}, nil, nil, nil)
	conn := newFakeConn(false)
	attach(t, h, conn)
	conn.next(t)

	require.NoError(t, h.SendCommand(`s("bd*4")`, "// kick"))
	msg := conn.next(t)
	assert.Equal(t, protocol.TypeExecuteCode, msg.Type)
	assert.Equal(t, `s("bd*4")`, msg.Code)
	assert.Equal(t, "// kick", msg.Comment)

	require.NoError(t, h.Stop())
	assert.Equal(t, protocol.TypeStopAll, conn.next(t).Type)
	assert.Equal(t, Status{Connected: true, Count: 1}, h.ConnectionStatus())
}

func TestCommand_CountsDeliveredAgents(t *testing.T) {
	h := New(Options{}, nil, nil, nil)
	live := newFakeConn(false)
	dying := newFakeConn(false)
	attach(t, h, live)
	c := attach(t, h, dying)
	live.next(t)
	dying.next(t)

	c.markDead()
	n, err := h.Command(protocol.StopAll())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, protocol.TypeStopAll, live.next(t).Type)

	live2 := newFakeConn(false)
	h2 := New(Options{}, nil, nil, nil)
	c2 := attach(t, h2, live2)
	live2.next(t)
	c2.markDead()
	_, err = h2.Command(protocol.ExecuteCode("x", ""))
	assert.ErrorIs(t, err, ErrNoAgentConnected)
}

func TestRequestSnapshot_Timeout(t *testing.T) {
	h := New(Options{}, nil, nil, nil)
	attach(t, h, newFakeConn(false))

	for range 20 {
		code, err := h.RequestSnapshot(t.Context(), 10*time.Millisecond)
		assert.ErrorIs(t, err, correlator.ErrTimeout)
		assert.Empty(t, code)
	}
	assert.Equal(t, 0, h.PendingSnapshots())

	code, err := h.FetchSnapshot(t.Context(), 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Empty(t, code)
}

func TestRequestSnapshot_FirstReplyWins(t *testing.T) {
	h := New(Options{}, nil, nil, nil)
	a := newFakeConn(false)
	b := newFakeConn(false)
	attach(t, h, a)
	attach(t, h, b)
	answerSnapshots(t, a, func(string) string { return `note("c")` })
	answerSnapshots(t, b, func(string) string { return `note("c")` })

	code, err := h.FetchSnapshot(t.Context(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, `note("c")`, code)
	assert.Equal(t, 0, h.PendingSnapshots())
}

func TestRequestSnapshot_ConcurrentRequestsIndependent(t *testing.T) {
	h := New(Options{}, nil, nil, nil)
	conn := newFakeConn(false)
	attach(t, h, conn)
	answerSnapshots(t, conn, func(id string) string { return "code-" + id })

	const n = 8
	results := make(chan string, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := h.RequestSnapshot(t.Context(), 2*time.Second)
			assert.NoError(t, err)
			results <- code
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for code := range results {
		assert.True(t, strings.HasPrefix(code, "code-"))
		seen[code] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, 0, h.PendingSnapshots())
}

func TestServeHTTP_RealWebSocket(t *testing.T) {
	h := New(Options{PingInterval: 20 * time.Millisecond}, nil, nil, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeConnected, msg.Type)
	assert.Equal(t, 1, h.ClientCount())

	// Keep reading so pongs are processed while the hub pings.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.ClientCount())

	require.NoError(t, h.SendCommand("x", ""))
	h.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestListen_BindError(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = Listen(ln.Addr().String())
	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, ln.Addr().String(), bindErr.Addr)
	assert.True(t, bindErr.InUse())
	assert.Contains(t, err.Error(), "already in use")

	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr))
}
