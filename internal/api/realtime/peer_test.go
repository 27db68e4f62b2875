package realtime

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/osa030/speakerq/internal/app/notification"
	"github.com/osa030/speakerq/internal/app/session"
	"github.com/osa030/speakerq/internal/infra/config"
)

var errWriteTimeout = errors.New("write timeout")

// stuckConn behaves like a WebSocket whose client stopped reading: Write
// holds the write lock until the deadline passes, and Close needs the same
// lock.
type stuckConn struct {
	writeMu sync.Mutex

	mu       sync.Mutex
	deadline time.Time

	closed    chan struct{}
	closeOnce sync.Once
}

func newStuckConn() *stuckConn {
	return &stuckConn{closed: make(chan struct{})}
}

func (c *stuckConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-timeout:
		return 0, errWriteTimeout
	case <-c.closed:
		return 0, io.ErrClosedPipe
	}
}

func (c *stuckConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *stuckConn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *stuckConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// discardConn accepts every write.
type discardConn struct{}

func (discardConn) Write(p []byte) (int, error)      { return len(p), nil }
func (discardConn) SetWriteDeadline(time.Time) error { return nil }
func (discardConn) Close() error                     { return nil }

// within fails the test when fn does not return before d.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		fn()
	}()
	select {
	case <-finished:
	case <-time.After(d):
		t.Fatalf("did not finish within %s", d)
	}
}

func TestPeer_FullOutboxNeverBlocks(t *testing.T) {
	conn := newStuckConn()
	p := newPeer(conn, 1, 200*time.Millisecond)
	go p.run()

	frame := Frame{Type: FrameQueueUpdated}
	within(t, time.Second, func() {
		var err error
		for i := 0; i < 10 && err == nil; i++ {
			err = p.writeFrame(frame)
		}
		assert.ErrorIs(t, err, notification.ErrSlowSubscriber)
	})

	assert.ErrorIs(t, p.writeFrame(frame), errPeerClosed)
	// The writer gives up at its deadline and closes the socket itself.
	assert.Eventually(t, conn.isClosed, 2*time.Second, 10*time.Millisecond)
}

func TestPeer_StuckClientDoesNotStallSession(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	mgr, err := session.NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	ctx := context.Background()

	// A client that stopped reading: its writer stays blocked until the
	// deadline, long after the enqueues below finish.
	stuck := newStuckConn()
	slow := newPeer(stuck, 2, 3*time.Second)
	go slow.run()
	slowID := mgr.Connect(slow)
	_, err = mgr.Join(ctx, slowID, session.JoinRequest{SessionID: "ROOM"})
	require.NoError(t, err)

	fast := newPeer(discardConn{}, 1024, time.Second)
	go fast.run()
	t.Cleanup(func() { _ = fast.Close() })
	fastID := mgr.Connect(fast)
	_, err = mgr.Join(ctx, fastID, session.JoinRequest{SessionID: "ROOM"})
	require.NoError(t, err)

	within(t, 5*time.Second, func() {
		for i := 0; i < 50; i++ {
			_, err := mgr.Enqueue(ctx, fastID, session.EnqueueRequest{Topic: "topic"})
			require.NoError(t, err)
		}
		view, err := mgr.GetState(ctx, "ROOM")
		require.NoError(t, err)
		assert.Len(t, view.Queue, 50)
	})

	select {
	case <-slow.done:
	default:
		t.Fatal("slow peer was not dropped")
	}
	assert.Eventually(t, stuck.isClosed, 5*time.Second, 10*time.Millisecond)
}

func TestRealtime_CloseEndsConnections(t *testing.T) {
	s := newTestServer(t)
	att := s.dial(t)
	require.True(t, att.ack(att.send(FrameJoin, JoinPayload{SessionID: "ROOM"})).OK)

	s.manager.Close()

	require.NoError(t, att.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var err error
	for err == nil {
		var frame Frame
		err = websocket.JSON.Receive(att.ws, &frame)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection stayed open after close")
	}
}
