package realtime

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/speakerq/internal/app/notification"
)

var errPeerClosed = errors.New("peer closed")

// wsConn is the write side of a WebSocket connection.
type wsConn interface {
	io.Writer
	io.Closer
	SetWriteDeadline(t time.Time) error
}

// peer owns the write side of one connection. Frames are queued on a
// bounded outbox and written by a single goroutine, so writers never block.
// Only run touches the socket; everyone else signals through done.
type peer struct {
	conn         wsConn
	encoder      *json.Encoder
	writeTimeout time.Duration
	outbox       chan Frame
	done         chan struct{}
	once         sync.Once
}

func newPeer(conn wsConn, size int, writeTimeout time.Duration) *peer {
	if size <= 0 {
		size = 64
	}
	return &peer{
		conn:         conn,
		encoder:      json.NewEncoder(conn),
		writeTimeout: writeTimeout,
		outbox:       make(chan Frame, size),
		done:         make(chan struct{}),
	}
}

// run writes queued frames until the peer is closed or a write fails,
// then closes the socket.
func (p *peer) run() {
	defer func() {
		_ = p.conn.Close()
	}()

	for {
		select {
		case <-p.done:
			return
		case frame := <-p.outbox:
			if p.writeTimeout > 0 {
				_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			}
			if err := p.encoder.Encode(frame); err != nil {
				p.close()
				return
			}
		}
	}
}

// writeFrame queues a frame. A full outbox closes the peer: the client has
// fallen behind and must reconnect to resynchronize.
func (p *peer) writeFrame(frame Frame) error {
	select {
	case <-p.done:
		return errPeerClosed
	default:
	}
	select {
	case p.outbox <- frame:
		return nil
	default:
		p.close()
		return notification.ErrSlowSubscriber
	}
}

// Send implements notification.Stream.
func (p *peer) Send(event *notification.Event) error {
	return p.writeFrame(eventFrame(event))
}

// Close implements notification.ClosableStream. It never blocks.
func (p *peer) Close() error {
	p.close()
	return nil
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
	})
}
