package session

import (
	"context"

	"github.com/osa030/speakerq/internal/app/gate"
)

// Ack is the success acknowledgment of one connection request.
type Ack struct {
	Op     gate.Operation
	ItemID string      // enqueue
	Join   *JoinResult // join
}

// AckFunc receives the acknowledgment of a successful request.
type AckFunc func(Ack)

type ackKey struct{}

// WithAck attaches fn to ctx. On success the Manager calls fn exactly once,
// inside the session's critical section and before the resulting broadcast,
// so a caller that writes acks and events to the same outbox sees its ack
// first.
func WithAck(ctx context.Context, fn AckFunc) context.Context {
	return context.WithValue(ctx, ackKey{}, fn)
}

func ack(ctx context.Context, a Ack) {
	if fn, ok := ctx.Value(ackKey{}).(AckFunc); ok && fn != nil {
		fn(a)
	}
}
