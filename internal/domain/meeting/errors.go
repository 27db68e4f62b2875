package meeting

import "github.com/cockroachdb/errors"

var (
	ErrQueueLocked  = errors.New("queue is locked")
	ErrItemNotFound = errors.New("queue item not found")
)
