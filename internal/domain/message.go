package domain

import "time"

// QueueMessage is one at-least-once delivery from the upstream queue.
// ID and Receipt are message-level metadata owned by the boundary; the
// envelope identity comes from the JSON body.
type QueueMessage struct {
	ID       string
	Receipt  string
	Body     []byte
	Received time.Time
}
