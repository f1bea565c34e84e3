// Package publish delivers finalized matches out of the matchmaking
// system to whatever is listening. A PartitionWorker never blocks on
// delivery — every Publisher implementation here is fire-and-forget from
// the worker's perspective, matching the worker package's documented
// contract for its Publisher dependency.
package publish

import (
	"github.com/dreamware/rankmatch/internal/ticket"
)

// MatchEvent describes one finalized match, in the shape handed to
// external listeners.
type MatchEvent struct {
	A ticket.Ticket `json:"a"`
	B ticket.Ticket `json:"b"`
}

// ChannelSink is an in-memory Publisher that fans matches out over a
// buffered channel. It never blocks the calling worker: a full channel
// drops the event rather than applying backpressure to match-finding.
type ChannelSink struct {
	events chan MatchEvent
}

// NewChannelSink creates a ChannelSink with the given channel buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{events: make(chan MatchEvent, buffer)}
}

// PublishMatch implements worker.Publisher.
func (c *ChannelSink) PublishMatch(a, b ticket.Ticket) {
	select {
	case c.events <- MatchEvent{A: a, B: b}:
	default:
		// Sink is full; the event is dropped. Matching itself already
		// completed and is not undone — this only affects observers.
	}
}

// Events returns the read side of the sink's channel.
func (c *ChannelSink) Events() <-chan MatchEvent { return c.events }

// Close closes the underlying channel. Call only after no worker can
// still call PublishMatch.
func (c *ChannelSink) Close() { close(c.events) }

// Multi fans a single PublishMatch call out to several Publishers, so a
// node can feed both a ChannelSink (an in-process buffered feed) and a
// WSFanout (for live subscribers) from the same worker hookup.
type Multi struct {
	sinks []interface{ PublishMatch(a, b ticket.Ticket) }
}

// NewMulti returns a Publisher that forwards to every sink in order.
func NewMulti(sinks ...interface{ PublishMatch(a, b ticket.Ticket) }) *Multi {
	return &Multi{sinks: sinks}
}

// PublishMatch implements worker.Publisher.
func (m *Multi) PublishMatch(a, b ticket.Ticket) {
	for _, s := range m.sinks {
		s.PublishMatch(a, b)
	}
}
