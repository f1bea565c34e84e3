// Package backpressure implements the admission-control predicate that
// sheds load on enqueue, ahead of range validation.
package backpressure

// Config holds the two thresholds that define overload for a shard.
type Config struct {
	// MessageQueueLimit bounds mailbox depth (pending actor messages).
	MessageQueueLimit int
	// QueuedCountLimit bounds the shard's total queued ticket count.
	QueuedCountLimit int
}

// CheckOverload reports whether a shard should reject new enqueues, given
// its current mailbox depth and queued ticket count. The worker checks it on
// every enqueue right after the epoch check and before range validation, so
// an overloaded shard sheds load as cheaply as possible.
func CheckOverload(cfg Config, mailboxDepth, queuedCount int) bool {
	return mailboxDepth > cfg.MessageQueueLimit || queuedCount > cfg.QueuedCountLimit
}
