// Package queue holds the per-alias outgoing command queues.
package queue

// Option applies a configuration option to the AliasQueues.
type Option func(*AliasQueues)

// WithCapacity sets the maximum number of commands queued per alias.
func WithCapacity(capacity int) Option {
	return func(q *AliasQueues) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}
