// Package queue holds the per-alias outgoing command queues.
//
// AliasQueues is not safe for concurrent use; the broker serializes every
// call under its own lock.
package queue

import (
	"errors"
	"slices"

	"github.com/okian/zapgaze/internal/domain/command"
)

const defaultCapacity = 1024

// ErrFull is returned when an alias already holds capacity commands.
var ErrFull = errors.New("command queue full")

// AliasQueues maps an alias to its FIFO of pending commands.
type AliasQueues struct {
	queues   map[string][]command.Command
	capacity int
}

// New creates empty queues.
func New(opts ...Option) *AliasQueues {
	q := &AliasQueues{
		queues:   make(map[string][]command.Command),
		capacity: defaultCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends cmd to alias's queue.
func (q *AliasQueues) Enqueue(alias string, cmd command.Command) error {
	if len(q.queues[alias]) >= q.capacity {
		return ErrFull
	}
	q.queues[alias] = append(q.queues[alias], cmd)
	return nil
}

// Drain removes and returns the union of the queues for aliases.
// Aliases are visited in sorted order and each queue keeps its FIFO order.
// A command queued under several of the aliases is returned once.
func (q *AliasQueues) Drain(aliases []string) []command.Command {
	keys := slices.Clone(aliases)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	var out []command.Command
	seen := make(map[string]struct{})
	for _, alias := range keys {
		for _, cmd := range q.queues[alias] {
			if _, dup := seen[cmd.ID]; dup {
				continue
			}
			seen[cmd.ID] = struct{}{}
			out = append(out, cmd)
		}
		delete(q.queues, alias)
	}
	return out
}

// Remove drops alias's queue and returns how many commands it held.
func (q *AliasQueues) Remove(alias string) int {
	n := len(q.queues[alias])
	delete(q.queues, alias)
	return n
}

// Len returns the number of commands queued under alias.
func (q *AliasQueues) Len(alias string) int {
	return len(q.queues[alias])
}

// Total returns the number of queued entries across all aliases. A
// broadcast command counts once per alias it was queued under.
func (q *AliasQueues) Total() int {
	n := 0
	for _, cmds := range q.queues {
		n += len(cmds)
	}
	return n
}
