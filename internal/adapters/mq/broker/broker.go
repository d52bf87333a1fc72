// Package broker implements the heartbeat-based reverse-RPC broker.
//
// Agents cannot be reached directly. They poll with heartbeats under one or
// more aliases; each heartbeat refreshes those aliases, may carry the result
// of an earlier command, and drains whatever was queued for them. Callers
// block in EnqueueAndWait until the matching result comes back or the
// per-type ceiling expires.
package broker

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/okian/zapgaze/internal/adapters/mq/queue"
	"github.com/okian/zapgaze/internal/domain/command"
	"github.com/okian/zapgaze/internal/domain/dedupe"
	"github.com/okian/zapgaze/pkg/logger"
	"github.com/okian/zapgaze/pkg/metrics"
)

// DefaultAlias is used when a caller supplies neither agent_id nor session_uid.
const DefaultAlias = "default"

const (
	defaultHeartbeatTimeout = 30 * time.Second
	defaultAbandonedSize    = 10_000
	defaultQueueCapacity    = 1024
	fallbackCeiling         = 5 * time.Second
)

// DefaultCeilings are the maximum waits per command type.
var DefaultCeilings = map[command.Type]time.Duration{
	command.TypeStartAcquisition: 5 * time.Second,
	command.TypeStopAcquisition:  5 * time.Second,
	command.TypeCalibrateStart:   10 * time.Second,
	command.TypeCalibratePoint:   15 * time.Second,
	command.TypeCalibrateFinish:  3 * time.Second,
}

// Target selects which active aliases receive a command.
type Target string

const (
	// TargetSingle queues on the most recently seen active alias.
	TargetSingle Target = "single"
	// TargetBroadcast queues on every active alias.
	TargetBroadcast Target = "broadcast"
)

// HeartbeatReply is what an agent receives for a heartbeat.
type HeartbeatReply struct {
	Stopped   bool
	Commands  []command.Command
	Timestamp time.Time
}

// Status describes agent connectivity.
type Status struct {
	Connected     bool
	Alias         string
	LastHeartbeat time.Time
	ActiveAliases []string
}

// Stats is a snapshot of broker state.
type Stats struct {
	ActiveAliases   int `json:"active_aliases"`
	KnownAliases    int `json:"known_aliases"`
	StoppedAliases  int `json:"stopped_aliases"`
	PendingCommands int `json:"pending_commands"`
	PendingWaiters  int `json:"pending_waiters"`
	SettledCommands int `json:"settled_commands"`
}

// Broker owns alias liveness, command queues and result correlation.
// All state is guarded by a single mutex.
type Broker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	stopped  map[string]struct{}
	queues   *queue.AliasQueues
	waiters  map[string]chan command.Result

	// settled holds ids whose result was delivered to a waiter. Copies of
	// those commands still queued under other aliases are not delivered.
	settled dedupe.Deduper

	timeout       time.Duration
	ceilings      map[command.Type]time.Duration
	abandonedSize int
	queueCapacity int
	now           func() time.Time
	logger        logger.Logger
}

// New creates a broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		lastSeen:      make(map[string]time.Time),
		stopped:       make(map[string]struct{}),
		waiters:       make(map[string]chan command.Result),
		timeout:       defaultHeartbeatTimeout,
		ceilings:      make(map[command.Type]time.Duration, len(DefaultCeilings)),
		abandonedSize: defaultAbandonedSize,
		queueCapacity: defaultQueueCapacity,
		now:           time.Now,
		logger:        logger.Get().Named("broker"),
	}
	for t, d := range DefaultCeilings {
		b.ceilings[t] = d
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queues = queue.New(queue.WithCapacity(b.queueCapacity))
	b.settled = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(b.abandonedSize))
	return b
}

// Key returns the primary alias for an identity pair.
func Key(agentID, sessionUID string) string {
	switch {
	case sessionUID != "":
		return sessionUID
	case agentID != "":
		return agentID
	default:
		return DefaultAlias
	}
}

// Aliases returns every alias an identity pair is known under, primary first.
func Aliases(agentID, sessionUID string) []string {
	key := Key(agentID, sessionUID)
	out := []string{key}
	for _, a := range []string{sessionUID, agentID} {
		if a != "" && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

// Ceiling returns how long EnqueueAndWait waits for t.
func (b *Broker) Ceiling(t command.Type) time.Duration {
	if d, ok := b.ceilings[t]; ok {
		return d
	}
	return fallbackCeiling
}

// Register stamps alias as seen now. A stopped alias stays stopped and
// ErrAgentStopped is returned.
func (b *Broker) Register(ctx context.Context, alias string) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if _, poisoned := b.stopped[alias]; poisoned {
		b.logger.Info(ctx, "refusing to register stopped agent", logger.String("alias", alias))
		return now, fmt.Errorf("alias %s: %w", alias, ErrAgentStopped)
	}
	b.lastSeen[alias] = now
	b.updateGaugesLocked(now)
	b.logger.Info(ctx, "agent registered", logger.String("alias", alias))
	return now, nil
}

// Heartbeat refreshes aliases, records result and drains their queues.
// If any alias was marked stopped, nothing is refreshed and ErrAgentStopped
// is returned alongside a reply with Stopped set.
func (b *Broker) Heartbeat(ctx context.Context, aliases []string, result *command.Result) (HeartbeatReply, error) {
	if len(aliases) == 0 {
		aliases = []string{DefaultAlias}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, alias := range aliases {
		if _, poisoned := b.stopped[alias]; poisoned {
			metrics.RecordHeartbeat("stopped")
			b.logger.Debug(ctx, "heartbeat from stopped agent", logger.String("alias", alias))
			return HeartbeatReply{Stopped: true}, fmt.Errorf("alias %s: %w", alias, ErrAgentStopped)
		}
	}

	now := b.now()
	for _, alias := range aliases {
		b.lastSeen[alias] = now
	}

	if result != nil && result.CommandID != "" {
		b.settleLocked(ctx, *result)
	}

	cmds := b.pendingLocked(ctx, b.queues.Drain(aliases))
	metrics.RecordHeartbeat("ok")
	b.updateGaugesLocked(now)
	if len(cmds) > 0 {
		b.logger.Debug(ctx, "delivering commands",
			logger.Strings("aliases", aliases),
			logger.Int("commands", len(cmds)),
		)
	}
	return HeartbeatReply{Commands: cmds, Timestamp: now}, nil
}

// pendingLocked drops commands whose result already reached a waiter,
// which happens to broadcast copies queued under more than one alias.
func (b *Broker) pendingLocked(ctx context.Context, cmds []command.Command) []command.Command {
	return slices.DeleteFunc(cmds, func(cmd command.Command) bool {
		if !b.settled.Seen(ctx, cmd.ID) {
			return false
		}
		b.logger.Debug(ctx, "skipping settled command", logger.String("command_id", cmd.ID))
		return true
	})
}

// settleLocked hands result to its waiter. The first report for an id wins;
// reports nobody is waiting for are dropped.
func (b *Broker) settleLocked(ctx context.Context, result command.Result) {
	ch, waiting := b.waiters[result.CommandID]
	if !waiting {
		metrics.RecordLateResult()
		b.logger.Warn(ctx, "discarding result nobody is waiting for",
			logger.String("command_id", result.CommandID),
			logger.Bool("duplicate", b.settled.Seen(ctx, result.CommandID)),
		)
		return
	}
	delete(b.waiters, result.CommandID)
	b.settled.SeenAndRecord(ctx, result.CommandID)
	ch <- result
}

// EnqueueAndWait queues cmd for the selected active aliases and blocks until
// its result arrives, the type's ceiling elapses, or ctx is done. A timeout
// does not retract the queued command.
func (b *Broker) EnqueueAndWait(ctx context.Context, cmd command.Command, target Target) (command.Result, error) {
	start := time.Now()
	ctype := string(cmd.Type())

	ch, err := b.enqueue(ctx, cmd, target)
	if err != nil {
		metrics.RecordCommandOutcome(ctype, "no_agent", msSince(start))
		return command.Result{}, err
	}

	timer := time.NewTimer(b.Ceiling(cmd.Type()))
	defer timer.Stop()

	select {
	case res := <-ch:
		outcome := "success"
		if !res.Success {
			outcome = "failure"
		}
		metrics.RecordCommandOutcome(ctype, outcome, msSince(start))
		return res, nil
	case <-timer.C:
		if res, ok := b.abandon(ctx, cmd.ID, ch); ok {
			metrics.RecordCommandOutcome(ctype, "success", msSince(start))
			return res, nil
		}
		metrics.RecordCommandOutcome(ctype, "timeout", msSince(start))
		b.logger.Warn(ctx, "command timed out",
			logger.String("command_id", cmd.ID),
			logger.String("type", ctype),
		)
		return command.Result{}, fmt.Errorf("%s: %w", ctype, ErrCommandTimeout)
	case <-ctx.Done():
		if res, ok := b.abandon(ctx, cmd.ID, ch); ok {
			return res, nil
		}
		metrics.RecordCommandOutcome(ctype, "canceled", msSince(start))
		return command.Result{}, ctx.Err()
	}
}

func (b *Broker) enqueue(ctx context.Context, cmd command.Command, target Target) (chan command.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	active := b.activeLocked(now)
	if len(active) == 0 {
		return nil, ErrNoActiveAgent
	}
	targets := active[:1]
	if target == TargetBroadcast {
		targets = active
	}

	queued := 0
	for _, alias := range targets {
		if err := b.queues.Enqueue(alias, cmd); err != nil {
			b.logger.Warn(ctx, "failed to queue command",
				logger.String("alias", alias),
				logger.String("command_id", cmd.ID),
				logger.Error(err),
			)
			continue
		}
		queued++
	}
	if queued == 0 {
		return nil, fmt.Errorf("queue %s: %w", cmd.ID, queue.ErrFull)
	}

	ch := make(chan command.Result, 1)
	b.waiters[cmd.ID] = ch
	metrics.RecordCommandEnqueued(string(cmd.Type()), string(target))
	b.updateGaugesLocked(now)
	b.logger.Info(ctx, "queued command",
		logger.String("command_id", cmd.ID),
		logger.String("type", string(cmd.Type())),
		logger.Strings("aliases", targets),
	)
	return ch, nil
}

// abandon removes the waiter for id. If the result slipped in between the
// timer firing and taking the lock it is returned instead.
func (b *Broker) abandon(_ context.Context, id string, ch chan command.Result) (command.Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case res := <-ch:
		return res, true
	default:
	}
	delete(b.waiters, id)
	b.updateGaugesLocked(b.now())
	return command.Result{}, false
}

// MarkStopped poisons alias so its heartbeats are answered with "stopped".
func (b *Broker) MarkStopped(ctx context.Context, alias string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped[alias] = struct{}{}
	delete(b.lastSeen, alias)
	b.updateGaugesLocked(b.now())
	b.logger.Info(ctx, "agent marked stopped", logger.String("alias", alias))
}

// Unregister forgets alias and drops its queued commands.
func (b *Broker) Unregister(ctx context.Context, alias string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.lastSeen[alias]; !ok {
		return fmt.Errorf("alias %s: %w", alias, ErrAgentNotFound)
	}
	delete(b.lastSeen, alias)
	dropped := b.queues.Remove(alias)
	b.updateGaugesLocked(b.now())
	b.logger.Info(ctx, "agent unregistered",
		logger.String("alias", alias),
		logger.Int("dropped_commands", dropped),
	)
	return nil
}

// Status reports whether alias is active. With an empty alias it reports
// whether any alias is active and lists them.
func (b *Broker) Status(_ context.Context, alias string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if alias != "" {
		last, ok := b.lastSeen[alias]
		if _, poisoned := b.stopped[alias]; !poisoned && ok && b.isActive(last, now) {
			return Status{Connected: true, Alias: alias, LastHeartbeat: last}
		}
		return Status{Alias: alias}
	}

	active := b.activeLocked(now)
	return Status{Connected: len(active) > 0, ActiveAliases: active}
}

// Stats returns a snapshot of broker state.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		ActiveAliases:   len(b.activeLocked(b.now())),
		KnownAliases:    len(b.lastSeen),
		StoppedAliases:  len(b.stopped),
		PendingCommands: b.queues.Total(),
		PendingWaiters:  len(b.waiters),
		SettledCommands: int(b.settled.Size()),
	}
}

func (b *Broker) isActive(last, now time.Time) bool {
	return now.Sub(last) <= b.timeout
}

// activeLocked lists active aliases, most recently seen first, ties by key.
func (b *Broker) activeLocked(now time.Time) []string {
	active := make([]string, 0, len(b.lastSeen))
	for alias, last := range b.lastSeen {
		if _, poisoned := b.stopped[alias]; poisoned {
			continue
		}
		if b.isActive(last, now) {
			active = append(active, alias)
		}
	}
	slices.SortFunc(active, func(x, y string) int {
		if c := b.lastSeen[y].Compare(b.lastSeen[x]); c != 0 {
			return c
		}
		return cmp.Compare(x, y)
	})
	return active
}

func (b *Broker) updateGaugesLocked(now time.Time) {
	metrics.UpdateBrokerGauges(len(b.activeLocked(now)), b.queues.Total(), len(b.waiters))
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
