// Package delayqueue implements the sharded, timer-ordered set of
// entries awaiting their earliest-start or retry instant.
//
// A stable hash of a key selects one of N independent shards, each
// with its own goroutine, so fan-out parallelizes while ordering is
// only promised within a shard.
package delayqueue

import (
	"container/heap"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/rrls/rrls/internal/clock"
	"github.com/rrls/rrls/internal/control"
	"github.com/rrls/rrls/internal/entry"
	"github.com/rrls/rrls/internal/listener"
	"github.com/rrls/rrls/internal/mainqueue"
	"github.com/rrls/rrls/internal/metrics"
)

// ExpireFunc is called for an entry discovered to be expired, or
// forced to expire by a timeoutAllPending control state, at release
// time instead of being handed to the MainQueue.
type ExpireFunc func(e *entry.Entry)

// Config configures one DelayQueue.
type Config struct {
	Shards       int
	GracePeriod  time.Duration
	MainQueue    *mainqueue.MainQueue
	ControlFn    func() control.State
	Expire       ExpireFunc
	Listener     listener.EventListener
	Clock        clock.Clock
	Log          zerolog.Logger
}

type item struct {
	entry     *entry.Entry
	releaseAt time.Time
	index     int
}

type itemHeap []*item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].releaseAt.Before(h[j].releaseAt) }
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

type shard struct {
	id int

	mu   sync.Mutex
	heap itemHeap
	byID map[string]*item

	wake chan struct{}
}

func newShard(id int) *shard {
	return &shard{id: id, byID: make(map[string]*item), wake: make(chan struct{}, 1)}
}

func (s *shard) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// DelayQueue is the full sharded set plus its drain goroutines.
type DelayQueue struct {
	cfg    Config
	shards []*shard

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a DelayQueue and starts its shard drain loops.
func New(cfg Config) *DelayQueue {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Listener == nil {
		cfg.Listener = listener.NoOp{}
	}
	dq := &DelayQueue{
		cfg:    cfg,
		shards: make([]*shard, cfg.Shards),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		dq.shards[i] = newShard(i)
		dq.wg.Add(1)
		go dq.drainLoop(dq.shards[i])
	}
	return dq
}

// Stop signals every shard's drain loop to exit and waits for them.
func (dq *DelayQueue) Stop() {
	select {
	case <-dq.stopCh:
		return
	default:
		close(dq.stopCh)
	}
	dq.wg.Wait()
}

// Insert places e into the shard its key hashes to, to be released at
// releaseAt (subject to grace period and control-state overrides at
// drain time).
func (dq *DelayQueue) Insert(e *entry.Entry, releaseAt time.Time) {
	s := dq.shardFor(e.ShardKey)
	it := &item{entry: e, releaseAt: releaseAt}

	s.mu.Lock()
	wasEarliest := s.heap.Len() == 0 || releaseAt.Before(s.heap[0].releaseAt)
	heap.Push(&s.heap, it)
	s.byID[e.ID] = it
	depth := s.heap.Len()
	s.mu.Unlock()

	metrics.DelayQueueDepth.WithLabelValues(shardLabel(s.id)).Set(float64(depth))
	e.SetState(entry.PendingDelay)
	dq.cfg.Listener.DelayScheduled(e.ID, releaseAt.Format(time.RFC3339Nano))

	if wasEarliest {
		s.notify()
	}
}

// Remove drops e from its shard if present, for cancellation. It is a
// no-op if e already drained or was never inserted.
func (dq *DelayQueue) Remove(e *entry.Entry) {
	s := dq.shardFor(e.ShardKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.byID[e.ID]
	if !ok {
		return
	}
	heap.Remove(&s.heap, it.index)
	delete(s.byID, e.ID)
}

// ShardDepths returns the current per-shard queue lengths, for status.
func (dq *DelayQueue) ShardDepths() []int {
	out := make([]int, len(dq.shards))
	for i, s := range dq.shards {
		s.mu.Lock()
		out[i] = s.heap.Len()
		s.mu.Unlock()
	}
	return out
}

func (dq *DelayQueue) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return dq.shards[int(h.Sum32())%len(dq.shards)]
}

func shardLabel(i int) string { return strconv.Itoa(i) }

// drainLoop is the per-shard goroutine: sleep until the head item's
// releaseAt (adjusted for grace period and control state), then
// release every item that has become ready.
func (dq *DelayQueue) drainLoop(s *shard) {
	defer dq.wg.Done()
	clk := dq.cfg.Clock

	for {
		wait, hasItem := dq.nextWait(s)
		if !hasItem {
			select {
			case <-s.wake:
				continue
			case <-dq.stopCh:
				return
			}
		}

		timer := clk.Timer(wait)
		select {
		case <-timer.C:
			dq.release(s)
		case <-s.wake:
			timer.Stop()
		case <-dq.stopCh:
			timer.Stop()
			return
		}
	}
}

// nextWait computes how long the drain loop should sleep before the
// head item becomes releasable, honoring the grace period and the
// current control state's honorDelays/timeoutAllPending flags.
func (dq *DelayQueue) nextWait(s *shard) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heap.Len() == 0 {
		return 0, false
	}
	head := s.heap[0]
	snap := dq.cfg.ControlFn()
	if snap.TimeoutAllPending || !snap.HonorDelays {
		return 0, true
	}
	now := dq.cfg.Clock.Now()
	remaining := head.releaseAt.Sub(now)
	if remaining <= dq.cfg.GracePeriod {
		return 0, true
	}
	return remaining - dq.cfg.GracePeriod, true
}

// release pops every item at the shard head that has become
// releasable and routes it to either Expire (deadline passed, or
// timeoutAllPending forcing immediate failure) or the MainQueue.
func (dq *DelayQueue) release(s *shard) {
	now := dq.cfg.Clock.Now()
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 {
			s.mu.Unlock()
			return
		}
		head := s.heap[0]
		snap := dq.cfg.ControlFn()
		forced := snap.TimeoutAllPending || !snap.HonorDelays
		ready := forced || head.releaseAt.Sub(now) <= dq.cfg.GracePeriod
		if !ready {
			s.mu.Unlock()
			return
		}
		it := heap.Pop(&s.heap).(*item)
		delete(s.byID, it.entry.ID)
		depth := s.heap.Len()
		s.mu.Unlock()
		metrics.DelayQueueDepth.WithLabelValues(shardLabel(s.id)).Set(float64(depth))

		e := it.entry
		switch {
		case e.CancelRequested():
			dq.cfg.Expire(e) // outcome handler distinguishes cancel via e.CancelRequested()
		case snap.TimeoutAllPending:
			dq.cfg.Expire(e)
		case e.Expired(now):
			dq.cfg.Expire(e)
		default:
			e.SetState(entry.Ready)
			dq.handOff(e)
		}
	}
}

// handOff pushes e to the MainQueue, retrying with bounded exponential
// backoff if it is momentarily full. This backoff is internal plumbing,
// distinct from the user-visible delaySchedule retries.
func (dq *DelayQueue) handOff(e *entry.Entry) {
	if dq.cfg.MainQueue.TryPush(e) {
		return
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 10 * time.Millisecond
	exp.MaxInterval = 500 * time.Millisecond
	exp.Reset()
	for {
		wait := exp.NextBackOff()
		if wait == backoff.Stop {
			dq.cfg.Log.Error().Str("entry_id", e.ID).Msg("delayqueue: giving up handing entry to main queue")
			dq.cfg.Expire(e)
			return
		}
		select {
		case <-time.After(wait):
		case <-dq.stopCh:
			dq.cfg.Expire(e)
			return
		}
		if dq.cfg.MainQueue.TryPush(e) {
			return
		}
	}
}
