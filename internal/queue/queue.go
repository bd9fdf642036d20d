// Package queue implements the ready queue: a keyed set of pending
// tasks ordered by insertion, with delayed-retry entries skipped in
// place rather than reordered. Grounded on the teacher's
// orchestrator/queue package (mutex-guarded map-backed queue with a
// dedicated lookup structure) but swaps container/heap for an
// insertion-ordered map since FIFO-among-ready, not priority, is the
// required ordering.
package queue

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

// Queue is the ready queue described in spec §4.1: a keyed set of
// QueueEntry preserving insertion order, so that dequeue can scan for
// the first ready entry without disturbing the position of delayed
// ones.
type Queue struct {
	mu        sync.Mutex
	entries   *orderedmap.OrderedMap[string, v1.QueueEntry]
	baseDelay time.Duration
	now       func() time.Time
}

// New creates an empty ready queue. baseDelay is the exponential
// backoff unit used by Requeue; now is the clock used for
// enqueuedAt/nextAttemptAt stamps and readiness checks (inject a fake
// clock in tests).
func New(baseDelay time.Duration, now func() time.Time) *Queue {
	return &Queue{
		entries:   orderedmap.New[string, v1.QueueEntry](),
		baseDelay: baseDelay,
		now:       now,
	}
}

// Enqueue inserts task with retryCount=0. Returns false without
// modifying the queue if the key is already present.
func (q *Queue) Enqueue(task v1.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries.Get(task.IssueID); exists {
		return false
	}

	now := q.now()
	q.entries.Set(task.IssueID, v1.QueueEntry{
		Task:          task,
		RetryCount:    0,
		NextAttemptAt: now,
		EnqueuedAt:    now,
	})
	return true
}

// Requeue overwrites any existing entry for task.IssueID with
// nextAttemptAt = now + baseDelay * 2^(retryCount-1). Per spec §5,
// this does not preserve original insertion order: an overwrite stays
// at the key's existing position; a previously-absent key is appended
// at the tail.
func (q *Queue) Requeue(task v1.Task, retryCount int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	delay := q.baseDelay
	for i := 1; i < retryCount; i++ {
		delay *= 2
	}

	existing, exists := q.entries.Get(task.IssueID)
	enqueuedAt := now
	if exists {
		enqueuedAt = existing.EnqueuedAt
	}

	q.entries.Set(task.IssueID, v1.QueueEntry{
		Task:          task,
		RetryCount:    retryCount,
		NextAttemptAt: now.Add(delay),
		EnqueuedAt:    enqueuedAt,
	})
}

// Dequeue returns and removes the first entry, in insertion order,
// whose NextAttemptAt has arrived. Returns (zero, false) if none is
// ready; not-yet-ready entries are left untouched in place.
func (q *Queue) Dequeue() (v1.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for pair := q.entries.Oldest(); pair != nil; pair = pair.Next() {
		if !pair.Value.NextAttemptAt.After(now) {
			entry := pair.Value
			q.entries.Delete(pair.Key)
			return entry, true
		}
	}
	return v1.QueueEntry{}, false
}

// Remove deletes the entry for issueID, if present.
func (q *Queue) Remove(issueID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Delete(issueID)
}

// Has reports whether issueID currently has a queue entry.
func (q *Queue) Has(issueID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries.Get(issueID)
	return ok
}

// Size returns the number of entries in the queue.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// Entries returns an independent snapshot of queue entries in
// insertion order; mutating the result does not affect the queue.
func (q *Queue) Entries() []v1.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]v1.QueueEntry, 0, q.entries.Len())
	for pair := q.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// ToJSON returns the entries in insertion order for persistence. It is
// the JSON-shaped counterpart to Entries.
func (q *Queue) ToJSON() []v1.QueueEntry {
	return q.Entries()
}

// Hydrate loads saved entries in order, keyed by task.IssueID; if the
// input contains duplicate issueIds, the last one wins and occupies
// the position of its last occurrence.
func (q *Queue) Hydrate(saved []v1.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = orderedmap.New[string, v1.QueueEntry]()
	for _, entry := range saved {
		q.entries.Set(entry.Task.IssueID, entry)
	}
}
