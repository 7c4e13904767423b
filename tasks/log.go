package tasks

import (
	"sync"
	"time"
)

// ReleaseReason records why an assignment stopped being live.
type ReleaseReason string

const (
	// ReleaseFinished means the attempt succeeded.
	ReleaseFinished ReleaseReason = "finished"

	// ReleaseFailed means the attempt reported a failure.
	ReleaseFailed ReleaseReason = "failed"

	// ReleaseReassigned means the agent was lost while holding the attempt.
	ReleaseReassigned ReleaseReason = "reassigned"

	// ReleaseCancelled means the task was cancelled during the attempt.
	ReleaseCancelled ReleaseReason = "cancelled"
)

// Assignment is an immutable record of one task attempt bound to one agent.
type Assignment struct {
	// Seq is the position in the log, assigned on append.
	Seq uint64

	TaskID     string
	AgentID    string
	AssignedAt time.Time
	Attempt    int
}

// Record is an assignment together with the facts recorded about it later.
type Record struct {
	Assignment

	Released   ReleaseReason
	ReleasedAt time.Time

	// SupersededBy is the Seq of the next attempt of the same task, or zero.
	SupersededBy uint64
}

// Live reports whether the assignment still holds load on its agent.
func (r Record) Live() bool {
	return r.Released == ""
}

// Superseded reports whether a newer attempt replaced this one.
func (r Record) Superseded() bool {
	return r.SupersededBy != 0
}

// Log is the append-only assignment log. Safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	seq     uint64
	records []*Record
	byTask  map[string][]*Record
}

// NewLog creates an empty assignment log.
func NewLog() *Log {
	return &Log{byTask: make(map[string][]*Record)}
}

// Append adds an assignment and returns it with its sequence number.
// AssignedAt defaults to now. The task's previous record, if any, is marked
// superseded by the new one.
func (l *Log) Append(a Assignment) Assignment {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	a.Seq = l.seq
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now()
	}
	r := &Record{Assignment: a}
	prev := l.byTask[a.TaskID]
	if n := len(prev); n > 0 && prev[n-1].SupersededBy == 0 {
		prev[n-1].SupersededBy = a.Seq
	}
	l.records = append(l.records, r)
	l.byTask[a.TaskID] = append(prev, r)
	return a
}

// Release records that the live assignment of a task is no longer live.
// Returns the released assignment and false if the task had none.
func (l *Log) Release(taskID string, reason ReleaseReason) (Assignment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.byTask[taskID]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Live() {
			recs[i].Released = reason
			recs[i].ReleasedAt = time.Now()
			return recs[i].Assignment, true
		}
	}
	return Assignment{}, false
}

// Active returns the live assignment of a task.
func (l *Log) Active(taskID string) (Assignment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recs := l.byTask[taskID]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Live() {
			return recs[i].Assignment, true
		}
	}
	return Assignment{}, false
}

// ForTask returns all records for a task in append order.
func (l *Log) ForTask(taskID string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recs := l.byTask[taskID]
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = *r
	}
	return out
}

// Records returns every record in append order.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, len(l.records))
	for i, r := range l.records {
		out[i] = *r
	}
	return out
}

// LiveForAgent returns the task IDs with a live assignment on the agent.
func (l *Log) LiveForAgent(agentID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	for _, r := range l.records {
		if r.AgentID == agentID && r.Live() {
			ids = append(ids, r.TaskID)
		}
	}
	return ids
}

// LoadByAgent counts live assignments per agent.
func (l *Log) LoadByAgent() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	loads := make(map[string]int)
	for _, r := range l.records {
		if r.Live() {
			loads[r.AgentID]++
		}
	}
	return loads
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Forget drops the records of tasks that have aged out of retention.
// Tasks with a live assignment are kept.
func (l *Log) Forget(taskIDs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	drop := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		live := false
		for _, r := range l.byTask[id] {
			if r.Live() {
				live = true
				break
			}
		}
		if !live {
			drop[id] = true
			delete(l.byTask, id)
		}
	}
	if len(drop) == 0 {
		return
	}

	kept := l.records[:0]
	for _, r := range l.records {
		if !drop[r.TaskID] {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(l.records); i++ {
		l.records[i] = nil
	}
	l.records = kept
}
