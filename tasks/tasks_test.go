package tasks

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// --- Task Tests ---

func TestStatus(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		active   bool
	}{
		{StatusPending, false, false},
		{StatusAssigned, false, true},
		{StatusRunning, false, true},
		{StatusSucceeded, true, false},
		{StatusFailed, true, false},
		{StatusCancelled, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.IsActive(); got != tt.active {
				t.Errorf("IsActive() = %v, want %v", got, tt.active)
			}
		})
	}
}

func TestNew(t *testing.T) {
	caps := []string{"sql"}
	spec := Spec{
		Payload:              "SELECT 1",
		Priority:             5,
		RequiredCapabilities: caps,
		Metadata:             map[string]string{"db": "main"},
	}

	a := New(spec)
	b := New(spec)

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("IDs should be unique and non-empty: %q %q", a.ID, b.ID)
	}
	if a.Status != StatusPending || a.Attempts != 0 {
		t.Errorf("new task = %+v, want pending with no attempts", a)
	}
	if a.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	caps[0] = "mutated"
	spec.Metadata["db"] = "mutated"
	if a.RequiredCapabilities[0] != "sql" || a.Metadata["db"] != "main" {
		t.Error("task should not alias the spec's slices or maps")
	}
}

func TestTask_Clone(t *testing.T) {
	orig := New(Spec{RequiredCapabilities: []string{"llm"}, Metadata: map[string]string{"k": "v"}})
	clone := orig.Clone()

	clone.Status = StatusRunning
	clone.RequiredCapabilities[0] = "x"
	clone.Metadata["k"] = "x"

	if orig.Status != StatusPending || orig.RequiredCapabilities[0] != "llm" || orig.Metadata["k"] != "v" {
		t.Errorf("mutating clone changed original: %+v", orig)
	}
}

func TestTask_Duration(t *testing.T) {
	task := New(Spec{})
	if task.Duration() != 0 {
		t.Error("unstarted task should have zero duration")
	}
	task.StartedAt = time.Unix(100, 0)
	task.FinishedAt = time.Unix(103, 0)
	if task.Duration() != 3*time.Second {
		t.Errorf("Duration() = %v, want 3s", task.Duration())
	}
}

// --- Log Tests ---

func TestLog_RetryChain(t *testing.T) {
	log := NewLog()

	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			if _, ok := log.Release("t1", ReleaseFailed); !ok {
				t.Fatalf("attempt %d: no live assignment to release", attempt)
			}
		}
		log.Append(Assignment{TaskID: "t1", AgentID: fmt.Sprintf("a%d", attempt), Attempt: attempt})
	}
	log.Release("t1", ReleaseFinished)

	recs := log.ForTask("t1")
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, r := range recs {
		if r.Attempt != i+1 {
			t.Errorf("record %d attempt = %d", i, r.Attempt)
		}
		wantSuperseded := i < 2
		if r.Superseded() != wantSuperseded {
			t.Errorf("record %d superseded = %v, want %v", i, r.Superseded(), wantSuperseded)
		}
		if r.Live() {
			t.Errorf("record %d still live", i)
		}
	}
	if recs[0].Seq >= recs[1].Seq || recs[1].Seq >= recs[2].Seq {
		t.Error("sequence numbers should increase in append order")
	}
	if recs[0].SupersededBy != recs[1].Seq || recs[1].SupersededBy != recs[2].Seq {
		t.Errorf("supersession chain = %d,%d; want %d,%d",
			recs[0].SupersededBy, recs[1].SupersededBy, recs[1].Seq, recs[2].Seq)
	}
	if recs[0].Released != ReleaseFailed || recs[2].Released != ReleaseFinished {
		t.Errorf("release reasons = %s, %s", recs[0].Released, recs[2].Released)
	}
}

func TestLog_ReassignSupersedesLiveRecord(t *testing.T) {
	log := NewLog()
	log.Append(Assignment{TaskID: "t1", AgentID: "a1", Attempt: 1})
	log.Release("t1", ReleaseReassigned)
	log.Append(Assignment{TaskID: "t1", AgentID: "a2", Attempt: 2})

	recs := log.ForTask("t1")
	if !recs[0].Superseded() || recs[0].Released != ReleaseReassigned {
		t.Errorf("first record = %+v", recs[0])
	}
	if a, ok := log.Active("t1"); !ok || a.AgentID != "a2" {
		t.Errorf("Active(t1) = %+v, %v", a, ok)
	}
}

func TestLog_ActiveAndLoad(t *testing.T) {
	log := NewLog()
	log.Append(Assignment{TaskID: "t1", AgentID: "a1", Attempt: 1})
	log.Append(Assignment{TaskID: "t2", AgentID: "a1", Attempt: 1})
	log.Append(Assignment{TaskID: "t3", AgentID: "a2", Attempt: 1})

	if a, ok := log.Active("t2"); !ok || a.AgentID != "a1" {
		t.Errorf("Active(t2) = %+v, %v", a, ok)
	}

	log.Release("t1", ReleaseFinished)

	loads := log.LoadByAgent()
	if loads["a1"] != 1 || loads["a2"] != 1 {
		t.Errorf("loads = %v, want a1:1 a2:1", loads)
	}
	if ids := log.LiveForAgent("a1"); len(ids) != 1 || ids[0] != "t2" {
		t.Errorf("LiveForAgent(a1) = %v", ids)
	}
	if _, ok := log.Active("t1"); ok {
		t.Error("released task should have no active assignment")
	}
	if _, ok := log.Release("t1", ReleaseFinished); ok {
		t.Error("double release should report false")
	}
}

func TestLog_Forget(t *testing.T) {
	log := NewLog()
	log.Append(Assignment{TaskID: "done", AgentID: "a1", Attempt: 1})
	log.Append(Assignment{TaskID: "live", AgentID: "a1", Attempt: 1})
	log.Release("done", ReleaseFinished)

	log.Forget("done", "live")

	if log.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", log.Len())
	}
	if len(log.ForTask("done")) != 0 {
		t.Error("forgotten task should have no records")
	}
	if _, ok := log.Active("live"); !ok {
		t.Error("live task must survive Forget")
	}
}

func TestLog_ConcurrentAppend(t *testing.T) {
	log := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log.Append(Assignment{TaskID: fmt.Sprintf("t%d", i), AgentID: "a1", Attempt: 1})
			log.Records()
		}(i)
	}
	wg.Wait()

	recs := log.Records()
	if len(recs) != 100 {
		t.Fatalf("got %d records, want 100", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Seq != recs[i-1].Seq+1 {
			t.Fatalf("records out of order at %d: %d after %d", i, recs[i].Seq, recs[i-1].Seq)
		}
	}
}
