package status

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/pkg/types"
)

// DefaultRetention is how long DQ results are kept, measured from their
// check date.
const DefaultRetention = 30 * 24 * time.Hour

// recentRunIDs is how many run ids per job are remembered to spot replays.
const recentRunIDs = 256

// JobRecord is the most recent run seen for one job.
type JobRecord struct {
	Job           string       `json:"job"`
	Status        types.Status `json:"status"`
	RunID         string       `json:"run_id"`
	ReferenceDate string       `json:"reference_date"`
	Rows          *int64       `json:"rows,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	EventAt       time.Time    `json:"event_at"`
	// Runs and Errors count distinct run ids; a replayed run is not counted
	// again.
	Runs   int `json:"runs"`
	Errors int `json:"errors"`
}

// runSet remembers the most recent run ids of one job.
type runSet struct {
	order []string
	ids   map[string]struct{}
}

// add reports whether id is new, forgetting the oldest id once full.
func (rs *runSet) add(id string) bool {
	if _, ok := rs.ids[id]; ok {
		return false
	}
	if rs.ids == nil {
		rs.ids = make(map[string]struct{})
	}
	if len(rs.order) == recentRunIDs {
		delete(rs.ids, rs.order[0])
		rs.order = rs.order[1:]
	}
	rs.order = append(rs.order, id)
	rs.ids[id] = struct{}{}
	return true
}

// DQRecord is the latest result of one check for one check date.
type DQRecord struct {
	CheckDate string    `json:"check_date"`
	CheckName string    `json:"check_name"`
	Status    string    `json:"status"`
	Details   string    `json:"details,omitempty"`
	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type dqKey struct {
	date  string
	check string
}

// Store is a thread-safe in-memory status store.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*JobRecord
	runs      map[string]*runSet
	dq        map[dqKey]*DQRecord
	retention time.Duration
	now       func() time.Time // injectable for deterministic tests
}

// New creates a Store keeping DQ results for retention.
func New(retention time.Duration) *Store {
	return &Store{
		jobs:      make(map[string]*JobRecord),
		runs:      make(map[string]*runSet),
		dq:        make(map[dqKey]*DQRecord),
		retention: retention,
		now:       time.Now,
	}
}

// Record applies ev. The job record only moves forward in event time, so a
// late event never hides a newer run. Checks carried by ev replace earlier
// results for the same check date and name.
func (s *Store) Record(ev types.JobEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.jobs[ev.JobName]
	if !ok {
		r = &JobRecord{Job: ev.JobName}
		s.jobs[ev.JobName] = r
		s.runs[ev.JobName] = &runSet{}
	}
	if ev.RunID == "" || s.runs[ev.JobName].add(ev.RunID) {
		r.Runs++
		if ev.Status == types.StatusError {
			r.Errors++
		}
	}
	if !ev.Timestamp.Before(r.EventAt) {
		r.Status = ev.Status
		r.RunID = ev.RunID
		r.ReferenceDate = ev.ReferenceDate
		r.Reason = ev.Reason
		r.EventAt = ev.Timestamp
		r.Rows = nil
		if n, ok := ev.Rows(); ok {
			r.Rows = &n
		}
	}

	now := s.now()
	for _, c := range ev.Checks() {
		date := c.CheckDate
		if date == "" {
			date = ev.ReferenceDate
		}
		s.dq[dqKey{date: date, check: c.CheckName}] = &DQRecord{
			CheckDate: date,
			CheckName: c.CheckName,
			Status:    c.Status,
			Details:   c.Details,
			RunID:     ev.RunID,
			UpdatedAt: now,
		}
	}
}

// Job returns a copy of the record for name.
func (s *Store) Job(name string) (JobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.jobs[name]
	if !ok {
		return JobRecord{}, false
	}
	return *r, true
}

// Jobs returns copies of every job record sorted by job name.
func (s *Store) Jobs() []JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobRecord, 0, len(s.jobs))
	for _, r := range s.jobs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// DQ returns the results grouped by check date, each group sorted by check
// name. An empty date returns every date.
func (s *Store) DQ(date string) map[string][]DQRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]DQRecord)
	for k, r := range s.dq {
		if date != "" && k.date != date {
			continue
		}
		out[k.date] = append(out[k.date], *r)
	}
	for _, rs := range out {
		sort.Slice(rs, func(i, j int) bool { return rs[i].CheckName < rs[j].CheckName })
	}
	return out
}

// Evict removes DQ results whose check date is older than now minus the
// retention. Unparseable dates are kept. It returns the number removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.retention)
	removed := 0
	for k := range s.dq {
		d, err := time.Parse(types.DateLayout, k.date)
		if err != nil {
			continue
		}
		if d.Before(cutoff) {
			delete(s.dq, k)
			removed++
		}
	}
	return removed
}

// Run starts the background eviction loop, ticking hourly. Run blocks until
// ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("status: evicted old dq results", "count", n)
			}
		}
	}
}
