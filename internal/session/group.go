package session

import "sync"

// JobCountPerGroupMax bounds how many jobs a single group may hold at once.
// Mirrors wire.JobCountPerGroupMax without importing the wire package —
// session has no notion of op_id/op_param, only backend semantics.
const JobCountPerGroupMax = 1024

// Group is a session group: the top-level client context identified by an
// SGID, aggregating a bounded set of jobs keyed by job descriptor.
//
// The protocol core only ever reaches a Group through Manager's
// FindGroup/CreateGroup; Group itself does not know about net.Conn or
// LinkIO, matching §6.2's "the core only reads via find_session_group_by_id"
// contract.
type Group struct {
	mu sync.RWMutex

	SGID uint32

	jobs        map[uint16]*Job
	nextJobDesc uint16
}

func newGroup(sgid uint32) *Group {
	return &Group{
		SGID: sgid,
		jobs: make(map[uint16]*Job),
	}
}

// JobCount reports the number of live jobs, used by Manager.ServerStatus.
func (g *Group) JobCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.jobs)
}

func (g *Group) getJob(desc uint16) (*Job, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	j, ok := g.jobs[desc]
	return j, ok
}

// Jobs returns a snapshot of every job in the group, used by the
// dispatcher and by the admin API's session listing.
func (g *Group) Jobs() []Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Snapshot, 0, len(g.jobs))
	for _, j := range g.jobs {
		out = append(out, j.snapshot())
	}
	return out
}
