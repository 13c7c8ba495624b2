package raft

import "time"

// applier is the single worker that feeds committed entries to the
// state machine in index order. It waits on the commit condition
// (wake-ups may be spurious), applies with the peer mutex released,
// and signals any waiter registered for the applied index. Snapshot
// creation is checked between batches so it never delays an apply.
func (p *Peer) applier() {
	for {
		p.mu.Lock()
		for p.lastApplied >= p.commitIndex && !p.killed() {
			p.applyCond.Wait()
		}
		if p.killed() {
			p.mu.Unlock()
			return
		}

		if p.lastApplied < p.log[0].Index {
			// A snapshot installation moved the baseline forward.
			p.lastApplied = p.log[0].Index
			p.mu.Unlock()
			continue
		}
		entries := make([]LogEntry, 0, p.commitIndex-p.lastApplied)
		base := p.log[0].Index
		for i := p.lastApplied + 1; i <= p.commitIndex; i++ {
			entries = append(entries, p.log[i-base])
		}
		p.mu.Unlock()

		for _, e := range entries {
			res := ApplyResult{Index: e.Index, Term: e.Term}
			if len(e.Command) > 0 {
				res.Response, res.Err = p.sm.Apply(e.Command, e.Index)
				if res.Err != nil {
					p.logger.Printf("[%s] apply index %d: %v", p.id, e.Index, res.Err)
				}
			}

			p.mu.Lock()
			if e.Index <= p.lastApplied {
				// A concurrent snapshot installation covered this
				// entry; the state machine already reflects it.
				p.mu.Unlock()
				p.notifyWaiter(res)
				continue
			}
			p.lastApplied = e.Index
			p.mu.Unlock()

			p.notifyWaiter(res)
		}

		p.maybeSnapshot()
	}
}

// maybeSnapshot compacts the log once the persisted raft state has
// outgrown the configured threshold. It runs on the applier goroutine,
// so the state machine is exactly at lastApplied when the snapshot is
// taken.
func (p *Peer) maybeSnapshot() {
	if p.cfg.MaxRaftStateSize <= 0 {
		return
	}
	if p.persister.RaftStateSize() < p.cfg.MaxRaftStateSize {
		return
	}

	p.mu.Lock()
	snapIndex := p.lastApplied
	if snapIndex <= p.log[0].Index {
		p.mu.Unlock()
		return
	}
	snapTerm, ok := p.termAtLocked(snapIndex)
	p.mu.Unlock()
	if !ok {
		return
	}

	start := time.Now()
	data, err := p.sm.TakeSnapshot()
	if err != nil {
		p.logger.Printf("[%s] take snapshot: %v", p.id, err)
		return
	}

	// The blob must be durable before the log prefix it replaces is
	// dropped. A crash between this write and the state write below
	// leaves the untruncated raft state next to the newer snapshot;
	// recovery installs the snapshot and replays the overlapping
	// entries into the dedup table as no-ops.
	if err := p.persister.SaveSnapshot(data); err != nil {
		p.logger.Fatalf("[%s] persist snapshot: %v", p.id, err)
	}

	p.mu.Lock()
	if snapIndex <= p.log[0].Index {
		p.mu.Unlock()
		return
	}
	suffix := p.entriesFromLocked(snapIndex + 1)
	p.log = append([]LogEntry{{Term: snapTerm, Index: snapIndex}}, suffix...)
	state, version := p.encodeStateLocked()
	p.mu.Unlock()

	p.persistSync(state, version)
	p.logger.Printf("[%s] snapshot through index %d (%d bytes, %v)",
		p.id, snapIndex, len(data), time.Since(start))
}
