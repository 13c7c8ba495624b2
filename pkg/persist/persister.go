// Package persist stores the two durable blobs each node owns: the
// raft state (term, vote, log, snapshot markers) and the state-machine
// snapshot. Writes land in a pending buffer and reach disk when the
// buffer grows past BatchBytes, when BatchInterval elapses, or when a
// caller demands a synchronous flush. Raft state is compressed with the
// fast codec, snapshots with the high-ratio one; reads fall back to
// legacy uncompressed files.
package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quartzkv/quartz/pkg/compress"
)

const (
	// BatchBytes is the pending-buffer size that forces a flush.
	BatchBytes = 4 * 1024
	// BatchInterval is the longest a pending write may wait in memory.
	BatchInterval = 100 * time.Millisecond
)

// Persister owns the durable files of one node.
type Persister struct {
	mu sync.Mutex

	raftStatePath string
	snapshotPath  string

	// Last written (uncompressed) contents, kept for size queries and
	// reads that arrive between a buffered save and its flush.
	raftState []byte
	snapshot  []byte

	pendingRaftState []byte
	pendingSnapshot  []byte
	lastFlush        time.Time

	compressionEnabled bool

	stopC  chan struct{}
	doneC  chan struct{}
	closed bool
}

// New opens (or creates) the persistent files for node me under dir.
func New(dir string, me int) (*Persister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create persist dir: %w", err)
	}

	p := &Persister{
		raftStatePath:      filepath.Join(dir, fmt.Sprintf("raftstatePersist%d", me)),
		snapshotPath:       filepath.Join(dir, fmt.Sprintf("snapshotPersist%d", me)),
		lastFlush:          time.Now(),
		compressionEnabled: true,
		stopC:              make(chan struct{}),
		doneC:              make(chan struct{}),
	}

	var err error
	if p.raftState, err = p.readBlob(p.raftStatePath); err != nil {
		return nil, err
	}
	if p.snapshot, err = p.readBlob(p.snapshotPath); err != nil {
		return nil, err
	}

	go p.flushLoop()
	return p, nil
}

// EnableCompression toggles compression for subsequent writes. Reads
// always auto-detect.
func (p *Persister) EnableCompression(enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.compressionEnabled = enable
}

// SaveRaftState buffers a new raft-state blob. Callers that are about
// to acknowledge an RPC must follow with Flush.
func (p *Persister) SaveRaftState(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.raftState = append([]byte(nil), data...)
	p.pendingRaftState = p.raftState
	return p.maybeFlushLocked(false)
}

// SaveSnapshot durably records a new snapshot blob. Snapshot writes
// are always synchronous: the log prefix a snapshot replaces may be
// dropped the moment this returns, so the blob must already be on
// disk.
func (p *Persister) SaveSnapshot(snapshot []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snapshot = append([]byte(nil), snapshot...)
	p.pendingSnapshot = p.snapshot
	return p.flushLocked()
}

// Save atomically records both blobs. The write is synchronous: both
// files are durable when Save returns.
func (p *Persister) Save(raftState, snapshot []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.raftState = append([]byte(nil), raftState...)
	p.snapshot = append([]byte(nil), snapshot...)
	p.pendingRaftState = p.raftState
	p.pendingSnapshot = p.snapshot
	return p.flushLocked()
}

// ReadRaftState returns the current raft-state blob (empty if none was
// ever written).
func (p *Persister) ReadRaftState() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.raftState...)
}

// ReadSnapshot returns the current snapshot blob (empty if none).
func (p *Persister) ReadSnapshot() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.snapshot...)
}

// RaftStateSize reports the uncompressed raft-state size; the snapshot
// trigger of the consensus layer compares against this.
func (p *Persister) RaftStateSize() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.raftState))
}

// Flush forces every pending write to disk, fsync included.
func (p *Persister) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

// Close flushes and stops the background flusher.
func (p *Persister) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	err := p.flushLocked()
	p.mu.Unlock()

	close(p.stopC)
	<-p.doneC
	return err
}

func (p *Persister) flushLoop() {
	defer close(p.doneC)
	ticker := time.NewTicker(BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopC:
			return
		case <-ticker.C:
			p.mu.Lock()
			p.maybeFlushLocked(true)
			p.mu.Unlock()
		}
	}
}

func (p *Persister) maybeFlushLocked(intervalElapsed bool) error {
	pending := len(p.pendingRaftState) + len(p.pendingSnapshot)
	if pending == 0 {
		return nil
	}
	if pending >= BatchBytes || (intervalElapsed && time.Since(p.lastFlush) >= BatchInterval) {
		return p.flushLocked()
	}
	return nil
}

func (p *Persister) flushLocked() error {
	if p.pendingRaftState != nil {
		if err := p.writeBlob(p.raftStatePath, p.pendingRaftState, compress.TypeS2); err != nil {
			return err
		}
		p.pendingRaftState = nil
	}
	if p.pendingSnapshot != nil {
		if err := p.writeBlob(p.snapshotPath, p.pendingSnapshot, compress.TypeZstd); err != nil {
			return err
		}
		p.pendingSnapshot = nil
	}
	p.lastFlush = time.Now()
	return nil
}

// writeBlob compresses and writes data, replacing the target file via
// rename so a crash never leaves a torn blob behind.
func (p *Persister) writeBlob(path string, data []byte, typ compress.Type) error {
	if !p.compressionEnabled {
		typ = compress.TypeNone
	}
	blob, err := compress.Compress(data, typ)
	if err != nil {
		return fmt.Errorf("compress %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func (p *Persister) readBlob(path string) ([]byte, error) {
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(blob) == 0 {
		return nil, nil
	}
	data, _, err := compress.Decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return append([]byte(nil), data...), nil
}
