package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quartzkv/quartz/pkg/compress"
	"github.com/quartzkv/quartz/pkg/kv"
	"github.com/quartzkv/quartz/pkg/raft"
	"github.com/quartzkv/quartz/pkg/transport"
)

// NodeStatus is the /status payload.
type NodeStatus struct {
	NodeID      string `json:"nodeId"`
	Role        string `json:"role"`
	Term        uint64 `json:"term"`
	IsLeader    bool   `json:"isLeader"`
	LeaderID    string `json:"leaderId"`
	CommitIndex uint64 `json:"commitIndex"`
	Keys        int    `json:"keys"`
}

// TransportStats is the /stats payload.
type TransportStats struct {
	Pool struct {
		Created   uint64 `json:"created"`
		Reused    uint64 `json:"reused"`
		Discarded uint64 `json:"discarded"`
	} `json:"pool"`
	Compression struct {
		OriginalBytes   uint64  `json:"originalBytes"`
		CompressedBytes uint64  `json:"compressedBytes"`
		Count           uint64  `json:"count"`
		Ratio           float64 `json:"ratio"`
		SavedBytes      uint64  `json:"savedBytes"`
	} `json:"compression"`
}

// NewHTTPHandler serves the status/debug surface for one node. The
// /kv/{key} read is a local, possibly stale peek into the store; the
// linearizable path is the RPC surface.
func NewHTTPHandler(peer *raft.Peer, store *kv.Store, pool *transport.Pool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		term, isLeader := peer.State()
		writeJSON(w, NodeStatus{
			NodeID:      peer.ID(),
			Role:        peer.Role().String(),
			Term:        term,
			IsLeader:    isLeader,
			LeaderID:    peer.LeaderID(),
			CommitIndex: peer.CommitIndex(),
			Keys:        store.Len(),
		})
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		var stats TransportStats
		if pool != nil {
			ps := pool.Stats()
			stats.Pool.Created = ps.Created
			stats.Pool.Reused = ps.Reused
			stats.Pool.Discarded = ps.Discarded
		}
		cs := compress.GlobalStats()
		stats.Compression.OriginalBytes = cs.OriginalBytes
		stats.Compression.CompressedBytes = cs.CompressedBytes
		stats.Compression.Count = cs.Count
		stats.Compression.Ratio = cs.Ratio()
		stats.Compression.SavedBytes = cs.SavedBytes()
		writeJSON(w, stats)
	})

	r.Get("/kv/{key}", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")
		value, ok := store.Get(key)
		if !ok {
			http.Error(w, "no such key", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{"key": key, "value": value})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
