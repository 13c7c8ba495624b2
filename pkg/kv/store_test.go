package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func apply(t *testing.T, s *Store, op Op, index uint64) Reply {
	t.Helper()
	cmd, err := EncodeOp(op)
	require.NoError(t, err)
	reply, err := s.Apply(cmd, index)
	require.NoError(t, err)
	return reply
}

func TestPutGet(t *testing.T) {
	s := NewStore(nil)

	apply(t, s, Op{Type: OpPut, Key: "a", Value: "1", ClientID: "c1", RequestID: 1}, 1)
	reply := apply(t, s, Op{Type: OpGet, Key: "a", ClientID: "c1", RequestID: 2}, 2)
	require.True(t, reply.Found)
	require.Equal(t, "1", reply.Value)
}

func TestAppendConcatenates(t *testing.T) {
	s := NewStore(nil)

	apply(t, s, Op{Type: OpAppend, Key: "k", Value: "a", ClientID: "c1", RequestID: 1}, 1)
	apply(t, s, Op{Type: OpAppend, Key: "k", Value: "b", ClientID: "c1", RequestID: 2}, 2)
	apply(t, s, Op{Type: OpAppend, Key: "k", Value: "c", ClientID: "c1", RequestID: 3}, 3)

	value, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "abc", value)
}

func TestGetMissingKey(t *testing.T) {
	s := NewStore(nil)
	reply := apply(t, s, Op{Type: OpGet, Key: "nope", ClientID: "c1", RequestID: 1}, 1)
	require.False(t, reply.Found)
}

func TestDuplicateRequestIsNoOp(t *testing.T) {
	s := NewStore(nil)

	cmd, err := EncodeOp(Op{Type: OpAppend, Key: "x", Value: "once", ClientID: "c1", RequestID: 5})
	require.NoError(t, err)

	first, err := s.Apply(cmd, 1)
	require.NoError(t, err)

	// A retried command must not mutate the store again and must
	// return the original reply.
	second, err := s.Apply(cmd, 2)
	require.NoError(t, err)
	require.Equal(t, first, second)

	value, _ := s.Get("x")
	require.Equal(t, "once", value)

	// Stale request ids are dropped too.
	stale, err := EncodeOp(Op{Type: OpPut, Key: "x", Value: "stale", ClientID: "c1", RequestID: 3})
	require.NoError(t, err)
	_, err = s.Apply(stale, 3)
	require.NoError(t, err)
	value, _ = s.Get("x")
	require.Equal(t, "once", value)

	// A fresh request id applies normally.
	apply(t, s, Op{Type: OpPut, Key: "x", Value: "2", ClientID: "c1", RequestID: 6}, 4)
	value, _ = s.Get("x")
	require.Equal(t, "2", value)
}

func TestDuplicateGetReturnsCachedReply(t *testing.T) {
	s := NewStore(nil)
	apply(t, s, Op{Type: OpPut, Key: "k", Value: "v1", ClientID: "w", RequestID: 1}, 1)

	first := apply(t, s, Op{Type: OpGet, Key: "k", ClientID: "r", RequestID: 1}, 2)
	require.Equal(t, "v1", first.Value)

	// Another writer changes the key; the retried Get still answers
	// from the cached reply.
	apply(t, s, Op{Type: OpPut, Key: "k", Value: "v2", ClientID: "w", RequestID: 2}, 3)
	retried := apply(t, s, Op{Type: OpGet, Key: "k", ClientID: "r", RequestID: 1}, 4)
	require.Equal(t, "v1", retried.Value)
}

func TestDeleteRemovesKey(t *testing.T) {
	s := NewStore(nil)
	apply(t, s, Op{Type: OpPut, Key: "d", Value: "v", ClientID: "c", RequestID: 1}, 1)
	apply(t, s, Op{Type: OpDelete, Key: "d", ClientID: "c", RequestID: 2}, 2)
	_, ok := s.Get("d")
	require.False(t, ok)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStore(nil)
	apply(t, s, Op{Type: OpAppend, Key: "k", Value: "abc", ClientID: "c1", RequestID: 1}, 1)
	apply(t, s, Op{Type: OpPut, Key: "other", Value: "zzz", ClientID: "c2", RequestID: 9}, 2)

	snap, err := s.TakeSnapshot()
	require.NoError(t, err)

	restored := NewStore(nil)
	require.NoError(t, restored.InstallSnapshot(snap))

	value, ok := restored.Get("k")
	require.True(t, ok)
	require.Equal(t, "abc", value)
	value, ok = restored.Get("other")
	require.True(t, ok)
	require.Equal(t, "zzz", value)

	// The dedup table rides along: a replayed old command is a no-op.
	require.True(t, restored.IsDuplicate("c2", 9))
	stale, err := EncodeOp(Op{Type: OpPut, Key: "other", Value: "old", ClientID: "c2", RequestID: 9})
	require.NoError(t, err)
	_, err = restored.Apply(stale, 3)
	require.NoError(t, err)
	value, _ = restored.Get("other")
	require.Equal(t, "zzz", value)
}

func TestMemoryEngineKeysSorted(t *testing.T) {
	e := NewMemoryEngine()
	e.Put("b", "2")
	e.Put("a", "1")
	e.Put("c", "3")
	require.Equal(t, []string{"a", "b", "c"}, e.Keys())
}
