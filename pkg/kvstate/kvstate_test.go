package kvstate

import (
    "testing"

    "github.com/amirimatin/go-raft/pkg/raft"
)

func applySet(t *testing.T, s *Store, idx uint64, key, value string) {
    t.Helper()
    res := s.Apply(&raft.LogEntry{Index: idx, Term: 1, Kind: raft.EntryCommand, Data: Encode(Command{Op: "set", Key: key, Value: value})})
    if r, ok := res.(Result); !ok || !r.OK {
        t.Fatalf("set %s=%s: %+v", key, value, res)
    }
}

func TestApplySetAndDelete(t *testing.T) {
    s := New()
    applySet(t, s, 1, "a", "1")
    applySet(t, s, 2, "a", "2")
    if v, ok := s.Get("a"); !ok || v != "2" { t.Fatalf("a = %q, %v", v, ok) }

    res := s.Apply(&raft.LogEntry{Index: 3, Term: 1, Data: Encode(Command{Op: "delete", Key: "a"})})
    if r := res.(Result); !r.OK { t.Fatalf("delete: %+v", r) }
    if _, ok := s.Get("a"); ok { t.Fatal("key survived delete") }

    // Replayed deletes stay successful: apply is at-least-once.
    res = s.Apply(&raft.LogEntry{Index: 3, Term: 1, Data: Encode(Command{Op: "delete", Key: "a"})})
    if r := res.(Result); !r.OK { t.Fatalf("replayed delete: %+v", r) }
}

func TestApplyRejectsBadCommands(t *testing.T) {
    s := New()
    res := s.Apply(&raft.LogEntry{Index: 1, Term: 1, Data: []byte("{")})
    if r := res.(Result); r.OK || r.Error == "" { t.Fatalf("garbage accepted: %+v", r) }

    res = s.Apply(&raft.LogEntry{Index: 2, Term: 1, Data: Encode(Command{Op: "increment", Key: "a"})})
    if r := res.(Result); r.OK { t.Fatalf("unknown op accepted: %+v", r) }

    res = s.Apply(&raft.LogEntry{Index: 3, Term: 1, Data: Encode(Command{Op: "set"})})
    if r := res.(Result); r.OK { t.Fatalf("empty key accepted: %+v", r) }
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
    s := New()
    applySet(t, s, 1, "b", "2")
    applySet(t, s, 2, "a", "1")
    applySet(t, s, 3, "c", "3")

    blob, err := s.Snapshot()
    if err != nil { t.Fatal(err) }

    other := New()
    applySet(t, other, 1, "stale", "x")
    if err := other.Restore(blob); err != nil { t.Fatal(err) }

    if _, ok := other.Get("stale"); ok { t.Fatal("restore kept pre-existing state") }
    if other.Len() != 3 { t.Fatalf("restored %d keys, want 3", other.Len()) }
    for k, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
        if v, ok := other.Get(k); !ok || v != want {
            t.Fatalf("%s = %q, want %q", k, v, want)
        }
    }
}

func TestSnapshotIsDeterministic(t *testing.T) {
    a, b := New(), New()
    applySet(t, a, 1, "x", "1")
    applySet(t, a, 2, "y", "2")
    applySet(t, b, 1, "y", "2")
    applySet(t, b, 2, "x", "1")

    ba, err := a.Snapshot()
    if err != nil { t.Fatal(err) }
    bb, err := b.Snapshot()
    if err != nil { t.Fatal(err) }
    if string(ba) != string(bb) {
        t.Fatalf("snapshots differ for equal state:\n%s\n%s", ba, bb)
    }
}

func TestRestoreRejectsGarbage(t *testing.T) {
    s := New()
    if err := s.Restore([]byte("not json")); err == nil {
        t.Fatal("garbage snapshot accepted")
    }
}
