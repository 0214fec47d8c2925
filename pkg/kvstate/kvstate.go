// Package kvstate is a small replicated key/value state machine. It is
// the reference host for the consensus engine: commands arrive through
// the committed log, reads are served locally and may be stale on
// followers.
package kvstate

import (
    "encoding/json"
    "fmt"
    "sort"
    "sync"

    "github.com/amirimatin/go-raft/pkg/raft"
)

// Command is the JSON wire form of a state machine operation.
type Command struct {
    Op    string `json:"op"` // "set" or "delete"
    Key   string `json:"key"`
    Value string `json:"value,omitempty"`
}

// Result is returned from Apply to the proposer.
type Result struct {
    OK    bool   `json:"ok"`
    Error string `json:"error,omitempty"`
}

// Encode marshals a command for Propose.
func Encode(cmd Command) []byte {
    b, _ := json.Marshal(cmd)
    return b
}

// Store is an in-memory KV map driven by committed log entries.
// Set and delete are idempotent, so at-least-once replay after a restart
// converges to the same state.
type Store struct {
    mu   sync.RWMutex
    data map[string]string
}

func New() *Store { return &Store{data: make(map[string]string)} }

// Apply executes one committed command. It implements raft.StateMachine.
func (s *Store) Apply(entry *raft.LogEntry) interface{} {
    var cmd Command
    if err := json.Unmarshal(entry.Data, &cmd); err != nil {
        return Result{Error: fmt.Sprintf("kvstate: decode command: %v", err)}
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    switch cmd.Op {
    case "set":
        if cmd.Key == "" {
            return Result{Error: "kvstate: empty key"}
        }
        s.data[cmd.Key] = cmd.Value
        return Result{OK: true}
    case "delete":
        delete(s.data, cmd.Key)
        return Result{OK: true}
    default:
        return Result{Error: fmt.Sprintf("kvstate: unknown op %q", cmd.Op)}
    }
}

// Get reads a key from local state. Follower reads may lag the leader.
func (s *Store) Get(key string) (string, bool) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    v, ok := s.data[key]
    return v, ok
}

// Len returns the number of keys.
func (s *Store) Len() int {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return len(s.data)
}

// Snapshot encodes state as stable JSON for ease of debugging/migration.
func (s *Store) Snapshot() ([]byte, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    keys := make([]string, 0, len(s.data))
    for k := range s.data { keys = append(keys, k) }
    sort.Strings(keys)
    type pair struct {
        Key   string `json:"key"`
        Value string `json:"value"`
    }
    arr := make([]pair, 0, len(keys))
    for _, k := range keys { arr = append(arr, pair{Key: k, Value: s.data[k]}) }
    return json.Marshal(struct {
        Version int    `json:"version"`
        Pairs   []pair `json:"pairs"`
    }{Version: 1, Pairs: arr})
}

// Restore replaces state from a snapshot blob.
func (s *Store) Restore(buf []byte) error {
    var snapshot struct {
        Version int `json:"version"`
        Pairs   []struct {
            Key   string `json:"key"`
            Value string `json:"value"`
        } `json:"pairs"`
    }
    if err := json.Unmarshal(buf, &snapshot); err != nil {
        return err
    }
    // For now we only support Version 1.
    s.mu.Lock()
    defer s.mu.Unlock()
    s.data = make(map[string]string, len(snapshot.Pairs))
    for _, p := range snapshot.Pairs {
        if p.Key == "" { continue }
        s.data[p.Key] = p.Value
    }
    return nil
}

// Ensure interface satisfaction at compile-time.
var _ raft.StateMachine = (*Store)(nil)
