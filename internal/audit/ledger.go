// Package audit implements the append-only, hash-chained audit sink: every
// mutating operation, and every read that exposes sensitive fields, emits
// exactly one entry here.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrChainBroken is returned by Verify when recomputed hashes diverge from
// the stored chain, indicating tampering.
var ErrChainBroken = errors.New("audit: hash chain broken")

const genesisPrevHash = "GENESIS"

// Result is the outcome recorded for an audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied"
)

// Entry is one append-only audit record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"` // RFC3339Nano
	ActorID   string         `json:"actorId"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Result    Result         `json:"result"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	PrevHash  string         `json:"prevHash"`
	Hash      string         `json:"hash"`
}

// Ledger is an in-memory, hash-chained, append-only audit sink. Safe for
// concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
	head    string
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{head: genesisPrevHash}
}

// Append records a new entry, stamping it with the current chain head, and
// returns the stored (hash-stamped) copy.
func (l *Ledger) Append(id, actorID, action, resource string, result Result, metadata map[string]any) Entry {
	e := Entry{
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   actorID,
		Action:    action,
		Resource:  resource,
		Result:    result,
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e.PrevHash = l.head
	body := canonicalEntryBytes(e)
	e.Hash = hashStep(e.PrevHash, body)
	l.head = e.Hash
	l.entries = append(l.entries, e)
	return e
}

// List returns all entries in append order.
func (l *Ledger) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Head returns the current chain head hash.
func (l *Ledger) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Verify recomputes the hash chain from scratch and compares it against the
// stored entries, returning ErrChainBroken at the first divergence.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	prev := genesisPrevHash
	for i, e := range entries {
		stamped := e
		stamped.PrevHash = ""
		stamped.Hash = ""
		if e.PrevHash != prev {
			return ErrChainBroken
		}
		body := canonicalEntryBytes(Entry{
			ID: e.ID, Timestamp: e.Timestamp, ActorID: e.ActorID,
			Action: e.Action, Resource: e.Resource, Result: e.Result, Metadata: e.Metadata,
		})
		want := hashStep(prev, body)
		if want != e.Hash {
			return ErrChainBroken
		}
		prev = e.Hash
		_ = i
	}
	return nil
}

func hashStep(prev string, body []byte) string {
	h := sha256.New()
	_, _ = h.Write([]byte(prev))
	_, _ = h.Write([]byte("\n"))
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type canonicalKV struct {
	K string `json:"k"`
	V any    `json:"v"`
}

type canonicalEntry struct {
	ID        string        `json:"id"`
	Timestamp string        `json:"timestamp"`
	ActorID   string        `json:"actorId"`
	Action    string        `json:"action"`
	Resource  string        `json:"resource,omitempty"`
	Result    Result        `json:"result"`
	Metadata  []canonicalKV `json:"metadata,omitempty"`
}

// canonicalEntryBytes returns deterministic JSON bytes for hashing: metadata
// keys are sorted so that the same logical entry always hashes the same way
// regardless of map iteration order.
func canonicalEntryBytes(e Entry) []byte {
	ce := canonicalEntry{
		ID:        strings.TrimSpace(e.ID),
		Timestamp: strings.TrimSpace(e.Timestamp),
		ActorID:   strings.TrimSpace(e.ActorID),
		Action:    strings.TrimSpace(e.Action),
		Resource:  strings.TrimSpace(e.Resource),
		Result:    e.Result,
		Metadata:  canonicalAnyMap(e.Metadata),
	}
	b, err := json.Marshal(ce)
	if err != nil {
		return nil
	}
	return b
}

func canonicalAnyMap(m map[string]any) []canonicalKV {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]canonicalKV, 0, len(keys))
	for _, k := range keys {
		out = append(out, canonicalKV{K: k, V: m[k]})
	}
	return out
}
