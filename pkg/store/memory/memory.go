// Package memory provides in-process implementations of the storage
// interfaces in pkg/store, guarded by a single mutex each. Adequate
// for a single-process workspace or a test, not for multi-process
// durability (use pkg/store/postgres for that).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/sessionctl/pkg/store"
)

// PacketStore is an in-memory store.PacketStore.
type PacketStore struct {
	mu      sync.Mutex
	packets map[string]store.PacketRecord
}

// NewPacketStore constructs an empty PacketStore.
func NewPacketStore() *PacketStore {
	return &PacketStore{packets: make(map[string]store.PacketRecord)}
}

func (s *PacketStore) Insert(_ context.Context, rec store.PacketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets[rec.PacketID] = rec
	return nil
}

func (s *PacketStore) Get(_ context.Context, packetID string) (store.PacketRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.packets[packetID]
	return rec, ok, nil
}

func (s *PacketStore) Delete(_ context.Context, packetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.packets[packetID]
	delete(s.packets, packetID)
	return ok, nil
}

func (s *PacketStore) ListByTicket(_ context.Context, ticketID string) ([]store.PacketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.PacketRecord
	for _, rec := range s.packets {
		if rec.TicketID == ticketID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *PacketStore) ListAll(_ context.Context) ([]store.PacketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.PacketRecord, 0, len(s.packets))
	for _, rec := range s.packets {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *PacketStore) ListExpired(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, rec := range s.packets {
		if now.After(rec.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// OpsLogStore is an in-memory store.OpsLogStore. Sequence numbers are
// assigned under the same lock as the insert, so concurrent Append
// calls are linearized exactly as the interface requires.
type OpsLogStore struct {
	mu      sync.Mutex
	entries []store.OpsLogRecord
	nextSeq int64
}

// NewOpsLogStore constructs an empty OpsLogStore. Sequences start at 1.
func NewOpsLogStore() *OpsLogStore {
	return &OpsLogStore{nextSeq: 1}
}

func (s *OpsLogStore) Append(_ context.Context, rec store.OpsLogRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Sequence = s.nextSeq
	s.nextSeq++
	s.entries = append(s.entries, rec)
	return rec.Sequence, nil
}

func (s *OpsLogStore) Read(_ context.Context, sinceSequence int64, limit int) ([]store.OpsLogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.OpsLogRecord
	for _, e := range s.entries {
		if e.Sequence <= sinceSequence {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *OpsLogStore) Tail(_ context.Context, since time.Time) ([]store.OpsLogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.OpsLogRecord
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Timestamp.Before(since) {
			break
		}
		out = append(out, s.entries[i])
	}
	// restore chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *OpsLogStore) Latest(_ context.Context) (store.OpsLogRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return store.OpsLogRecord{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}

// TierStore is an in-memory store.TierStore, the write-behind mirror
// target used in tests and single-process deployments.
type TierStore struct {
	mu      sync.Mutex
	entries map[string]store.TierEntryRecord
}

// NewTierStore constructs an empty TierStore.
func NewTierStore() *TierStore {
	return &TierStore{entries: make(map[string]store.TierEntryRecord)}
}

func (s *TierStore) Put(_ context.Context, rec store.TierEntryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[rec.Key] = rec
	return nil
}

func (s *TierStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *TierStore) DeleteBySession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, rec := range s.entries {
		if rec.SessionID == sessionID {
			delete(s.entries, k)
		}
	}
	return nil
}

func (s *TierStore) ListAll(_ context.Context) ([]store.TierEntryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.TierEntryRecord, 0, len(s.entries))
	for _, rec := range s.entries {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
