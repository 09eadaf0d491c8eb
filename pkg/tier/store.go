package tier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/codeready-toolchain/sessionctl/pkg/config"
	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
	"github.com/codeready-toolchain/sessionctl/pkg/metrics"
	"github.com/codeready-toolchain/sessionctl/pkg/store"
)

// unboundedSize is the capacity simplelru is constructed with for
// tiers the Store enforces bounds on itself (by token/item sum rather
// than by simplelru's own count-based eviction). simplelru never
// auto-evicts below this count; Store decides when to call
// RemoveOldest.
const unboundedSize = 1 << 30

// Store holds entries across the five tiers for a single workspace,
// shared by every session running against it. Mutations use a single
// critical section per call; read-only surfaces (Stats,
// SessionHOTUsage) take the read side so they can run concurrently
// with each other. Get holds the write lock because it bumps recency.
type Store struct {
	mu sync.RWMutex

	cfg config.Config

	lru    map[Tier]*simplelru.LRU[string, *Entry]
	frozen map[string]*Entry

	// index maps every live key to its current tier, enforcing the
	// rule that an entry exists in exactly one tier at any instant.
	index map[string]Tier

	tokens map[Tier]int

	// sessionHOTCap holds the per-session HOT token cap, set by the
	// Budget Manager at session start and on escalation. Sessions
	// absent from this map use cfg.WorkingMemoryDefault.
	sessionHOTCap map[string]int
	// hotUsage tracks tokens currently held in HOT per owning
	// session, so promotion and per-session eviction never touch
	// another session's entries.
	hotUsage map[string]int

	metrics metrics.TierRecorder

	// persist is an optional write-behind backing store for tier
	// entries. The in-memory tier maps above remain the source of
	// truth for every live read in this package; persist only receives
	// a best-effort mirrored copy of each tier mutation so the working
	// set can be replayed after a restart rather than rebuilt from
	// scratch. Nil by default.
	persist store.TierStore
}

// New constructs an empty Store. metricsRecorder may be nil.
func New(cfg config.Config, metricsRecorder metrics.TierRecorder) *Store {
	if metricsRecorder == nil {
		metricsRecorder = metrics.NoopTierRecorder{}
	}
	s := &Store{
		cfg:           cfg,
		lru:           make(map[Tier]*simplelru.LRU[string, *Entry]),
		frozen:        make(map[string]*Entry),
		index:         make(map[string]Tier),
		tokens:        make(map[Tier]int),
		sessionHOTCap: make(map[string]int),
		hotUsage:      make(map[string]int),
		metrics:       metricsRecorder,
	}
	for _, t := range []Tier{HOT, WARM, COOL, COLD} {
		l, _ := simplelru.NewLRU[string, *Entry](unboundedSize, nil)
		s.lru[t] = l
	}
	return s
}

// AttachPersistence wires a write-behind TierStore. Every subsequent
// Put/demotion/discard mirrors into ts on a best-effort basis; failures
// are logged, never returned, since persist is a durability aid, not
// the read path. Call before serving traffic; not safe to call
// concurrently with other Store methods.
func (s *Store) AttachPersistence(ts store.TierStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = ts
}

// persistPutLocked mirrors entry into the write-behind store, if one is
// attached. Covers both fresh inserts and demotion/promotion moves,
// since those also land here via insertLocked. Caller holds s.mu.
func (s *Store) persistPutLocked(e *Entry) {
	if s.persist == nil {
		return
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		slog.Warn("tier: payload not JSON-serializable, skipping write-behind persistence", "key", e.Key, "error", err)
		return
	}
	rec := store.TierEntryRecord{
		Key:          e.Key,
		Tier:         string(e.Tier),
		PayloadJSON:  payload,
		TokenCost:    e.TokenCost,
		Origin:       string(e.Origin),
		SessionID:    e.SessionID,
		CreatedAt:    e.CreatedAt,
		LastAccessAt: e.LastAccessAt,
		AccessCount:  e.AccessCount,
	}
	if err := s.persist.Put(context.Background(), rec); err != nil {
		slog.Warn("tier: write-behind persistence failed", "key", e.Key, "tier", e.Tier, "error", err)
	}
}

// persistDeleteLocked mirrors a terminal removal (explicit Delete or a
// demotion cascade that discards the entry outright) into the
// write-behind store. Caller holds s.mu.
func (s *Store) persistDeleteLocked(key string) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Delete(context.Background(), key); err != nil {
		slog.Warn("tier: write-behind delete failed", "key", key, "error", err)
	}
}

// SetSessionHOTCap sets the HOT token cap for a session. Called by the
// Budget Manager at session start and whenever escalation raises the
// session's cap.
func (s *Store) SetSessionHOTCap(sessionID string, cap int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionHOTCap[sessionID] = cap
}

// SessionHOTUsage returns the tokens currently held in HOT by the
// given session. The coordinator reads it around Put to learn how many
// tokens eviction pushed out of HOT, so the Budget Manager's used
// counter tracks what is actually live rather than what was ever
// inserted.
func (s *Store) SessionHOTUsage(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hotUsage[sessionID]
}

func (s *Store) hotCapFor(sessionID string) int {
	if cap, ok := s.sessionHOTCap[sessionID]; ok {
		return cap
	}
	return s.cfg.WorkingMemoryDefault
}

// Put inserts payload under key at the given tier. If key already
// exists in any tier it is replaced in place at the new tier,
// preserving nothing from the old copy except the key itself: Put
// always assigns a fresh TokenCost and Origin.
//
// Put never fails for legal input. If tokenCost exceeds the tier's
// cap outright (even after evicting everything else), the entry is
// discarded and errkind.TooLarge is returned; the caller has then
// lost nothing it did not already have.
func (s *Store) Put(key string, payload interface{}, t Tier, tokenCost int, origin Origin, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, payload, t, tokenCost, origin, sessionID, time.Now())
}

func (s *Store) putLocked(key string, payload interface{}, t Tier, tokenCost int, origin Origin, sessionID string, now time.Time) error {
	s.removeLocked(key)

	entry := &Entry{
		Key:          key,
		Payload:      payload,
		TokenCost:    tokenCost,
		Tier:         t,
		Origin:       origin,
		CreatedAt:    now,
		LastAccessAt: now,
		AccessCount:  0,
		SessionID:    sessionID,
	}

	if t == FROZEN {
		s.frozen[key] = entry
		s.index[key] = FROZEN
		s.tokens[FROZEN] += tokenCost
		s.metrics.ObservePut(string(FROZEN), tokenCost)
		s.persistPutLocked(entry)
		return nil
	}

	if !s.makeRoomLocked(t, tokenCost, sessionID, now) {
		s.metrics.ObserveTooLarge(string(t))
		return errkind.New(errkind.TooLarge, "token_cost exceeds tier capacity even after eviction")
	}

	s.insertLocked(entry, now)
	s.metrics.ObservePut(string(t), tokenCost)
	return nil
}

// insertLocked adds entry to its tier's LRU list and updates
// accounting. Caller holds s.mu.
func (s *Store) insertLocked(entry *Entry, _ time.Time) {
	s.lru[entry.Tier].Add(entry.Key, entry)
	s.index[entry.Key] = entry.Tier
	s.tokens[entry.Tier] += entry.TokenCost
	if entry.Tier == HOT {
		s.hotUsage[entry.SessionID] += entry.TokenCost
	}
	s.persistPutLocked(entry)
}

// makeRoomLocked evicts entries from t until tokenCost (scoped to
// sessionID for HOT) fits under the tier's cap. Returns false if the
// entry cannot fit even in an empty tier.
func (s *Store) makeRoomLocked(t Tier, tokenCost int, sessionID string, now time.Time) bool {
	capItems, capTokens := s.capFor(t, sessionID)

	if capTokens > 0 && tokenCost > capTokens {
		return false
	}

	for {
		items, tokensUsed := s.occupancyLocked(t, sessionID)
		fitsItems := capItems <= 0 || items < capItems
		fitsTokens := capTokens <= 0 || tokensUsed+tokenCost <= capTokens
		if fitsItems && fitsTokens {
			return true
		}
		if !s.evictOneLocked(t, sessionID, now, 0) {
			// Nothing left to evict in scope; cannot make room.
			return capItems <= 0 && capTokens <= 0
		}
	}
}

// capFor returns the (item, token) cap for a tier. A zero value means
// "no cap on that dimension".
func (s *Store) capFor(t Tier, sessionID string) (items, tokensCap int) {
	switch t {
	case HOT:
		return 0, s.hotCapFor(sessionID)
	case WARM:
		// WARM is session-scoped but uncapped here; session close's
		// drain rule is the only thing that removes WARM entries in
		// the common path.
		return 0, 0
	case COOL:
		return s.cfg.CoolMaxItems, s.cfg.CoolMaxTokens
	case COLD:
		return s.cfg.ColdMaxItems, s.cfg.ColdMaxTokens
	default:
		return 0, 0
	}
}

// occupancyLocked returns current (item count, token sum) for a tier,
// scoped to sessionID when t == HOT (each session has its own cap).
func (s *Store) occupancyLocked(t Tier, sessionID string) (items, tokensUsed int) {
	if t == HOT {
		items = 0
		for _, k := range s.lru[HOT].Keys() {
			e, _ := s.lru[HOT].Peek(k)
			if e.SessionID == sessionID {
				items++
			}
		}
		return items, s.hotUsage[sessionID]
	}
	return s.lru[t].Len(), s.tokens[t]
}

// evictOneLocked evicts the single oldest entry from t (scoped to
// sessionID for HOT) and demotes it per the demotion table, carrying
// the cascade hop count through. Returns false if there was nothing
// in scope to evict.
func (s *Store) evictOneLocked(t Tier, sessionID string, now time.Time, hop int) bool {
	key, ok := s.oldestInScopeLocked(t, sessionID)
	if !ok {
		return false
	}
	entry, _ := s.lru[t].Peek(key)
	s.removeFromTierLocked(t, key)
	slog.Info("tier entry evicted", "key", entry.Key, "tier", string(t), "session_id", entry.SessionID, "token_cost", entry.TokenCost)
	s.demoteLocked(entry, now, hop)
	s.metrics.ObserveEvict(string(t))
	return true
}

// oldestInScopeLocked returns the least-recently-used key in t. The
// recency list orders entries by last access, with insertion order
// standing in for the CreatedAt-then-key tie-break since two entries
// never share a list position. When sessionID is non-empty and
// t == HOT, only that session's entries are considered, so evicting
// room for one session never touches another session's HOT budget.
func (s *Store) oldestInScopeLocked(t Tier, sessionID string) (string, bool) {
	if t != HOT || sessionID == "" {
		if key, _, ok := s.lru[t].GetOldest(); ok {
			return key, true
		}
		return "", false
	}
	for _, k := range s.lru[HOT].Keys() { // oldest-first order
		e, _ := s.lru[HOT].Peek(k)
		if e.SessionID == sessionID {
			return k, true
		}
	}
	return "", false
}

// demotionTarget returns the tier an entry evicted from t moves to,
// or "" if it is discarded outright.
func demotionTarget(t Tier, accessCount int) (Tier, bool) {
	switch t {
	case HOT:
		return WARM, true
	case WARM:
		if accessCount >= 3 {
			return COOL, true
		}
		return "", false
	case COOL:
		return COLD, true
	case COLD:
		return "", false
	default:
		return "", false
	}
}

// demoteLocked re-inserts an evicted entry into its demotion target,
// cascading if that tier is also full. Cascades are bounded to 4 hops;
// the chain HOT->WARM->COOL->COLD->discard is exactly that long, so
// the bound only bites if a future tier addition lengthens it. An
// entry that does not fit its target even after the target is drained
// is discarded, never inserted over cap.
func (s *Store) demoteLocked(entry *Entry, now time.Time, hop int) {
	delete(s.index, entry.Key)
	if entry.Tier == HOT {
		s.hotUsage[entry.SessionID] -= entry.TokenCost
	}

	if hop >= 4 {
		slog.Warn("tier demotion cascade hit hop limit, discarding entry", "key", entry.Key, "tier", string(entry.Tier))
		s.persistDeleteLocked(entry.Key)
		return
	}

	target, ok := demotionTarget(entry.Tier, entry.AccessCount)
	if !ok {
		slog.Info("tier entry discarded", "key", entry.Key, "tier", string(entry.Tier), "access_count", entry.AccessCount)
		s.persistDeleteLocked(entry.Key)
		return
	}

	demoted := entry.clone()
	demoted.Tier = target

	capItems, capTokens := s.capFor(target, demoted.SessionID)
	for {
		items, tokensUsed := s.occupancyLocked(target, demoted.SessionID)
		fitsItems := capItems <= 0 || items < capItems
		fitsTokens := capTokens <= 0 || tokensUsed+demoted.TokenCost <= capTokens
		if fitsItems && fitsTokens {
			break
		}
		if !s.evictOneLocked(target, demoted.SessionID, now, hop+1) {
			slog.Info("tier entry discarded, does not fit demotion target", "key", demoted.Key, "target", string(target), "token_cost", demoted.TokenCost)
			s.persistDeleteLocked(demoted.Key)
			return
		}
	}

	slog.Info("tier entry demoted", "key", demoted.Key, "from", string(entry.Tier), "to", string(target))
	s.insertLocked(demoted, now)
}

// removeFromTierLocked removes key from tier t's LRU list and token
// accounting without demoting it. Caller holds s.mu.
func (s *Store) removeFromTierLocked(t Tier, key string) {
	entry, ok := s.lru[t].Peek(key)
	if !ok {
		return
	}
	s.lru[t].Remove(key)
	s.tokens[t] -= entry.TokenCost
}

// removeLocked deletes key from wherever it currently lives (any
// tier), with no demotion. Used by Put to implement in-place
// replacement and by Delete.
func (s *Store) removeLocked(key string) {
	t, ok := s.index[key]
	if !ok {
		return
	}
	if t == FROZEN {
		delete(s.frozen, key)
		delete(s.index, key)
		s.persistDeleteLocked(key)
		return
	}
	entry, ok := s.lru[t].Peek(key)
	if ok && t == HOT {
		s.hotUsage[entry.SessionID] -= entry.TokenCost
	}
	s.removeFromTierLocked(t, key)
	delete(s.index, key)
	s.persistDeleteLocked(key)
}

// Delete removes key from the store entirely, wherever it lives, with
// no demotion.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
}

// Get retrieves an entry, bumping its recency and access count. The
// boolean result is false when key is absent; a miss is an expected
// outcome, not an error.
//
// When the entry is in WARM and AccessCount reaches 3, Get attempts to
// promote it to HOT, evicting only the owning session's own HOT
// entries to make room. If there still isn't room, the entry remains
// in WARM: promotion is skipped, never forced.
func (s *Store) Get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.index[key]
	if !ok {
		s.metrics.ObserveMiss()
		return nil, false
	}

	now := time.Now()

	if t == FROZEN {
		e := s.frozen[key]
		e.LastAccessAt = now
		e.AccessCount++
		s.metrics.ObserveHit(string(FROZEN))
		return e.clone(), true
	}

	entry, _ := s.lru[t].Peek(key)
	entry.LastAccessAt = now
	entry.AccessCount++
	s.lru[t].Get(key) // bump recency
	s.metrics.ObserveHit(string(t))

	if t == WARM && entry.AccessCount >= 3 {
		s.tryPromoteLocked(entry, now)
	}

	return entry.clone(), true
}

func (s *Store) tryPromoteLocked(entry *Entry, now time.Time) {
	_, capTokens := s.capFor(HOT, entry.SessionID)

	for {
		_, tokensUsed := s.occupancyLocked(HOT, entry.SessionID)
		if capTokens <= 0 || tokensUsed+entry.TokenCost <= capTokens {
			break
		}
		if !s.evictOneLocked(HOT, entry.SessionID, now, 0) {
			return // no room; leave entry in WARM
		}
	}

	s.removeFromTierLocked(WARM, entry.Key)
	delete(s.index, entry.Key)
	entry.Tier = HOT
	s.insertLocked(entry, now)
	s.metrics.ObservePromote()
	slog.Info("tier entry promoted", "key", entry.Key, "session_id", entry.SessionID, "access_count", entry.AccessCount)
}

// Evict removes LRU entries from tier t until at least nTokens are
// freed or the tier is empty, demoting each per the demotion table. Returns
// the number of tokens actually freed (may be less than requested if
// the tier ran out of entries).
func (s *Store) Evict(t Tier, nTokens int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()

	freed := 0
	for freed < nTokens {
		key, ok := s.oldestInScopeLocked(t, "")
		if !ok {
			break
		}
		entry, _ := s.lru[t].Peek(key)
		freed += entry.TokenCost
		s.removeFromTierLocked(t, key)
		s.demoteLocked(entry, now, 0)
		s.metrics.ObserveEvict(string(t))
	}
	return freed
}

// CloseSession first demotes the session's remaining HOT entries into
// WARM (HOT is session-scoped; nothing else would ever reclaim them),
// then drains WARM entries owned by sessionID: survivors with
// AccessCount >= 3 move to COOL, others are discarded outright (no
// cascade; this is CloseSession's own terminal rule, not the general
// demotion table).
func (s *Store) CloseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()

	var hot []string
	for _, k := range s.lru[HOT].Keys() {
		e, _ := s.lru[HOT].Peek(k)
		if e.SessionID == sessionID {
			hot = append(hot, k)
		}
	}
	for _, k := range hot {
		entry, _ := s.lru[HOT].Peek(k)
		s.removeFromTierLocked(HOT, k)
		s.hotUsage[sessionID] -= entry.TokenCost
		delete(s.index, k)
		demoted := entry.clone()
		demoted.Tier = WARM
		s.insertLocked(demoted, now)
	}

	var owned []string
	for _, k := range s.lru[WARM].Keys() {
		e, _ := s.lru[WARM].Peek(k)
		if e.SessionID == sessionID {
			owned = append(owned, k)
		}
	}

	for _, k := range owned {
		entry, _ := s.lru[WARM].Peek(k)
		s.removeFromTierLocked(WARM, k)
		delete(s.index, k)

		if entry.AccessCount >= 3 {
			demoted := entry.clone()
			demoted.Tier = COOL
			if !s.makeRoomLocked(COOL, demoted.TokenCost, "", now) {
				slog.Info("tier entry discarded on session close, does not fit COOL", "key", k, "token_cost", demoted.TokenCost)
				s.persistDeleteLocked(k)
				continue
			}
			s.insertLocked(demoted, now)
		} else {
			slog.Info("tier entry discarded on session close", "key", k, "session_id", sessionID, "access_count", entry.AccessCount)
			s.persistDeleteLocked(k)
		}
	}

	delete(s.sessionHOTCap, sessionID)
	delete(s.hotUsage, sessionID)
	s.metrics.ObserveSessionClosed(sessionID, len(owned))
	slog.Info("tier session closed", "session_id", sessionID, "warm_entries_drained", len(owned))
}

// TierStats summarizes a single tier's occupancy.
type TierStats struct {
	Count  int
	Tokens int
}

// Stats returns a per-tier snapshot of {count, tokens}.
func (s *Store) Stats() map[Tier]TierStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Tier]TierStats, 5)
	for _, t := range []Tier{HOT, WARM, COOL, COLD} {
		out[t] = TierStats{Count: s.lru[t].Len(), Tokens: s.tokens[t]}
	}
	out[FROZEN] = TierStats{Count: len(s.frozen), Tokens: s.tokens[FROZEN]}
	return out
}
