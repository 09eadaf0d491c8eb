package tier

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/codeready-toolchain/sessionctl/pkg/config"
	"github.com/codeready-toolchain/sessionctl/pkg/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.Config {
	c := config.Defaults()
	c.WorkingMemoryDefault = 100
	c.WorkingMemoryMax = 400
	c.CoolMaxItems = 3
	c.CoolMaxTokens = 1000
	c.ColdMaxItems = 3
	c.ColdMaxTokens = 1000
	c.SigningKey = []byte("k")
	return c
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := New(testConfig(), nil)
	require.NoError(t, s.Put("k1", "payload", HOT, 10, OriginTicket, "s1"))

	e, ok := s.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "payload", e.Payload)
	assert.Equal(t, HOT, e.Tier)
	assert.Equal(t, 1, e.AccessCount)
}

func TestGetMissIsNotAnError(t *testing.T) {
	s := New(testConfig(), nil)
	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestPutEvictsOldestWhenHOTCapExceeded(t *testing.T) {
	s := New(testConfig(), nil)
	s.SetSessionHOTCap("s1", 30)

	require.NoError(t, s.Put("a", "a", HOT, 10, OriginTicket, "s1"))
	require.NoError(t, s.Put("b", "b", HOT, 10, OriginTicket, "s1"))
	require.NoError(t, s.Put("c", "c", HOT, 10, OriginTicket, "s1"))
	// Cap is 30 tokens; ten more tokens would exceed it, evicting "a".
	require.NoError(t, s.Put("d", "d", HOT, 10, OriginTicket, "s1"))

	e, ok := s.Get("a")
	require.True(t, ok, "evicted HOT entry demotes to WARM rather than being discarded")
	assert.Equal(t, WARM, e.Tier)
}

func TestHOTEvictionIsScopedPerSession(t *testing.T) {
	s := New(testConfig(), nil)
	s.SetSessionHOTCap("s1", 20)
	s.SetSessionHOTCap("s2", 20)

	require.NoError(t, s.Put("s1-a", "a", HOT, 10, OriginTicket, "s1"))
	require.NoError(t, s.Put("s2-a", "a", HOT, 10, OriginTicket, "s2"))
	// This insert would exceed s1's cap only; s2's entry must survive.
	require.NoError(t, s.Put("s1-b", "b", HOT, 15, OriginTicket, "s1"))

	_, ok := s.Get("s2-a")
	assert.True(t, ok, "another session's HOT entries are never evicted to make room")
}

func TestTooLargeEntryIsRejected(t *testing.T) {
	s := New(testConfig(), nil)
	s.SetSessionHOTCap("s1", 50)

	err := s.Put("huge", "x", HOT, 1000, OriginTicket, "s1")
	assert.Error(t, err)
}

func TestDeleteRemovesFromAnyTier(t *testing.T) {
	s := New(testConfig(), nil)
	require.NoError(t, s.Put("k1", "v", HOT, 10, OriginTicket, "s1"))
	s.Delete("k1")
	_, ok := s.Get("k1")
	assert.False(t, ok)
}

func TestPromotionFromWarmToHotAtThreeAccesses(t *testing.T) {
	s := New(testConfig(), nil)
	s.SetSessionHOTCap("s1", 1000)
	require.NoError(t, s.Put("k1", "v", WARM, 10, OriginDiscovery, "s1"))

	for i := 0; i < 2; i++ {
		e, ok := s.Get("k1")
		require.True(t, ok)
		assert.Equal(t, WARM, e.Tier)
	}

	e, ok := s.Get("k1") // third access
	require.True(t, ok)
	assert.Equal(t, HOT, e.Tier, "WARM entry promotes to HOT on its third access")
}

func TestDemotionDiscardsEntryThatCannotFitTarget(t *testing.T) {
	cfg := testConfig()
	cfg.CoolMaxTokens = 5000
	cfg.ColdMaxTokens = 1000
	s := New(cfg, nil)

	require.NoError(t, s.Put("big", "v", COOL, 2000, OriginDiscovery, ""))
	s.Evict(COOL, 1)

	_, ok := s.Get("big")
	assert.False(t, ok, "an entry larger than its demotion target's cap is discarded, not inserted over cap")
	assert.Zero(t, s.Stats()[COLD].Tokens)
}

func TestCloseSessionDrainsWARM(t *testing.T) {
	s := New(testConfig(), nil)
	require.NoError(t, s.Put("low-access", "v", WARM, 10, OriginDiscovery, "s1"))

	s.CloseSession("s1")

	_, ok := s.Get("low-access")
	assert.False(t, ok, "low-access-count WARM entries are discarded on session close, not cascaded")
}

func TestCloseSessionDemotesHOTEntriesThroughWARM(t *testing.T) {
	s := New(testConfig(), nil)
	s.SetSessionHOTCap("s1", 1000)

	require.NoError(t, s.Put("kept", "v", HOT, 10, OriginTicket, "s1"))
	require.NoError(t, s.Put("dropped", "v", HOT, 10, OriginTicket, "s1"))
	for i := 0; i < 3; i++ {
		_, ok := s.Get("kept")
		require.True(t, ok)
	}

	s.CloseSession("s1")

	assert.Zero(t, s.Stats()[HOT].Count, "a closed session leaves nothing behind in HOT")

	e, ok := s.Get("kept")
	require.True(t, ok)
	assert.Equal(t, COOL, e.Tier, "frequently accessed HOT entries survive session close via WARM into COOL")

	_, ok = s.Get("dropped")
	assert.False(t, ok, "untouched HOT entries are discarded once their session closes")
}

func TestEntryExistsInExactlyOneTier(t *testing.T) {
	s := New(testConfig(), nil)
	require.NoError(t, s.Put("k1", "v1", HOT, 10, OriginTicket, "s1"))
	require.NoError(t, s.Put("k1", "v2", WARM, 10, OriginTicket, "s1"))

	e, ok := s.Get("k1")
	require.True(t, ok)
	assert.Equal(t, WARM, e.Tier)
	assert.Equal(t, "v2", e.Payload, "re-Put at a new tier replaces the entry outright")
}

func TestConcurrentPutsAcrossSessionsDoNotRace(t *testing.T) {
	s := New(testConfig(), nil)

	const sessions = 8
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		sid := string(rune('a' + i))
		s.SetSessionHOTCap(sid, 50)
		go func(sid string) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = s.Put(sid+"-"+string(rune('0'+j)), j, HOT, 5, OriginTicket, sid)
			}
		}(sid)
	}
	wg.Wait()

	stats := s.Stats()
	assert.LessOrEqual(t, stats[HOT].Tokens, sessions*50, "no session's eviction should ever free another session's budget")
}

func TestAttachPersistenceMirrorsPutsAndDeletes(t *testing.T) {
	s := New(testConfig(), nil)
	backing := memory.NewTierStore()
	s.AttachPersistence(backing)

	require.NoError(t, s.Put("k1", "v1", HOT, 10, OriginTicket, "s1"))

	recs, err := backing.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "k1", recs[0].Key)
	assert.Equal(t, string(HOT), recs[0].Tier)

	s.Delete("k1")
	recs, err = backing.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs, "delete must mirror into the write-behind store")
}
