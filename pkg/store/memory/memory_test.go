package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/sessionctl/pkg/store"
)

func TestPacketStoreInsertGetDelete(t *testing.T) {
	s := NewPacketStore()
	ctx := context.Background()

	rec := store.PacketRecord{PacketID: "p1", TicketID: "T1", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.Insert(ctx, rec))

	got, ok, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "T1", got.TicketID)

	deleted, err := s.Delete(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPacketStoreDeleteAbsentReturnsFalse(t *testing.T) {
	s := NewPacketStore()
	deleted, err := s.Delete(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestPacketStoreListByTicketFiltersAndSortsByCreatedAt(t *testing.T) {
	s := NewPacketStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, store.PacketRecord{PacketID: "p2", TicketID: "T1", CreatedAt: now.Add(time.Minute)}))
	require.NoError(t, s.Insert(ctx, store.PacketRecord{PacketID: "p1", TicketID: "T1", CreatedAt: now}))
	require.NoError(t, s.Insert(ctx, store.PacketRecord{PacketID: "p3", TicketID: "T2", CreatedAt: now}))

	recs, err := s.ListByTicket(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "p1", recs[0].PacketID)
	assert.Equal(t, "p2", recs[1].PacketID)
}

func TestPacketStoreListExpired(t *testing.T) {
	s := NewPacketStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, store.PacketRecord{PacketID: "expired", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.Insert(ctx, store.PacketRecord{PacketID: "fresh", ExpiresAt: now.Add(time.Hour)}))

	ids, err := s.ListExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"expired"}, ids)
}

func TestOpsLogStoreAssignsSequentialSequences(t *testing.T) {
	s := NewOpsLogStore()
	ctx := context.Background()

	seq1, err := s.Append(ctx, store.OpsLogRecord{Actor: "a", Timestamp: time.Now()})
	require.NoError(t, err)
	seq2, err := s.Append(ctx, store.OpsLogRecord{Actor: "b", Timestamp: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, int64(1), seq1)
	assert.Equal(t, int64(2), seq2)
}

func TestOpsLogStoreReadSinceSequenceAndLimit(t *testing.T) {
	s := NewOpsLogStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, store.OpsLogRecord{Actor: "a", Timestamp: time.Now()})
		require.NoError(t, err)
	}

	recs, err := s.Read(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, int64(3), recs[0].Sequence)

	limited, err := s.Read(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestOpsLogStoreTailReturnsChronologicalOrder(t *testing.T) {
	s := NewOpsLogStore()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	_, err := s.Append(ctx, store.OpsLogRecord{Actor: "old", Timestamp: base})
	require.NoError(t, err)
	_, err = s.Append(ctx, store.OpsLogRecord{Actor: "new1", Timestamp: time.Now()})
	require.NoError(t, err)
	_, err = s.Append(ctx, store.OpsLogRecord{Actor: "new2", Timestamp: time.Now()})
	require.NoError(t, err)

	recs, err := s.Tail(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "new1", recs[0].Actor)
	assert.Equal(t, "new2", recs[1].Actor)
}

func TestOpsLogStoreLatest(t *testing.T) {
	s := NewOpsLogStore()
	ctx := context.Background()

	_, ok, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Append(ctx, store.OpsLogRecord{Actor: "a", Timestamp: time.Now()})
	require.NoError(t, err)
	_, err = s.Append(ctx, store.OpsLogRecord{Actor: "b", Timestamp: time.Now()})
	require.NoError(t, err)

	latest, ok, err := s.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", latest.Actor)
}

func TestTierStorePutListDelete(t *testing.T) {
	s := NewTierStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, store.TierEntryRecord{Key: "k1", Tier: "hot", SessionID: "s1"}))
	require.NoError(t, s.Put(ctx, store.TierEntryRecord{Key: "k2", Tier: "warm", SessionID: "s1"}))
	require.NoError(t, s.Put(ctx, store.TierEntryRecord{Key: "k3", Tier: "hot", SessionID: "s2"}))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	require.NoError(t, s.Delete(ctx, "k1"))
	all, err = s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, s.DeleteBySession(ctx, "s1"))
	all, err = s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "k3", all[0].Key)
}

func TestTierStorePutUpsertsExistingKey(t *testing.T) {
	s := NewTierStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, store.TierEntryRecord{Key: "k1", Tier: "hot", AccessCount: 1}))
	require.NoError(t, s.Put(ctx, store.TierEntryRecord{Key: "k1", Tier: "warm", AccessCount: 2}))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "warm", all[0].Tier)
	assert.Equal(t, 2, all[0].AccessCount)
}
