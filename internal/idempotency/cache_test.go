package idempotency_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/idempotency"
	"github.com/spec-kit/helpdesk-service/internal/testhelpers"
)

func newCache(t *testing.T) (*idempotency.Cache, *testhelpers.MemStore) {
	t.Helper()
	store := testhelpers.NewMemStore()
	// Redis is an optional fast path; the cache must be fully functional
	// without it.
	return idempotency.NewCache(nil, store.Repos().Idempotency, zap.NewNop()), store
}

func TestLookupUnseenKey(t *testing.T) {
	cache, _ := newCache(t)

	record, err := cache.Lookup(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestSaveThenLookupReplaysResponse(t *testing.T) {
	cache, _ := newCache(t)

	saved := &domain.IdempotencyRecord{
		Key:        "create-1",
		Response:   []byte(`{"id":"t1"}`),
		StatusCode: 201,
	}
	require.NoError(t, cache.Save(context.Background(), saved))

	record, err := cache.Lookup(context.Background(), "create-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, saved.Response, record.Response)
	assert.Equal(t, 201, record.StatusCode)
}

func TestFirstWriterWins(t *testing.T) {
	cache, _ := newCache(t)

	first := &domain.IdempotencyRecord{Key: "k", Response: []byte(`{"id":"a"}`), StatusCode: 201}
	second := &domain.IdempotencyRecord{Key: "k", Response: []byte(`{"id":"b"}`), StatusCode: 200}
	require.NoError(t, cache.Save(context.Background(), first))
	require.NoError(t, cache.Save(context.Background(), second))

	record, err := cache.Lookup(context.Background(), "k")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, first.Response, record.Response)
	assert.Equal(t, 201, record.StatusCode)
}
