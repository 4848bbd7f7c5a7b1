package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestGuard_ReplaysStoredResponse(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, time.Hour, nil)
	ctx := context.Background()

	calls := 0
	run := func(context.Context) (Response, error) {
		calls++
		return Response{Status: 201, Body: []byte(`{"id":"order-1"}`)}, nil
	}

	first, err := guard.Do(ctx, "user-1:key", RequestHash("checkout", nil), run)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := guard.Do(ctx, "user-1:key", RequestHash("checkout", nil), run)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, 201, second.Status)
	assert.JSONEq(t, `{"id":"order-1"}`, string(second.Body))
	assert.Equal(t, 1, calls)
}

func TestGuard_BusinessFailureIsReplayed(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, time.Hour, nil)
	ctx := context.Background()

	calls := 0
	run := func(context.Context) (Response, error) {
		calls++
		return Response{Status: 409, Body: []byte(`{"error":"insufficient stock"}`), Failed: true}, nil
	}

	_, err := guard.Do(ctx, "k", "h", run)
	require.NoError(t, err)
	replayed, err := guard.Do(ctx, "k", "h", run)
	require.NoError(t, err)
	assert.True(t, replayed.Failed)
	assert.Equal(t, 409, replayed.Status)
	assert.Equal(t, 1, calls)

	record, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, record.Status)
}

func TestGuard_TransientFailureReleasesKey(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, time.Hour, nil)
	ctx := context.Background()

	boom := errors.New("lock timeout")
	_, err := guard.Do(ctx, "k", "h", func(context.Context) (Response, error) {
		return Response{Status: 503}, boom
	})
	require.ErrorIs(t, err, boom)

	resp, err := guard.Do(ctx, "k", "h", func(context.Context) (Response, error) {
		return Response{Status: 201}, nil
	})
	require.NoError(t, err)
	assert.False(t, resp.Replayed)
}

func TestGuard_Conflicts(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, time.Hour, nil)
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "busy", "h", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = guard.Do(ctx, "busy", "h", func(context.Context) (Response, error) {
		t.Fatal("must not run")
		return Response{}, nil
	})
	require.ErrorIs(t, err, ErrRequestInProgress)

	_, err = guard.Do(ctx, "busy", "other-hash", func(context.Context) (Response, error) {
		t.Fatal("must not run")
		return Response{}, nil
	})
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestGuard_EmptyKeyRunsDirectly(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	calls := 0
	for i := 0; i < 2; i++ {
		_, err := guard.Do(context.Background(), "", "h", func(context.Context) (Response, error) {
			calls++
			return Response{Status: 201}, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestRequestHash(t *testing.T) {
	assert.Equal(t, RequestHash("a", []byte("x")), RequestHash("a", []byte("x")))
	assert.NotEqual(t, RequestHash("a", []byte("x")), RequestHash("b", []byte("x")))
	assert.Len(t, RequestHash("a", nil), 64)
}
