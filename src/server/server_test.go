package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradeflow/src/database"
	"tradeflow/src/model"
	"tradeflow/src/queue"
	"tradeflow/src/repository"
)

func newTestQueue(t *testing.T) *queue.SignalQueue {
	t.Helper()
	db, err := database.OpenTestDB()
	require.NoError(t, err)

	repo := (&repository.QueueRepository{}).WithDB(db)
	return queue.NewSignalQueue(queue.Config{
		MaxRetries:      3,
		BackoffBase:     5 * time.Second,
		BackoffCap:      time.Minute,
		PriorityPenalty: 5,
		HardTTL:         30 * time.Minute,
		MaxFundsRetries: 2,
		FundsRetryBase:  30 * time.Second,
	}).WithRepository(repo)
}

func testSignal(instrument string, score float64) model.Signal {
	return model.Signal{
		Instrument: instrument,
		Side:       model.SideBuy,
		Kind:       model.SignalKindEntry,
		Score:      score,
		Price:      decimal.NewFromInt(100),
	}
}

func TestHealthcheck(t *testing.T) {
	router := Routes(newTestQueue(t), &Config{PeekLimit: 50})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestQueueDeadListsDeadLetteredEntries(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Publish(ctx, testSignal("XYZ", 80))
	require.NoError(t, err)
	entry, _, err := q.Consume(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.NoError(t, q.Nack(ctx, entry, errors.New("broker rejected"), false))

	router := Routes(q, &Config{PeekLimit: 50})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue/dead?min_score=50", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.SignalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "XYZ", entries[0].Instrument)
}

func TestQueueDelayedListsBackedOffEntries(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Publish(ctx, testSignal("ABC", 70))
	require.NoError(t, err)
	entry, _, err := q.Consume(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.NoError(t, q.Nack(ctx, entry, errors.New("timeout"), true))

	router := Routes(q, &Config{PeekLimit: 50})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue/delayed", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.SignalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "ABC", entries[0].Instrument)
}

func TestQueueDelayedEmptyReturnsEmptyArray(t *testing.T) {
	router := Routes(newTestQueue(t), &Config{PeekLimit: 50})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue/delayed", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}
