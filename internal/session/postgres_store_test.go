package session

import (
	"context"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreGetSessionNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithQuerier(mock)

	mock.ExpectQuery("SELECT session_id, form_id, status").
		WithArgs("s_missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetSession(context.Background(), "s_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithQuerier(mock)

	created := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"session_id", "form_id", "status", "collected_data", "conversation", "summary",
		"created_at", "expires_at", "started_at", "completed_at",
		"duration_seconds", "fields_completed", "total_interactions",
	}).AddRow(
		"s_1", "f_1", Status("active"),
		[]byte(`{"full_name":"Alice"}`), []byte(`[{"role":"user","text":"hi"}]`), "",
		created, created.Add(24*time.Hour), (*time.Time)(nil), (*time.Time)(nil),
		0, 1, 1,
	)
	mock.ExpectQuery("SELECT session_id, form_id, status").
		WithArgs("s_1").
		WillReturnRows(rows)

	s, err := store.GetSession(context.Background(), "s_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, "Alice", s.CollectedData["full_name"])
	require.Len(t, s.Conversation, 1)
	assert.Equal(t, "hi", s.Conversation[0].Text)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSaveSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithQuerier(mock)

	s := New("s_1", "f_1", time.Hour)
	s.SetField("email", "a@b.com")

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(
			s.ID, s.FormID, s.Status,
			[]byte(`{"email":"a@b.com"}`), []byte(`null`), s.Summary,
			s.CreatedAt, s.ExpiresAt, s.StartedAt, s.CompletedAt,
			s.DurationSeconds, s.FieldsCompleted, s.TotalInteractions,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveSession(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreExpireStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithQuerier(mock)

	mock.ExpectExec("UPDATE sessions").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	swept, err := store.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, swept)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDeliveryLifecycle(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithQuerier(mock)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO webhook_deliveries").
		WithArgs("s_1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.EnqueueDelivery(ctx, "s_1"))

	next := time.Now().Add(5 * time.Minute)
	mock.ExpectExec("UPDATE webhook_deliveries").
		WithArgs("s_1", 1, next).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.ScheduleRetry(ctx, "s_1", 1, next))

	mock.ExpectExec("UPDATE webhook_deliveries").
		WithArgs("s_1", 2, 200).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkDelivered(ctx, "s_1", 2, 200))

	mock.ExpectExec("UPDATE webhook_deliveries").
		WithArgs("s_gone", 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.MarkDeliveryFailed(ctx, "s_gone", 3), ErrDeliveryNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListDueDeliveries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithQuerier(mock)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"session_id", "status", "attempts", "next_retry_at", "last_status_code", "delivered_at",
	}).
		AddRow("s_1", DeliveryPending, 0, now, 0, (*time.Time)(nil)).
		AddRow("s_2", DeliveryPending, 1, now, 500, (*time.Time)(nil))

	mock.ExpectQuery("SELECT session_id, status, attempts").
		WithArgs(25).
		WillReturnRows(rows)

	due, err := store.ListDueDeliveries(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "s_2", due[1].SessionID)
	assert.Equal(t, 1, due[1].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
