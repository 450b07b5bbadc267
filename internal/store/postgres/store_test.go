package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/eventlog"
)

var fixedNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

var configColumns = []string{"id", "form_id", "channel_type", "enabled", "settings", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	s := New(db).WithClock(func() time.Time { return fixedNow })
	return s, mock
}

func TestStore_SaveUpserts(t *testing.T) {
	s, mock := newMockStore(t)
	key := domain.ConfigKey{FormID: "form-1", Type: domain.ChannelWebhook}
	settings := domain.WebhookSettings{URL: "https://hooks.example.com/in"}

	mock.ExpectExec(queryUpsertConfig).
		WithArgs(key.ID(), "form-1", "webhook", true, sqlmock.AnyArg(), fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cfg, err := s.Save(context.Background(), key, true, settings)
	require.NoError(t, err)
	assert.Equal(t, key.ID(), cfg.ID)
	assert.Equal(t, fixedNow, cfg.CreatedAt)
	assert.Equal(t, fixedNow, cfg.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveRejectsMismatchedSettings(t *testing.T) {
	s, mock := newMockStore(t)
	key := domain.ConfigKey{FormID: "form-1", Type: domain.ChannelEmail}

	_, err := s.Save(context.Background(), key, true, domain.WebhookSettings{URL: "https://x.example.com"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveBackendFailure(t *testing.T) {
	s, mock := newMockStore(t)
	key := domain.ConfigKey{FormID: "form-1", Type: domain.ChannelRecordStore}

	mock.ExpectExec(queryUpsertConfig).WillReturnError(errors.New("connection reset"))

	_, err := s.Save(context.Background(), key, true, domain.RecordStoreSettings{TableName: "leads"})
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestStore_GetDecodesSettings(t *testing.T) {
	s, mock := newMockStore(t)
	key := domain.ConfigKey{FormID: "form-1", Type: domain.ChannelEmail}

	rows := sqlmock.NewRows(configColumns).AddRow(
		key.ID(), "form-1", "email", true,
		[]byte(`{"recipients":["ops@example.com"],"subject":"New {{name}}","body":"{{message}}"}`),
		fixedNow, fixedNow,
	)
	mock.ExpectQuery(queryGetConfig).WithArgs(key.ID()).WillReturnRows(rows)

	cfg, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelEmail, cfg.Type)
	email, ok := cfg.Settings.(domain.EmailSettings)
	require.True(t, ok)
	assert.Equal(t, []string{"ops@example.com"}, email.Recipients)
	assert.Equal(t, "New {{name}}", email.Subject)
}

func TestStore_GetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	key := domain.ConfigKey{FormID: "form-1", Type: domain.ChannelEmail}

	mock.ExpectQuery(queryGetConfig).WithArgs(key.ID()).WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), key)
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestStore_ListEnabledSortsByChannelOrder(t *testing.T) {
	s, mock := newMockStore(t)
	sheet := domain.ConfigKey{FormID: "form-1", Type: domain.ChannelSpreadsheet}
	email := domain.ConfigKey{FormID: "form-1", Type: domain.ChannelEmail}

	rows := sqlmock.NewRows(configColumns).
		AddRow(sheet.ID(), "form-1", "spreadsheet-sink", true, []byte(`{"spreadsheetId":"abc"}`), fixedNow, fixedNow).
		AddRow(email.ID(), "form-1", "email", true, []byte(`{"recipients":["a@example.com"]}`), fixedNow, fixedNow)
	mock.ExpectQuery(queryListEnabledConfigs).WithArgs("form-1", sqlmock.AnyArg()).WillReturnRows(rows)

	got, err := s.ListEnabled(context.Background(), "form-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.ChannelEmail, got[0].Type)
	assert.Equal(t, domain.ChannelSpreadsheet, got[1].Type)
}

func TestStore_ListEnabledEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(queryListEnabledConfigs).WithArgs("form-2", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(configColumns))

	got, err := s.ListEnabled(context.Background(), "form-2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_DeleteMissing(t *testing.T) {
	s, mock := newMockStore(t)
	key := domain.ConfigKey{FormID: "form-1", Type: domain.ChannelPayment}

	mock.ExpectExec(queryDeleteConfig).WithArgs(key.ID()).WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Delete(context.Background(), key)
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestStore_AppendPrunesInTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	ev := domain.IntegrationEvent{
		ID:            "ev-1",
		IntegrationID: "int-1",
		Type:          domain.EventError,
		SubmissionID:  "sub_123",
		Timestamp:     fixedNow,
		Error:         "webhook: http_status (status 503)",
	}

	mock.ExpectBegin()
	mock.ExpectExec(queryInsertEvent).
		WithArgs("ev-1", "int-1", "error", "sub_123", ev.Error, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(queryPruneEvents).
		WithArgs("int-1", eventlog.MaxEvents).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Append(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AppendRollsBackOnPruneFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(queryInsertEvent).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(queryPruneEvents).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := s.Append(context.Background(), domain.IntegrationEvent{ID: "ev-1", IntegrationID: "int-1", Type: domain.EventSuccess})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListEvents(t *testing.T) {
	s, mock := newMockStore(t)
	later := fixedNow.Add(time.Minute)

	rows := sqlmock.NewRows([]string{"id", "integration_id", "event_type", "submission_id", "error", "created_at"}).
		AddRow("ev-2", "int-1", "success", "sub_2", "", later).
		AddRow("ev-1", "int-1", "error", "sub_1", "boom", fixedNow)
	mock.ExpectQuery(queryListEvents).WithArgs("int-1", eventlog.MaxEvents).WillReturnRows(rows)

	got, err := s.List(context.Background(), "int-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ev-2", got[0].ID)
	assert.Equal(t, domain.EventSuccess, got[0].Type)
	assert.Equal(t, "boom", got[1].Error)
}

func TestStore_WorksThroughEventLog(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "integration_id", "event_type", "submission_id", "error", "created_at"}).
		AddRow("ev-3", "int-1", "success", "sub_3", "", fixedNow).
		AddRow("ev-2", "int-1", "error", "sub_2", "boom", fixedNow).
		AddRow("ev-1", "int-1", "success", "sub_1", "", fixedNow)
	mock.ExpectQuery(queryListEvents).WithArgs("int-1", eventlog.MaxEvents).WillReturnRows(rows)

	stats, err := eventlog.New(s).Stats(context.Background(), "int-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.SuccessCount)
	assert.Equal(t, 67, stats.SuccessRatePercent)
}
