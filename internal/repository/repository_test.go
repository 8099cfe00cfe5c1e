package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// ============================================
// DeviceRepository
// ============================================

func TestGetDeviceOwner_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeviceRepository(db, zap.NewNop())

	deviceID := uuid.New().String()
	mock.ExpectQuery(`SELECT user_id FROM devices WHERE id`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))

	owner, err := repo.GetDeviceOwner(context.Background(), deviceID)
	require.NoError(t, err)
	assert.Equal(t, "u1", owner)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeviceOwner_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeviceRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT user_id FROM devices WHERE id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetDeviceOwner(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetDeviceOwner(context.Background(), "")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeviceOwner_QueryError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeviceRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT user_id FROM devices`).
		WithArgs("d1").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.GetDeviceOwner(context.Background(), "d1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

var deviceCols = []string{
	"id", "name", "serial_number", "status", "user_id",
	"location", "model", "manufacturer", "firmware_version",
	"last_reading_at", "created_at", "updated_at",
}

func TestListDevicesByOwner(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeviceRepository(db, zap.NewNop())

	now := time.Now()
	rows := sqlmock.NewRows(deviceCols).
		AddRow("d2", "Compressor", "SN-2", "OFFLINE", "u1", "Hall B", nil, nil, nil, nil, now, now).
		AddRow("d1", "Pump", "SN-1", "ONLINE", "u1", nil, "P-100", "Acme", "1.2.0", now, now, now)

	mock.ExpectQuery(`FROM devices\s+WHERE user_id`).
		WithArgs("u1").
		WillReturnRows(rows)

	devices, err := repo.ListDevicesByOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "d2", devices[0].ID)
	assert.Equal(t, models.DeviceStatusOffline, devices[0].Status)
	require.NotNil(t, devices[0].Location)
	assert.Equal(t, "Hall B", *devices[0].Location)
	assert.Nil(t, devices[0].Model)
	assert.Nil(t, devices[0].LastReadingAt)

	require.NotNil(t, devices[1].FirmwareVersion)
	assert.Equal(t, "1.2.0", *devices[1].FirmwareVersion)
	assert.NotNil(t, devices[1].LastReadingAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDevice_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeviceRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM devices WHERE id`).
		WithArgs("d404").
		WillReturnRows(sqlmock.NewRows(deviceCols))

	_, err := repo.GetDevice(context.Background(), "d404")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// AlertRepository
// ============================================

func TestListOpenAlertsForOwner(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAlertRepository(db, zap.NewNop())

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "device_id", "severity", "status", "title", "message",
		"timestamp", "resolved_at", "acknowledged_by",
	}).
		AddRow("a1", "d1", "CRITICAL", "ACTIVE", "Overheat", "Temp above 90C", now, nil, nil).
		AddRow("a2", "d1", "LOW", "ACKNOWLEDGED", "Drift", "Sensor drift", now, nil, "u1")

	mock.ExpectQuery(`FROM alerts a\s+JOIN devices d`).
		WithArgs("u1").
		WillReturnRows(rows)

	alerts, err := repo.ListOpenAlertsForOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, models.AlertSeverityCritical, alerts[0].Severity)
	assert.Nil(t, alerts[0].AcknowledgedBy)
	require.NotNil(t, alerts[1].AcknowledgedBy)
	assert.Equal(t, "u1", *alerts[1].AcknowledgedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAlertRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE alerts a\s+SET status = 'ACKNOWLEDGED'`).
		WithArgs("u1", "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Acknowledge(context.Background(), "u1", "a1"))

	// 他人的报警或状态不允许：0 行
	mock.ExpectExec(`UPDATE alerts a\s+SET status = 'ACKNOWLEDGED'`).
		WithArgs("u1", "a9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Acknowledge(context.Background(), "u1", "a9"), ErrNotFound)

	assert.Error(t, repo.Acknowledge(context.Background(), "", "a1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAlertRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE alerts a\s+SET status = 'RESOLVED', resolved_at = NOW\(\)`).
		WithArgs("u1", "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Resolve(context.Background(), "u1", "a1"))

	mock.ExpectExec(`UPDATE alerts a`).
		WithArgs("u1", "a2").
		WillReturnError(errors.New("deadlock detected"))
	err := repo.Resolve(context.Background(), "u1", "a2")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// ReadingRepository
// ============================================

func TestListRecentReadings(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReadingRepository(db, zap.NewNop())

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "device_id", "type", "value", "unit", "timestamp"}).
		AddRow("r2", "d1", "temperature", 22.0, "C", now).
		AddRow("r1", "d1", "temperature", 21.0, "C", now.Add(-time.Minute)).
		AddRow("r3", "d2", "pressure", 1.2, nil, now)

	mock.ExpectQuery(`ROW_NUMBER\(\) OVER \(PARTITION BY device_id, type`).
		WithArgs(sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	readings, err := repo.ListRecentReadings(context.Background(), []string{"d1", "d2"}, 50)
	require.NoError(t, err)
	require.Len(t, readings, 3)
	assert.Equal(t, 22.0, readings[0].Value)
	require.NotNil(t, readings[0].Unit)
	assert.Nil(t, readings[2].Unit)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecentReadings_NoDevices(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReadingRepository(db, zap.NewNop())

	readings, err := repo.ListRecentReadings(context.Background(), nil, 50)
	require.NoError(t, err)
	assert.Empty(t, readings)

	_, err = repo.ListRecentReadings(context.Background(), []string{"d1"}, 0)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// NotificationRepository
// ============================================

func TestListRecentNotifications(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewNotificationRepository(db, zap.NewNop())

	now := time.Now()
	cols := []string{"id", "user_id", "type", "status", "title", "message", "link", "created_at"}

	mock.ExpectQuery(`FROM notifications\s+WHERE user_id = \$1\s+ORDER BY created_at DESC LIMIT`).
		WithArgs("u1", 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("n1", "u1", "ALERT", "UNREAD", "Overheat", "Pump 1", "/alerts/a1", now))

	ns, err := repo.ListRecentNotifications(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, models.NotificationTypeAlert, ns[0].Type)
	require.NotNil(t, ns[0].Link)

	// 不限条数时不带 LIMIT
	mock.ExpectQuery(`FROM notifications`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols))
	ns, err = repo.ListRecentNotifications(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, ns)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAsRead(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewNotificationRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE notifications\s+SET status = 'READ'\s+WHERE id`).
		WithArgs("n1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkAsRead(context.Background(), "u1", "n1"))

	mock.ExpectExec(`UPDATE notifications`).
		WithArgs("n2", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkAsRead(context.Background(), "u1", "n2"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAllAsRead(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewNotificationRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE notifications\s+SET status = 'READ'\s+WHERE user_id`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkAllAsRead(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// Store
// ============================================

func TestStore_SharesConnection(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db, zap.NewNop())

	mock.ExpectQuery(`SELECT user_id FROM devices WHERE id`).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectExec(`UPDATE notifications`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	owner, err := store.GetDeviceOwner(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "u1", owner)

	n, err := store.MarkAllAsRead(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
