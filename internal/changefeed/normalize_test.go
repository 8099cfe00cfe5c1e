package changefeed

import (
	"encoding/json"
	"testing"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_DeviceInsert(t *testing.T) {
	raw := RawChange{
		Table:     "devices",
		Operation: "INSERT",
		New:       json.RawMessage(`{"id":"d1","name":"Pump 1","serial_number":"SN-1","status":"ONLINE","user_id":"u1","created_at":"2024-05-01T10:00:00Z","updated_at":"2024-05-01T10:00:00Z"}`),
	}

	ch, err := Normalize(raw)
	require.NoError(t, err)

	dc, ok := ch.(DeviceChange)
	require.True(t, ok)
	assert.Equal(t, EntityDevice, dc.Entity())
	assert.Equal(t, OpInsert, dc.Operation())
	assert.Nil(t, dc.Before)
	require.NotNil(t, dc.After)
	assert.Equal(t, "d1", dc.RowID())
	assert.Equal(t, models.DeviceStatusOnline, dc.After.Status)
	assert.Equal(t, "u1", dc.After.UserID)
}

func TestNormalize_DeleteUsesBeforeImage(t *testing.T) {
	raw := RawChange{
		Table:     "alert",
		Operation: "delete",
		New:       json.RawMessage("null"),
		Old:       json.RawMessage(`{"id":"a1","device_id":"d1","severity":"HIGH","status":"ACTIVE"}`),
	}

	ch, err := Normalize(raw)
	require.NoError(t, err)

	ac := ch.(AlertChange)
	assert.Equal(t, OpDelete, ac.Op)
	assert.Nil(t, ac.After)
	assert.Equal(t, "a1", ac.Current().ID)
	assert.Equal(t, "a1", ac.RowID())
}

func TestNormalize_ReadingAndNotification(t *testing.T) {
	ch, err := Normalize(RawChange{
		Table:     "public.readings",
		Operation: "INSERT",
		New:       json.RawMessage(`{"id":"r1","device_id":"d1","type":"temperature","value":21.5,"unit":"C","timestamp":"2024-05-01T10:00:00Z"}`),
	})
	require.NoError(t, err)
	rc := ch.(ReadingChange)
	assert.Equal(t, 21.5, rc.After.Value)
	require.NotNil(t, rc.After.Unit)
	assert.Equal(t, "C", *rc.After.Unit)

	ch, err = Normalize(RawChange{
		Table:     "notifications",
		Operation: "UPDATE",
		Old:       json.RawMessage(`{"id":"n1","user_id":"u1","status":"UNREAD"}`),
		New:       json.RawMessage(`{"id":"n1","user_id":"u1","status":"READ"}`),
	})
	require.NoError(t, err)
	nc := ch.(NotificationChange)
	assert.Equal(t, models.NotificationStatusUnread, nc.Before.Status)
	assert.Equal(t, models.NotificationStatusRead, nc.After.Status)
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  RawChange
		want error
	}{
		{
			name: "unknown table",
			raw:  RawChange{Table: "maintenance_tasks", Operation: "INSERT", New: json.RawMessage(`{"id":"m1"}`)},
			want: ErrUnknownEntity,
		},
		{
			name: "unknown operation",
			raw:  RawChange{Table: "devices", Operation: "TRUNCATE", New: json.RawMessage(`{"id":"d1"}`)},
			want: ErrUnknownOperation,
		},
		{
			name: "no images",
			raw:  RawChange{Table: "devices", Operation: "UPDATE"},
			want: ErrMissingImage,
		},
		{
			name: "insert without after image",
			raw:  RawChange{Table: "devices", Operation: "INSERT", Old: json.RawMessage(`{"id":"d1"}`)},
			want: ErrMissingImage,
		},
		{
			name: "delete without before image",
			raw:  RawChange{Table: "devices", Operation: "DELETE", New: json.RawMessage(`{"id":"d1"}`)},
			want: ErrMissingImage,
		},
		{
			name: "row without id",
			raw:  RawChange{Table: "alerts", Operation: "INSERT", New: json.RawMessage(`{"device_id":"d1"}`)},
			want: ErrInvalidImage,
		},
		{
			name: "malformed row",
			raw:  RawChange{Table: "readings", Operation: "INSERT", New: json.RawMessage(`{"id":"r1","value":"hot"}`)},
			want: ErrInvalidImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := Normalize(tt.raw)
			assert.Nil(t, ch)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseRawChange(t *testing.T) {
	raw, err := ParseRawChange([]byte(`{"table":"devices","type":"UPDATE","record":{"id":"d1"},"old_record":{"id":"d1"},"commit_timestamp":"2024-05-01T10:00:00.123456+00:00"}`))
	require.NoError(t, err)
	assert.Equal(t, "devices", raw.Table)
	assert.Equal(t, "UPDATE", raw.Operation)
	assert.Equal(t, 2024, raw.CommitTime.Year())

	_, err = ParseRawChange([]byte("not json"))
	assert.Error(t, err)
}
