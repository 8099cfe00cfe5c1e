package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/reconcile"

	"github.com/xuri/excelize/v2"
)

// 工作表名称
const (
	SheetSummary       = "Summary"
	SheetDevices       = "Devices"
	SheetAlerts        = "Alerts"
	SheetNotifications = "Notifications"
)

// DevicesHeader 设备表头
var DevicesHeader = []string{"Device ID", "Name", "Serial Number", "Status", "Location", "Model", "Firmware Version", "Last Reading At"}

// AlertsHeader 报警表头
var AlertsHeader = []string{"Alert ID", "Device ID", "Severity", "Status", "Title", "Message", "Timestamp"}

// NotificationsHeader 通知表头
var NotificationsHeader = []string{"Notification ID", "Type", "Status", "Title", "Message", "Created At"}

type sheet struct {
	name    string
	headers []string
	widths  []float64
	rows    [][]any
}

// GenerateDashboardExport 把视图状态导出为 Excel：摘要、设备、报警、通知四个工作表
func GenerateDashboardExport(state reconcile.State) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	sheets := []sheet{
		summarySheet(state),
		devicesSheet(state.Devices),
		alertsSheet(state.Alerts),
		notificationsSheet(state.Notifications),
	}
	for _, s := range sheets {
		if _, err := f.NewSheet(s.name); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", s.name, err)
		}
		if err := writeSheet(f, s, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}

	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	if index, err := f.GetSheetIndex(SheetSummary); err == nil {
		f.SetActiveSheet(index)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, s sheet, headerStyle int) error {
	for col, header := range s.headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(s.name, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(s.name, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		if col < len(s.widths) {
			name, err := excelize.ColumnNumberToName(col + 1)
			if err != nil {
				return fmt.Errorf("failed to convert column number: %w", err)
			}
			if err := f.SetColWidth(s.name, name, name, s.widths[col]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	for rowIdx, row := range s.rows {
		for colIdx, value := range row {
			if value == nil || value == "" {
				continue
			}
			if err := setCellValue(f, s.name, colIdx+1, rowIdx+2, value); err != nil {
				return fmt.Errorf("failed to set cell value at row %d, col %d: %w", rowIdx+2, colIdx+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(s.name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func summarySheet(state reconcile.State) sheet {
	rows := [][]any{
		{"User ID", state.UserID},
		{"Generated At", formatTime(state.UpdatedAt)},
		{"Devices", len(state.Devices)},
	}
	for _, status := range models.DeviceStatuses {
		rows = append(rows, []any{"Devices " + string(status), state.DeviceStatusCounts[status]})
	}
	rows = append(rows, []any{"Open Alerts", state.OpenAlerts})
	for _, sev := range models.AlertSeverities {
		rows = append(rows, []any{"Open Alerts " + string(sev), state.AlertSeverityCounts[sev]})
	}
	rows = append(rows, []any{"Unread Notifications", state.UnreadNotifications})
	return sheet{name: SheetSummary, headers: []string{"Metric", "Value"}, widths: []float64{28, 40}, rows: rows}
}

func devicesSheet(devices []models.Device) sheet {
	rows := make([][]any, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []any{
			d.ID, d.Name, d.SerialNumber, string(d.Status),
			deref(d.Location), deref(d.Model), deref(d.FirmwareVersion), formatTimePtr(d.LastReadingAt),
		})
	}
	return sheet{name: SheetDevices, headers: DevicesHeader, widths: []float64{38, 20, 20, 15, 20, 20, 20, 20}, rows: rows}
}

func alertsSheet(alerts []models.Alert) sheet {
	rows := make([][]any, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, []any{
			a.ID, a.DeviceID, string(a.Severity), string(a.Status), a.Title, a.Message, formatTime(a.Timestamp),
		})
	}
	return sheet{name: SheetAlerts, headers: AlertsHeader, widths: []float64{38, 38, 12, 15, 30, 50, 20}, rows: rows}
}

func notificationsSheet(notifications []models.Notification) sheet {
	rows := make([][]any, 0, len(notifications))
	for _, n := range notifications {
		rows = append(rows, []any{
			n.ID, string(n.Type), string(n.Status), n.Title, n.Message, formatTime(n.CreatedAt),
		})
	}
	return sheet{name: SheetNotifications, headers: NotificationsHeader, widths: []float64{38, 15, 10, 30, 50, 20}, rows: rows}
}

// setCellValue 设置单元格值
func setCellValue(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
