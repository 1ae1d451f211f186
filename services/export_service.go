package services

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/xuri/excelize/v2"

	"custody_backend/models"
)

// ExportService выгружает инвентарь и историю устройств в Excel
type ExportService struct {
	Devices *DeviceService
	History *HistoryService
}

// NewExportService создает сервис выгрузки
func NewExportService(devices *DeviceService, history *HistoryService) *ExportService {
	return &ExportService{Devices: devices, History: history}
}

// DeviceHistoryWorkbook выгружает хронологию устройства, возвращает содержимое и имя файла
func (es *ExportService) DeviceHistoryWorkbook(ctx context.Context, deviceID uint) ([]byte, string, error) {
	device, err := es.Devices.Get(ctx, deviceID)
	if err != nil {
		return nil, "", err
	}
	entries, err := es.History.DeviceTimeline(ctx, deviceID)
	if err != nil {
		return nil, "", err
	}

	headers := []string{"Date", "Kind", "Subject", "Old value", "New value", "Actor", "Batch"}
	rows := make([][]interface{}, 0, len(entries))
	for _, e := range entries {
		batch := ""
		if e.BatchID != nil {
			batch = fmt.Sprintf("#%d", *e.BatchID)
		}
		rows = append(rows, []interface{}{
			e.At.Format("2006-01-02 15:04:05"), string(e.Kind), e.Subject, e.OldValue, e.NewValue, e.Actor, batch,
		})
	}

	data, err := writeWorkbook("History", headers, rows)
	if err != nil {
		return nil, "", err
	}
	return data, fmt.Sprintf("device-%s-history.xlsx", device.AssetTag), nil
}

// InventoryWorkbook выгружает список устройств по фильтру
func (es *ExportService) InventoryWorkbook(ctx context.Context, filter DeviceFilter) ([]byte, error) {
	devices, err := es.Devices.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	headers := []string{"Asset tag", "Type", "Status", "Holder", "SIM card", "Phone number", "Condition", "Description"}
	rows := make([][]interface{}, 0, len(devices))
	for i := range devices {
		d := &devices[i]
		holder := ""
		if d.CurrentHolder != nil {
			holder = d.CurrentHolder.DisplayName()
		}
		sim, phone := "", ""
		if d.Type == models.DeviceTypePDA {
			sim, phone = d.SimCardID, d.PhoneNumber
		}
		rows = append(rows, []interface{}{
			d.AssetTag, string(d.Type), string(d.Status), holder, sim, phone, ConditionSummary(d.Condition()), d.Description,
		})
	}

	return writeWorkbook("Devices", headers, rows)
}

// writeWorkbook записывает один лист с заголовками и автофильтром
func writeWorkbook(sheetName string, headers []string, rows [][]interface{}) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Failed to close Excel file: %v", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("ошибка создания листа: %w", err)
	}

	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}
	for rowIdx, row := range rows {
		for colIdx, value := range row {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	lastCell, _ := excelize.CoordinatesToCellName(len(headers), len(rows)+1)
	if err := f.AutoFilter(sheetName, "A1:"+lastCell, []excelize.AutoFilterOptions{}); err != nil {
		return nil, fmt.Errorf("ошибка установки автофильтра: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("ошибка записи Excel файла: %w", err)
	}
	return buf.Bytes(), nil
}
