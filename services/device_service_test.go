package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"custody_backend/models"
	"custody_backend/testutils"
)

func ptr[T any](v T) *T { return &v }

func TestDeviceService_Create(t *testing.T) {
	h := newHandoverHarness(t)
	ctx := context.Background()

	t.Run("Новое устройство на складе", func(t *testing.T) {
		d, err := h.devices.Create(ctx, CreateDeviceInput{
			AssetTag:  " A-200 ",
			Type:      models.DeviceTypePDA,
			SimCardID: "8970",
		}, &h.admin.ID)
		require.NoError(t, err)
		assert.Equal(t, "A-200", d.AssetTag)
		assert.Equal(t, models.DeviceStatusAvailable, d.Status)

		var history int64
		require.NoError(t, h.db.Model(&models.DeviceHistory{}).Where("device_id = ?", d.ID).Count(&history).Error)
		assert.Positive(t, history)
	})

	t.Run("Повтор инвентарного номера", func(t *testing.T) {
		_, err := h.devices.Create(ctx, CreateDeviceInput{AssetTag: "A-200", Type: models.DeviceTypePDA}, nil)
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("Неисправность без заметки", func(t *testing.T) {
		_, err := h.devices.Create(ctx, CreateDeviceInput{AssetTag: "A-201", Type: models.DeviceTypePDA, IsFaulty: true}, nil)
		assert.ErrorIs(t, err, ErrConditionNoteRequired)
		assert.ErrorIs(t, err, models.ErrFaultNoteRequired)
	})

	t.Run("Нельзя создать выданное устройство", func(t *testing.T) {
		_, err := h.devices.Create(ctx, CreateDeviceInput{AssetTag: "A-202", Type: models.DeviceTypePDA, Status: models.DeviceStatusIssued}, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("Неизвестный тип", func(t *testing.T) {
		_, err := h.devices.Create(ctx, CreateDeviceInput{AssetTag: "A-203", Type: "TABLET"}, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestDeviceService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("Повреждение без заметки отклоняется", func(t *testing.T) {
		h := newHandoverHarness(t)
		d := testutils.CreateTestDevice(t, h.db, "U-1", models.DeviceTypePDA)

		_, err := h.devices.Update(ctx, d.ID, DevicePatch{IsDamaged: ptr(true), DamageNote: ptr("  ")}, &h.admin.ID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConditionNoteRequired))
		assert.False(t, h.reload(t, d.ID).IsDamaged)
	})

	t.Run("Изменения пишутся в историю с автором", func(t *testing.T) {
		h := newHandoverHarness(t)
		d := testutils.CreateTestDevice(t, h.db, "U-2", models.DeviceTypePDA)

		updated, err := h.devices.Update(ctx, d.ID, DevicePatch{
			IsDamaged:   ptr(true),
			DamageNote:  ptr("dented"),
			Description: ptr("Zebra TC21"),
		}, &h.admin.ID)
		require.NoError(t, err)
		assert.True(t, updated.IsDamaged)
		assert.Equal(t, "dented", updated.DamageNote)

		var history []models.DeviceHistory
		require.NoError(t, h.db.Where("device_id = ?", d.ID).Order("field_name").Find(&history).Error)
		fields := make([]string, 0, len(history))
		for _, row := range history {
			fields = append(fields, row.FieldName)
			require.NotNil(t, row.ActorID)
			assert.Equal(t, h.admin.ID, *row.ActorID)
		}
		assert.ElementsMatch(t, []string{"damage_note", "description", "is_damaged"}, fields)
	})

	t.Run("Снятие флага сохраняет заметку", func(t *testing.T) {
		h := newHandoverHarness(t)
		d := testutils.CreateTestDevice(t, h.db, "U-3", models.DeviceTypePDA)
		_, err := h.devices.Update(ctx, d.ID, DevicePatch{IsFaulty: ptr(true), FaultNote: ptr("no boot")}, nil)
		require.NoError(t, err)

		updated, err := h.devices.Update(ctx, d.ID, DevicePatch{IsFaulty: ptr(false)}, nil)
		require.NoError(t, err)
		assert.False(t, updated.IsFaulty)
		assert.Equal(t, "no boot", updated.FaultNote)
	})

	t.Run("Смена статуса снимает закрепление", func(t *testing.T) {
		h := newHandoverHarness(t)
		d := testutils.CreateTestDevice(t, h.db, "U-4", models.DeviceTypePDA)
		testutils.IssueTestDevice(t, h.db, d, h.courier)

		updated, err := h.devices.Update(ctx, d.ID, DevicePatch{Status: ptr(models.DeviceStatusLost)}, &h.admin.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeviceStatusLost, updated.Status)
		assert.Nil(t, updated.CurrentHolderID)
	})

	t.Run("ISSUED ставится только передачей", func(t *testing.T) {
		h := newHandoverHarness(t)
		d := testutils.CreateTestDevice(t, h.db, "U-5", models.DeviceTypePDA)

		_, err := h.devices.Update(ctx, d.ID, DevicePatch{Status: ptr(models.DeviceStatusIssued)}, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("Признаки через обновление устройства", func(t *testing.T) {
		h := newHandoverHarness(t)
		d := testutils.CreateTestDevice(t, h.db, "U-6", models.DeviceTypePDA)
		flag := testutils.CreateTestFlag(t, h.db, "Battery")

		flags := []FlagInput{{FlagID: flag.ID, Value: true, Note: "swollen"}}
		updated, err := h.devices.Update(ctx, d.ID, DevicePatch{CustomFlags: &flags}, nil)
		require.NoError(t, err)
		require.Len(t, updated.FlagValues, 1)
		assert.Equal(t, "swollen", updated.FlagValues[0].Note)

		unknown := []FlagInput{{FlagID: 999, Value: true}}
		_, err = h.devices.Update(ctx, d.ID, DevicePatch{CustomFlags: &unknown}, nil)
		assert.ErrorIs(t, err, ErrFlagNotFound)
	})

	t.Run("Выдача между чтением и записью", func(t *testing.T) {
		h := newHandoverHarness(t)
		d := testutils.CreateTestDevice(t, h.db, "U-7", models.DeviceTypePDA)
		changeAfterDeviceRead(t, h.db, "UPDATE devices SET status = ?, current_holder_id = ? WHERE id = ?",
			models.DeviceStatusIssued, h.courier.ID, d.ID)

		_, err := h.devices.Update(ctx, d.ID, DevicePatch{Status: ptr(models.DeviceStatusLost)}, &h.admin.ID)
		assert.ErrorIs(t, err, ErrDeviceChanged)

		loaded := h.reload(t, d.ID)
		assert.Equal(t, models.DeviceStatusIssued, loaded.Status)
		assert.True(t, loaded.IsHeldBy(h.courier.ID))

		var history int64
		require.NoError(t, h.db.Model(&models.DeviceHistory{}).
			Where("device_id = ? AND field_name = ?", d.ID, "status").Count(&history).Error)
		assert.Zero(t, history)
	})

	t.Run("Смена держателя между чтением и записью", func(t *testing.T) {
		h := newHandoverHarness(t)
		other := testutils.CreateTestCourier(t, h.db, "other@example.com", testPin)
		d := testutils.CreateTestDevice(t, h.db, "U-8", models.DeviceTypePDA)
		testutils.IssueTestDevice(t, h.db, d, h.courier)
		changeAfterDeviceRead(t, h.db, "UPDATE devices SET current_holder_id = ? WHERE id = ?", other.ID, d.ID)

		_, err := h.devices.Update(ctx, d.ID, DevicePatch{Status: ptr(models.DeviceStatusInService)}, nil)
		assert.ErrorIs(t, err, ErrDeviceChanged)

		loaded := h.reload(t, d.ID)
		assert.Equal(t, models.DeviceStatusIssued, loaded.Status)
		assert.True(t, loaded.IsHeldBy(other.ID))
	})

	t.Run("Несуществующее устройство", func(t *testing.T) {
		h := newHandoverHarness(t)
		_, err := h.devices.Update(ctx, 404, DevicePatch{}, nil)
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})
}

func TestDeviceService_List(t *testing.T) {
	h := newHandoverHarness(t)
	ctx := context.Background()

	issued := testutils.CreateTestDevice(t, h.db, "L-1", models.DeviceTypePDA)
	testutils.CreateTestDevice(t, h.db, "L-2", models.DeviceTypeMobilePrinter)
	testutils.IssueTestDevice(t, h.db, issued, h.courier)

	all, err := h.devices.List(ctx, DeviceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	held, err := h.devices.List(ctx, DeviceFilter{HolderID: &h.courier.ID})
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "L-1", held[0].AssetTag)
	require.NotNil(t, held[0].CurrentHolder)

	printers, err := h.devices.List(ctx, DeviceFilter{Type: models.DeviceTypeMobilePrinter, Status: models.DeviceStatusAvailable})
	require.NoError(t, err)
	require.Len(t, printers, 1)

	found, err := h.devices.List(ctx, DeviceFilter{Search: "l-2"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "L-2", found[0].AssetTag)
}

// changeAfterDeviceRead один раз выполняет sql сразу после первого чтения устройства,
// так изменение попадает между чтением и записью обновления
func changeAfterDeviceRead(t *testing.T, db *gorm.DB, sql string, args ...interface{}) {
	t.Helper()

	var once sync.Once
	err := db.Callback().Query().After("gorm:query").Register("test:change_after_read", func(tx *gorm.DB) {
		if tx.Statement.Table != "devices" {
			return
		}
		once.Do(func() {
			tx.AddError(tx.Session(&gorm.Session{NewDB: true}).Exec(sql, args...).Error)
		})
	})
	require.NoError(t, err)
}
