package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody_backend/models"
	"custody_backend/storage"
)

func TestSetupTestDB(t *testing.T) {
	db := SetupTestDB(t)
	require.NotNil(t, db, "Database should not be nil")

	for _, model := range models.AllModels() {
		assert.True(t, db.Migrator().HasTable(model), "Таблица для модели %T должна существовать", model)
	}
}

func TestFixtures(t *testing.T) {
	db := SetupTestDB(t)

	t.Run("Курьер с PIN", func(t *testing.T) {
		courier := CreateTestCourier(t, db, "c1@example.com", "1234")
		assert.True(t, courier.IsActiveCourier())
		require.NotNil(t, courier.PinHash)
		assert.NotEqual(t, "1234", *courier.PinHash)

		Deactivate(t, db, courier)
		var loaded models.Person
		require.NoError(t, db.First(&loaded, courier.ID).Error)
		assert.False(t, loaded.Active)
	})

	t.Run("Выданное устройство", func(t *testing.T) {
		courier := CreateTestCourier(t, db, "c2@example.com", "4321")
		device := CreateTestDevice(t, db, "T-1", models.DeviceTypePDA)
		IssueTestDevice(t, db, device, courier)

		var loaded models.Device
		require.NoError(t, db.First(&loaded, device.ID).Error)
		assert.True(t, loaded.IsHeldBy(courier.ID))
	})

	t.Run("Подпись разбирается как изображение", func(t *testing.T) {
		img, err := storage.ParseImageDataURL(PNGDataURL(t))
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.ContentType)
	})
}
