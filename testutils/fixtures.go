package testutils

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"custody_backend/models"
)

// TestAdminPassword пароль всех тестовых администраторов
const TestAdminPassword = "admin-password"

// CreateTestCourier создает активного курьера с указанным PIN
func CreateTestCourier(t *testing.T, db *gorm.DB, email, pin string) *models.Person {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash PIN: %v", err)
	}
	pinHash := string(hash)

	courier := &models.Person{
		Email:    email,
		FullName: "Courier " + email,
		Role:     models.RoleCourier,
		Active:   true,
		PinHash:  &pinHash,
	}
	if err := db.Create(courier).Error; err != nil {
		t.Fatalf("Failed to create courier: %v", err)
	}
	return courier
}

// CreateTestAdmin создает активного администратора с паролем TestAdminPassword
func CreateTestAdmin(t *testing.T, db *gorm.DB, email string) *models.Person {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestAdminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	admin := &models.Person{
		Email:        email,
		FullName:     "Admin " + email,
		Role:         models.RoleAdmin,
		Active:       true,
		PasswordHash: string(hash),
	}
	if err := db.Create(admin).Error; err != nil {
		t.Fatalf("Failed to create admin: %v", err)
	}
	return admin
}

// Deactivate выключает сотрудника
func Deactivate(t *testing.T, db *gorm.DB, person *models.Person) {
	t.Helper()

	if err := db.Model(person).Update("active", false).Error; err != nil {
		t.Fatalf("Failed to deactivate person: %v", err)
	}
	person.Active = false
}

// CreateTestDevice создает устройство на складе
func CreateTestDevice(t *testing.T, db *gorm.DB, assetTag string, deviceType models.DeviceType) *models.Device {
	t.Helper()

	device := &models.Device{
		AssetTag: assetTag,
		Type:     deviceType,
		Status:   models.DeviceStatusAvailable,
	}
	if deviceType == models.DeviceTypePDA {
		device.SimCardID = "SIM-" + assetTag
		device.PhoneNumber = "+70000000000"
	}
	if err := db.Create(device).Error; err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}
	return device
}

// IssueTestDevice закрепляет устройство за курьером напрямую, минуя передачу
func IssueTestDevice(t *testing.T, db *gorm.DB, device *models.Device, holder *models.Person) {
	t.Helper()

	if err := db.Model(device).Updates(map[string]interface{}{
		"status":            models.DeviceStatusIssued,
		"current_holder_id": holder.ID,
	}).Error; err != nil {
		t.Fatalf("Failed to issue device: %v", err)
	}
	holderID := holder.ID
	device.Status = models.DeviceStatusIssued
	device.CurrentHolderID = &holderID
}

// CreateTestFlag создает определение пользовательского признака
func CreateTestFlag(t *testing.T, db *gorm.DB, name string) *models.FlagDefinition {
	t.Helper()

	flag := &models.FlagDefinition{Name: name}
	if err := db.Create(flag).Error; err != nil {
		t.Fatalf("Failed to create flag: %v", err)
	}
	return flag
}

// PNGDataURL возвращает подпись в виде data URL с маленьким PNG
func PNGDataURL(t *testing.T) string {
	t.Helper()
	return SizedPNGDataURL(t, 4, 2)
}

// SizedPNGDataURL возвращает data URL с PNG заданного размера и линией в нижней строке
func SizedPNGDataURL(t *testing.T, width, height int) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, height-1, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}
