package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"custody_backend/models"
	"custody_backend/testutils"
)

func TestPersonService(t *testing.T) {
	db := testutils.SetupTestDB(t)
	ps := NewPersonService(db, NewCredentialService(bcrypt.MinCost))
	ctx := context.Background()

	t.Run("Курьер с PIN", func(t *testing.T) {
		courier, err := ps.Create(ctx, CreatePersonInput{Email: " Courier@Example.com ", FullName: "Ivan", Role: models.RoleCourier, Pin: "1234"})
		require.NoError(t, err)
		assert.Equal(t, "courier@example.com", courier.Email)
		assert.True(t, courier.IsActiveCourier())
		require.NotNil(t, courier.PinHash)
		assert.True(t, ps.Credentials.Verify("1234", courier.PinHash))
	})

	t.Run("Курьер без PIN", func(t *testing.T) {
		_, err := ps.Create(ctx, CreatePersonInput{Email: "nopin@example.com", Role: models.RoleCourier})
		assert.ErrorIs(t, err, ErrInvalidPin)
	})

	t.Run("Администратор с коротким паролем", func(t *testing.T) {
		_, err := ps.Create(ctx, CreatePersonInput{Email: "short@example.com", Role: models.RoleAdmin, Password: "123"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("Повтор email", func(t *testing.T) {
		_, err := ps.Create(ctx, CreatePersonInput{Email: "courier@example.com", Role: models.RoleCourier, Pin: "5678"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("Некорректный email", func(t *testing.T) {
		_, err := ps.Create(ctx, CreatePersonInput{Email: "not-an-email", Role: models.RoleCourier, Pin: "5678"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("Вход администратора", func(t *testing.T) {
		admin, err := ps.Create(ctx, CreatePersonInput{Email: "boss@example.com", Role: models.RoleAdmin, Password: "long-password"})
		require.NoError(t, err)

		found, err := ps.Authenticate(ctx, "BOSS@example.com", "long-password")
		require.NoError(t, err)
		assert.Equal(t, admin.ID, found.ID)

		_, err = ps.Authenticate(ctx, "boss@example.com", "wrong-password")
		assert.ErrorIs(t, err, ErrInvalidLogin)

		_, err = ps.Authenticate(ctx, "nobody@example.com", "long-password")
		assert.ErrorIs(t, err, ErrInvalidLogin)

		_, err = ps.Update(ctx, admin.ID, PersonPatch{Active: ptr(false)})
		require.NoError(t, err)
		_, err = ps.Authenticate(ctx, "boss@example.com", "long-password")
		assert.ErrorIs(t, err, ErrInvalidLogin)
	})

	t.Run("Сброс PIN и деактивация", func(t *testing.T) {
		courier, err := ps.Create(ctx, CreatePersonInput{Email: "reset@example.com", Role: models.RoleCourier, Pin: "1111"})
		require.NoError(t, err)

		updated, err := ps.Update(ctx, courier.ID, PersonPatch{Pin: ptr("2222"), Active: ptr(false)})
		require.NoError(t, err)
		assert.False(t, updated.Active)
		assert.True(t, ps.Credentials.Verify("2222", updated.PinHash))
		assert.False(t, ps.Credentials.Verify("1111", updated.PinHash))

		_, err = ps.Update(ctx, courier.ID, PersonPatch{Pin: ptr("22")})
		assert.ErrorIs(t, err, ErrInvalidPin)
	})

	t.Run("Смена роли требует учетных данных", func(t *testing.T) {
		courier, err := ps.Create(ctx, CreatePersonInput{Email: "promote@example.com", Role: models.RoleCourier, Pin: "1111"})
		require.NoError(t, err)

		_, err = ps.Update(ctx, courier.ID, PersonPatch{Role: ptr(models.RoleAdmin)})
		assert.ErrorIs(t, err, ErrInvalidInput)

		promoted, err := ps.Update(ctx, courier.ID, PersonPatch{Role: ptr(models.RoleAdmin), Password: ptr("new-password")})
		require.NoError(t, err)
		assert.True(t, promoted.IsActiveAdmin())
	})

	t.Run("Список по роли", func(t *testing.T) {
		couriers, err := ps.List(ctx, models.RoleCourier)
		require.NoError(t, err)
		for _, p := range couriers {
			assert.Equal(t, models.RoleCourier, p.Role)
		}
		assert.NotEmpty(t, couriers)

		_, err = ps.Get(ctx, 9999)
		assert.ErrorIs(t, err, ErrPersonNotFound)
	})
}

func TestAuthService(t *testing.T) {
	as := NewAuthService("test-secret", "custody", time.Hour)
	person := &models.Person{ID: 42, Role: models.RoleAdmin}

	t.Run("Токен выпускается и проверяется", func(t *testing.T) {
		token, expires, err := as.IssueToken(person)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

		id, claims, err := as.ParseToken(token)
		require.NoError(t, err)
		assert.Equal(t, uint(42), id)
		assert.Equal(t, models.RoleAdmin, claims.Role)
	})

	t.Run("Чужой секрет", func(t *testing.T) {
		token, _, err := NewAuthService("other-secret", "custody", time.Hour).IssueToken(person)
		require.NoError(t, err)
		_, _, err = as.ParseToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Истекший токен", func(t *testing.T) {
		expired := NewAuthService("test-secret", "custody", time.Minute)
		expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, _, err := expired.IssueToken(person)
		require.NoError(t, err)

		_, _, err = as.ParseToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Мусор вместо токена", func(t *testing.T) {
		_, _, err := as.ParseToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestEnsureAdmin(t *testing.T) {
	db := testutils.SetupTestDB(t)
	ps := NewPersonService(db, NewCredentialService(bcrypt.MinCost))
	ctx := context.Background()

	created, err := ps.EnsureAdmin(ctx, "root@example.com", "bootstrap-pass")
	require.NoError(t, err)
	assert.True(t, created)

	admin, err := ps.Authenticate(ctx, "root@example.com", "bootstrap-pass")
	require.NoError(t, err)
	assert.True(t, admin.IsActiveAdmin())

	created, err = ps.EnsureAdmin(ctx, "other@example.com", "bootstrap-pass")
	require.NoError(t, err)
	assert.False(t, created, "активный администратор уже есть")

	testutils.Deactivate(t, db, admin)
	_, err = ps.EnsureAdmin(ctx, "root@example.com", "bootstrap-pass")
	assert.ErrorIs(t, err, ErrDuplicate)
}
