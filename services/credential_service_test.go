package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCredentialService(t *testing.T) {
	cs := NewCredentialService(bcrypt.MinCost)

	t.Run("Чужой PIN не проходит проверку", func(t *testing.T) {
		hash, err := cs.HashPin("54321")
		require.NoError(t, err)
		assert.False(t, cs.Verify("12345", &hash))
	})

	t.Run("Собственный PIN проходит проверку", func(t *testing.T) {
		hash, err := cs.HashPin("1234")
		require.NoError(t, err)
		assert.True(t, cs.Verify("1234", &hash))
	})

	t.Run("Отсутствующий хэш", func(t *testing.T) {
		assert.False(t, cs.Verify("1234", nil))
		empty := ""
		assert.False(t, cs.Verify("1234", &empty))
	})

	t.Run("Хэши одного PIN различаются", func(t *testing.T) {
		h1, err := cs.HashPin("1234")
		require.NoError(t, err)
		h2, err := cs.HashPin("1234")
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("Формат PIN", func(t *testing.T) {
		for _, pin := range []string{"1234", "12345", "123456"} {
			assert.True(t, ValidPinFormat(pin), pin)
		}
		for _, pin := range []string{"", "123", "1234567", "12a4", " 1234", "١٢٣٤"} {
			assert.False(t, ValidPinFormat(pin), pin)
		}

		_, err := cs.HashPin("12")
		assert.ErrorIs(t, err, ErrInvalidPin)
	})

	t.Run("Некорректная стоимость заменяется значением по умолчанию", func(t *testing.T) {
		assert.Equal(t, bcrypt.DefaultCost, NewCredentialService(99).cost)
	})
}
