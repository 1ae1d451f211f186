package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"gorm.io/gorm"

	"custody_backend/models"
)

// CreatePersonInput данные для создания сотрудника
type CreatePersonInput struct {
	Email    string            `json:"email" binding:"required"`
	FullName string            `json:"full_name"`
	Role     models.PersonRole `json:"role" binding:"required"`
	Password string            `json:"password"`
	Pin      string            `json:"pin"`
}

// PersonPatch частичное обновление сотрудника
type PersonPatch struct {
	Email    *string            `json:"email"`
	FullName *string            `json:"full_name"`
	Role     *models.PersonRole `json:"role"`
	Active   *bool              `json:"active"`
	Password *string            `json:"password"`
	Pin      *string            `json:"pin"`
}

// PersonService управляет сотрудниками
type PersonService struct {
	DB          *gorm.DB
	Credentials *CredentialService
}

// NewPersonService создает новый сервис сотрудников
func NewPersonService(db *gorm.DB, credentials *CredentialService) *PersonService {
	return &PersonService{DB: db, Credentials: credentials}
}

// List возвращает сотрудников, при необходимости только указанной роли
func (ps *PersonService) List(ctx context.Context, role models.PersonRole) ([]models.Person, error) {
	query := ps.DB.WithContext(ctx).Order("full_name ASC, email ASC")
	if role != "" {
		query = query.Where("role = ?", role)
	}

	var persons []models.Person
	if err := query.Find(&persons).Error; err != nil {
		return nil, fmt.Errorf("ошибка при получении сотрудников: %w", err)
	}
	return persons, nil
}

// Get возвращает сотрудника по идентификатору
func (ps *PersonService) Get(ctx context.Context, id uint) (*models.Person, error) {
	var person models.Person
	if err := ps.DB.WithContext(ctx).First(&person, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPersonNotFound
		}
		return nil, fmt.Errorf("ошибка при получении сотрудника: %w", err)
	}
	return &person, nil
}

// Create создает сотрудника. ADMIN требует пароль, COURIER требует PIN из 4-6 цифр.
func (ps *PersonService) Create(ctx context.Context, in CreatePersonInput) (*models.Person, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if !in.Role.IsValid() {
		return nil, fmt.Errorf("%w: неизвестная роль %q", ErrInvalidInput, in.Role)
	}

	person := models.Person{
		Email:    email,
		FullName: strings.TrimSpace(in.FullName),
		Role:     in.Role,
		Active:   true,
	}

	switch in.Role {
	case models.RoleAdmin:
		if len(in.Password) < 8 {
			return nil, fmt.Errorf("%w: пароль должен содержать не менее 8 символов", ErrInvalidInput)
		}
		hash, err := ps.Credentials.Hash(in.Password)
		if err != nil {
			return nil, err
		}
		person.PasswordHash = hash
	case models.RoleCourier:
		hash, err := ps.Credentials.HashPin(in.Pin)
		if err != nil {
			return nil, err
		}
		person.PinHash = &hash
	}

	if err := ps.ensureUniqueEmail(ctx, email, 0); err != nil {
		return nil, err
	}
	if err := ps.DB.WithContext(ctx).Create(&person).Error; err != nil {
		return nil, fmt.Errorf("ошибка при создании сотрудника: %w", err)
	}
	return &person, nil
}

// Update применяет частичное обновление, включая сброс PIN
func (ps *PersonService) Update(ctx context.Context, id uint, patch PersonPatch) (*models.Person, error) {
	person, err := ps.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if patch.Email != nil {
		email, err := normalizeEmail(*patch.Email)
		if err != nil {
			return nil, err
		}
		if email != person.Email {
			if err := ps.ensureUniqueEmail(ctx, email, id); err != nil {
				return nil, err
			}
			updates["email"] = email
		}
	}
	if patch.FullName != nil {
		updates["full_name"] = strings.TrimSpace(*patch.FullName)
	}
	role := person.Role
	if patch.Role != nil {
		if !patch.Role.IsValid() {
			return nil, fmt.Errorf("%w: неизвестная роль %q", ErrInvalidInput, *patch.Role)
		}
		role = *patch.Role
		updates["role"] = role
	}
	if patch.Active != nil {
		updates["active"] = *patch.Active
	}
	if patch.Password != nil {
		if len(*patch.Password) < 8 {
			return nil, fmt.Errorf("%w: пароль должен содержать не менее 8 символов", ErrInvalidInput)
		}
		hash, err := ps.Credentials.Hash(*patch.Password)
		if err != nil {
			return nil, err
		}
		updates["password_hash"] = hash
	}
	if patch.Pin != nil {
		hash, err := ps.Credentials.HashPin(*patch.Pin)
		if err != nil {
			return nil, err
		}
		updates["pin_hash"] = hash
	}

	// курьер без PIN не сможет подтвердить ни одну передачу
	if role == models.RoleCourier && person.PinHash == nil && patch.Pin == nil {
		return nil, fmt.Errorf("%w: для курьера требуется PIN", ErrInvalidInput)
	}
	if role == models.RoleAdmin && person.PasswordHash == "" && patch.Password == nil {
		return nil, fmt.Errorf("%w: для администратора требуется пароль", ErrInvalidInput)
	}

	if len(updates) > 0 {
		if err := ps.DB.WithContext(ctx).Model(&models.Person{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("ошибка при обновлении сотрудника: %w", err)
		}
	}
	return ps.Get(ctx, id)
}

// Authenticate проверяет email и пароль активного администратора
func (ps *PersonService) Authenticate(ctx context.Context, email, password string) (*models.Person, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var person models.Person
	err := ps.DB.WithContext(ctx).Where("email = ?", email).First(&person).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("ошибка при получении сотрудника: %w", err)
	}

	hash := person.PasswordHash
	if !ps.Credentials.Verify(password, &hash) || !person.IsActiveAdmin() {
		return nil, ErrInvalidLogin
	}
	return &person, nil
}

// EnsureAdmin создает администратора, если в системе нет ни одного активного.
// Возвращает true, если учетная запись была создана.
func (ps *PersonService) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	var count int64
	if err := ps.DB.WithContext(ctx).Model(&models.Person{}).
		Where("role = ? AND active = ?", models.RoleAdmin, true).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("ошибка при проверке администраторов: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if _, err := ps.Create(ctx, CreatePersonInput{
		Email:    email,
		FullName: "Administrator",
		Role:     models.RoleAdmin,
		Password: password,
	}); err != nil {
		return false, fmt.Errorf("не удалось создать администратора: %w", err)
	}
	return true, nil
}

func (ps *PersonService) ensureUniqueEmail(ctx context.Context, email string, exceptID uint) error {
	var count int64
	if err := ps.DB.WithContext(ctx).Model(&models.Person{}).
		Where("email = ? AND id <> ?", email, exceptID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("ошибка при проверке email: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: email %s", ErrDuplicate, email)
	}
	return nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: некорректный email", ErrInvalidInput)
	}
	return email, nil
}
