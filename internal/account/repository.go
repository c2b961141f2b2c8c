package account

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrStudentNotFound = errors.New("student not found")
	ErrStudentExists   = errors.New("student already exists")
)

// GormRepository stores students through GORM.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, s *Student) error {
	model := &StudentModel{
		USN:          s.USN,
		Name:         s.Name,
		PasswordHash: s.PasswordHash,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return r.handleError(err)
	}
	s.CreatedAt = model.CreatedAt
	return nil
}

func (r *GormRepository) GetByUSN(ctx context.Context, usn string) (*Student, error) {
	var model StudentModel
	result := r.db.WithContext(ctx).First(&model, "usn = ?", usn)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// Exists reports whether usn has an account.
func (r *GormRepository) Exists(ctx context.Context, usn string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&StudentModel{}).Where("usn = ?", usn).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// handleError maps unique violations from sqlite, postgres and mysql.
func (r *GormRepository) handleError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrStudentExists
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "Duplicate entry") {
		return ErrStudentExists
	}
	return err
}
