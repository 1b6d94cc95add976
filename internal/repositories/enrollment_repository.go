package repositories

import (
	"errors"

	"gorm.io/gorm"

	"skylearn_backend/internal/models"
)

var (
	ErrGrantNotFound = errors.New("enrollment grant not found")
)

type EnrollmentRepository interface {
	// FindOrCreate returns the existing grant for (user, course, source)
	// or persists the given pending one. The bool reports whether a new
	// row was created.
	FindOrCreate(grant *models.EnrollmentGrant) (bool, error)
	Update(grant *models.EnrollmentGrant) error
	FindByID(id string) (*models.EnrollmentGrant, error)
	ListFailed(page, perPage int) ([]models.EnrollmentGrant, int64, error)
	// ListPending returns grants no worker has finished, oldest first, so
	// the dispatcher sweep can requeue work lost to restarts or a full
	// queue.
	ListPending(limit int) ([]models.EnrollmentGrant, error)
}

type enrollmentRepository struct {
	db *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

func (r *enrollmentRepository) FindOrCreate(grant *models.EnrollmentGrant) (bool, error) {
	var existing models.EnrollmentGrant
	err := r.db.
		Where("user_id = ? AND course_id = ? AND source_id = ? AND revoke = ?",
			grant.UserID, grant.CourseID, grant.SourceID, grant.Revoke).
		First(&existing).Error
	if err == nil {
		*grant = existing
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if err := r.db.Create(grant).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *enrollmentRepository) Update(grant *models.EnrollmentGrant) error {
	return r.db.Save(grant).Error
}

func (r *enrollmentRepository) FindByID(id string) (*models.EnrollmentGrant, error) {
	var grant models.EnrollmentGrant
	if err := r.db.Where("id = ?", id).First(&grant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	return &grant, nil
}

func (r *enrollmentRepository) ListFailed(page, perPage int) ([]models.EnrollmentGrant, int64, error) {
	query := r.db.Model(&models.EnrollmentGrant{}).
		Where("status = ?", models.GrantStatusFailed)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var grants []models.EnrollmentGrant
	err := query.Order("updated_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&grants).Error
	if err != nil {
		return nil, 0, err
	}

	return grants, total, nil
}

func (r *enrollmentRepository) ListPending(limit int) ([]models.EnrollmentGrant, error) {
	var grants []models.EnrollmentGrant
	err := r.db.
		Where("status = ?", models.GrantStatusPending).
		Order("updated_at ASC").
		Limit(limit).
		Find(&grants).Error
	return grants, err
}
