package repositories

import (
	"errors"

	"gorm.io/gorm"

	"skylearn_backend/internal/models"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
)

// TransactionFilter narrows List results.
type TransactionFilter struct {
	UserID string
	Status models.TransactionStatus
}

type TransactionRepository interface {
	Create(txn *models.Transaction) error
	FindByID(id string) (*models.Transaction, error)
	FindByGatewayRef(gateway, ref string) (*models.Transaction, error)
	Update(txn *models.Transaction) error
	List(filter TransactionFilter, page, perPage int) ([]models.Transaction, int64, error)
}

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(txn *models.Transaction) error {
	return r.db.Create(txn).Error
}

func (r *transactionRepository) FindByID(id string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.Where("id = ?", id).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func (r *transactionRepository) FindByGatewayRef(gateway, ref string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.Where("gateway = ? AND gateway_ref = ?", gateway, ref).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func (r *transactionRepository) Update(txn *models.Transaction) error {
	return r.db.Save(txn).Error
}

func (r *transactionRepository) List(filter TransactionFilter, page, perPage int) ([]models.Transaction, int64, error) {
	query := r.db.Model(&models.Transaction{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txns []models.Transaction
	err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&txns).Error
	if err != nil {
		return nil, 0, err
	}

	return txns, total, nil
}
