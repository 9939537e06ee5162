package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PageSize is the fixed number of rows returned by the list queries.
const PageSize = 10

var (
	ErrNotFound = errors.New("record not found")

	// ErrTaskAlreadyPaid rejects confirming a payment whose task already
	// carries a settled payment.
	ErrTaskAlreadyPaid = errors.New("task already has a settled payment")
)

// Store wraps the SQLite database holding accounts, tasks, payments and the
// rank-up history ledger.
type Store struct {
	db *gorm.DB
}

// Open initializes the SQLite database at dbPath and migrates the schema.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
	}

	// Keep GORM quiet unless something is actually wrong
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	err = db.AutoMigrate(
		&Account{},
		&Task{},
		&Payment{},
		&History{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}

	return &Store{db: db}, nil
}

// IssueNonce returns the account for pubkey with a fresh login nonce,
// creating the account on first contact.
func (s *Store) IssueNonce(pubkey string) (*Account, error) {
	nonce := uuid.NewString()

	var account Account
	err := s.db.Where("pubkey = ?", pubkey).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = Account{
			Pubkey: pubkey,
			Nonce:  nonce,
		}
		if err := s.db.Create(&account).Error; err != nil {
			return nil, fmt.Errorf("failed to create account: %v", err)
		}
		return &account, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(&account).Update("nonce", nonce).Error; err != nil {
		return nil, fmt.Errorf("failed to rotate nonce: %v", err)
	}
	account.Nonce = nonce
	return &account, nil
}

// GetAccount retrieves an account by its pubkey.
func (s *Store) GetAccount(pubkey string) (*Account, error) {
	var account Account
	if err := s.db.Where("pubkey = ?", pubkey).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

// RotateNonce replaces the account's nonce after a successful login so the
// signed message cannot be replayed.
func (s *Store) RotateNonce(pubkey string) error {
	result := s.db.Model(&Account{}).
		Where("pubkey = ?", pubkey).
		Update("nonce", uuid.NewString())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateTask records a new rank-up task quoted at price.
func (s *Store) CreateTask(account, mintAddress string, price int64) (*Task, error) {
	task := Task{
		Account:     account,
		MintAddress: mintAddress,
		Price:       price,
	}
	if err := s.db.Create(&task).Error; err != nil {
		return nil, fmt.Errorf("failed to create task: %v", err)
	}
	return &task, nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(id uint) (*Task, error) {
	var task Task
	if err := s.db.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

// ListTasks returns one page of an account's tasks, newest first. Pages are
// numbered from 1.
func (s *Store) ListTasks(account string, page int) ([]Task, error) {
	if page < 1 {
		page = 1
	}
	var tasks []Task
	err := s.db.Where("account = ?", account).
		Order("id DESC").
		Limit(PageSize).
		Offset((page - 1) * PageSize).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// FinalizeTask marks a task as finalized with its outcome. It fails if the
// task was already finalized, which makes the settlement pipeline safe to
// re-trigger.
func (s *Store) FinalizeTask(id uint, success bool) error {
	result := s.db.Model(&Task{}).
		Where("id = ? AND finalized = ?", id, false).
		Updates(map[string]interface{}{
			"finalized": true,
			"success":   success,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePayment opens a payment for a task. The amount is copied from the
// task's quoted price.
func (s *Store) CreatePayment(account string, taskID uint) (*Payment, error) {
	task, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	payment := Payment{
		Account: account,
		TaskID:  task.ID,
		Amount:  task.Price,
	}
	if err := s.db.Create(&payment).Error; err != nil {
		return nil, fmt.Errorf("failed to create payment: %v", err)
	}
	return &payment, nil
}

// GetPayment retrieves a payment by id.
func (s *Store) GetPayment(id uint) (*Payment, error) {
	var payment Payment
	if err := s.db.First(&payment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// ListPayments returns one page of an account's payments, newest first.
func (s *Store) ListPayments(account string, page int) ([]Payment, error) {
	if page < 1 {
		page = 1
	}
	var payments []Payment
	err := s.db.Where("account = ?", account).
		Order("id DESC").
		Limit(PageSize).
		Offset((page - 1) * PageSize).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// ConfirmPayment records the settled transaction signature on a payment and
// marks it successful. At most one payment per task can ever reach success;
// the guard is a single conditional update so concurrent confirmations for
// the same task cannot both win. Re-confirming an already settled payment is
// a no-op.
func (s *Store) ConfirmPayment(id uint, tx string) error {
	result := s.db.Model(&Payment{}).
		Where("id = ? AND success = ?", id, false).
		Where("NOT EXISTS (SELECT 1 FROM payments settled WHERE settled.task_id = payments.task_id AND settled.success = ?)", true).
		Updates(map[string]interface{}{
			"success": true,
			"tx":      tx,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var payment Payment
		if err := s.db.First(&payment, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if payment.Success {
			return nil
		}
		return ErrTaskAlreadyPaid
	}
	return nil
}

// AppendHistory writes one completed attempt to the history ledger. History
// rows are never updated or deleted.
func (s *Store) AppendHistory(h *History) error {
	if h.FinishedAt.IsZero() {
		h.FinishedAt = time.Now()
	}
	if err := s.db.Create(h).Error; err != nil {
		return fmt.Errorf("failed to append history: %v", err)
	}
	return nil
}

// ListHistory returns one page of an account's history, newest first.
func (s *Store) ListHistory(account string, page int) ([]History, error) {
	if page < 1 {
		page = 1
	}
	var rows []History
	err := s.db.Where("account = ?", account).
		Order("id DESC").
		Limit(PageSize).
		Offset((page - 1) * PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// LatestSuccess returns the most recent successful attempt for a mint, or
// ErrNotFound when the mint has never ranked up.
func (s *Store) LatestSuccess(mintAddress string) (*History, error) {
	var row History
	err := s.db.Where("mint_address = ? AND success = ?", mintAddress, true).
		Order("id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// LatestAttempt returns the most recent attempt for a mint regardless of
// outcome, or ErrNotFound when none exists.
func (s *Store) LatestAttempt(mintAddress string) (*History, error) {
	var row History
	err := s.db.Where("mint_address = ?", mintAddress).
		Order("id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}
