package database

import "time"

// Account is a wallet account known to the service. The nonce is rotated on
// every successful login so a captured signature cannot be replayed.
type Account struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Pubkey    string    `gorm:"uniqueIndex" json:"pubkey"`
	Nonce     string    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// Task is a quoted rank-up attempt for a specific mint. A task is priced at
// creation time and finalized exactly once after its payment settles.
type Task struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	Account     string    `gorm:"index" json:"account"`
	MintAddress string    `gorm:"index" json:"mint_address"`
	Price       int64     `json:"price"`
	Success     bool      `json:"success"`
	Finalized   bool      `gorm:"index" json:"finalized"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"-"`
}

// Payment records the fee owed for a task. The amount is copied from the
// task's quoted price so later table changes never reprice an open payment.
type Payment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Account   string    `gorm:"index" json:"account"`
	TaskID    uint      `gorm:"index" json:"task_id"`
	Amount    int64     `json:"amount"`
	Success   bool      `json:"success"`
	Tx        string    `json:"tx"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// History is the append-only record of completed rank-up attempts. CID keeps
// the published metadata reachable even when the on-chain pointer update
// failed and has to be reconciled later.
type History struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	Account     string    `gorm:"index" json:"account"`
	MintAddress string    `gorm:"index" json:"mint_address"`
	PaymentID   uint      `json:"payment_id"`
	TaskID      uint      `json:"task_id"`
	Signature   string    `json:"signature"`
	Price       int64     `json:"price"`
	Success     bool      `json:"success"`
	CID         string    `json:"cid"`
	FinishedAt  time.Time `gorm:"index" json:"finished_at"`
}
