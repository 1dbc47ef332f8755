package core

import "time"

// RepairStatus tracks a queued ledger repair.
type RepairStatus string

const (
	RepairPending RepairStatus = "pending"
	RepairFailed  RepairStatus = "failed"
)

// Repair is a set of net adjustments that still has to reach the balances,
// typically the reversal of a transaction that was deleted while the ledger
// write failed.
type Repair struct {
	ID            string       `json:"id"`
	OwnerUID      string       `json:"ownerUid"`
	TransactionID string       `json:"transactionId"`
	Adjustments   []Adjustment `json:"adjustments"`
	Reason        string       `json:"reason,omitempty"`
	Attempts      int          `json:"attempts"`
	Status        RepairStatus `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}
