package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// UserBalance is the home-ledger accounted balance for one (user, asset)
// pair. Balances are mutated only by deposits, withdrawals, investment
// dispatch (debit) and proceeds receipt (credit), and are never negative.
type UserBalance struct {
	User      common.Address `json:"user"`
	Asset     common.Address `json:"asset"`
	Amount    *big.Int       `json:"amount"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HomePositionStatus is the lifecycle of the home-side mirror record of an
// outbound investment.
type HomePositionStatus string

const (
	HomePositionStatusInvested HomePositionStatus = "invested"
	HomePositionStatusReturned HomePositionStatus = "returned"
	HomePositionStatusClosed   HomePositionStatus = "closed"

	// HomePositionStatusFailed parks a dispatched investment whose
	// delivery could not be confirmed. The debit stands; an operator
	// reconciles the record against the destination ledger.
	HomePositionStatusFailed HomePositionStatus = "failed"
)

// HomePosition mirrors a dispatched investment on the home ledger so that the
// eventual return instruction can credit the depositor exactly once and close
// the record.
type HomePosition struct {
	CorrelationID  string             `json:"correlation_id"`
	User           common.Address     `json:"user"`
	Asset          common.Address     `json:"asset"`
	Amount         *big.Int           `json:"amount"`
	DestChainID    uint64             `json:"dest_chain_id"`
	Status         HomePositionStatus `json:"status"`
	ReturnedAmount *big.Int           `json:"returned_amount,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	ClosedAt       *time.Time         `json:"closed_at,omitempty"`
}

// ChainDestination is a registry entry describing a reachable counter-ledger.
// Entries are one-way freezable: once Frozen is set, further writes to the
// entry are rejected permanently.
type ChainDestination struct {
	ChainID       uint64         `json:"chain_id"`
	Name          string         `json:"name"`
	Encoded       []byte         `json:"encoded"` // opaque destination-encoding bytes for the transport
	Executor      common.Address `json:"executor"`
	TransportAddr string         `json:"transport_addr"`
	Supported     bool           `json:"supported"`
	Frozen        bool           `json:"frozen"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
