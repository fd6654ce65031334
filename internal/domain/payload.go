package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Payload is a cross-ledger message body. The transport treats payloads as
// opaque; the kind tag selects the handler on the receiving side.
type Payload interface {
	Kind() string
}

// InvestPayload instructs a destination-side executor to open a liquidity
// position funded by the attached deposit. EncodedParams is the versioned
// instruction blob; the receiver decodes and validates it before persisting
// anything.
type InvestPayload struct {
	CorrelationID string         `json:"correlation_id"`
	Asset         common.Address `json:"asset"`
	Amount        *big.Int       `json:"amount"`
	Owner         common.Address `json:"owner"`
	EncodedParams []byte         `json:"encoded_params"`
}

func (InvestPayload) Kind() string { return "invest" }

// ReturnPayload carries liquidation (or cancellation) proceeds back to the
// home ledger, where the recipient is credited exactly once per correlation
// id.
type ReturnPayload struct {
	CorrelationID string         `json:"correlation_id"`
	Asset         common.Address `json:"asset"`
	Amount        *big.Int       `json:"amount"`
	Recipient     common.Address `json:"recipient"`
}

func (ReturnPayload) Kind() string { return "return" }
