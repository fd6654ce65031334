package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PercentScale is the fixed-point scale for range percentages: 1,000,000
// units equal 100%, giving 0.0001% resolution.
const PercentScale = 1_000_000

// MaxSlippageBps is the upper bound for slippage tolerances (100%).
const MaxSlippageBps = 10_000

// instructionVersion is the only wire version this build understands. The
// decoder rejects anything else so that a malformed or future-format blob
// fails loudly instead of being half-interpreted.
const instructionVersion = 1

// InvestmentParams is the decoded form of the encoded parameter blob attached
// to a cross-ledger investment instruction: which pool to enter, how the
// position should be denominated, the declared range, and slippage tolerance.
type InvestmentParams struct {
	Version        int            `json:"version"`
	Pool           common.Address `json:"pool"`
	BaseAsset      common.Address `json:"base_asset"`
	Amount0Desired *big.Int       `json:"amount0_desired"`
	Amount1Desired *big.Int       `json:"amount1_desired"`
	LowerRangePct  int64          `json:"lower_range_pct"` // signed, PercentScale units, must be < 0
	UpperRangePct  int64          `json:"upper_range_pct"` // signed, PercentScale units, must be > 0
	SlippageBps    int64          `json:"slippage_bps"`
	HomeChainID    uint64         `json:"home_chain_id"`
}

// Validate checks the decoded parameters against the range and slippage
// invariants. The range must straddle the current price and the lower bound
// must imply a positive price.
func (p InvestmentParams) Validate() error {
	if p.Pool == (common.Address{}) {
		return fmt.Errorf("%w: pool address required", ErrInvalidParams)
	}
	if p.LowerRangePct >= 0 || p.UpperRangePct <= 0 {
		return fmt.Errorf("%w: band [%d, %d] must straddle the current price", ErrInvalidRange, p.LowerRangePct, p.UpperRangePct)
	}
	if p.LowerRangePct <= -PercentScale {
		return fmt.Errorf("%w: lower bound %d implies a non-positive price", ErrInvalidRange, p.LowerRangePct)
	}
	if p.SlippageBps < 0 || p.SlippageBps > MaxSlippageBps {
		return fmt.Errorf("%w: slippage %d bps out of [0, %d]", ErrInvalidParams, p.SlippageBps, MaxSlippageBps)
	}
	if p.Amount0Desired == nil && p.Amount1Desired == nil {
		return fmt.Errorf("%w: at least one desired amount required", ErrInvalidParams)
	}
	if p.HomeChainID == 0 {
		return fmt.Errorf("%w: home chain id required", ErrInvalidParams)
	}
	return nil
}

// EncodeInvestmentParams serializes params into the versioned wire blob.
func EncodeInvestmentParams(p InvestmentParams) ([]byte, error) {
	p.Version = instructionVersion
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("domain: encode investment params: %w", err)
	}
	return data, nil
}

// DecodeInvestmentParams parses an encoded parameter blob. Unknown fields,
// unknown versions, and shape violations are all decode failures; a blob is
// either fully understood or rejected.
func DecodeInvestmentParams(data []byte) (InvestmentParams, error) {
	var p InvestmentParams

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return InvestmentParams{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if p.Version != instructionVersion {
		return InvestmentParams{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidParams, p.Version)
	}
	if err := p.Validate(); err != nil {
		return InvestmentParams{}, err
	}
	if p.Amount0Desired == nil {
		p.Amount0Desired = new(big.Int)
	}
	if p.Amount1Desired == nil {
		p.Amount1Desired = new(big.Int)
	}
	return p, nil
}
