/*
Package billing provides the trainer settlement and billing engine.

PURPOSE:
  Computes, per calendar month, what the business owes each contracted
  trainer for completed work, and seals that amount so the same sessions
  and evaluations can never be billed twice.

KEY CONCEPTS IN THIS FILE (types.go):
  - Trainer, Client, Session, Evaluation: the records the engine reads
  - Settlement: the persisted, sealed amount owed for one (trainer, month)
  - Amounts: the financial breakdown (gross, base, deduction, net, tax, total)
  - Type-safe identifiers

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Exclusion by flag: a stamped record (paid + settlement ref) is out of
     every future computation, regardless of dates
  3. Immutability: a sealed settlement is never recomputed from live data
  4. Explicit attribution: clients carry the trainer they belong to

SEE ALSO:
  - block.go: Groups sessions into billable blocks
  - calculator.go: Deduction and tax arithmetic
  - ledger.go: Virtual-or-sealed settlement reads
  - seal.go: The one-way sealing operation
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TrainerID string
type ClientID string
type SessionID string
type EvaluationID string
type SettlementID string

// =============================================================================
// SOURCE RECORDS - Owned by the CRUD layer, read-only here
// =============================================================================

type Trainer struct {
	ID   TrainerID
	Name string
}

// Client owns sessions and evaluations. TrainerID is the explicit
// attribution; when empty the trainer of the client's latest evaluation
// is used instead.
type Client struct {
	ID        ClientID
	Name      string
	TrainerID TrainerID
}

type Session struct {
	ID            SessionID
	ClientID      ClientID
	Number        int
	Date          time.Time
	Completed     bool
	SettlementRef SettlementID
	Paid          bool
}

// Stamped reports whether the session already belongs to a settlement.
func (s Session) Stamped() bool { return s.Paid || s.SettlementRef != "" }

type Evaluation struct {
	ID            EvaluationID
	ClientID      ClientID
	TrainerID     TrainerID
	Result        string
	CreatedAt     time.Time
	SettlementRef SettlementID
	Paid          bool
}

// Stamped reports whether the evaluation already belongs to a settlement.
func (e Evaluation) Stamped() bool { return e.Paid || e.SettlementRef != "" }

// =============================================================================
// AMOUNTS - Financial breakdown of one settlement
// =============================================================================

// Amounts is the result of the deduction and tax calculation.
// Values are full precision until Round is called.
type Amounts struct {
	Gross           decimal.Decimal // sum of block prices (VAT-inclusive)
	Base            decimal.Decimal // gross with VAT backed out
	Deducted        decimal.Decimal // evaluation count * evaluation price
	Net             decimal.Decimal // max(0, base - deducted)
	Tax             decimal.Decimal
	Total           decimal.Decimal
	BlockCount      int
	EvaluationCount int
}

// Round returns the persisted form: every component at 2 decimal places,
// with Total recomputed from the rounded parts so Total == Net + Tax holds
// exactly on the stored row.
func (a Amounts) Round() Amounts {
	r := a
	r.Gross = a.Gross.Round(2)
	r.Base = a.Base.Round(2)
	r.Deducted = a.Deducted.Round(2)
	r.Net = a.Net.Round(2)
	r.Tax = a.Tax.Round(2)
	r.Total = r.Net.Add(r.Tax)
	return r
}

// =============================================================================
// SETTLEMENT - Persisted, sealed amount for (trainer, month)
// =============================================================================

type Status string

const (
	StatusUnsealed Status = "unsealed"
	StatusSealed   Status = "sealed"
)

// Sources lists the records a sealed settlement was computed from.
// Kept with the settlement so stamping can be resumed after a failure.
type Sources struct {
	SessionIDs    []SessionID    `json:"session_ids"`
	EvaluationIDs []EvaluationID `json:"evaluation_ids"`
}

// Settlement is the stored row. There is at most one per (TrainerID, Month).
type Settlement struct {
	ID        SettlementID
	TrainerID TrainerID
	Month     Month
	Amounts   Amounts
	Status    Status
	Pricing   Pricing
	Sources   Sources
	SealedAt  time.Time
	SealedBy  string
	CreatedAt time.Time
}

func (s Settlement) IsSealed() bool { return s.Status == StatusSealed }
