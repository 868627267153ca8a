package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ATTRIBUTION - Which trainer a client's work belongs to
// =============================================================================

// AttributedTrainer returns the trainer a client's sessions are billed to:
// the client's explicit TrainerID, or, when that is empty, the trainer of
// the client's most recent evaluation that names one.
func AttributedTrainer(c Client, evals []Evaluation) TrainerID {
	if c.TrainerID != "" {
		return c.TrainerID
	}
	var (
		latest TrainerID
		at     time.Time
	)
	for _, e := range evals {
		if e.TrainerID == "" {
			continue
		}
		if latest == "" || e.CreatedAt.After(at) {
			latest, at = e.TrainerID, e.CreatedAt
		}
	}
	return latest
}

// =============================================================================
// COLLECTION - The records one settlement is computed from
// =============================================================================

type Collection struct {
	TrainerID   TrainerID
	Month       Month
	Pricing     Pricing
	Blocks      []Block
	Evaluations []Evaluation
	ClientNames map[ClientID]string
}

// Amounts returns the full-precision amounts for the collection.
func (c *Collection) Amounts() Amounts {
	return CalculateBlocks(c.Pricing, c.Blocks, len(c.Evaluations))
}

// Sources lists every session and evaluation the collection bills.
func (c *Collection) Sources() Sources {
	src := Sources{
		SessionIDs:    make([]SessionID, 0, len(c.Blocks)*c.Pricing.BlockSize),
		EvaluationIDs: make([]EvaluationID, 0, len(c.Evaluations)),
	}
	for _, b := range c.Blocks {
		src.SessionIDs = append(src.SessionIDs, b.SessionIDs...)
	}
	for _, e := range c.Evaluations {
		src.EvaluationIDs = append(src.EvaluationIDs, e.ID)
	}
	return src
}

// =============================================================================
// BILLING CONCEPTS - Trainer-facing line items, never persisted
// =============================================================================

type ConceptKind string

const (
	ConceptBlock               ConceptKind = "block"
	ConceptEvaluationDeduction ConceptKind = "evaluation_deduction"
)

type Concept struct {
	Kind         ConceptKind
	ClientID     ClientID
	ClientName   string
	Date         time.Time
	Amount       decimal.Decimal // positive for blocks, negative for deductions
	SessionIDs   []SessionID
	EvaluationID EvaluationID
}

// Concepts returns one line per block and per evaluation, ordered by date.
func (c *Collection) Concepts() []Concept {
	concepts := make([]Concept, 0, len(c.Blocks)+len(c.Evaluations))
	for _, b := range c.Blocks {
		concepts = append(concepts, Concept{
			Kind:       ConceptBlock,
			ClientID:   b.ClientID,
			ClientName: c.ClientNames[b.ClientID],
			Date:       b.Date,
			Amount:     b.Gross,
			SessionIDs: b.SessionIDs,
		})
	}
	for _, e := range c.Evaluations {
		concepts = append(concepts, Concept{
			Kind:         ConceptEvaluationDeduction,
			ClientID:     e.ClientID,
			ClientName:   c.ClientNames[e.ClientID],
			Date:         e.CreatedAt,
			Amount:       c.Pricing.EvalPrice.Neg(),
			EvaluationID: e.ID,
		})
	}
	sort.SliceStable(concepts, func(i, j int) bool {
		return concepts[i].Date.Before(concepts[j].Date)
	})
	return concepts
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator reads source records and selects what a trainer is owed.
// It never writes, so any number of aggregations may run concurrently.
type Aggregator struct {
	Source RecordSource
}

// Collect selects the unstamped work attributed to the trainer for the month:
// blocks whose closing session falls in the month, and evaluations the
// trainer performed in the month. Stamped records are always skipped.
func (a *Aggregator) Collect(ctx context.Context, trainerID TrainerID, month Month, p Pricing) (*Collection, error) {
	return a.collect(ctx, trainerID, month, p, func(c Client, evals []Evaluation, b Block) bool {
		return !b.Paid && month.Contains(b.Date) && AttributedTrainer(c, evals) == trainerID
	}, func(e Evaluation) bool {
		return !e.Stamped() && e.TrainerID == trainerID && month.Contains(e.CreatedAt)
	})
}

// CollectSealed returns the records stamped with the settlement's ID,
// regardless of current attribution. Used to display a sealed breakdown.
func (a *Aggregator) CollectSealed(ctx context.Context, s Settlement) (*Collection, error) {
	return a.collect(ctx, s.TrainerID, s.Month, s.Pricing, func(_ Client, _ []Evaluation, b Block) bool {
		return b.StampedBy(s.ID)
	}, func(e Evaluation) bool {
		return e.SettlementRef == s.ID
	})
}

func (a *Aggregator) collect(
	ctx context.Context,
	trainerID TrainerID,
	month Month,
	p Pricing,
	keepBlock func(Client, []Evaluation, Block) bool,
	keepEval func(Evaluation) bool,
) (*Collection, error) {
	clients, err := a.Source.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}

	col := &Collection{
		TrainerID:   trainerID,
		Month:       month,
		Pricing:     p,
		ClientNames: make(map[ClientID]string),
	}
	for _, c := range clients {
		evals, err := a.Source.ListEvaluations(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("list evaluations for client %s: %w", c.ID, err)
		}
		sessions, err := a.Source.ListSessions(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("list sessions for client %s: %w", c.ID, err)
		}

		used := false
		for _, e := range evals {
			if keepEval(e) {
				col.Evaluations = append(col.Evaluations, e)
				used = true
			}
		}
		for _, b := range BuildBlocks(c.ID, sessions, p) {
			if keepBlock(c, evals, b) {
				col.Blocks = append(col.Blocks, b)
				used = true
			}
		}
		if used {
			col.ClientNames[c.ID] = c.Name
		}
	}

	sort.SliceStable(col.Blocks, func(i, j int) bool {
		return col.Blocks[i].Date.Before(col.Blocks[j].Date)
	})
	sort.SliceStable(col.Evaluations, func(i, j int) bool {
		return col.Evaluations[i].CreatedAt.Before(col.Evaluations[j].CreatedAt)
	})
	return col, nil
}
