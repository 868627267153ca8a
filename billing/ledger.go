/*
ledger.go - Settlement ledger: virtual-or-sealed reads

PURPOSE:
  Answers "what is trainer T owed for month M". If a sealed settlement
  exists it is returned verbatim and never recomputed. Otherwise a virtual
  snapshot is computed from the current source records.

OPERATIONS:
  Get(trainer, month)       Single snapshot
  List(month)               Snapshot for every trainer (admin summary)
  Breakdown(trainer, month) Snapshot plus its line items

CONCURRENCY:
  All operations are read-only. List fans out per trainer with a bounded
  errgroup.

SEE ALSO:
  - aggregate.go: Selects blocks and evaluations
  - calculator.go: Turns them into amounts
  - seal.go: The only path that creates a sealed settlement
*/
package billing

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultListConcurrency = 4

type Ledger struct {
	Store   Store
	Pricing *PricingSchedule
	Logger  *zap.Logger

	// Concurrency bounds the per-trainer fan-out in List.
	Concurrency int
}

func NewLedger(store Store, pricing *PricingSchedule, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		Store:       store,
		Pricing:     pricing,
		Logger:      logger.Named("ledger"),
		Concurrency: defaultListConcurrency,
	}
}

// Get returns the sealed settlement for the pair if one exists, else a
// freshly computed virtual snapshot.
func (l *Ledger) Get(ctx context.Context, trainerID TrainerID, month Month) (Snapshot, error) {
	if err := validateKey(trainerID, month); err != nil {
		return nil, err
	}

	existing, err := l.Store.GetSettlement(ctx, trainerID, month)
	if err != nil {
		return nil, fmt.Errorf("load settlement: %w", err)
	}
	if existing != nil && existing.IsSealed() {
		return &SealedSettlement{Settlement: *existing}, nil
	}

	if _, err := l.Store.GetTrainer(ctx, trainerID); err != nil {
		return nil, err
	}
	return computeVirtual(ctx, l.Store, trainerID, month, l.Pricing.For(month))
}

// List returns one snapshot per trainer, in the store's trainer order.
func (l *Ledger) List(ctx context.Context, month Month) ([]Snapshot, error) {
	if month.IsZero() {
		return nil, &ValidationError{Field: "month", Message: "required"}
	}

	trainers, err := l.Store.ListTrainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trainers: %w", err)
	}
	settlements, err := l.Store.ListSettlements(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	sealed := make(map[TrainerID]Settlement, len(settlements))
	for _, s := range settlements {
		if s.IsSealed() {
			sealed[s.TrainerID] = s
		}
	}

	pricing := l.Pricing.For(month)
	out := make([]Snapshot, len(trainers))

	g, gctx := errgroup.WithContext(ctx)
	limit := l.Concurrency
	if limit <= 0 {
		limit = defaultListConcurrency
	}
	g.SetLimit(limit)
	for i, t := range trainers {
		if s, ok := sealed[t.ID]; ok {
			out[i] = &SealedSettlement{Settlement: s}
			continue
		}
		i, t := i, t
		g.Go(func() error {
			v, err := computeVirtual(gctx, l.Store, t.ID, month, pricing)
			if err != nil {
				return fmt.Errorf("trainer %s: %w", t.ID, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	l.Logger.Debug("listed settlements",
		zap.String("month", month.String()),
		zap.Int("trainers", len(trainers)),
		zap.Int("sealed", len(sealed)))
	return out, nil
}

// Breakdown pairs a snapshot with its billing concepts. For a sealed
// settlement the concepts come from the records stamped with its ID.
type Breakdown struct {
	Snapshot Snapshot
	Concepts []Concept
}

func (l *Ledger) Breakdown(ctx context.Context, trainerID TrainerID, month Month) (*Breakdown, error) {
	snap, err := l.Get(ctx, trainerID, month)
	if err != nil {
		return nil, err
	}

	switch s := snap.(type) {
	case *VirtualSettlement:
		return &Breakdown{Snapshot: s, Concepts: s.Collection.Concepts()}, nil
	case *SealedSettlement:
		agg := &Aggregator{Source: l.Store}
		col, err := agg.CollectSealed(ctx, s.Settlement)
		if err != nil {
			return nil, err
		}
		return &Breakdown{Snapshot: s, Concepts: col.Concepts()}, nil
	default:
		return nil, fmt.Errorf("unexpected snapshot type %T", snap)
	}
}

func computeVirtual(ctx context.Context, src RecordSource, trainerID TrainerID, month Month, p Pricing) (*VirtualSettlement, error) {
	agg := &Aggregator{Source: src}
	col, err := agg.Collect(ctx, trainerID, month, p)
	if err != nil {
		return nil, err
	}
	return newVirtual(col), nil
}

func validateKey(trainerID TrainerID, month Month) error {
	if trainerID == "" {
		return &ValidationError{Field: "trainer", Message: "required"}
	}
	if month.IsZero() {
		return &ValidationError{Field: "month", Message: "required"}
	}
	return nil
}
