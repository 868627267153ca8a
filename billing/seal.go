/*
seal.go - The one-way sealing operation

PURPOSE:
  Fixes the amount owed to a trainer for a month and stamps every
  contributing session and evaluation so they are excluded from all
  future aggregation, for any trainer or month.

PRECONDITIONS:
  1. The admin explicitly confirmed (financial, one-way action)
  2. The settlement is not already sealed
  3. The computed total is positive

STEPS:
  1. Upsert the settlement row with status sealed and the rounded snapshot
  2. Stamp every contributing evaluation (settlement_ref, paid)
  3. Stamp every session of every contributing block

ATOMICITY:
  With a TxStore the snapshot is recomputed and all three steps run in one
  transaction. Without one the steps run in order; a failure after step 1
  returns *PartialFailureError and Resume re-runs the stamping from the
  source list persisted on the settlement. Stamping is idempotent.

CONCURRENCY:
  Seals are serialized per (trainer, month) within the process. The
  storage-level unique key on (trainer, month) and the sealed-row guard
  in UpsertSettlement cover other processes.

SEE ALSO:
  - ledger.go: Read side
  - errors.go: AlreadySealedError, PartialFailureError
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	stepStampEvaluations = "stamp_evaluations"
	stepStampSessions    = "stamp_sessions"
)

type SealRequest struct {
	TrainerID TrainerID
	Month     Month
	Confirmed bool
	Actor     string
}

func (r SealRequest) validate() error {
	if err := validateKey(r.TrainerID, r.Month); err != nil {
		return err
	}
	if !r.Confirmed {
		return &ValidationError{Field: "confirm", Message: "sealing is irreversible and must be confirmed"}
	}
	return nil
}

type Sealer struct {
	Store   Store
	Pricing *PricingSchedule
	Logger  *zap.Logger

	Now   func() time.Time
	NewID func() SettlementID

	locks keyedLocks
}

func NewSealer(store Store, pricing *PricingSchedule, logger *zap.Logger) *Sealer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sealer{
		Store:   store,
		Pricing: pricing,
		Logger:  logger.Named("sealer"),
		Now:     time.Now,
		NewID:   func() SettlementID { return SettlementID(uuid.NewString()) },
	}
}

// Seal persists the trainer's settlement for the month and stamps its
// sources. It returns the sealed settlement.
func (s *Sealer) Seal(ctx context.Context, req SealRequest) (*Settlement, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(lockKey(req.TrainerID, req.Month))
	defer unlock()

	log := s.Logger.With(
		zap.String("trainer_id", string(req.TrainerID)),
		zap.String("month", req.Month.String()),
		zap.String("actor", req.Actor),
	)

	var (
		sealed *Settlement
		err    error
	)
	if tx, ok := s.Store.(TxStore); ok {
		err = tx.WithTx(ctx, func(st Store) error {
			var stepErr error
			sealed, stepErr = s.sealSteps(ctx, st, req, true)
			return stepErr
		})
	} else {
		sealed, err = s.sealSteps(ctx, s.Store, req, false)
	}

	if err != nil {
		var partial *PartialFailureError
		switch {
		case errors.As(err, &partial):
			log.Error("seal partially applied, resume required",
				zap.String("settlement_id", string(partial.SettlementID)),
				zap.String("step", partial.Step),
				zap.Error(partial.Err))
		case IsClientError(err) || IsNotFound(err):
			log.Warn("seal rejected", zap.Error(err))
		default:
			log.Error("seal failed", zap.Error(err))
		}
		return nil, err
	}

	log.Info("settlement sealed",
		zap.String("settlement_id", string(sealed.ID)),
		zap.String("total", sealed.Amounts.Total.StringFixed(2)),
		zap.Int("blocks", sealed.Amounts.BlockCount),
		zap.Int("evaluations", sealed.Amounts.EvaluationCount),
		zap.String("pricing_version", sealed.Pricing.Version))
	return sealed, nil
}

func (s *Sealer) sealSteps(ctx context.Context, st Store, req SealRequest, atomic bool) (*Settlement, error) {
	existing, err := st.GetSettlement(ctx, req.TrainerID, req.Month)
	if err != nil {
		return nil, fmt.Errorf("load settlement: %w", err)
	}
	if existing != nil && existing.IsSealed() {
		return nil, &AlreadySealedError{
			TrainerID:    req.TrainerID,
			Month:        req.Month,
			SettlementID: existing.ID,
			SealedAt:     existing.SealedAt,
		}
	}
	if _, err := st.GetTrainer(ctx, req.TrainerID); err != nil {
		return nil, err
	}

	virtual, err := computeVirtual(ctx, st, req.TrainerID, req.Month, s.Pricing.For(req.Month))
	if err != nil {
		return nil, err
	}
	if !virtual.Amounts.Total.IsPositive() {
		return nil, ErrNothingToSeal
	}

	now := s.Now()
	settlement := virtual.Settlement
	settlement.ID = s.NewID()
	settlement.Status = StatusSealed
	settlement.SealedAt = now
	settlement.SealedBy = req.Actor
	settlement.CreatedAt = now

	id, err := st.UpsertSettlement(ctx, settlement)
	if err != nil {
		return nil, fmt.Errorf("persist settlement: %w", err)
	}
	settlement.ID = id

	if err := stampSources(ctx, st, settlement); err != nil {
		var partial *PartialFailureError
		if atomic && errors.As(err, &partial) {
			// The transaction rolls the settlement row back with the stamps.
			return nil, fmt.Errorf("%s: %w", partial.Step, partial.Err)
		}
		return nil, err
	}
	return &settlement, nil
}

// Resume re-runs the stamping steps of an already sealed settlement. It is
// the recovery path for *PartialFailureError and is safe to call any
// number of times.
func (s *Sealer) Resume(ctx context.Context, trainerID TrainerID, month Month) (*Settlement, error) {
	if err := validateKey(trainerID, month); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(lockKey(trainerID, month))
	defer unlock()

	var settlement *Settlement
	run := func(st Store) error {
		existing, err := st.GetSettlement(ctx, trainerID, month)
		if err != nil {
			return fmt.Errorf("load settlement: %w", err)
		}
		if existing == nil {
			return &NotFoundError{Kind: "settlement", ID: lockKey(trainerID, month)}
		}
		if !existing.IsSealed() {
			return ErrNotSealed
		}
		settlement = existing
		return stampSources(ctx, st, *existing)
	}

	var err error
	if tx, ok := s.Store.(TxStore); ok {
		err = tx.WithTx(ctx, run)
	} else {
		err = run(s.Store)
	}
	if err != nil {
		s.Logger.Warn("resume failed",
			zap.String("trainer_id", string(trainerID)),
			zap.String("month", month.String()),
			zap.Error(err))
		return nil, err
	}

	s.Logger.Info("settlement stamping resumed",
		zap.String("settlement_id", string(settlement.ID)),
		zap.Int("sessions", len(settlement.Sources.SessionIDs)),
		zap.Int("evaluations", len(settlement.Sources.EvaluationIDs)))
	return settlement, nil
}

// stampSources applies steps 2 and 3 for a persisted settlement.
func stampSources(ctx context.Context, st Store, s Settlement) error {
	if err := st.StampEvaluations(ctx, s.ID, s.Sources.EvaluationIDs); err != nil {
		return &PartialFailureError{SettlementID: s.ID, TrainerID: s.TrainerID, Month: s.Month, Step: stepStampEvaluations, Err: err}
	}
	if err := st.StampSessions(ctx, s.ID, s.Sources.SessionIDs); err != nil {
		return &PartialFailureError{SettlementID: s.ID, TrainerID: s.TrainerID, Month: s.Month, Step: stepStampSessions, Err: err}
	}
	return nil
}

func lockKey(trainerID TrainerID, month Month) string {
	return string(trainerID) + "/" + month.String()
}

// =============================================================================
// KEYED LOCKS - Per (trainer, month) serialization
// =============================================================================

type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
