/*
store.go - Persistence interfaces for source records and settlements

PURPOSE:
  Defines the boundary between the engine and the database. Source
  records (trainers, clients, sessions, evaluations) are read-only here;
  the only writes are the settlement upsert and the stamping of sources.

KEY INTERFACES:
  RecordSource:    Read access to the CRUD layer's records
  SettlementStore: Settlement persistence + stamping
  Store:           Both of the above
  TxStore:         Store with a transaction boundary for atomic sealing

IDEMPOTENCY:
  - UpsertSettlement is keyed by (trainer, month) and refuses to replace a
    sealed row (returns *AlreadySealedError).
  - Stamping a record that already carries the same ref is a no-op.
    Stamping one that carries a different ref is a *StampConflictError.

IMPLEMENTATIONS:
  - billing/store/memory.go: In-memory, for tests and demos
  - store/sqlstore: SQLite and PostgreSQL

SEE ALSO:
  - seal.go: Uses TxStore when available
*/
package billing

import "context"

// =============================================================================
// RECORD SOURCE - Read-only access to sessions and evaluations
// =============================================================================

type RecordSource interface {
	// GetTrainer returns *NotFoundError if the trainer does not exist.
	GetTrainer(ctx context.Context, id TrainerID) (*Trainer, error)
	ListTrainers(ctx context.Context) ([]Trainer, error)
	ListClients(ctx context.Context) ([]Client, error)

	// ListSessions returns the client's sessions ordered by Number.
	ListSessions(ctx context.Context, clientID ClientID) ([]Session, error)

	// ListEvaluations returns the client's evaluations ordered by CreatedAt.
	ListEvaluations(ctx context.Context, clientID ClientID) ([]Evaluation, error)
}

// =============================================================================
// SETTLEMENT STORE - The engine's only writes
// =============================================================================

type SettlementStore interface {
	// GetSettlement returns (nil, nil) when no row exists for the pair.
	GetSettlement(ctx context.Context, trainerID TrainerID, month Month) (*Settlement, error)
	ListSettlements(ctx context.Context, month Month) ([]Settlement, error)

	// UpsertSettlement creates or updates the row for (TrainerID, Month).
	// An existing sealed row is never replaced. The stored ID is returned;
	// it is the existing row's ID when one was updated.
	UpsertSettlement(ctx context.Context, s Settlement) (SettlementID, error)

	StampEvaluations(ctx context.Context, ref SettlementID, ids []EvaluationID) error
	StampSessions(ctx context.Context, ref SettlementID, ids []SessionID) error
}

type Store interface {
	RecordSource
	SettlementStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic sealing
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
