package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements billing.Store against a querier.
type queries struct {
	q querier
	d dialect
}

func (s *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.d.rebind(query), args...)
}

// =============================================================================
// SEEDING - Stand-in for the CRUD layer
// =============================================================================

func (s *queries) SaveTrainer(ctx context.Context, t billing.Trainer) error {
	_, err := s.exec(ctx, `
		INSERT INTO trainers (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		t.ID, t.Name)
	if err != nil {
		return fmt.Errorf("save trainer %s: %w", t.ID, err)
	}
	return nil
}

func (s *queries) SaveClient(ctx context.Context, c billing.Client) error {
	_, err := s.exec(ctx, `
		INSERT INTO clients (id, name, trainer_id) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, trainer_id = excluded.trainer_id`,
		c.ID, c.Name, nullString(string(c.TrainerID)))
	if err != nil {
		return fmt.Errorf("save client %s: %w", c.ID, err)
	}
	return nil
}

func (s *queries) SaveSession(ctx context.Context, sess billing.Session) error {
	_, err := s.exec(ctx, `
		INSERT INTO sessions (id, client_id, session_number, date, completed, settlement_ref, paid)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			client_id = excluded.client_id,
			session_number = excluded.session_number,
			date = excluded.date,
			completed = excluded.completed,
			settlement_ref = excluded.settlement_ref,
			paid = excluded.paid`,
		sess.ID, sess.ClientID, sess.Number, formatTime(sess.Date), sess.Completed,
		nullString(string(sess.SettlementRef)), sess.Paid)
	if err != nil {
		if isUniqueViolation(err) {
			return &billing.ValidationError{
				Field:   "session_number",
				Message: fmt.Sprintf("client %s already has session %d", sess.ClientID, sess.Number),
			}
		}
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *queries) SaveEvaluation(ctx context.Context, e billing.Evaluation) error {
	_, err := s.exec(ctx, `
		INSERT INTO evaluations (id, client_id, trainer_id, result, created_at, settlement_ref, paid)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			client_id = excluded.client_id,
			trainer_id = excluded.trainer_id,
			result = excluded.result,
			created_at = excluded.created_at,
			settlement_ref = excluded.settlement_ref,
			paid = excluded.paid`,
		e.ID, e.ClientID, nullString(string(e.TrainerID)), nullString(e.Result), formatTime(e.CreatedAt),
		nullString(string(e.SettlementRef)), e.Paid)
	if err != nil {
		return fmt.Errorf("save evaluation %s: %w", e.ID, err)
	}
	return nil
}

// Reset clears all data (for demo scenarios). It refuses once any
// settlement is sealed.
func (s *queries) Reset(ctx context.Context) error {
	var sealed int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM settlements WHERE status = ?", billing.StatusSealed).Scan(&sealed); err != nil {
		return fmt.Errorf("count sealed settlements: %w", err)
	}
	if sealed > 0 {
		return billing.ErrSealedDataPresent
	}
	for _, table := range []string{"settlements", "sessions", "evaluations", "clients", "trainers"} {
		if _, err := s.exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// RECORD SOURCE (billing.RecordSource interface)
// =============================================================================

func (s *queries) GetTrainer(ctx context.Context, id billing.TrainerID) (*billing.Trainer, error) {
	var t billing.Trainer
	err := s.queryRow(ctx, "SELECT id, name FROM trainers WHERE id = ?", id).Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Kind: "trainer", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("get trainer %s: %w", id, err)
	}
	return &t, nil
}

func (s *queries) ListTrainers(ctx context.Context) ([]billing.Trainer, error) {
	rows, err := s.query(ctx, "SELECT id, name FROM trainers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list trainers: %w", err)
	}
	defer rows.Close()

	var out []billing.Trainer
	for rows.Next() {
		var t billing.Trainer
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *queries) ListClients(ctx context.Context) ([]billing.Client, error) {
	rows, err := s.query(ctx, "SELECT id, name, trainer_id FROM clients ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []billing.Client
	for rows.Next() {
		var (
			c       billing.Client
			trainer sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &trainer); err != nil {
			return nil, err
		}
		c.TrainerID = billing.TrainerID(trainer.String)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *queries) ListSessions(ctx context.Context, clientID billing.ClientID) ([]billing.Session, error) {
	rows, err := s.query(ctx, `
		SELECT id, client_id, session_number, date, completed, settlement_ref, paid
		FROM sessions
		WHERE client_id = ?
		ORDER BY session_number`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []billing.Session
	for rows.Next() {
		var (
			sess billing.Session
			date string
			ref  sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.ClientID, &sess.Number, &date, &sess.Completed, &ref, &sess.Paid); err != nil {
			return nil, err
		}
		if sess.Date, err = parseTime(date); err != nil {
			return nil, err
		}
		sess.SettlementRef = billing.SettlementID(ref.String)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *queries) ListEvaluations(ctx context.Context, clientID billing.ClientID) ([]billing.Evaluation, error) {
	rows, err := s.query(ctx, `
		SELECT id, client_id, trainer_id, result, created_at, settlement_ref, paid
		FROM evaluations
		WHERE client_id = ?
		ORDER BY created_at, id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []billing.Evaluation
	for rows.Next() {
		var (
			e                    billing.Evaluation
			trainer, result, ref sql.NullString
			created              string
		)
		if err := rows.Scan(&e.ID, &e.ClientID, &trainer, &result, &created, &ref, &e.Paid); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		e.TrainerID = billing.TrainerID(trainer.String)
		e.Result = result.String
		e.SettlementRef = billing.SettlementID(ref.String)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SETTLEMENT STORE (billing.SettlementStore interface)
// =============================================================================

const settlementColumns = `
	id, trainer_id, month, gross_amount, base_amount, deducted_amount, net_amount,
	tax_amount, total_amount, block_count, evaluation_count, status,
	pricing_json, sources_json, sealed_at, sealed_by, created_at`

func (s *queries) GetSettlement(ctx context.Context, trainerID billing.TrainerID, month billing.Month) (*billing.Settlement, error) {
	rows, err := s.query(ctx,
		"SELECT "+settlementColumns+" FROM settlements WHERE trainer_id = ? AND month = ?",
		trainerID, month.String())
	if err != nil {
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	st, err := scanSettlement(rows)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *queries) ListSettlements(ctx context.Context, month billing.Month) ([]billing.Settlement, error) {
	rows, err := s.query(ctx,
		"SELECT "+settlementColumns+" FROM settlements WHERE month = ? ORDER BY trainer_id",
		month.String())
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	defer rows.Close()

	var out []billing.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertSettlement inserts or replaces the (trainer, month) row. The existing
// id and created_at are kept. A sealed row is never replaced: the DO UPDATE
// guard makes RETURNING produce no row, reported as *AlreadySealedError.
func (s *queries) UpsertSettlement(ctx context.Context, st billing.Settlement) (billing.SettlementID, error) {
	pricing, err := json.Marshal(st.Pricing)
	if err != nil {
		return "", fmt.Errorf("encode pricing: %w", err)
	}
	sources, err := json.Marshal(st.Sources)
	if err != nil {
		return "", fmt.Errorf("encode sources: %w", err)
	}
	var sealedAt sql.NullString
	if !st.SealedAt.IsZero() {
		sealedAt = sql.NullString{String: formatTime(st.SealedAt), Valid: true}
	}

	a := st.Amounts
	var id billing.SettlementID
	err = s.queryRow(ctx, `
		INSERT INTO settlements (`+settlementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trainer_id, month) DO UPDATE SET
			gross_amount = excluded.gross_amount,
			base_amount = excluded.base_amount,
			deducted_amount = excluded.deducted_amount,
			net_amount = excluded.net_amount,
			tax_amount = excluded.tax_amount,
			total_amount = excluded.total_amount,
			block_count = excluded.block_count,
			evaluation_count = excluded.evaluation_count,
			status = excluded.status,
			pricing_json = excluded.pricing_json,
			sources_json = excluded.sources_json,
			sealed_at = excluded.sealed_at,
			sealed_by = excluded.sealed_by
		WHERE settlements.status <> 'sealed'
		RETURNING id`,
		st.ID, st.TrainerID, st.Month.String(),
		a.Gross.String(), a.Base.String(), a.Deducted.String(), a.Net.String(), a.Tax.String(), a.Total.String(),
		a.BlockCount, a.EvaluationCount, string(st.Status),
		string(pricing), string(sources), sealedAt, nullString(st.SealedBy), formatTime(st.CreatedAt),
	).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing, getErr := s.GetSettlement(ctx, st.TrainerID, st.Month)
		if getErr != nil {
			return "", getErr
		}
		sealed := &billing.AlreadySealedError{TrainerID: st.TrainerID, Month: st.Month}
		if existing != nil {
			sealed.SettlementID = existing.ID
			sealed.SealedAt = existing.SealedAt
		}
		return "", sealed
	case isUniqueViolation(err):
		return "", fmt.Errorf("upsert settlement %s: %w", st.ID, billing.ErrConcurrentModification)
	case err != nil:
		return "", fmt.Errorf("upsert settlement: %w", err)
	}
	return id, nil
}

// StampEvaluations checks every id before writing any.
func (s *queries) StampEvaluations(ctx context.Context, ref billing.SettlementID, ids []billing.EvaluationID) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	return s.stamp(ctx, "evaluations", "evaluation", ref, keys)
}

// StampSessions checks every id before writing any.
func (s *queries) StampSessions(ctx context.Context, ref billing.SettlementID, ids []billing.SessionID) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	return s.stamp(ctx, "sessions", "session", ref, keys)
}

func (s *queries) stamp(ctx context.Context, table, kind string, ref billing.SettlementID, ids []string) error {
	for _, id := range ids {
		var existing sql.NullString
		err := s.queryRow(ctx, "SELECT settlement_ref FROM "+table+" WHERE id = ?", id).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			return &billing.NotFoundError{Kind: kind, ID: id}
		}
		if err != nil {
			return fmt.Errorf("load %s %s: %w", kind, id, err)
		}
		if existing.Valid && existing.String != "" && existing.String != string(ref) {
			return &billing.StampConflictError{
				RecordKind:   kind,
				RecordID:     id,
				ExistingRef:  billing.SettlementID(existing.String),
				RequestedRef: ref,
			}
		}
	}

	for _, id := range ids {
		res, err := s.exec(ctx,
			"UPDATE "+table+" SET settlement_ref = ?, paid = ? WHERE id = ? AND (settlement_ref IS NULL OR settlement_ref = ?)",
			string(ref), true, id, string(ref))
		if err != nil {
			return fmt.Errorf("stamp %s %s: %w", kind, id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			// Stamped by someone else between the check and the write.
			return fmt.Errorf("stamp %s %s: %w", kind, id, billing.ErrConcurrentModification)
		}
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

func scanSettlement(rows *sql.Rows) (billing.Settlement, error) {
	var (
		st                                       billing.Settlement
		month, status, pricing, sources, created string
		gross, base, deducted, net, tax, total   string
		sealedAt, sealedBy                       sql.NullString
	)
	if err := rows.Scan(
		&st.ID, &st.TrainerID, &month,
		&gross, &base, &deducted, &net, &tax, &total,
		&st.Amounts.BlockCount, &st.Amounts.EvaluationCount, &status,
		&pricing, &sources, &sealedAt, &sealedBy, &created,
	); err != nil {
		return st, fmt.Errorf("scan settlement: %w", err)
	}

	var err error
	if st.Month, err = billing.ParseMonth(month); err != nil {
		return st, err
	}
	amounts := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{gross, &st.Amounts.Gross},
		{base, &st.Amounts.Base},
		{deducted, &st.Amounts.Deducted},
		{net, &st.Amounts.Net},
		{tax, &st.Amounts.Tax},
		{total, &st.Amounts.Total},
	}
	for _, a := range amounts {
		if *a.dst, err = decimal.NewFromString(a.raw); err != nil {
			return st, fmt.Errorf("settlement %s: bad amount %q: %w", st.ID, a.raw, err)
		}
	}
	if err := json.Unmarshal([]byte(pricing), &st.Pricing); err != nil {
		return st, fmt.Errorf("settlement %s: decode pricing: %w", st.ID, err)
	}
	if err := json.Unmarshal([]byte(sources), &st.Sources); err != nil {
		return st, fmt.Errorf("settlement %s: decode sources: %w", st.ID, err)
	}
	if sealedAt.Valid {
		if st.SealedAt, err = parseTime(sealedAt.String); err != nil {
			return st, err
		}
	}
	if st.CreatedAt, err = parseTime(created); err != nil {
		return st, err
	}
	st.Status = billing.Status(status)
	st.SealedBy = sealedBy.String
	return st, nil
}
