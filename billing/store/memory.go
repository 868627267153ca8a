// Package store provides in-memory billing.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements billing.Store without transactions: the sealer runs its
// steps one by one against it.
type Memory struct {
	mu    sync.RWMutex
	state memoryState
}

type settlementKey struct {
	TrainerID billing.TrainerID
	Month     billing.Month
}

type memoryState struct {
	trainers    map[billing.TrainerID]billing.Trainer
	clients     map[billing.ClientID]billing.Client
	sessions    map[billing.SessionID]billing.Session
	evaluations map[billing.EvaluationID]billing.Evaluation
	settlements map[settlementKey]billing.Settlement
}

func newMemoryState() memoryState {
	return memoryState{
		trainers:    make(map[billing.TrainerID]billing.Trainer),
		clients:     make(map[billing.ClientID]billing.Client),
		sessions:    make(map[billing.SessionID]billing.Session),
		evaluations: make(map[billing.EvaluationID]billing.Evaluation),
		settlements: make(map[settlementKey]billing.Settlement),
	}
}

func (s memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.trainers {
		c.trainers[k] = v
	}
	for k, v := range s.clients {
		c.clients[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.evaluations {
		c.evaluations[k] = v
	}
	for k, v := range s.settlements {
		c.settlements[k] = v
	}
	return c
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

// =============================================================================
// SEEDING - Stand-in for the CRUD layer
// =============================================================================

func (m *Memory) SaveTrainer(_ context.Context, t billing.Trainer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.trainers[t.ID] = t
	return nil
}

func (m *Memory) SaveClient(_ context.Context, c billing.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.clients[c.ID] = c
	return nil
}

func (m *Memory) SaveSession(_ context.Context, s billing.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.sessions[s.ID] = s
	return nil
}

func (m *Memory) SaveEvaluation(_ context.Context, e billing.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.evaluations[e.ID] = e
	return nil
}

// Reset drops all records and settlements. It refuses once any
// settlement is sealed.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.state.settlements {
		if st.IsSealed() {
			return billing.ErrSealedDataPresent
		}
	}
	m.state = newMemoryState()
	return nil
}

// =============================================================================
// RECORD SOURCE (billing.RecordSource interface)
// =============================================================================

func (m *Memory) GetTrainer(_ context.Context, id billing.TrainerID) (*billing.Trainer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getTrainer(id)
}

func (m *Memory) ListTrainers(_ context.Context) ([]billing.Trainer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listTrainers(), nil
}

func (m *Memory) ListClients(_ context.Context) ([]billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listClients(), nil
}

func (m *Memory) ListSessions(_ context.Context, clientID billing.ClientID) ([]billing.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listSessions(clientID), nil
}

func (m *Memory) ListEvaluations(_ context.Context, clientID billing.ClientID) ([]billing.Evaluation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listEvaluations(clientID), nil
}

// =============================================================================
// SETTLEMENT STORE (billing.SettlementStore interface)
// =============================================================================

func (m *Memory) GetSettlement(_ context.Context, trainerID billing.TrainerID, month billing.Month) (*billing.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getSettlement(trainerID, month), nil
}

func (m *Memory) ListSettlements(_ context.Context, month billing.Month) ([]billing.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listSettlements(month), nil
}

func (m *Memory) UpsertSettlement(_ context.Context, s billing.Settlement) (billing.SettlementID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.upsertSettlement(s)
}

func (m *Memory) StampEvaluations(_ context.Context, ref billing.SettlementID, ids []billing.EvaluationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.stampEvaluations(ref, ids)
}

func (m *Memory) StampSessions(_ context.Context, ref billing.SettlementID, ids []billing.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.stampSessions(ref, ids)
}

// =============================================================================
// UNLOCKED STATE OPERATIONS
// =============================================================================

func (s memoryState) getTrainer(id billing.TrainerID) (*billing.Trainer, error) {
	t, ok := s.trainers[id]
	if !ok {
		return nil, &billing.NotFoundError{Kind: "trainer", ID: string(id)}
	}
	return &t, nil
}

func (s memoryState) listTrainers() []billing.Trainer {
	out := make([]billing.Trainer, 0, len(s.trainers))
	for _, t := range s.trainers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s memoryState) listClients() []billing.Client {
	out := make([]billing.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s memoryState) listSessions(clientID billing.ClientID) []billing.Session {
	var out []billing.Session
	for _, sess := range s.sessions {
		if sess.ClientID == clientID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (s memoryState) listEvaluations(clientID billing.ClientID) []billing.Evaluation {
	var out []billing.Evaluation
	for _, e := range s.evaluations {
		if e.ClientID == clientID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s memoryState) getSettlement(trainerID billing.TrainerID, month billing.Month) *billing.Settlement {
	st, ok := s.settlements[settlementKey{TrainerID: trainerID, Month: month}]
	if !ok {
		return nil
	}
	return &st
}

func (s memoryState) listSettlements(month billing.Month) []billing.Settlement {
	var out []billing.Settlement
	for k, st := range s.settlements {
		if k.Month == month {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrainerID < out[j].TrainerID })
	return out
}

func (s memoryState) upsertSettlement(st billing.Settlement) (billing.SettlementID, error) {
	k := settlementKey{TrainerID: st.TrainerID, Month: st.Month}
	if existing, ok := s.settlements[k]; ok {
		if existing.IsSealed() {
			return "", &billing.AlreadySealedError{
				TrainerID:    st.TrainerID,
				Month:        st.Month,
				SettlementID: existing.ID,
				SealedAt:     existing.SealedAt,
			}
		}
		st.ID = existing.ID
		st.CreatedAt = existing.CreatedAt
	}
	s.settlements[k] = st
	return st.ID, nil
}

// stampEvaluations validates every id before writing any, so a failed
// call leaves no partial stamps behind.
func (s memoryState) stampEvaluations(ref billing.SettlementID, ids []billing.EvaluationID) error {
	for _, id := range ids {
		e, ok := s.evaluations[id]
		if !ok {
			return &billing.NotFoundError{Kind: "evaluation", ID: string(id)}
		}
		if e.SettlementRef != "" && e.SettlementRef != ref {
			return &billing.StampConflictError{RecordKind: "evaluation", RecordID: string(id), ExistingRef: e.SettlementRef, RequestedRef: ref}
		}
	}
	for _, id := range ids {
		e := s.evaluations[id]
		e.SettlementRef = ref
		e.Paid = true
		s.evaluations[id] = e
	}
	return nil
}

func (s memoryState) stampSessions(ref billing.SettlementID, ids []billing.SessionID) error {
	for _, id := range ids {
		sess, ok := s.sessions[id]
		if !ok {
			return &billing.NotFoundError{Kind: "session", ID: string(id)}
		}
		if sess.SettlementRef != "" && sess.SettlementRef != ref {
			return &billing.StampConflictError{RecordKind: "session", RecordID: string(id), ExistingRef: sess.SettlementRef, RequestedRef: ref}
		}
	}
	for _, id := range ids {
		sess := s.sessions[id]
		sess.SettlementRef = ref
		sess.Paid = true
		s.sessions[id] = sess
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(billing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()
	if err := fn(&txMemoryView{state: tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

// txMemoryView operates on the parent's state while the parent lock is held.
type txMemoryView struct {
	state memoryState
}

func (v *txMemoryView) GetTrainer(_ context.Context, id billing.TrainerID) (*billing.Trainer, error) {
	return v.state.getTrainer(id)
}

func (v *txMemoryView) ListTrainers(_ context.Context) ([]billing.Trainer, error) {
	return v.state.listTrainers(), nil
}

func (v *txMemoryView) ListClients(_ context.Context) ([]billing.Client, error) {
	return v.state.listClients(), nil
}

func (v *txMemoryView) ListSessions(_ context.Context, clientID billing.ClientID) ([]billing.Session, error) {
	return v.state.listSessions(clientID), nil
}

func (v *txMemoryView) ListEvaluations(_ context.Context, clientID billing.ClientID) ([]billing.Evaluation, error) {
	return v.state.listEvaluations(clientID), nil
}

func (v *txMemoryView) GetSettlement(_ context.Context, trainerID billing.TrainerID, month billing.Month) (*billing.Settlement, error) {
	return v.state.getSettlement(trainerID, month), nil
}

func (v *txMemoryView) ListSettlements(_ context.Context, month billing.Month) ([]billing.Settlement, error) {
	return v.state.listSettlements(month), nil
}

func (v *txMemoryView) UpsertSettlement(_ context.Context, s billing.Settlement) (billing.SettlementID, error) {
	return v.state.upsertSettlement(s)
}

func (v *txMemoryView) StampEvaluations(_ context.Context, ref billing.SettlementID, ids []billing.EvaluationID) error {
	return v.state.stampEvaluations(ref, ids)
}

func (v *txMemoryView) StampSessions(_ context.Context, ref billing.SettlementID, ids []billing.SessionID) error {
	return v.state.stampSessions(ref, ids)
}
