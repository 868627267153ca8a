package billing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing"
	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	march = billing.NewMonth(2025, time.March)
	april = billing.NewMonth(2025, time.April)
)

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 10, 0, 0, 0, time.Local)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, money(want).Equal(got), append([]any{fmt.Sprintf("want %s, got %s", want, got)}, msgAndArgs...)...)
}

func defaultSchedule(t *testing.T) *billing.PricingSchedule {
	t.Helper()
	s, err := billing.NewPricingSchedule(billing.DefaultPricing())
	require.NoError(t, err)
	return s
}

type seeder interface {
	SaveTrainer(ctx context.Context, t billing.Trainer) error
	SaveClient(ctx context.Context, c billing.Client) error
	SaveSession(ctx context.Context, s billing.Session) error
	SaveEvaluation(ctx context.Context, e billing.Evaluation) error
}

func session(client billing.ClientID, n int, date time.Time) billing.Session {
	return billing.Session{
		ID:        billing.SessionID(fmt.Sprintf("%s-s%d", client, n)),
		ClientID:  client,
		Number:    n,
		Date:      date,
		Completed: true,
	}
}

// seedMarchScenario loads the reference scenario: trainer t1's client c1 has
// sessions 1-4 in March, session 5 in April, and one March evaluation by t1.
func seedMarchScenario(t *testing.T, s seeder) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveTrainer(ctx, billing.Trainer{ID: "t1", Name: "Ana"}))
	require.NoError(t, s.SaveTrainer(ctx, billing.Trainer{ID: "t2", Name: "Bruno"}))
	require.NoError(t, s.SaveClient(ctx, billing.Client{ID: "c1", Name: "Luna", TrainerID: "t1"}))

	dates := []time.Time{day(time.March, 3), day(time.March, 10), day(time.March, 17), day(time.March, 24), day(time.April, 2)}
	for i, d := range dates {
		require.NoError(t, s.SaveSession(ctx, session("c1", i+1, d)))
	}
	require.NoError(t, s.SaveEvaluation(ctx, billing.Evaluation{
		ID:        "e1",
		ClientID:  "c1",
		TrainerID: "t1",
		Result:    "suitable",
		CreatedAt: day(time.March, 1),
	}))
}

func newTxFixture(t *testing.T) (*store.TxMemory, *billing.Ledger, *billing.Sealer) {
	t.Helper()
	mem := store.NewTxMemory()
	seedMarchScenario(t, mem)
	pricing := defaultSchedule(t)
	return mem, billing.NewLedger(mem, pricing, nil), billing.NewSealer(mem, pricing, nil)
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errInjected = fmt.Errorf("injected failure")

// flakyStore fails StampSessions while failSessions is set.
type flakyStore struct {
	billing.Store
	failSessions bool
	stampCalls   int
}

func (f *flakyStore) StampSessions(ctx context.Context, ref billing.SettlementID, ids []billing.SessionID) error {
	f.stampCalls++
	if f.failSessions {
		return errInjected
	}
	return f.Store.StampSessions(ctx, ref, ids)
}

// flakyTxStore injects the same failure inside a transaction.
type flakyTxStore struct {
	*store.TxMemory
	failSessions bool
}

func (f *flakyTxStore) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(st billing.Store) error {
		return fn(&flakyStore{Store: st, failSessions: f.failSessions})
	})
}
