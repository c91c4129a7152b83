package economy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"serotonyl.ru/valuecard/internal/common"
	"serotonyl.ru/valuecard/internal/features/loyalty"
	"serotonyl.ru/valuecard/internal/features/members"
)

type recordingLedger struct {
	mu  sync.Mutex
	txs []Transaction
}

func (l *recordingLedger) Append(_ context.Context, tx Transaction) {
	l.mu.Lock()
	l.txs = append(l.txs, tx)
	l.mu.Unlock()
}

func (l *recordingLedger) all() []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transaction(nil), l.txs...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts)
}

type engineFixture struct {
	engine   *Engine
	repo     *members.MemoryRepository
	ledger   *recordingLedger
	notifier *recordingNotifier
}

func newFixture(t *testing.T) engineFixture {
	t.Helper()
	repo := members.NewMemoryRepository()
	store := members.NewStore(repo, members.StoreOptions{
		Timeout:     time.Second,
		LockTimeout: 5 * time.Second,
	})
	settings := loyalty.NewService(loyalty.NewMemoryRepository(), time.Minute, true)
	f := engineFixture{
		repo:     repo,
		ledger:   &recordingLedger{},
		notifier: &recordingNotifier{},
	}
	f.engine = NewEngine(store, settings, f.ledger, f.notifier, time.UTC)
	return f
}

func (f engineFixture) seed(t *testing.T, m members.Member) {
	t.Helper()
	if m.Tier == "" && m.Name != "" {
		m.Tier = "Bronze"
	}
	require.NoError(t, f.repo.Insert(context.Background(), &m))
}

func (f engineFixture) member(t *testing.T, cardID string) *members.Member {
	t.Helper()
	m, err := f.repo.GetByCardID(context.Background(), cardID)
	require.NoError(t, err)
	return m
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestEngine_TopupEarnsPoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t, members.Member{CardID: "CF10050", Name: "Ann", Phone: "0812223333", Balance: d("100")})

	res, err := f.engine.Process(context.Background(), Request{CardID: "cf10050", Type: loyalty.TxTopup, Amount: d("500")})
	require.NoError(t, err)

	assert.True(t, res.Balance.Equal(d("600")))
	assert.Equal(t, int64(5), res.PointsEarned)
	assert.Equal(t, int64(5), res.Points)
	assert.Equal(t, "Bronze", res.Tier)

	m := f.member(t, "CF10050")
	assert.True(t, m.Balance.Equal(d("600")))
	assert.True(t, m.TotalSpent.IsZero(), "пополнение не увеличивает накопленные оплаты")

	txs := f.ledger.all()
	require.Len(t, txs, 1)
	assert.True(t, txs[0].BalanceBefore.Equal(d("100")))
	assert.True(t, txs[0].BalanceAfter.Equal(d("600")))
	assert.Equal(t, "Staff", txs[0].StaffName)
	assert.NotEmpty(t, txs[0].ID)
	assert.Equal(t, 1, f.notifier.count())
}

func TestEngine_PaymentInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.seed(t, members.Member{CardID: "CF1", Name: "Ann", Phone: "0812223333", Balance: d("600")})

	_, err := f.engine.Process(context.Background(), Request{CardID: "CF1", Type: loyalty.TxPayment, Amount: d("700")})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	assert.True(t, f.member(t, "CF1").Balance.Equal(d("600")))
	assert.Empty(t, f.ledger.all())
	assert.Equal(t, 0, f.notifier.count())
}

func TestEngine_PaymentPromotesTier(t *testing.T) {
	f := newFixture(t)
	f.seed(t, members.Member{CardID: "CF1", Name: "Ann", Phone: "0812223333", Balance: d("600"), TotalSpent: d("900")})

	res, err := f.engine.Process(context.Background(), Request{CardID: "CF1", Type: loyalty.TxPayment, Amount: d("200")})
	require.NoError(t, err)

	assert.True(t, res.Balance.Equal(d("400")))
	assert.Equal(t, "Silver", res.Tier)
	assert.Equal(t, int64(0), res.PointsEarned)

	m := f.member(t, "CF1")
	assert.True(t, m.TotalSpent.Equal(d("1100")))
	assert.Equal(t, "Silver", m.Tier)
}

func TestEngine_UnknownCard(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Process(context.Background(), Request{CardID: "CF-UNKNOWN", Type: loyalty.TxTopup, Amount: d("100")})
	assert.ErrorIs(t, err, common.ErrMemberNotFound)
}

func TestEngine_BlankCardRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, members.Member{CardID: "CF2"})

	_, err := f.engine.Process(context.Background(), Request{CardID: "CF2", Type: loyalty.TxTopup, Amount: d("100")})
	assert.ErrorIs(t, err, common.ErrUnregisteredCard)
}

func TestEngine_ValidationBeforeIO(t *testing.T) {
	f := newFixture(t)
	f.seed(t, members.Member{CardID: "CF1", Name: "Ann", Phone: "0812223333", Balance: d("100")})
	var writes atomic.Int32
	f.repo.FailUpdate = func(string, members.Update) error {
		writes.Add(1)
		return nil
	}

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"отрицательная сумма", Request{CardID: "CF1", Type: loyalty.TxTopup, Amount: d("-50")}, common.ErrInvalidAmount},
		{"ноль", Request{CardID: "CF1", Type: loyalty.TxPayment, Amount: decimal.Zero}, common.ErrInvalidAmount},
		{"три знака", Request{CardID: "CF1", Type: loyalty.TxTopup, Amount: d("1.005")}, common.ErrInvalidAmount},
		{"тип", Request{CardID: "CF1", Type: "REFUND", Amount: d("10")}, common.ErrInvalidType},
		{"пустая карта", Request{CardID: " ", Type: loyalty.TxTopup, Amount: d("10")}, common.ErrInvalidCardID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Process(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, writes.Load(), "запись не должна начинаться")
	assert.True(t, f.member(t, "CF1").Balance.Equal(d("100")))
}

// Сбой записи снимка: операция не подтверждается, журнал и уведомление не трогаются.
func TestEngine_UpdateFailed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, members.Member{CardID: "CF1", Name: "Ann", Phone: "0812223333", Balance: d("100")})
	f.repo.FailUpdate = func(string, members.Update) error {
		return errors.New("connection refused")
	}

	_, err := f.engine.Process(context.Background(), Request{CardID: "CF1", Type: loyalty.TxTopup, Amount: d("50")})
	assert.ErrorIs(t, err, common.ErrUpdateFailed)
	assert.Empty(t, f.ledger.all())
	assert.Equal(t, 0, f.notifier.count())
}

// Запись изменили в обход блокировки: движок перечитывает и пересчитывает.
func TestEngine_RetriesOnVersionConflict(t *testing.T) {
	f := newFixture(t)
	f.seed(t, members.Member{CardID: "CF1", Name: "Ann", Phone: "0812223333", Balance: d("100")})

	var once sync.Once
	f.repo.FailUpdate = func(cardID string, u members.Update) error {
		var err error
		once.Do(func() {
			err = common.ErrVersionConflict
		})
		return err
	}

	res, err := f.engine.Process(context.Background(), Request{CardID: "CF1", Type: loyalty.TxTopup, Amount: d("50")})
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(d("150")))
	assert.Len(t, f.ledger.all(), 1)
}

func TestEngine_PersistentConflictGivesUp(t *testing.T) {
	f := newFixture(t)
	f.seed(t, members.Member{CardID: "CF1", Name: "Ann", Phone: "0812223333", Balance: d("100")})
	f.repo.FailUpdate = func(string, members.Update) error {
		return common.ErrVersionConflict
	}

	_, err := f.engine.Process(context.Background(), Request{CardID: "CF1", Type: loyalty.TxTopup, Amount: d("50")})
	assert.ErrorIs(t, err, common.ErrUpdateFailed)
	assert.True(t, f.member(t, "CF1").Balance.Equal(d("100")))
}

// Параллельные операции по одной карте не теряют обновлений.
func TestEngine_ConcurrentNoLostUpdate(t *testing.T) {
	f := newFixture(t)
	f.seed(t, members.Member{CardID: "CF1", Name: "Ann", Phone: "0812223333", Balance: d("1000")})

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := Request{CardID: "CF1", Type: loyalty.TxTopup, Amount: d("10")}
			if i%2 == 1 {
				req.Type = loyalty.TxPayment
				req.Amount = d("5")
			}
			_, err := f.engine.Process(context.Background(), req)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// 20 пополнений по 10 и 20 оплат по 5
	m := f.member(t, "CF1")
	assert.True(t, m.Balance.Equal(d("1100")), m.Balance.String())
	assert.True(t, m.TotalSpent.Equal(d("100")))
	assert.Len(t, f.ledger.all(), n)
}

// Две оплаты, которые вместе превышают баланс: проходит ровно одна.
func TestEngine_ConcurrentPaymentsNeverOverdraw(t *testing.T) {
	f := newFixture(t)

	const rounds = 200
	for round := 0; round < rounds; round++ {
		cardID := fmt.Sprintf("CF%d", 20000+round)
		f.seed(t, members.Member{CardID: cardID, Name: "Ann", Balance: d("149")})

		start := make(chan struct{})
		errs := make(chan error, 2)
		var wg sync.WaitGroup
		for _, amount := range []string{"100", "50"} {
			wg.Add(1)
			go func(amount string) {
				defer wg.Done()
				<-start
				_, err := f.engine.Process(context.Background(), Request{CardID: cardID, Type: loyalty.TxPayment, Amount: d(amount)})
				errs <- err
			}(amount)
		}
		close(start)
		wg.Wait()
		close(errs)

		var ok, insufficient int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, common.ErrInsufficientBalance):
				insufficient++
			default:
				t.Fatalf("раунд %d: неожиданная ошибка: %v", round, err)
			}
		}
		require.Equal(t, 1, ok, "раунд %d", round)
		require.Equal(t, 1, insufficient, "раунд %d", round)

		m := f.member(t, cardID)
		require.False(t, m.Balance.IsNegative(), "раунд %d: баланс %s", round, m.Balance)
		require.True(t, m.Balance.Equal(d("49")) || m.Balance.Equal(d("99")), "раунд %d: баланс %s", round, m.Balance)
	}
}

func TestEngine_LockTimeout(t *testing.T) {
	repo := members.NewMemoryRepository()
	store := members.NewStore(repo, members.StoreOptions{Timeout: time.Second, LockTimeout: 20 * time.Millisecond})
	settings := loyalty.NewService(loyalty.NewMemoryRepository(), time.Minute, true)
	engine := NewEngine(store, settings, &recordingLedger{}, &recordingNotifier{}, time.UTC)

	m := members.Member{CardID: "CF1", Name: "Ann", Phone: "0812223333", Balance: d("100")}
	require.NoError(t, repo.Insert(context.Background(), &m))

	unlock, err := store.Lock(context.Background(), "CF1")
	require.NoError(t, err)
	defer unlock()

	_, err = engine.Process(context.Background(), Request{CardID: "CF1", Type: loyalty.TxTopup, Amount: d("10")})
	assert.ErrorIs(t, err, common.ErrLockTimeout)
}

func TestCompute_PointsDisabled(t *testing.T) {
	st := loyalty.Settings{PointsEnabled: false, Tiers: loyalty.MustTable(loyalty.DefaultTiers())}
	m := members.Member{CardID: "CF1", Name: "Ann", Tier: "Gold", Balance: d("0")}

	out, err := Compute(m, Request{Type: loyalty.TxTopup, Amount: d("1000")}, st)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.PointsEarned)
	assert.True(t, out.Balance.Equal(d("1000")))
}

func TestCompute_Properties(t *testing.T) {
	table := loyalty.MustTable(loyalty.DefaultTiers())

	rapid.Check(t, func(t *rapid.T) {
		balance := decimal.New(rapid.Int64Range(0, 10_000_00).Draw(t, "balance"), -2)
		spent := decimal.New(rapid.Int64Range(0, 10_000_00).Draw(t, "spent"), -2)
		amount := decimal.New(rapid.Int64Range(1, 10_000_00).Draw(t, "amount"), -2)
		typ := rapid.SampledFrom([]loyalty.TxType{loyalty.TxTopup, loyalty.TxPayment}).Draw(t, "type")
		points := rapid.Int64Range(0, 1_000_000).Draw(t, "points")

		m := members.Member{
			CardID:     "CF1",
			Name:       "Ann",
			Balance:    balance,
			TotalSpent: spent,
			Points:     points,
			Tier:       table.ForSpend(spent).Name,
		}
		st := loyalty.Settings{PointsEnabled: true, Tiers: table}

		out, err := Compute(m, Request{Type: typ, Amount: amount}, st)
		if typ == loyalty.TxPayment && balance.LessThan(amount) {
			if !errors.Is(err, common.ErrInsufficientBalance) {
				t.Fatalf("ожидали ErrInsufficientBalance, получили %v", err)
			}
			return
		}
		if err != nil {
			t.Fatalf("неожиданная ошибка: %v", err)
		}

		if out.Balance.IsNegative() {
			t.Fatalf("отрицательный баланс %s", out.Balance)
		}
		delta := out.Balance.Sub(balance)
		if typ == loyalty.TxPayment {
			delta = delta.Neg()
		}
		if !delta.Equal(amount) {
			t.Fatalf("баланс изменился на %s, сумма %s", delta, amount)
		}
		if out.Points < points || out.Points-points != out.PointsEarned {
			t.Fatalf("баллы %d -> %d, начислено %d", points, out.Points, out.PointsEarned)
		}
		if out.TotalSpent.LessThan(spent) {
			t.Fatalf("накопленные оплаты уменьшились: %s -> %s", spent, out.TotalSpent)
		}
		if out.Tier != table.ForSpend(out.TotalSpent).Name {
			t.Fatalf("уровень %s не соответствует сумме %s", out.Tier, out.TotalSpent)
		}
	})
}
