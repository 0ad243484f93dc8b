package metering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"tg-assist-bot/internal/domain"
	"tg-assist-bot/internal/infra/metrics"
)

type stubAccounts struct {
	domain.AccountRepo

	mu      sync.Mutex
	credits int
	debits  []int
}

func (s *stubAccounts) Debit(ctx context.Context, accountID int64, cost int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credits < cost {
		return 0, domain.ErrInsufficientCredits
	}
	s.credits -= cost
	s.debits = append(s.debits, cost)
	return s.credits, nil
}

type stubActivities struct {
	mu   sync.Mutex
	rows []domain.Activity
}

func (s *stubActivities) Append(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, a)
	return a, nil
}

func (s *stubActivities) ListByAccount(ctx context.Context, accountID int64, limit int) ([]domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Activity(nil), s.rows...), nil
}

func newService(accounts *stubAccounts, activities *stubActivities) *Service {
	return NewService(accounts, activities, nil, zerolog.Nop())
}

func TestChargeDebitsAndLogsActivity(t *testing.T) {
	accounts := &stubAccounts{credits: 10}
	activities := &stubActivities{}
	svc := newService(accounts, activities)
	acc := domain.Account{ID: 1, Credits: 10}

	costs := []struct {
		kind domain.ActivityKind
		cost int
	}{
		{domain.ActivityReplySent, domain.CostReply},
		{domain.ActivityImageGenerated, domain.CostImageGen},
		{domain.ActivityImageAnalyzed, domain.CostImageAnalyze},
	}
	for _, c := range costs {
		_, err := Charge(context.Background(), svc, acc, c.kind, c.cost, "x", func(context.Context) (string, error) {
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("Charge(%s): %v", c.kind, err)
		}
		acc.Credits = accounts.credits
	}

	if accounts.credits != 10-domain.CostReply-domain.CostImageGen-domain.CostImageAnalyze {
		t.Errorf("неожиданный остаток %d", accounts.credits)
	}
	var deltaSum int
	for _, row := range activities.rows {
		deltaSum += row.CreditDelta
	}
	if deltaSum != accounts.credits-10 {
		t.Errorf("сумма дельт журнала %d не сходится со списаниями %d", deltaSum, accounts.credits-10)
	}
}

func TestChargeInsufficientCreditsSkipsAction(t *testing.T) {
	accounts := &stubAccounts{credits: 0}
	activities := &stubActivities{}
	svc := newService(accounts, activities)

	invoked := false
	_, err := Charge(context.Background(), svc, domain.Account{ID: 1, Credits: 0}, domain.ActivityReplySent, domain.CostReply, "reply", func(context.Context) (string, error) {
		invoked = true
		return "", nil
	})
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("ожидали ErrInsufficientCredits, получили %v", err)
	}
	if invoked {
		t.Error("действие не должно вызываться при нулевом балансе")
	}
	if len(activities.rows) != 0 {
		t.Error("журнал не должен пополняться при отказе")
	}
}

func TestChargeActionErrorSkipsDebit(t *testing.T) {
	accounts := &stubAccounts{credits: 5}
	activities := &stubActivities{}
	svc := newService(accounts, activities)

	boom := errors.New("upstream down")
	_, err := Charge(context.Background(), svc, domain.Account{ID: 1, Credits: 5}, domain.ActivityImageGenerated, domain.CostImageGen, "img", func(context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ожидали ошибку действия, получили %v", err)
	}
	if accounts.credits != 5 {
		t.Errorf("баланс не должен меняться при ошибке действия, остаток %d", accounts.credits)
	}
	if len(activities.rows) != 0 {
		t.Error("журнал не должен пополняться при ошибке действия")
	}
}

func TestChargeZeroCostNeverTouchesBalance(t *testing.T) {
	accounts := &stubAccounts{credits: 0}
	activities := &stubActivities{}
	svc := newService(accounts, activities)

	url, err := Charge(context.Background(), svc, domain.Account{ID: 1, Credits: 0}, domain.ActivityGifSearched, domain.CostGifSearch, "gif", func(context.Context) (string, error) {
		return "https://example.com/a.gif", nil
	})
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if url == "" {
		t.Error("ожидали результат действия")
	}
	if len(accounts.debits) != 0 {
		t.Error("бесплатное действие не должно списывать кредиты")
	}
	if len(activities.rows) != 1 || activities.rows[0].CreditDelta != 0 {
		t.Errorf("ожидали одну запись журнала с нулевой дельтой, получили %+v", activities.rows)
	}
}

type wrappingAccounts struct {
	domain.AccountRepo
}

func (wrappingAccounts) Debit(ctx context.Context, accountID int64, cost int) (int, error) {
	return 0, fmt.Errorf("debit account %d: %w", accountID, domain.ErrInsufficientCredits)
}

func TestChargeRecognizesWrappedInsufficientCredits(t *testing.T) {
	svc := NewService(wrappingAccounts{}, &stubActivities{}, nil, zerolog.Nop())

	before := testutil.ToFloat64(metrics.InsufficientCreditsTotal)
	_, err := Charge(context.Background(), svc, domain.Account{ID: 1, Credits: 5}, domain.ActivityReplySent, domain.CostReply, "reply", func(context.Context) (string, error) {
		return "ok", nil
	})
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("ожидали ErrInsufficientCredits за обёрткой, получили %v", err)
	}
	if got := testutil.ToFloat64(metrics.InsufficientCreditsTotal) - before; got != 1 {
		t.Errorf("счётчик отказов должен увеличиться на 1, получили %v", got)
	}
}

func TestChargeConcurrentNeverOverdraws(t *testing.T) {
	const (
		credits = 7
		cost    = 2
		workers = 50
	)
	accounts := &stubAccounts{credits: credits}
	activities := &stubActivities{}
	svc := newService(accounts, activities)
	acc := domain.Account{ID: 1, Credits: credits}

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Charge(context.Background(), svc, acc, domain.ActivityReplySent, cost, "reply", func(context.Context) (string, error) {
				return "ok", nil
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, domain.ErrInsufficientCredits) {
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}
	if want := credits / cost; succeeded != want {
		t.Errorf("ожидали %d успешных списаний, получили %d", want, succeeded)
	}
	if accounts.credits < 0 {
		t.Errorf("баланс ушёл в минус: %d", accounts.credits)
	}
}
