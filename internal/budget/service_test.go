package budget

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"aegis/internal/platform/config"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/requestcontext"
)

type BudgetServiceSuite struct {
	suite.Suite
	store   *InMemoryStore
	service *Service
	now     time.Time
}

func TestBudgetServiceSuite(t *testing.T) {
	suite.Run(t, new(BudgetServiceSuite))
}

func (s *BudgetServiceSuite) SetupTest() {
	s.now = time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)
	s.store = NewInMemoryStore(WithMemoryClock(func() time.Time { return s.now }))

	var err error
	s.service, err = NewService(s.store, config.BudgetConfig{
		AgentDailyCapCents:    100,
		TenantMonthlyCapCents: 1000,
		ChargePerRequestCents: 10,
		WindowGrace:           time.Hour,
	})
	s.Require().NoError(err)
}

func (s *BudgetServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *BudgetServiceSuite) TestNew() {
	_, err := NewService(nil, config.BudgetConfig{})
	s.Error(err)
}

func (s *BudgetServiceSuite) TestReserve_ChargesBothScopes() {
	snapshots, err := s.service.Reserve(s.ctx(), "agent-1", "tenant-1")
	s.Require().NoError(err)
	s.Require().Len(snapshots, 2)

	s.Equal(ScopeAgent, snapshots[0].Scope)
	s.Equal(int64(10), snapshots[0].Spent)
	s.Equal(int64(100), snapshots[0].Cap)
	s.Equal(time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC), snapshots[0].ResetAt)

	s.Equal(ScopeTenant, snapshots[1].Scope)
	s.Equal(int64(10), snapshots[1].Spent)
	s.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), snapshots[1].ResetAt)
}

func (s *BudgetServiceSuite) TestReserve_AgentCapDenies() {
	ctx := s.ctx()
	for range 10 {
		_, err := s.service.Reserve(ctx, "agent-1", "tenant-1")
		s.Require().NoError(err)
	}

	_, err := s.service.Reserve(ctx, "agent-1", "tenant-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBudgetExceeded))

	de := dErrors.AsError(err)
	// Reset at next UTC midnight, 9 hours away.
	s.InDelta(9*3600, de.RetryAfter, 2)

	// The denied request must not have charged either scope.
	amount, _, err2 := s.store.Usage(ctx, agentDayWindow("agent-1", s.now, time.Hour).key)
	s.Require().NoError(err2)
	s.Equal(int64(100), amount)
	amount, _, err2 = s.store.Usage(ctx, tenantMonthWindow("tenant-1", s.now, time.Hour).key)
	s.Require().NoError(err2)
	s.Equal(int64(100), amount)
}

func (s *BudgetServiceSuite) TestReserve_TenantCapDeniesWithoutChargingAgent() {
	ctx := s.ctx()
	// Exhaust the tenant's monthly cap across many agents, each staying
	// under its own daily cap.
	for i := range 100 {
		subject := domain.SubjectID(fmt.Sprintf("agent-%d", i))
		_, err := s.service.Reserve(ctx, subject, "tenant-1")
		s.Require().NoError(err)
	}

	_, err := s.service.Reserve(ctx, "agent-fresh", "tenant-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePlatformBudgetExceeded))

	// The fresh agent's daily window stays untouched: partial charging
	// against one scope while denying the other is an inconsistency.
	amount, count, err2 := s.store.Usage(ctx, agentDayWindow("agent-fresh", s.now, time.Hour).key)
	s.Require().NoError(err2)
	s.Zero(amount)
	s.Zero(count)
}

func (s *BudgetServiceSuite) TestReserve_RaceForLastUnit() {
	// Two concurrent requests each consuming more than half the remaining
	// budget: exactly one must win.
	svc, err := NewService(s.store, config.BudgetConfig{
		AgentDailyCapCents:    100,
		TenantMonthlyCapCents: 1000,
		ChargePerRequestCents: 60,
		WindowGrace:           time.Hour,
	})
	s.Require().NoError(err)

	ctx := s.ctx()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Reserve(ctx, "agent-race", "tenant-race")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			s.True(dErrors.HasCode(err, dErrors.CodeBudgetExceeded))
		}
	}
	s.Equal(1, succeeded, "racing requests must not both pass the cap")

	amount, _, err2 := s.store.Usage(ctx, agentDayWindow("agent-race", s.now, time.Hour).key)
	s.Require().NoError(err2)
	s.Equal(int64(60), amount, "total accepted spend must never exceed the cap")
}

func (s *BudgetServiceSuite) TestReserve_ManyWayRace() {
	svc, err := NewService(s.store, config.BudgetConfig{
		AgentDailyCapCents:    50,
		TenantMonthlyCapCents: 10_000,
		ChargePerRequestCents: 10,
		WindowGrace:           time.Hour,
	})
	s.Require().NoError(err)

	ctx := s.ctx()
	const workers = 20
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = svc.Reserve(ctx, "agent-n", "tenant-n")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	s.Equal(5, succeeded, "cap of 50 at 10 per request admits exactly 5")
}

func (s *BudgetServiceSuite) TestUsageToday() {
	ctx := s.ctx()
	count, err := s.service.UsageToday(ctx, "agent-1")
	s.Require().NoError(err)
	s.Zero(count)

	for range 3 {
		_, err := s.service.Reserve(ctx, "agent-1", "tenant-1")
		s.Require().NoError(err)
	}

	count, err = s.service.UsageToday(ctx, "agent-1")
	s.Require().NoError(err)
	s.Equal(int64(3), count)
}

func (s *BudgetServiceSuite) TestWindowExpiry() {
	ctx := s.ctx()
	_, err := s.service.Reserve(ctx, "agent-1", "tenant-1")
	s.Require().NoError(err)

	// Advance past the day boundary plus grace: the daily window resets.
	s.now = s.now.Add(36 * time.Hour)
	ctx = s.ctx()

	count, err := s.service.UsageToday(ctx, "agent-1")
	s.Require().NoError(err)
	s.Zero(count, "new day means a fresh window")
}
