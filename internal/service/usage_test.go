package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUsage(st *memStore) *usageService {
	ent := newTestEntitlements(st, newMockProvider())
	svc := NewUsageService(st, ent, testLogger()).(*usageService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func storedSub(plan domain.PlanID) domain.Subscription {
	return domain.Subscription{
		UserID:             "u1",
		PlanID:             plan,
		Status:             domain.SubscriptionStatusActive,
		CurrentPeriodStart: fixedNow.Add(-5 * 24 * time.Hour),
		CurrentPeriodEnd:   fixedNow.Add(25 * 24 * time.Hour),
		Source:             domain.SourceStore,
	}
}

func addUsage(st *memStore, action domain.Action, n int, at time.Time) {
	for i := 0; i < n; i++ {
		st.usage = append(st.usage, domain.UsageEvent{UserID: "u1", Action: action, CreatedAt: at})
	}
}

func TestTrackActivity(t *testing.T) {
	st := newMemStore()
	svc := newTestUsage(st)

	ok := svc.TrackActivity(context.Background(), TrackActivityParams{
		UserID:    "u1",
		Action:    "searches",
		Metadata:  map[string]any{"query": "llm"},
		IPAddress: "10.0.0.1",
	})
	require.True(t, ok)
	require.Len(t, st.usage, 1)
	assert.Equal(t, domain.ActionSearch, st.usage[0].Action)
	assert.Equal(t, "10.0.0.1", st.usage[0].IPAddress)

	ok = svc.TrackActivity(context.Background(), TrackActivityParams{UserID: "u1", Action: "notebook_view"})
	assert.True(t, ok)
	assert.Equal(t, domain.Action("notebook_view"), st.usage[1].Action)
}

func TestTrackActivity_BestEffort(t *testing.T) {
	st := newMemStore()
	st.recordErr = domain.StoreUnavailable(errors.New("down"), "mem")
	svc := newTestUsage(st)

	assert.False(t, svc.TrackActivity(context.Background(), TrackActivityParams{UserID: "u1", Action: "search"}))
	assert.False(t, svc.TrackActivity(context.Background(), TrackActivityParams{UserID: "", Action: "search"}))
	assert.False(t, svc.TrackActivity(context.Background(), TrackActivityParams{UserID: "u1", Action: ""}))
}

func TestCanPerformAction(t *testing.T) {
	tests := []struct {
		name   string
		sub    *domain.Subscription
		action domain.Action
		used   int
		want   bool
	}{
		{"free under limit", nil, domain.ActionSearch, 49, true},
		{"free at limit", nil, domain.ActionSearch, 50, false},
		{"free api calls have zero limit", nil, domain.ActionAPICall, 0, false},
		{"standard under limit", ptr(storedSub(domain.PlanStandard)), domain.ActionDownload, 10, true},
		{"standard at limit", ptr(storedSub(domain.PlanStandard)), domain.ActionDownload, 50, false},
		{"professional unlimited searches", ptr(storedSub(domain.PlanProfessional)), domain.ActionSearch, 1000, true},
		{"enterprise unlimited downloads", ptr(storedSub(domain.PlanEnterprise)), domain.ActionDownload, 5000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			if tt.sub != nil {
				st.subs["u1"] = *tt.sub
			}
			addUsage(st, tt.action, tt.used, fixedNow.Add(-time.Hour))
			svc := newTestUsage(st)

			got, err := svc.CanPerformAction(context.Background(), "u1", tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanPerformAction_UnlimitedSkipsCounting(t *testing.T) {
	st := newMemStore()
	st.subs["u1"] = storedSub(domain.PlanEnterprise)
	st.countErr = errors.New("count must not be called")
	svc := newTestUsage(st)

	for _, a := range domain.Actions {
		ok, err := svc.CanPerformAction(context.Background(), "u1", a)
		require.NoError(t, err)
		assert.True(t, ok, a)
	}
}

func TestCanPerformAction_CountFailureDenies(t *testing.T) {
	st := newMemStore()
	st.subs["u1"] = storedSub(domain.PlanStandard)
	st.countErr = domain.StoreUnavailable(errors.New("down"), "mem")
	svc := newTestUsage(st)

	ok, err := svc.CanPerformAction(context.Background(), "u1", domain.ActionSearch)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanPerformAction_InvalidAction(t *testing.T) {
	svc := newTestUsage(newMemStore())

	_, err := svc.CanPerformAction(context.Background(), "u1", domain.Action("teleport"))
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestCanPerformAction_IgnoresUsageBeforePeriod(t *testing.T) {
	st := newMemStore()
	sub := storedSub(domain.PlanStandard)
	st.subs["u1"] = sub
	addUsage(st, domain.ActionDownload, 50, sub.CurrentPeriodStart.Add(-time.Hour))
	svc := newTestUsage(st)

	ok, err := svc.CanPerformAction(context.Background(), "u1", domain.ActionDownload)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetUsage(t *testing.T) {
	st := newMemStore()
	st.subs["u1"] = storedSub(domain.PlanStandard)
	addUsage(st, domain.ActionSearch, 250, fixedNow.Add(-time.Hour))
	addUsage(st, domain.ActionDownload, 80, fixedNow.Add(-time.Hour))
	svc := newTestUsage(st)

	r, err := svc.GetUsage(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, domain.PlanStandard, r.Plan.ID)
	assert.Equal(t, int64(250), r.Usage["searches"])
	assert.Equal(t, 50.0, r.Percentage["searches"])
	assert.Equal(t, 100.0, r.Percentage["downloads"])
	assert.Equal(t, 0.0, r.Percentage["api_calls"])
	assert.Equal(t, int64(0), r.Remaining["downloads"])
	assert.Equal(t, int64(100), r.Remaining["api_calls"])
	assert.False(t, r.HasPremiumAccess)
	assert.Equal(t, st.subs["u1"].CurrentPeriodStart, r.PeriodStart)

	for key, p := range r.Percentage {
		assert.GreaterOrEqual(t, p, 0.0, key)
		assert.LessOrEqual(t, p, 100.0, key)
	}
}

func TestGetUsage_DemoFallbackSkipsCounting(t *testing.T) {
	st := newMemStore()
	st.getErr = domain.StoreUnavailable(errors.New("down"), "mem")
	st.countErr = errors.New("count must not be called")
	svc := newTestUsage(st)

	r, err := svc.GetUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDemo, r.Source)
	assert.Equal(t, int64(0), r.Usage["searches"])
}

func TestGetUsage_CountFailure(t *testing.T) {
	st := newMemStore()
	st.subs["u1"] = storedSub(domain.PlanStandard)
	st.countErr = domain.StoreUnavailable(errors.New("down"), "mem")
	svc := newTestUsage(st)

	_, err := svc.GetUsage(context.Background(), "u1")
	assert.Equal(t, domain.ESTORE, domain.ErrorCode(err))
}

func ptr[T any](v T) *T {
	return &v
}
