package services

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/vintaloop/go-listing-backend/internal/domain"
	"github.com/vintaloop/go-listing-backend/internal/repo"
)

func (h *harness) automationService() *AutomationService {
	s := NewAutomationService(h.db, h.store, h.vault, h.locks, h.guard, h.factory, h.exec,
		rate.NewLimiter(rate.Inf, 1), 5*time.Minute)
	s.Now = h.clock
	return s
}

// actionDriver scripts the item/member/inbox pages automation touches.
func actionDriver() *svcDriver {
	d := newSvcDriver()
	for _, sel := range []string{
		`[data-testid="bump-item-button"]`,
		`[data-testid="follow-button"]`,
		`[data-testid="unfollow-button"]`,
		`[data-testid="conversation-reply-input"]`,
		`[data-testid="conversation-send-button"]`,
	} {
		d.selectors[sel] = true
	}
	return d
}

func seedRule(t *testing.T, h *harness, rule domain.AutomationRule) *domain.AutomationRule {
	t.Helper()
	r, err := repo.CreateRule(h.db, &rule)
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return r
}

func TestRunTick_BumpRespectsDailyCapAndAdvancesAll(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	h.factory.Make = actionDriver
	svc := h.automationService()
	ctx := context.Background()

	targets := make([]string, 8)
	for i := range targets {
		targets[i] = "item" + strconv.Itoa(i)
	}
	rule := seedRule(t, h, domain.AutomationRule{
		OwnerID:   "u1",
		Kind:      domain.RuleBump,
		TargetIDs: targets,
		DailyCap:  5,
		Cooldown:  time.Hour,
		Enabled:   true,
	})

	if err := svc.RunTick(ctx); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	d := h.factory.last()
	if n := d.countClicks(`[data-testid="bump-item-button"]`); n != 5 {
		t.Errorf("bump clicks = %d, want 5 (daily cap)", n)
	}
	// Every considered target advances its cooldown, acted on or not, so the
	// next evaluation starts further down the list.
	for _, target := range targets {
		if _, err := h.store.Get(ctx, cooldownKey("u1", domain.RuleBump, target)); err != nil {
			t.Errorf("target %s cooldown not advanced", target)
		}
	}

	runs, err := repo.ListRunsForRule(h.db, rule.ID, 0)
	if err != nil {
		t.Fatalf("ListRunsForRule: %v", err)
	}
	if len(runs) != 1 || runs[0].ItemsProcessed != 8 || runs[0].ItemsSucceeded != 5 {
		t.Fatalf("run = %+v", runs)
	}
	// Both run stamps come from the injected clock, not wall time.
	if !runs[0].StartedAt.Equal(h.now) || !runs[0].FinishedAt.Equal(h.now) {
		t.Errorf("run window = [%v, %v], want clock %v", runs[0].StartedAt, runs[0].FinishedAt, h.now)
	}

	got, _ := repo.GetRule(h.db, rule.ID)
	if got.LastRunAt == nil {
		t.Error("last_run_at not stamped")
	}
}

func TestRunTick_CooldownSkipsRecentTargets(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	h.factory.Make = actionDriver
	svc := h.automationService()
	ctx := context.Background()

	rule := seedRule(t, h, domain.AutomationRule{
		OwnerID:   "u1",
		Kind:      domain.RuleBump,
		TargetIDs: []string{"item1"},
		DailyCap:  10,
		Cooldown:  time.Hour,
		Enabled:   true,
	})

	if err := svc.RunTick(ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	h.advance(time.Minute)
	if err := svc.RunTick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	total := 0
	for _, d := range h.factory.drivers {
		total += d.countClicks(`[data-testid="bump-item-button"]`)
	}
	if total != 1 {
		t.Errorf("bump clicks across ticks = %d, want 1 (cooldown)", total)
	}

	// Past the cooldown the target is eligible again.
	h.advance(2 * time.Hour)
	if err := svc.RunTick(ctx); err != nil {
		t.Fatalf("third tick: %v", err)
	}
	total = 0
	for _, d := range h.factory.drivers {
		total += d.countClicks(`[data-testid="bump-item-button"]`)
	}
	if total != 2 {
		t.Errorf("bump clicks after cooldown = %d, want 2", total)
	}
	_ = rule
}

func TestRunTick_LockBusyIsNoOp(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	h.factory.Make = actionDriver
	svc := h.automationService()
	ctx := context.Background()

	rule := seedRule(t, h, domain.AutomationRule{
		OwnerID:   "u1",
		Kind:      domain.RuleBump,
		TargetIDs: []string{"item1"},
		DailyCap:  10,
		Enabled:   true,
	})

	// Another instance holds this owner+kind lease.
	if _, err := h.locks.Acquire(ctx, "automation:"+rule.LockKey(), 5*time.Minute); err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}

	if err := svc.RunTick(ctx); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if h.factory.opens != 0 {
		t.Errorf("contended rule opened a browser")
	}
	runs, _ := repo.ListRunsForRule(h.db, rule.ID, 0)
	if len(runs) != 0 {
		t.Errorf("contended rule recorded a run: %+v", runs)
	}
}

func TestRunTick_MessageTemplateRendered(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	h.factory.Make = actionDriver
	svc := h.automationService()
	ctx := context.Background()

	seedRule(t, h, domain.AutomationRule{
		OwnerID:         "u1",
		Kind:            domain.RuleMessage,
		TargetIDs:       []string{"c-9"},
		DailyCap:        10,
		MessageTemplate: "Thanks for the like! ({conversation_id})",
		Enabled:         true,
	})

	if err := svc.RunTick(ctx); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	d := h.factory.last()
	got := d.typed[`[data-testid="conversation-reply-input"]`]
	if got != "Thanks for the like! (c-9)" {
		t.Errorf("rendered message = %q", got)
	}
	if d.countClicks(`[data-testid="conversation-send-button"]`) != 1 {
		t.Error("message not sent")
	}
	if !strings.HasSuffix(d.url, "/inbox/c-9") {
		t.Errorf("ended on %q", d.url)
	}
}

func TestRunTick_FollowRecordsMarker(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	h.factory.Make = actionDriver
	svc := h.automationService()
	ctx := context.Background()

	seedRule(t, h, domain.AutomationRule{
		OwnerID:   "u1",
		Kind:      domain.RuleFollow,
		TargetIDs: []string{"m1"},
		DailyCap:  10,
		Enabled:   true,
	})

	if err := svc.RunTick(ctx); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if h.factory.last().countClicks(`[data-testid="follow-button"]`) != 1 {
		t.Error("follow not clicked")
	}
	if _, err := h.store.Get(ctx, followKey("u1", "m1")); err != nil {
		t.Error("follow marker not recorded")
	}
}

func TestRunTick_ChurnUnfollowsNonReciprocal(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	h.factory.Make = func() *svcDriver {
		d := actionDriver()
		// m2 shows the reciprocity badge, m1 does not.
		d.byURL["https://market.test/member/m2"] = map[string]bool{
			`[data-testid="follows-you-badge"]`: true,
		}
		return d
	}
	svc := h.automationService()
	ctx := context.Background()

	seedRule(t, h, domain.AutomationRule{
		OwnerID:  "u1",
		Kind:     domain.RuleFollow,
		Strategy: StrategyChurn,
		DailyCap: 10,
		Enabled:  true,
	})

	// Both follows are four days old, past the reciprocity window.
	followedAt := strconv.FormatInt(h.now.Add(-96*time.Hour).Unix(), 10)
	for _, member := range []string{"m1", "m2"} {
		if err := h.store.Set(ctx, followKey("u1", member), followedAt, 0); err != nil {
			t.Fatalf("seed marker: %v", err)
		}
	}

	if err := svc.RunTick(ctx); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	d := h.factory.last()
	if n := d.countClicks(`[data-testid="unfollow-button"]`); n != 1 {
		t.Errorf("unfollow clicks = %d, want 1", n)
	}
	// Both markers are settled: m1 unfollowed, m2 reciprocated.
	for _, member := range []string{"m1", "m2"} {
		if _, err := h.store.Get(ctx, followKey("u1", member)); err == nil {
			t.Errorf("marker for %s not cleared", member)
		}
	}
}

func TestRunTick_ChallengeAbortsRule(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	h.factory.Make = func() *svcDriver {
		d := actionDriver()
		d.selectors[`#challenge-form`] = true
		return d
	}
	svc := h.automationService()
	ctx := context.Background()

	rule := seedRule(t, h, domain.AutomationRule{
		OwnerID:   "u1",
		Kind:      domain.RuleBump,
		TargetIDs: []string{"item1", "item2", "item3"},
		DailyCap:  10,
		Enabled:   true,
	})

	if err := svc.RunTick(ctx); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	runs, err := repo.ListRunsForRule(h.db, rule.ID, 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %+v, err = %v", runs, err)
	}
	// The first target hit the wall and the rest were never attempted.
	if runs[0].ItemsProcessed != 1 || runs[0].ItemsFailed != 1 || runs[0].ItemsSucceeded != 0 {
		t.Fatalf("run = %+v", runs[0])
	}
}

func TestDue_Windows(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	svc := h.automationService()

	tuesdayNoon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)   // Tuesday
	tuesdayEvening := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	saturdayNoon := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		window string
		now    time.Time
		want   bool
	}{
		{"continuous always", domain.WindowContinuous, tuesdayNoon, true},
		{"peak outside hours", domain.WindowPeak, tuesdayNoon, false},
		{"peak in the evening", domain.WindowPeak, tuesdayEvening, true},
		{"weekend on a weekday", domain.WindowWeekend, tuesdayNoon, false},
		{"weekend on saturday", domain.WindowWeekend, saturdayNoon, true},
		{"bad expression never due", "not a cron", tuesdayNoon, false},
	}
	for _, tc := range cases {
		got := svc.due(domain.AutomationRule{ScheduleWindow: tc.window}, tc.now)
		if got != tc.want {
			t.Errorf("%s: due = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDue_CronExpression(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	svc := h.automationService()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	beforeMidnight := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	afterMidnight := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)

	daily := domain.AutomationRule{ScheduleWindow: "0 0 * * *", LastRunAt: &beforeMidnight}
	if !svc.due(daily, now) {
		t.Error("daily cron should be due after midnight passed")
	}
	daily.LastRunAt = &afterMidnight
	if svc.due(daily, now) {
		t.Error("daily cron should not be due twice in one day")
	}
}

func TestRenderTemplate(t *testing.T) {
	got := RenderTemplate("Hi {name}, {name}! {missing}", map[string]string{"name": "Vera"})
	if got != "Hi Vera, Vera! {missing}" {
		t.Errorf("rendered = %q", got)
	}
}
