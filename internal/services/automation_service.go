// Package services – AutomationService
//
// This file implements the scheduled automation rules: bumping listings,
// working a follow rotation (including the unfollow sweep for members who
// never followed back), and sending templated messages. Every evaluation is
// guarded the same way as a manual action: a distributed per-owner lease,
// the quota guard, per-target cooldowns, and the rule's own daily cap.
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/vintaloop/go-listing-backend/internal/browser"
	"github.com/vintaloop/go-listing-backend/internal/domain"
	"github.com/vintaloop/go-listing-backend/internal/kv"
	"github.com/vintaloop/go-listing-backend/internal/lock"
	"github.com/vintaloop/go-listing-backend/internal/metrics"
	"github.com/vintaloop/go-listing-backend/internal/quota"
	"github.com/vintaloop/go-listing-backend/internal/repo"
	"github.com/vintaloop/go-listing-backend/internal/vault"
)

// followMarkerTTL bounds how long a follow is remembered for the unfollow
// sweep.
const followMarkerTTL = 30 * 24 * time.Hour

// unfollowAfter is how long a followed member gets to follow back before the
// churn strategy unfollows them.
const unfollowAfter = 72 * time.Hour

// StrategyChurn is the follow-rule strategy that unfollows members who have
// not followed back after unfollowAfter.
const StrategyChurn = "churn"

// AutomationService evaluates enabled rules on every scheduler tick.
type AutomationService struct {
	// DB is the GORM handle for rules and run records.
	DB *gorm.DB
	// Store keeps per-target cooldowns, rule day counters, follow markers.
	Store kv.Store
	// Vault loads owner sessions.
	Vault *vault.Vault
	// Locks serializes owner+kind evaluation across instances.
	Locks lock.Manager
	// Quota guards the per-owner daily action ceilings.
	Quota *quota.Guard
	// Browser opens drivers; Exec drives the pages.
	Browser browser.Factory
	Exec    *browser.Executor
	// Limiter paces browser actions across all rules on this instance.
	Limiter *rate.Limiter

	LockTTL time.Duration

	// Now is the clock; defaults to time.Now via NewAutomationService.
	Now func() time.Time
}

// NewAutomationService constructs an AutomationService.
func NewAutomationService(db *gorm.DB, store kv.Store, v *vault.Vault, locks lock.Manager, guard *quota.Guard, factory browser.Factory, exec *browser.Executor, limiter *rate.Limiter, lockTTL time.Duration) *AutomationService {
	return &AutomationService{
		DB:      db,
		Store:   store,
		Vault:   v,
		Locks:   locks,
		Quota:   guard,
		Browser: factory,
		Exec:    exec,
		Limiter: limiter,
		LockTTL: lockTTL,
		Now:     time.Now,
	}
}

// RunTick evaluates every enabled rule that is due. Rules are independent;
// one failing rule never blocks the rest of the tick.
func (s *AutomationService) RunTick(ctx context.Context) error {
	tr := otel.Tracer("services/AutomationService")
	ctx, span := tr.Start(ctx, "RunTick")
	defer span.End()

	rules, err := repo.ListEnabledRules(s.DB)
	if err != nil {
		return err
	}
	now := s.Now()
	for i := range rules {
		rule := rules[i]
		if !s.due(rule, now) {
			continue
		}
		if err := s.runRule(ctx, rule); err != nil {
			log.Error().Err(err).Str("rule_id", rule.ID).Str("kind", rule.Kind).Msg("rule evaluation failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// due decides whether a rule's schedule window admits an evaluation now.
// Named windows are checked against the wall clock; anything else is parsed
// as a cron expression that must have fired since the last run.
func (s *AutomationService) due(rule domain.AutomationRule, now time.Time) bool {
	switch rule.ScheduleWindow {
	case "", domain.WindowContinuous:
		return true
	case domain.WindowPeak:
		h := now.Hour()
		return h >= 18 && h < 23
	case domain.WindowWeekend:
		wd := now.Weekday()
		h := now.Hour()
		return (wd == time.Saturday || wd == time.Sunday) && h >= 9 && h < 21
	}
	sched, err := cron.ParseStandard(rule.ScheduleWindow)
	if err != nil {
		log.Warn().Str("rule_id", rule.ID).Str("window", rule.ScheduleWindow).Msg("unparseable schedule window, skipping rule")
		return false
	}
	last := now.Add(-24 * time.Hour)
	if rule.LastRunAt != nil {
		last = *rule.LastRunAt
	}
	return !sched.Next(last).After(now)
}

// runRule evaluates one rule under its distributed lease.
func (s *AutomationService) runRule(ctx context.Context, rule domain.AutomationRule) error {
	tr := otel.Tracer("services/AutomationService")
	ctx, span := tr.Start(ctx, "runRule",
		trace.WithAttributes(
			attribute.String("rule.id", rule.ID),
			attribute.String("rule.kind", rule.Kind),
		),
	)
	defer span.End()

	lease, err := s.Locks.Acquire(ctx, "automation:"+rule.LockKey(), s.LockTTL)
	if errors.Is(err, lock.ErrBusy) {
		// Another instance is working this owner+kind; this is routine.
		metrics.LockBusy(rule.Kind)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			log.Warn().Err(rerr).Str("key", lease.Key()).Msg("failed to release rule lease")
		}
	}()

	sess, err := s.Vault.Load(ctx, rule.OwnerID)
	if errors.Is(err, vault.ErrUnauthenticated) {
		log.Warn().Str("rule_id", rule.ID).Str("owner_id", rule.OwnerID).Msg("no valid session, rule skipped")
		return nil
	}
	if err != nil {
		return err
	}

	d, err := s.Browser.NewDriver(ctx, sess)
	if err != nil {
		return err
	}
	defer d.Close()

	run := domain.AutomationRun{RuleID: rule.ID, StartedAt: s.Now().UTC()}
	s.processTargets(ctx, rule, d, &run)

	if rule.Kind == domain.RuleFollow && rule.Strategy == StrategyChurn {
		s.unfollowSweep(ctx, rule, d, &run)
	}
	run.FinishedAt = s.Now().UTC()

	if _, err := repo.CreateRun(s.DB, &run); err != nil {
		log.Error().Err(err).Str("rule_id", rule.ID).Msg("failed to record automation run")
	}
	if err := repo.UpdateRuleLastRun(s.DB, rule.ID, s.Now()); err != nil {
		log.Error().Err(err).Str("rule_id", rule.ID).Msg("failed to stamp rule last run")
	}
	log.Info().
		Str("rule_id", rule.ID).
		Str("kind", rule.Kind).
		Int("processed", run.ItemsProcessed).
		Int("succeeded", run.ItemsSucceeded).
		Int("failed", run.ItemsFailed).
		Msg("rule evaluated")
	return nil
}

// processTargets walks the rule's targets in order. Targets inside their
// cooldown are skipped. Every considered target has its cooldown advanced,
// including those beyond the daily cap, so the rotation moves forward instead
// of hammering the front of the list every evaluation.
func (s *AutomationService) processTargets(ctx context.Context, rule domain.AutomationRule, d browser.Driver, run *domain.AutomationRun) {
	capReached := false
	for _, target := range rule.TargetIDs {
		if ctx.Err() != nil {
			return
		}
		eligible, err := s.targetEligible(ctx, rule, target)
		if err != nil {
			log.Warn().Err(err).Str("rule_id", rule.ID).Msg("cooldown check failed")
			continue
		}
		if !eligible {
			continue
		}
		run.ItemsProcessed++
		s.advanceCooldown(ctx, rule, target)

		if capReached {
			continue
		}
		if ok, err := s.underDailyCap(ctx, rule); err != nil || !ok {
			capReached = true
			continue
		}
		if err := s.Quota.Consume(ctx, rule.OwnerID, quotaKind(rule.Kind), 1); err != nil {
			if errors.Is(err, quota.ErrExceeded) {
				capReached = true
				continue
			}
			log.Warn().Err(err).Str("rule_id", rule.ID).Msg("quota check failed")
			continue
		}

		if err := s.dispatch(ctx, rule, d, target); err != nil {
			run.ItemsFailed++
			metrics.Action(rule.Kind, "failed")
			if errors.Is(err, browser.ErrChallengeDetected) {
				// Terminal for the whole evaluation, not just this target.
				log.Warn().Str("rule_id", rule.ID).Msg("challenge during automation, aborting rule")
				return
			}
			log.Warn().Err(err).Str("rule_id", rule.ID).Msg("automation action failed")
			continue
		}
		run.ItemsSucceeded++
		metrics.Action(rule.Kind, "ok")
	}
}

// dispatch performs one action for one target, paced by the shared limiter.
func (s *AutomationService) dispatch(ctx context.Context, rule domain.AutomationRule, d browser.Driver, target string) error {
	if err := s.Limiter.Wait(ctx); err != nil {
		return err
	}
	switch rule.Kind {
	case domain.RuleBump:
		return s.Exec.Bump(ctx, d, target)
	case domain.RuleFollow:
		if err := s.Exec.Follow(ctx, d, target); err != nil {
			return err
		}
		if err := s.Store.Set(ctx, followKey(rule.OwnerID, target),
			strconv.FormatInt(s.Now().Unix(), 10), followMarkerTTL); err != nil {
			log.Warn().Err(err).Str("member_id", target).Msg("failed to record follow marker")
		}
		return nil
	case domain.RuleMessage:
		text := RenderTemplate(rule.MessageTemplate, map[string]string{
			"owner_id":        rule.OwnerID,
			"conversation_id": target,
		})
		if strings.TrimSpace(text) == "" {
			return errors.New("message template rendered empty")
		}
		return s.Exec.SendMessage(ctx, d, target, text)
	default:
		return errors.New("unknown rule kind " + rule.Kind)
	}
}

// unfollowSweep walks the owner's follow markers and unfollows members who
// have not reciprocated within unfollowAfter.
func (s *AutomationService) unfollowSweep(ctx context.Context, rule domain.AutomationRule, d browser.Driver, run *domain.AutomationRun) {
	keys, err := s.Store.Keys(ctx, followKey(rule.OwnerID, "*"))
	if err != nil {
		log.Warn().Err(err).Str("rule_id", rule.ID).Msg("follow marker scan failed")
		return
	}
	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		raw, err := s.Store.Get(ctx, key)
		if err != nil {
			continue
		}
		followedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			_ = s.Store.Delete(ctx, key)
			continue
		}
		if s.Now().Sub(time.Unix(followedAt, 0)) < unfollowAfter {
			continue
		}
		member := strings.TrimPrefix(key, followKey(rule.OwnerID, ""))

		reciprocated, err := s.Exec.FollowsBack(ctx, d, member)
		if err != nil {
			if errors.Is(err, browser.ErrChallengeDetected) {
				log.Warn().Str("rule_id", rule.ID).Msg("challenge during unfollow sweep, aborting")
				return
			}
			continue
		}
		if reciprocated {
			// Keep the relationship; the marker has served its purpose.
			_ = s.Store.Delete(ctx, key)
			continue
		}

		if err := s.Limiter.Wait(ctx); err != nil {
			return
		}
		run.ItemsProcessed++
		if err := s.Exec.Unfollow(ctx, d, member); err != nil {
			run.ItemsFailed++
			metrics.Action("unfollow", "failed")
			continue
		}
		run.ItemsSucceeded++
		metrics.Action("unfollow", "ok")
		_ = s.Store.Delete(ctx, key)
	}
}

// targetEligible reports whether the target is outside its cooldown.
func (s *AutomationService) targetEligible(ctx context.Context, rule domain.AutomationRule, target string) (bool, error) {
	if rule.Cooldown <= 0 {
		return true, nil
	}
	_, err := s.Store.Get(ctx, cooldownKey(rule.OwnerID, rule.Kind, target))
	if errors.Is(err, kv.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// advanceCooldown stamps the target so later evaluations skip it until the
// rule's cooldown elapses.
func (s *AutomationService) advanceCooldown(ctx context.Context, rule domain.AutomationRule, target string) {
	if rule.Cooldown <= 0 {
		return
	}
	key := cooldownKey(rule.OwnerID, rule.Kind, target)
	if err := s.Store.Set(ctx, key, strconv.FormatInt(s.Now().Unix(), 10), rule.Cooldown); err != nil {
		log.Warn().Err(err).Str("rule_id", rule.ID).Msg("failed to advance cooldown")
	}
}

// underDailyCap charges the rule's own per-day counter and reports whether
// the cap still has room.
func (s *AutomationService) underDailyCap(ctx context.Context, rule domain.AutomationRule) (bool, error) {
	if rule.DailyCap <= 0 {
		return true, nil
	}
	key := "rulecap:" + rule.ID + ":" + s.Now().UTC().Format("20060102")
	total, err := s.Store.IncrBy(ctx, key, 1)
	if err != nil {
		return false, err
	}
	if total == 1 {
		if err := s.Store.Expire(ctx, key, 48*time.Hour); err != nil {
			log.Warn().Err(err).Str("rule_id", rule.ID).Msg("failed to set cap counter ttl")
		}
	}
	if total > int64(rule.DailyCap) {
		if _, err := s.Store.IncrBy(ctx, key, -1); err != nil {
			log.Warn().Err(err).Str("rule_id", rule.ID).Msg("failed to roll back cap charge")
		}
		return false, nil
	}
	return true, nil
}

func cooldownKey(ownerID, kind, target string) string {
	return "cooldown:" + ownerID + ":" + kind + ":" + target
}

func followKey(ownerID, member string) string {
	return "followed:" + ownerID + ":" + member
}

// quotaKind maps a rule kind to its quota bucket.
func quotaKind(ruleKind string) quota.Kind {
	switch ruleKind {
	case domain.RuleBump:
		return quota.KindBump
	case domain.RuleFollow:
		return quota.KindFollow
	default:
		return quota.KindMessage
	}
}

// RenderTemplate substitutes {key} placeholders in a message template.
// Unknown placeholders are left in place so a typo is visible in review
// rather than silently dropped.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}
