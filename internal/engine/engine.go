package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vitalguard/internal/access"
	"vitalguard/internal/alerts"
	"vitalguard/internal/audit"
	"vitalguard/internal/config"
	"vitalguard/internal/model"
	"vitalguard/internal/scoring"
	"vitalguard/internal/storage"
	"vitalguard/internal/stream"
)

// Engine owns the per-subject escalation state machine. All mutation
// paths (sample ingestion, the shared ticker, the action API) serialize
// on one mutex. Events are handed to the hub inside that critical
// section so subscribers observe transitions in the order they were
// applied; hub sends never block, so a slow consumer cannot stall a
// tick. Only persistence happens after unlock.
type Engine struct {
	logger *slog.Logger
	cfg    atomic.Value
	alerts *alerts.Store
	trail  *audit.Trail
	hub    *stream.Hub
	store  storage.Store
	access access.Resolver

	mu         sync.Mutex
	histories  map[string][]model.Sample
	cooldown   *Cooldown
	graceUntil time.Time

	now func() time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, alertsStore *alerts.Store, trail *audit.Trail, hub *stream.Hub, store storage.Store, resolver access.Resolver) *Engine {
	e := &Engine{
		logger:    logger,
		alerts:    alertsStore,
		trail:     trail,
		hub:       hub,
		store:     store,
		access:    resolver,
		histories: make(map[string][]model.Sample),
		cooldown:  NewCooldown(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Start consumes samples from the ingestion channel until ctx ends.
func (e *Engine) Start(ctx context.Context, in <-chan model.Sample) {
	go func() {
		for {
			select {
			case sample := <-in:
				e.ProcessSample(sample)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RunTicker drives automatic transitions on the shared fixed-interval
// ticker. One timer for all alerts, never one per alert.
func (e *Engine) RunTicker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.config().Escalation.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Tick(e.now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// outbound pairs an event with the subject whose scope gates delivery.
type outbound struct {
	subject string
	event   model.Event
}

// ProcessSample scores one arriving sample and applies the firing,
// supersession, refresh, or ignore decision for its subject.
func (e *Engine) ProcessSample(sample model.Sample) {
	if sample.SubjectID == "" {
		return
	}
	cfg := e.config()
	now := e.now()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}

	var out []outbound
	e.mu.Lock()
	history := e.histories[sample.SubjectID]
	result := scoring.Score(cfg.Detection, sample, history)

	history = append(history, sample)
	if len(history) > cfg.Detection.HistorySize {
		history = history[len(history)-cfg.Detection.HistorySize:]
	}
	e.histories[sample.SubjectID] = history

	switch {
	case result.Tier == model.TierNone:
		// Common case: nothing to do.
	case len(history) < cfg.Detection.MinSamples:
		// Cold start: too few observations to trust a firing decision.
	default:
		out = e.applyScoreLocked(cfg, sample.SubjectID, result, now)
	}
	e.broadcastLocked(out)
	e.mu.Unlock()
	e.persist(out)
}

func (e *Engine) applyScoreLocked(cfg *config.Config, subjectID string, result model.ScoreResult, now time.Time) []outbound {
	var out []outbound
	active, ok := e.alerts.Active(subjectID)
	if !ok {
		if e.inGraceLocked(now) {
			return nil
		}
		return e.openLocked(cfg, subjectID, result, now)
	}

	switch {
	case result.Tier > active.Tier:
		if e.inGraceLocked(now) {
			return nil
		}
		out = append(out, e.resolveLocked(&active, "superseded", model.System, model.ActionResolve, now)...)
		out = append(out, e.openLocked(cfg, subjectID, result, now)...)
	case result.Tier == active.Tier:
		// Refresh mutable fields only when they actually changed.
		// The state deadline is never reset by sample traffic.
		if refreshAlert(&active, result) {
			active.UpdatedAt = now
			e.alerts.Update(active)
			out = append(out, outbound{subjectID, upsertEvent(active)})
		}
	default:
		// Lower tier is sample noise; a live episode never downgrades.
	}
	return out
}

func (e *Engine) openLocked(cfg *config.Config, subjectID string, result model.ScoreResult, now time.Time) []outbound {
	if e.cooldown.Active(subjectID, result.Tier, now) {
		return nil
	}
	deadline := now.Add(cfg.Escalation.FiredWindow)
	alert := model.Alert{
		ID:              uuid.NewString(),
		SubjectID:       subjectID,
		Tier:            result.Tier,
		Severity:        result.Tier.Severity(),
		State:           model.StateFired,
		Score:           result.Points,
		Urgency:         1,
		Title:           result.Title,
		Message:         result.Message,
		FlaggedVitals:   result.FlaggedVitals,
		TopContributors: result.TopContributors,
		FiredAt:         now,
		UpdatedAt:       now,
		StateDeadlineAt: &deadline,
	}
	if !e.alerts.Insert(alert) {
		// Should be unreachable: Active() reported no live alert.
		if e.logger != nil {
			e.logger.Error("active alert invariant violated, dropping fire",
				"subject_id", subjectID, "alert_id", alert.ID)
		}
		return nil
	}
	e.cooldown.Set(subjectID, result.Tier, now, cfg.Cooldown.For(result.Tier))
	if e.logger != nil {
		e.logger.Warn("alert fired",
			"alert_id", alert.ID,
			"subject_id", subjectID,
			"tier", int(alert.Tier),
			"score", alert.Score,
			"contributors", alert.TopContributors,
		)
	}
	return []outbound{{subjectID, upsertEvent(alert)}}
}

func refreshAlert(a *model.Alert, result model.ScoreResult) bool {
	changed := false
	if a.Score != result.Points {
		a.Score = result.Points
		changed = true
	}
	if a.Title != result.Title {
		a.Title = result.Title
		changed = true
	}
	if a.Message != result.Message {
		a.Message = result.Message
		changed = true
	}
	if !equalStrings(a.TopContributors, result.TopContributors) {
		a.TopContributors = result.TopContributors
		changed = true
	}
	if !equalStrings(a.FlaggedVitals, result.FlaggedVitals) {
		a.FlaggedVitals = result.FlaggedVitals
		changed = true
	}
	return changed
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Tick advances every active alert whose deadline has passed. The
// ticker is the backstop guaranteeing no alert stays non-terminal
// forever without input.
func (e *Engine) Tick(now time.Time) {
	cfg := e.config()
	var out []outbound
	e.mu.Lock()
	for _, a := range e.alerts.ActiveAlerts() {
		if a.StateDeadlineAt == nil || a.StateDeadlineAt.After(now) {
			continue
		}
		tr, ok := autoTransitions[a.State]
		if !ok {
			continue
		}
		if tr.next == model.StateResolved {
			out = append(out, e.resolveLocked(&a, "review_timeout", model.System, model.ActionResolve, now)...)
			continue
		}
		a.State = tr.next
		if tr.bumpUrgency && a.Urgency < cfg.Escalation.UrgencyCap {
			a.Urgency++
		}
		deadline := now.Add(tr.window(cfg.Escalation))
		a.StateDeadlineAt = &deadline
		a.UpdatedAt = now
		e.alerts.Update(a)
		out = append(out, outbound{a.SubjectID, upsertEvent(a)})
	}
	e.broadcastLocked(out)
	e.mu.Unlock()
	e.persist(out)
}

// resolveLocked terminates an episode: the alert becomes immutable and
// the subject may open a new one. Every resolution is audited, manual
// or automatic.
func (e *Engine) resolveLocked(a *model.Alert, reason string, actor model.Principal, action model.ActionKind, now time.Time) []outbound {
	a.State = model.StateResolved
	a.ResolvedAt = &now
	a.StateDeadlineAt = nil
	a.UpdatedAt = now
	a.ResolutionReason = reason
	e.alerts.Update(*a)
	entry := e.auditLocked(*a, actor, action, reason, now)
	return []outbound{
		{a.SubjectID, resolvedEvent(*a)},
		{a.SubjectID, e.auditEventLocked(entry)},
	}
}

func (e *Engine) terminalGuardLocked(alertID string, actor model.Principal) (model.Alert, error) {
	a, ok := e.alerts.Get(alertID)
	if !ok {
		return model.Alert{}, ErrNotFound
	}
	if e.access != nil && !e.access.CanAccess(actor, a.SubjectID) {
		return model.Alert{}, ErrForbidden
	}
	if a.State.Terminal() {
		return model.Alert{}, ErrAlreadyResolved
	}
	return a, nil
}

func (e *Engine) auditLocked(a model.Alert, actor model.Principal, action model.ActionKind, note string, now time.Time) model.AuditEntry {
	entry := model.AuditEntry{
		AlertID:        a.ID,
		SubjectID:      a.SubjectID,
		ActorID:        actor.ID,
		ActorRole:      actor.Role,
		Action:         action,
		Note:           note,
		Timestamp:      now,
		ResponseTimeMs: now.Sub(a.FiredAt).Milliseconds(),
	}
	if e.trail != nil {
		e.trail.Append(entry)
	}
	return entry
}

func (e *Engine) auditEventLocked(entry model.AuditEntry) model.Event {
	ev := model.Event{Type: model.EventAudit, Time: entry.Timestamp, Entry: &entry}
	if e.trail != nil {
		summary := e.trail.Summary(access.Scope{Subjects: map[string]struct{}{entry.SubjectID: {}}})
		ev.Summary = &summary
	}
	return ev
}

func upsertEvent(a model.Alert) model.Event {
	alert := a
	return model.Event{Type: model.EventAlertUpsert, Time: a.UpdatedAt, Alert: &alert}
}

func resolvedEvent(a model.Alert) model.Event {
	alert := a
	return model.Event{Type: model.EventAlertResolved, Time: a.UpdatedAt, Alert: &alert}
}

// broadcastLocked hands prepared events to the hub while the engine
// lock is still held, preserving per-subject delivery order across
// concurrent mutation paths. Hub sends are non-blocking by contract.
func (e *Engine) broadcastLocked(out []outbound) {
	if e.hub == nil {
		return
	}
	for _, o := range out {
		e.hub.Broadcast(o.subject, o.event)
	}
}

// persist writes events through to durable storage outside the lock.
// Best-effort: the engine's own state is in-memory.
func (e *Engine) persist(out []outbound) {
	if e.store == nil {
		return
	}
	for _, o := range out {
		switch o.event.Type {
		case model.EventAlertResolved:
			_ = e.store.SaveAlert(context.Background(), *o.event.Alert)
		case model.EventAudit:
			_ = e.store.SaveAuditEntry(context.Background(), *o.event.Entry)
		}
	}
}

// Subscribe registers a stream consumer with the hub and snapshots the
// visible state in the same critical section, so no transition applied
// between snapshot and registration can be missed or duplicated. It
// also arms the post-connect grace window.
func (e *Engine) Subscribe(ctx context.Context, principal model.Principal, scope access.Scope) *stream.Subscriber {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armGraceLocked(now)
	return e.hub.Subscribe(ctx, principal, scope, e.snapshotLocked(scope))
}

// NoteSubscriberConnected arms the post-connect grace window during
// which no new episode fires, so a freshly opened session is not
// startled by an immediate alarm.
func (e *Engine) NoteSubscriberConnected() {
	now := e.now()
	e.mu.Lock()
	e.armGraceLocked(now)
	e.mu.Unlock()
}

func (e *Engine) armGraceLocked(now time.Time) {
	grace := e.config().Escalation.SubscriberGrace
	if grace <= 0 {
		return
	}
	if until := now.Add(grace); until.After(e.graceUntil) {
		e.graceUntil = until
	}
}

func (e *Engine) inGraceLocked(now time.Time) bool {
	return now.Before(e.graceUntil)
}

// Acknowledge moves a non-terminal alert to being_reviewed. Repeating
// it on an alert already under review changes no state but is still
// audited.
func (e *Engine) Acknowledge(alertID string, actor model.Principal, reason string) (model.Alert, error) {
	return e.review(alertID, actor, model.ActionAcknowledge, reason)
}

// CaregiverAction applies one of the caregiver verbs. Dismiss is
// terminal; everything else moves the alert under review.
func (e *Engine) CaregiverAction(alertID string, caregiver model.Principal, action model.ActionKind, note string) (model.Alert, error) {
	if caregiver.Role != model.RoleCaregiver {
		return model.Alert{}, ErrForbidden
	}
	if !action.ValidCaregiverAction() {
		return model.Alert{}, ErrValidation
	}
	if action == model.ActionDismiss {
		return e.dismiss(alertID, caregiver, note)
	}
	return e.review(alertID, caregiver, action, note)
}

func (e *Engine) review(alertID string, actor model.Principal, action model.ActionKind, note string) (model.Alert, error) {
	cfg := e.config()
	now := e.now()

	e.mu.Lock()
	a, err := e.terminalGuardLocked(alertID, actor)
	if err != nil {
		e.mu.Unlock()
		return model.Alert{}, err
	}
	out := e.reviewLocked(&a, cfg, actor, action, note, now)
	e.broadcastLocked(out)
	e.mu.Unlock()
	e.persist(out)
	return a, nil
}

func (e *Engine) reviewLocked(a *model.Alert, cfg *config.Config, actor model.Principal, action model.ActionKind, note string, now time.Time) []outbound {
	var out []outbound
	if a.State != model.StateBeingReviewed {
		a.State = model.StateBeingReviewed
		if a.AcknowledgedAt == nil {
			a.AcknowledgedAt = &now
		}
		deadline := now.Add(cfg.Escalation.ReviewWindow)
		a.StateDeadlineAt = &deadline
		a.UpdatedAt = now
		e.alerts.Update(*a)
		out = append(out, outbound{a.SubjectID, upsertEvent(*a)})
	}
	entry := e.auditLocked(*a, actor, action, note, now)
	out = append(out, outbound{a.SubjectID, e.auditEventLocked(entry)})
	return out
}

func (e *Engine) dismiss(alertID string, caregiver model.Principal, note string) (model.Alert, error) {
	now := e.now()
	reason := note
	if reason == "" {
		reason = "dismissed"
	}

	e.mu.Lock()
	a, err := e.terminalGuardLocked(alertID, caregiver)
	if err != nil {
		e.mu.Unlock()
		return model.Alert{}, err
	}
	out := e.resolveLocked(&a, reason, caregiver, model.ActionDismiss, now)
	e.broadcastLocked(out)
	e.mu.Unlock()
	e.persist(out)
	return a, nil
}

// BulkAcknowledge acknowledges every non-terminal alert visible to the
// caregiver, optionally filtered to one tier. Each alert transitions
// independently; partial completion under concurrent mutation is fine.
func (e *Engine) BulkAcknowledge(caregiver model.Principal, tier model.Tier) (int, []string, error) {
	if caregiver.Role != model.RoleCaregiver {
		return 0, nil, ErrForbidden
	}
	if tier != model.TierNone && !tier.Valid() {
		return 0, nil, ErrValidation
	}
	cfg := e.config()
	now := e.now()
	var scope access.Scope
	if e.access != nil {
		scope = e.access.ResolveScope(caregiver)
	}

	var out []outbound
	var ids []string
	e.mu.Lock()
	for _, a := range e.alerts.ActiveAlerts() {
		if !scope.Contains(a.SubjectID) {
			continue
		}
		if tier != model.TierNone && a.Tier != tier {
			continue
		}
		out = append(out, e.reviewLocked(&a, cfg, caregiver, model.ActionAcknowledge, "", now)...)
		ids = append(ids, a.ID)
	}
	e.broadcastLocked(out)
	e.mu.Unlock()
	e.persist(out)
	return len(ids), ids, nil
}

// VisibleActive lists the non-terminal alerts inside a scope.
func (e *Engine) VisibleActive(scope access.Scope) []model.Alert {
	all := e.alerts.ActiveAlerts()
	out := make([]model.Alert, 0, len(all))
	for _, a := range all {
		if scope.Contains(a.SubjectID) {
			out = append(out, a)
		}
	}
	return out
}

// VisibleResolved lists recently resolved alerts inside a scope,
// oldest first, capped at limit before scope filtering.
func (e *Engine) VisibleResolved(scope access.Scope, limit int) []model.Alert {
	resolved := e.alerts.Resolved(limit)
	out := make([]model.Alert, 0, len(resolved))
	for _, a := range resolved {
		if scope.Contains(a.SubjectID) {
			out = append(out, a)
		}
	}
	return out
}

// Snapshot builds the init frame a new subscriber receives before any
// live events.
func (e *Engine) Snapshot(scope access.Scope) model.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(scope)
}

func (e *Engine) snapshotLocked(scope access.Scope) model.Event {
	ev := model.Event{
		Type:   model.EventInit,
		Time:   e.now(),
		Alerts: e.VisibleActive(scope),
	}
	if e.trail != nil {
		summary := e.trail.Summary(scope)
		ev.Summary = &summary
	}
	return ev
}
