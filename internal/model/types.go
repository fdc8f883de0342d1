package model

import "time"

type Tier int

const (
	TierNone Tier = iota
	TierLow
	TierModerate
	TierCritical
)

func (t Tier) Severity() string {
	switch t {
	case TierLow:
		return "low"
	case TierModerate:
		return "moderate"
	case TierCritical:
		return "critical"
	}
	return ""
}

func (t Tier) Valid() bool {
	return t >= TierLow && t <= TierCritical
}

type AlertState string

const (
	StateFired         AlertState = "fired"
	StateAwaitingAck   AlertState = "awaiting_ack"
	StateEscalated     AlertState = "escalated"
	StateBeingReviewed AlertState = "being_reviewed"
	StateResolved      AlertState = "resolved"
)

func (s AlertState) Terminal() bool {
	return s == StateResolved
}

// Sample is one physiological reading delivered by the external producer.
type Sample struct {
	SubjectID string    `json:"subject_id"`
	Timestamp time.Time `json:"timestamp"`
	HeartRate float64   `json:"heart_rate"`
	SpO2      float64   `json:"spo2"`
	Activity  float64   `json:"activity"`
	Recovery  float64   `json:"recovery"`
}

// Alert is one firing episode for a subject. At most one non-terminal
// alert exists per subject at any time.
type Alert struct {
	ID               string     `json:"id"`
	SubjectID        string     `json:"subject_id"`
	Tier             Tier       `json:"tier"`
	Severity         string     `json:"severity"`
	State            AlertState `json:"state"`
	Score            int        `json:"score"`
	Urgency          int        `json:"urgency"`
	Title            string     `json:"title"`
	Message          string     `json:"message"`
	FlaggedVitals    []string   `json:"flagged_vitals,omitempty"`
	TopContributors  []string   `json:"top_contributors,omitempty"`
	FiredAt          time.Time  `json:"fired_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	StateDeadlineAt  *time.Time `json:"state_deadline_at,omitempty"`
	ResolutionReason string     `json:"resolution_reason,omitempty"`
}

type Role string

const (
	RolePatient   Role = "patient"
	RoleCaregiver Role = "caregiver"
	RoleSystem    Role = "system"
)

type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// System is the synthetic actor stamped on automatic transitions.
var System = Principal{ID: "system", Role: RoleSystem}

type ActionKind string

const (
	ActionAcknowledge ActionKind = "acknowledge"
	ActionCallPatient ActionKind = "call_patient"
	ActionAlertStaff  ActionKind = "alert_staff"
	ActionDismiss     ActionKind = "dismiss"
	ActionResolve     ActionKind = "resolve"
)

func (a ActionKind) ValidCaregiverAction() bool {
	switch a {
	case ActionAcknowledge, ActionCallPatient, ActionAlertStaff, ActionDismiss:
		return true
	}
	return false
}

type AuditEntry struct {
	AlertID        string     `json:"alert_id"`
	SubjectID      string     `json:"subject_id"`
	ActorID        string     `json:"actor_id"`
	ActorRole      Role       `json:"actor_role"`
	Action         ActionKind `json:"action"`
	Note           string     `json:"note,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	ResponseTimeMs int64      `json:"response_time_ms"`
}

type AuditSummary struct {
	Count          int     `json:"count"`
	MeanResponseMs float64 `json:"mean_response_ms"`
}

type EventType string

const (
	EventInit          EventType = "init"
	EventAlertUpsert   EventType = "alert_upsert"
	EventAlertResolved EventType = "alert_resolved"
	EventAudit         EventType = "audit"
	EventKeepalive     EventType = "keepalive"
)

// Event is one frame on the subscriber push stream, serialized as a
// single JSON object per line.
type Event struct {
	Type    EventType     `json:"type"`
	Time    time.Time     `json:"time"`
	Alert   *Alert        `json:"alert,omitempty"`
	Alerts  []Alert       `json:"alerts,omitempty"`
	Entry   *AuditEntry   `json:"entry,omitempty"`
	Summary *AuditSummary `json:"audit_summary,omitempty"`
}

type SignalHit struct {
	Label  string   `json:"label"`
	Points int      `json:"points"`
	Vitals []string `json:"vitals,omitempty"`
}

// ScoreResult is the scorer's verdict for one sample. Tier zero means
// no alert; that is the common case, not an error.
type ScoreResult struct {
	Points          int         `json:"points"`
	Tier            Tier        `json:"tier"`
	Signals         []SignalHit `json:"signals,omitempty"`
	TopContributors []string    `json:"top_contributors,omitempty"`
	FlaggedVitals   []string    `json:"flagged_vitals,omitempty"`
	Title           string      `json:"title,omitempty"`
	Message         string      `json:"message,omitempty"`
}
