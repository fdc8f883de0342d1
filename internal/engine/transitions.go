package engine

import (
	"time"

	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

// autoTransition is one row of the deadline-driven transition table:
// where an expired alert goes next and how long it stays there.
// Escalation oscillates awaiting_ack <-> escalated until someone acts.
type autoTransition struct {
	next        model.AlertState
	window      func(cfg config.EscalationConfig) time.Duration
	bumpUrgency bool
}

var autoTransitions = map[model.AlertState]autoTransition{
	model.StateFired: {
		next:   model.StateAwaitingAck,
		window: func(cfg config.EscalationConfig) time.Duration { return cfg.AwaitingAckWindow },
	},
	model.StateAwaitingAck: {
		next:        model.StateEscalated,
		window:      func(cfg config.EscalationConfig) time.Duration { return cfg.EscalatedWindow },
		bumpUrgency: true,
	},
	model.StateEscalated: {
		next:   model.StateAwaitingAck,
		window: func(cfg config.EscalationConfig) time.Duration { return cfg.AwaitingAckWindow },
	},
	model.StateBeingReviewed: {
		next: model.StateResolved,
	},
}
