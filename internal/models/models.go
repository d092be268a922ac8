// Package models defines the core data structures for ZapNotícias.
//
// It includes the contact record, the onboarding state enum, inbound event
// types, and outbound choice-prompt structures shared across modules.
package models

import (
	"errors"
	"time"
)

// OnboardingState identifies the stage of a contact in the subscription funnel.
type OnboardingState string

const (
	// StateNewLead is the initial state for a first-time contact.
	StateNewLead OnboardingState = "new_lead"
	// StateSelectingInterests means the contact is picking up to 3 topics.
	StateSelectingInterests OnboardingState = "selecting_interests"
	// StateSelectingProfile means the contact is answering the profiling question.
	StateSelectingProfile OnboardingState = "selecting_profile"
	// StateSelectingTone means the contact is choosing the digest tone.
	StateSelectingTone OnboardingState = "selecting_tone"
	// StateDemoSent means the demo digest was delivered and a plan choice is pending.
	StateDemoSent OnboardingState = "demo_sent"
	// StateAwaitingPayment means a checkout link was issued and payment is pending.
	StateAwaitingPayment OnboardingState = "awaiting_payment"
	// StateActive means the contact is a paying subscriber.
	StateActive OnboardingState = "active"
	// StateConfiguring is the settings menu, reachable only from StateActive.
	StateConfiguring OnboardingState = "configuring"
	// StateConfigSchedule is the delivery-time editing sub-flow.
	StateConfigSchedule OnboardingState = "config_schedule"
	// StateConfigInterests is the topic editing sub-flow.
	StateConfigInterests OnboardingState = "config_interests"
)

// IsValidState reports whether s is a known onboarding state.
func IsValidState(s OnboardingState) bool {
	switch s {
	case StateNewLead, StateSelectingInterests, StateSelectingProfile, StateSelectingTone,
		StateDemoSent, StateAwaitingPayment, StateActive,
		StateConfiguring, StateConfigSchedule, StateConfigInterests:
		return true
	default:
		return false
	}
}

// IsConfigState reports whether s belongs to the configuration sub-flow.
func IsConfigState(s OnboardingState) bool {
	return s == StateConfiguring || s == StateConfigSchedule || s == StateConfigInterests
}

// Plan identifies a subscription tier.
type Plan string

const (
	// PlanGeneralista is the entry tier: daily digests plus chat.
	PlanGeneralista Plan = "generalista"
	// PlanEstrategista is the premium tier: adds narrated audio and deep analysis.
	PlanEstrategista Plan = "estrategista"
)

// IsValidPlan reports whether p is a known subscription plan.
func IsValidPlan(p Plan) bool {
	return p == PlanGeneralista || p == PlanEstrategista
}

// ScheduleSlots returns how many preferred delivery times the plan allows.
func (p Plan) ScheduleSlots() int {
	if p == PlanEstrategista {
		return 2
	}
	return 1
}

// DailyMessageLimit returns the broadcast message cap for the plan.
func (p Plan) DailyMessageLimit() int {
	if p == PlanEstrategista {
		return 10
	}
	return 5
}

// Limits on contact preferences and outbound prompt structures.
const (
	// MaxInterests is the maximum number of committed topics per contact.
	MaxInterests = 3
	// MaxButtons is the WhatsApp limit on quick-reply buttons per message.
	MaxButtons = 3
	// MaxListRows is the WhatsApp limit on rows in a single-section list.
	MaxListRows = 10
)

// Error variables shared across store, flow, and messaging.
var (
	ErrContactNotFound = errors.New("contact not found")
	ErrStaleContact    = errors.New("contact version is stale")
	ErrEmptyRecipient  = errors.New("recipient cannot be empty")
	ErrEmptyPromptBody = errors.New("prompt body cannot be empty")
	ErrNoChoices       = errors.New("choice prompt requires buttons or list rows")
	ErrMixedChoices    = errors.New("choice prompt cannot mix buttons and list rows")
	ErrTooManyButtons  = errors.New("choice prompt exceeds button limit")
	ErrTooManyRows     = errors.New("choice prompt exceeds list row limit")
	ErrInvalidPlan     = errors.New("invalid subscription plan")
)

// InterestSelection is the working topic selection built during
// StateSelectingInterests, before it is committed to Contact.Interests.
type InterestSelection struct {
	Selected []string `json:"selected"`
	Page     int      `json:"page,omitempty"`
}

// ScheduleEdit is the in-progress delivery-time edit in StateConfigSchedule.
type ScheduleEdit struct {
	Times []string `json:"times"`
}

// TopicsEdit is the in-progress topic edit in StateConfigInterests.
type TopicsEdit struct {
	Working []string `json:"working"`
}

// OnboardingData carries the data of the contact's current in-progress step.
// At most one field is set at a time; it is replaced wholesale on state
// re-entry rather than patched.
type OnboardingData struct {
	Selection    *InterestSelection `json:"selection,omitempty"`
	ScheduleEdit *ScheduleEdit      `json:"schedule_edit,omitempty"`
	TopicsEdit   *TopicsEdit        `json:"topics_edit,omitempty"`
}

// Contact is the persisted record for one addressable party on the channel.
type Contact struct {
	ID             string          `json:"id"`
	PhoneNumber    string          `json:"phone_number"`
	Name           string          `json:"name"`
	State          OnboardingState `json:"state"`
	Data           OnboardingData  `json:"data"`
	Interests      []string        `json:"interests"`
	Profile        string          `json:"profile,omitempty"`
	Tone           string          `json:"tone,omitempty"`
	Plan           Plan            `json:"plan"`
	IsActive       bool            `json:"is_active"`
	PreferredTimes []string        `json:"preferred_times,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks the structural invariants of a contact record.
// StateActive implies IsActive; no transition may break this.
func (c *Contact) Validate() error {
	if c.PhoneNumber == "" {
		return ErrEmptyRecipient
	}
	if !IsValidState(c.State) {
		return errors.New("unknown onboarding state: " + string(c.State))
	}
	if !IsValidPlan(c.Plan) {
		return ErrInvalidPlan
	}
	if c.State == StateActive && !c.IsActive {
		return errors.New("contact in active state without active subscription")
	}
	if len(c.Interests) > MaxInterests {
		return errors.New("contact exceeds interest limit")
	}
	return nil
}

// EventKind distinguishes free-text messages from structured choice replies.
type EventKind string

const (
	// EventKindText is a typed free-text message.
	EventKindText EventKind = "text"
	// EventKindButtonReply is a tap on a quick-reply button or list row.
	// The body carries the stable short identifier of the choice.
	EventKindButtonReply EventKind = "button_reply"
)

// InboundEvent is one raw message delivered by the channel transport.
// EventID is channel-assigned and may be empty for some event kinds.
type InboundEvent struct {
	EventID string    `json:"event_id,omitempty"`
	From    string    `json:"from"`
	Body    string    `json:"body"`
	Kind    EventKind `json:"kind"`
	Time    time.Time `json:"time"`
}

// Button is one quick-reply option on a choice prompt.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListRow is one row of a single-select list prompt.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ChoicePrompt is a structured outbound prompt: either up to MaxButtons
// quick-reply buttons, or a single-section list of up to MaxListRows rows.
type ChoicePrompt struct {
	Body       string    `json:"body"`
	Buttons    []Button  `json:"buttons,omitempty"`
	ListButton string    `json:"list_button,omitempty"` // label of the button that opens the list
	ListTitle  string    `json:"list_title,omitempty"`  // section title
	Rows       []ListRow `json:"rows,omitempty"`
}

// Validate checks the closed structure of a choice prompt.
func (p *ChoicePrompt) Validate() error {
	if p.Body == "" {
		return ErrEmptyPromptBody
	}
	if len(p.Buttons) == 0 && len(p.Rows) == 0 {
		return ErrNoChoices
	}
	if len(p.Buttons) > 0 && len(p.Rows) > 0 {
		return ErrMixedChoices
	}
	if len(p.Buttons) > MaxButtons {
		return ErrTooManyButtons
	}
	if len(p.Rows) > MaxListRows {
		return ErrTooManyRows
	}
	return nil
}
