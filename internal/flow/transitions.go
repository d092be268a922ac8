package flow

import (
	"time"

	"github.com/zapnoticias/zapnoticias/internal/models"
)

// Effect is one side effect decided by a transition. Effects are plain
// values; the engine interprets them after the new state is persisted, so
// the decision logic stays pure and unit-testable without I/O.
type Effect interface{ isEffect() }

// SendText sends a plain text message to the contact.
type SendText struct{ Body string }

// SendPrompt sends a structured choice prompt to the contact.
type SendPrompt struct{ Prompt models.ChoicePrompt }

// Pause waits before the next effect, used for the staged demo reveal.
type Pause struct{ For time.Duration }

// GenerateDemo generates and sends the demo digest from the contact's
// committed preferences, with a canned fallback on generator error.
type GenerateDemo struct{}

// GenerateDeepDive generates and sends a deep-dive analysis.
type GenerateDeepDive struct{}

// CreateCheckout issues a payment link for the chosen plan. The engine runs
// this before persisting: the transition to awaiting payment happens only
// when the link was actually created.
type CreateCheckout struct{ Plan models.Plan }

// AskAssistant forwards free text from an active subscriber to the chat
// assistant and sends back its answer.
type AskAssistant struct{ Text string }

func (SendText) isEffect()         {}
func (SendPrompt) isEffect()       {}
func (Pause) isEffect()            {}
func (GenerateDemo) isEffect()     {}
func (GenerateDeepDive) isEffect() {}
func (CreateCheckout) isEffect()   {}
func (AskAssistant) isEffect()     {}

// Decide runs one transition of the onboarding state machine. It mutates the
// given contact (state, data, committed preferences) and returns the effects
// to execute. It performs no I/O.
func Decide(c *models.Contact, raw string) []Effect {
	input := Normalize(raw)

	// Debug command, honored in every state.
	if IsResetKeyword(input) {
		c.State = models.StateNewLead
		c.Data = models.OnboardingData{}
		c.Interests = nil
		c.Profile = ""
		c.Tone = ""
		c.Plan = models.PlanGeneralista
		c.IsActive = false
		return []Effect{SendText{msgResetDone}}
	}

	// A start keyword restarts the funnel from anywhere short of an active
	// subscription. Active subscribers keep their state; their greeting goes
	// to the assistant below.
	if IsStartKeyword(input) && c.State != models.StateActive {
		return restartOnboarding(c)
	}

	switch c.State {
	case models.StateNewLead:
		return restartOnboarding(c)
	case models.StateSelectingInterests:
		return decideInterests(c, input)
	case models.StateSelectingProfile:
		return decideProfile(c, input)
	case models.StateSelectingTone:
		return decideTone(c, input)
	case models.StateDemoSent:
		return decidePostDemo(c, input)
	case models.StateAwaitingPayment:
		return decideAwaitingPayment(c, input)
	case models.StateActive:
		return decideActive(c, input, raw)
	case models.StateConfiguring:
		return decideConfigMenu(c, input)
	case models.StateConfigSchedule:
		return decideConfigSchedule(c, input)
	case models.StateConfigInterests:
		return decideConfigInterests(c, input)
	default:
		// Unknown persisted state; recover by restarting the funnel.
		return restartOnboarding(c)
	}
}

func restartOnboarding(c *models.Contact) []Effect {
	c.State = models.StateSelectingInterests
	c.Data = models.OnboardingData{Selection: &models.InterestSelection{Selected: []string{}, Page: 1}}
	welcome, chooser := WelcomeMessages()
	return []Effect{SendText{welcome}, SendPrompt{chooser}}
}

func decideInterests(c *models.Contact, input string) []Effect {
	sel := c.Data.Selection
	if sel == nil {
		sel = &models.InterestSelection{Selected: []string{}, Page: 1}
		c.Data = models.OnboardingData{Selection: sel}
	}

	if t := TopicByToken(input); t != nil {
		if containsString(sel.Selected, t.ID) {
			return []Effect{SendText{msgAlreadySelected}}
		}
		sel.Selected = append(sel.Selected, t.ID)
		if len(sel.Selected) < models.MaxInterests {
			return []Effect{
				SendText{TopicAddedMessage(*t, len(sel.Selected))},
				SendPrompt{TopicsWithGeneratePrompt(sel.Selected)},
			}
		}
		return commitInterests(c, sel.Selected)
	}

	switch {
	case continueKeywords[input]:
		if len(sel.Selected) == 0 {
			return []Effect{SendText{msgNeedOneTopic}, SendPrompt{TopicPrompt(1, nil)}}
		}
		return commitInterests(c, sel.Selected)
	case moreKeywords[input]:
		sel.Page++
		prompt := TopicListPrompt(sel.Selected)
		if len(prompt.Rows) == 0 {
			return []Effect{SendText{msgAllTopicsSeen}}
		}
		return []Effect{SendPrompt{prompt}}
	default:
		return []Effect{
			SendText{msgTopicsNotUnderstood},
			SendPrompt{TopicPrompt(1, sel.Selected)},
		}
	}
}

func commitInterests(c *models.Contact, selected []string) []Effect {
	c.Interests = append([]string(nil), selected...)
	c.State = models.StateSelectingProfile
	c.Data = models.OnboardingData{Selection: &models.InterestSelection{Selected: selected}}
	return []Effect{
		SendText{InterestsCommittedMessage(c.Interests)},
		SendPrompt{ProfilePrompt()},
	}
}

func decideProfile(c *models.Contact, input string) []Effect {
	profile, ok := profileKeywords[input]
	if !ok {
		return []Effect{SendText{msgChooseOption}, SendPrompt{ProfilePrompt()}}
	}
	c.Profile = profile
	c.State = models.StateSelectingTone
	return []Effect{SendText{ProfileAckMessage(profile)}, SendPrompt{TonePrompt()}}
}

func decideTone(c *models.Contact, input string) []Effect {
	tone, ok := toneKeywords[input]
	if !ok {
		return []Effect{SendText{msgChooseOption}, SendPrompt{TonePrompt()}}
	}
	c.Tone = tone
	c.State = models.StateDemoSent
	return []Effect{
		SendText{ToneAckMessage(tone)},
		// Staged reveal before the digest lands.
		SendText{msgMagicBoxReading},
		Pause{1500 * time.Millisecond},
		SendText{msgMagicBoxFiltering},
		Pause{1500 * time.Millisecond},
		SendText{msgMagicBoxWriting},
		Pause{time.Second},
		GenerateDemo{},
		SendPrompt{DeepDivePrompt()},
		SendText{msgToneCheck},
		Pause{2 * time.Second},
		SendText{msgOffer},
		SendText{msgOfferClosing},
		SendPrompt{PlanPrompt()},
	}
}

func decidePostDemo(c *models.Contact, input string) []Effect {
	switch {
	case deepDiveKeywords[input]:
		return []Effect{
			GenerateDeepDive{},
			SendText{msgDeepDiveUpsell},
			SendPrompt{PlanPrompt()},
		}
	case positiveKeywords[input]:
		return []Effect{SendText{msgUpsellAudio}, SendPrompt{PlanPrompt()}}
	case declineKeywords[input]:
		return []Effect{SendText{msgSoftExit}}
	}
	if plan, ok := planKeywords[input]; ok {
		return []Effect{CreateCheckout{Plan: models.Plan(plan)}}
	}
	return []Effect{SendText{msgPlanRePrompt}, SendPrompt{PlanPrompt()}}
}

func decideAwaitingPayment(c *models.Contact, input string) []Effect {
	switch {
	case paidKeywords[input]:
		if c.IsActive {
			c.State = models.StateActive
			return []Effect{SendText{msgPaymentConfirmed}}
		}
		return []Effect{SendText{msgPaymentPending}}
	case changePlanKeywords[input]:
		return []Effect{SendPrompt{PlanPrompt()}}
	default:
		return []Effect{SendText{msgPaymentWaiting}}
	}
}

func decideActive(c *models.Contact, input, raw string) []Effect {
	if configKeywords[input] {
		c.State = models.StateConfiguring
		c.Data = models.OnboardingData{}
		return []Effect{SendPrompt{ConfigMenuPrompt()}}
	}
	return []Effect{AskAssistant{Text: raw}}
}

func decideConfigMenu(c *models.Contact, input string) []Effect {
	switch {
	case scheduleKeywords[input]:
		c.State = models.StateConfigSchedule
		c.Data = models.OnboardingData{ScheduleEdit: &models.ScheduleEdit{Times: []string{}}}
		return []Effect{SendText{msgScheduleFirst}}
	case topicsEditKeywords[input]:
		working := append([]string(nil), c.Interests...)
		c.State = models.StateConfigInterests
		c.Data = models.OnboardingData{TopicsEdit: &models.TopicsEdit{Working: working}}
		return []Effect{SendPrompt{TopicsEditPrompt(working)}}
	case backKeywords[input]:
		c.State = models.StateActive
		c.Data = models.OnboardingData{}
		return []Effect{SendText{msgConfigDone}}
	default:
		return []Effect{SendPrompt{ConfigMenuPrompt()}}
	}
}

func decideConfigSchedule(c *models.Contact, input string) []Effect {
	if backKeywords[input] {
		c.State = models.StateConfiguring
		c.Data = models.OnboardingData{}
		return []Effect{SendPrompt{ConfigMenuPrompt()}}
	}

	edit := c.Data.ScheduleEdit
	if edit == nil {
		edit = &models.ScheduleEdit{Times: []string{}}
		c.Data = models.OnboardingData{ScheduleEdit: edit}
	}

	slot, ok := ParseTimeToken(input)
	if !ok {
		return []Effect{SendText{msgScheduleInvalid}}
	}
	edit.Times = append(edit.Times, slot)

	if len(edit.Times) < c.Plan.ScheduleSlots() {
		return []Effect{SendText{msgScheduleSecond}}
	}

	c.PreferredTimes = append([]string(nil), edit.Times...)
	c.State = models.StateConfiguring
	c.Data = models.OnboardingData{}
	return []Effect{
		SendText{"✅ Horários salvos: " + joinTimes(c.PreferredTimes)},
		SendPrompt{ConfigMenuPrompt()},
	}
}

func decideConfigInterests(c *models.Contact, input string) []Effect {
	edit := c.Data.TopicsEdit
	if edit == nil {
		edit = &models.TopicsEdit{Working: append([]string(nil), c.Interests...)}
		c.Data = models.OnboardingData{TopicsEdit: edit}
	}

	if t := TopicByToken(input); t != nil {
		switch {
		case containsString(edit.Working, t.ID):
			edit.Working = removeString(edit.Working, t.ID)
		case len(edit.Working) >= models.MaxInterests:
			return []Effect{SendText{msgTopicsEditFull}, SendPrompt{TopicsEditPrompt(edit.Working)}}
		default:
			edit.Working = append(edit.Working, t.ID)
		}
		return []Effect{SendPrompt{TopicsEditPrompt(edit.Working)}}
	}

	switch {
	case saveKeywords[input]:
		if len(edit.Working) == 0 {
			return []Effect{SendText{msgTopicsEditEmpty}, SendPrompt{TopicsEditPrompt(edit.Working)}}
		}
		c.Interests = append([]string(nil), edit.Working...)
		c.State = models.StateConfiguring
		c.Data = models.OnboardingData{}
		return []Effect{SendText{msgTopicsSaved}, SendPrompt{ConfigMenuPrompt()}}
	case clearKeywords[input]:
		edit.Working = []string{}
		return []Effect{SendText{msgTopicsEditCleared}, SendPrompt{TopicsEditPrompt(edit.Working)}}
	case backKeywords[input]:
		c.State = models.StateConfiguring
		c.Data = models.OnboardingData{}
		return []Effect{SendPrompt{ConfigMenuPrompt()}}
	default:
		return []Effect{SendPrompt{TopicsEditPrompt(edit.Working)}}
	}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, item := range list {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}

func joinTimes(times []string) string {
	out := ""
	for i, t := range times {
		if i > 0 {
			out += " e "
		}
		out += t
	}
	return out
}
