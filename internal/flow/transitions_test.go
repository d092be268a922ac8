package flow

import (
	"reflect"
	"testing"

	"github.com/zapnoticias/zapnoticias/internal/models"
)

func selectingContact(selected ...string) *models.Contact {
	return &models.Contact{
		PhoneNumber: "5511999990000",
		Name:        "Lead",
		State:       models.StateSelectingInterests,
		Plan:        models.PlanGeneralista,
		Data: models.OnboardingData{
			Selection: &models.InterestSelection{Selected: selected, Page: 1},
		},
	}
}

func firstText(t *testing.T, effects []Effect) string {
	t.Helper()
	for _, eff := range effects {
		if txt, ok := eff.(SendText); ok {
			return txt.Body
		}
	}
	t.Fatalf("no SendText in effects %v", effects)
	return ""
}

func hasEffect(effects []Effect, probe func(Effect) bool) bool {
	for _, eff := range effects {
		if probe(eff) {
			return true
		}
	}
	return false
}

func TestDecideNewLeadStartsFunnel(t *testing.T) {
	c := &models.Contact{PhoneNumber: "5511999990000", State: models.StateNewLead, Plan: models.PlanGeneralista}
	effects := Decide(c, "oi")

	if c.State != models.StateSelectingInterests {
		t.Errorf("state = %v, want %v", c.State, models.StateSelectingInterests)
	}
	if c.Data.Selection == nil || len(c.Data.Selection.Selected) != 0 {
		t.Errorf("expected empty selection, got %+v", c.Data.Selection)
	}
	if len(effects) != 2 {
		t.Fatalf("expected greeting + chooser, got %d effects", len(effects))
	}
	if firstText(t, effects) != msgWelcome {
		t.Errorf("first effect is not the welcome message")
	}
	if _, ok := effects[1].(SendPrompt); !ok {
		t.Errorf("second effect = %T, want SendPrompt", effects[1])
	}
}

func TestDecideStartKeywordRestartsMidFunnel(t *testing.T) {
	c := selectingContact("TECH", "FINANCE")
	c.State = models.StateSelectingProfile

	Decide(c, "Olá!")

	if c.State != models.StateSelectingInterests {
		t.Errorf("state = %v, want restart to %v", c.State, models.StateSelectingInterests)
	}
	if len(c.Data.Selection.Selected) != 0 {
		t.Errorf("restart kept partial selection %v", c.Data.Selection.Selected)
	}
}

func TestDecideStartKeywordWhileActiveGoesToAssistant(t *testing.T) {
	c := &models.Contact{
		PhoneNumber: "5511999990000",
		State:       models.StateActive,
		Plan:        models.PlanGeneralista,
		IsActive:    true,
		Interests:   []string{"TECH"},
	}
	effects := Decide(c, "oi")

	if c.State != models.StateActive {
		t.Errorf("greeting demoted an active subscriber to %v", c.State)
	}
	ask, ok := effects[0].(AskAssistant)
	if !ok {
		t.Fatalf("effect = %T, want AskAssistant", effects[0])
	}
	if ask.Text != "oi" {
		t.Errorf("assistant text = %q, want raw input", ask.Text)
	}
}

func TestDecideResetClearsEverything(t *testing.T) {
	c := &models.Contact{
		PhoneNumber:    "5511999990000",
		State:          models.StateActive,
		Interests:      []string{"TECH", "FINANCE"},
		Profile:        "investidor",
		Tone:           "casual",
		Plan:           models.PlanEstrategista,
		IsActive:       true,
		PreferredTimes: []string{"07:00"},
	}
	effects := Decide(c, "reset")

	if c.State != models.StateNewLead {
		t.Errorf("state = %v, want %v", c.State, models.StateNewLead)
	}
	if c.Interests != nil || c.Profile != "" || c.Tone != "" || c.IsActive {
		t.Errorf("reset left preferences behind: %+v", c)
	}
	if c.Plan != models.PlanGeneralista {
		t.Errorf("plan = %v, want reset to %v", c.Plan, models.PlanGeneralista)
	}
	if firstText(t, effects) != msgResetDone {
		t.Errorf("expected reset confirmation")
	}
}

func TestDecideDuplicateTopicIsNoOp(t *testing.T) {
	c := selectingContact("TECH")
	effects := Decide(c, "tech")

	if got := c.Data.Selection.Selected; !reflect.DeepEqual(got, []string{"TECH"}) {
		t.Errorf("selection = %v, want unchanged [TECH]", got)
	}
	if firstText(t, effects) != msgAlreadySelected {
		t.Errorf("expected already-selected message")
	}
}

func TestDecideThirdTopicAutoAdvances(t *testing.T) {
	c := selectingContact("TECH", "FINANCE")
	effects := Decide(c, "Política")

	if c.State != models.StateSelectingProfile {
		t.Errorf("state = %v, want %v", c.State, models.StateSelectingProfile)
	}
	if !reflect.DeepEqual(c.Interests, []string{"TECH", "FINANCE", "POLITICS"}) {
		t.Errorf("interests = %v", c.Interests)
	}
	if !hasEffect(effects, func(e Effect) bool { _, ok := e.(SendPrompt); return ok }) {
		t.Errorf("expected profile prompt after committing interests")
	}
}

func TestDecideContinueWithoutTopics(t *testing.T) {
	c := selectingContact()
	effects := Decide(c, "pronto")

	if c.State != models.StateSelectingInterests {
		t.Errorf("state = %v, want to stay selecting", c.State)
	}
	if firstText(t, effects) != msgNeedOneTopic {
		t.Errorf("expected need-one-topic message")
	}
}

func TestDecideContinueCommitsSelection(t *testing.T) {
	c := selectingContact("HEALTH")
	Decide(c, "gerar")

	if c.State != models.StateSelectingProfile {
		t.Errorf("state = %v, want %v", c.State, models.StateSelectingProfile)
	}
	if !reflect.DeepEqual(c.Interests, []string{"HEALTH"}) {
		t.Errorf("interests = %v, want [HEALTH]", c.Interests)
	}
}

func TestDecideUnknownTopicInputReprompts(t *testing.T) {
	c := selectingContact("TECH")
	effects := Decide(c, "quantica")

	if firstText(t, effects) != msgTopicsNotUnderstood {
		t.Errorf("expected not-understood message")
	}
	if !reflect.DeepEqual(c.Data.Selection.Selected, []string{"TECH"}) {
		t.Errorf("selection changed on unknown input")
	}
}

func TestDecideProfileAndTone(t *testing.T) {
	c := selectingContact()
	c.State = models.StateSelectingProfile
	c.Interests = []string{"TECH"}

	Decide(c, "curioso")
	if c.State != models.StateSelectingTone || c.Profile != "curioso" {
		t.Fatalf("after profile: state=%v profile=%q", c.State, c.Profile)
	}

	effects := Decide(c, "casual")
	if c.State != models.StateDemoSent || c.Tone != "casual" {
		t.Fatalf("after tone: state=%v tone=%q", c.State, c.Tone)
	}
	if !hasEffect(effects, func(e Effect) bool { _, ok := e.(GenerateDemo); return ok }) {
		t.Errorf("expected demo generation effect")
	}
	if !hasEffect(effects, func(e Effect) bool { _, ok := e.(Pause); return ok }) {
		t.Errorf("expected staged-reveal pauses")
	}
}

func TestDecideToneUnrecognized(t *testing.T) {
	c := selectingContact()
	c.State = models.StateSelectingTone
	effects := Decide(c, "roxo")

	if c.State != models.StateSelectingTone {
		t.Errorf("unrecognized tone moved state to %v", c.State)
	}
	if firstText(t, effects) != msgChooseOption {
		t.Errorf("expected choose-option message")
	}
}

func TestDecidePostDemoPlanChoice(t *testing.T) {
	c := selectingContact()
	c.State = models.StateDemoSent
	effects := Decide(c, "estrategista")

	co, ok := effects[0].(CreateCheckout)
	if !ok {
		t.Fatalf("effect = %T, want CreateCheckout", effects[0])
	}
	if co.Plan != models.PlanEstrategista {
		t.Errorf("plan = %v, want %v", co.Plan, models.PlanEstrategista)
	}
	// The transition to awaiting payment depends on the checkout outcome
	// and happens in the engine, not here.
	if c.State != models.StateDemoSent {
		t.Errorf("state = %v, decision should not advance it", c.State)
	}
}

func TestDecidePostDemoDecline(t *testing.T) {
	c := selectingContact()
	c.State = models.StateDemoSent
	effects := Decide(c, "não")

	if firstText(t, effects) != msgSoftExit {
		t.Errorf("expected soft exit message")
	}
	if c.State != models.StateDemoSent {
		t.Errorf("decline moved state to %v", c.State)
	}
}

func TestDecidePostDemoDeepDive(t *testing.T) {
	c := selectingContact()
	c.State = models.StateDemoSent
	effects := Decide(c, "deep_dive")

	if _, ok := effects[0].(GenerateDeepDive); !ok {
		t.Errorf("effect = %T, want GenerateDeepDive", effects[0])
	}
}

func TestDecideAwaitingPayment(t *testing.T) {
	c := selectingContact()
	c.State = models.StateAwaitingPayment

	effects := Decide(c, "paguei")
	if c.State != models.StateAwaitingPayment {
		t.Errorf("unconfirmed payment advanced state to %v", c.State)
	}
	if firstText(t, effects) != msgPaymentPending {
		t.Errorf("expected pending message while webhook has not landed")
	}

	c.IsActive = true
	effects = Decide(c, "paguei")
	if c.State != models.StateActive {
		t.Errorf("state = %v, want %v after confirmed payment", c.State, models.StateActive)
	}
	if firstText(t, effects) != msgPaymentConfirmed {
		t.Errorf("expected confirmation message")
	}
}

func TestDecideActiveOpensConfigMenu(t *testing.T) {
	c := selectingContact()
	c.State = models.StateActive
	c.IsActive = true

	Decide(c, "configurações")
	if c.State != models.StateConfiguring {
		t.Errorf("state = %v, want %v", c.State, models.StateConfiguring)
	}
}

func TestDecideConfigScheduleSingleSlot(t *testing.T) {
	c := selectingContact()
	c.State = models.StateConfigSchedule
	c.IsActive = true
	c.Data = models.OnboardingData{ScheduleEdit: &models.ScheduleEdit{Times: []string{}}}

	Decide(c, "19h30")

	if c.State != models.StateConfiguring {
		t.Errorf("state = %v, want back to config menu", c.State)
	}
	if !reflect.DeepEqual(c.PreferredTimes, []string{"19:30"}) {
		t.Errorf("preferred times = %v, want [19:30]", c.PreferredTimes)
	}
}

func TestDecideConfigScheduleTwoSlots(t *testing.T) {
	c := selectingContact()
	c.State = models.StateConfigSchedule
	c.IsActive = true
	c.Plan = models.PlanEstrategista
	c.Data = models.OnboardingData{ScheduleEdit: &models.ScheduleEdit{Times: []string{}}}

	effects := Decide(c, "7")
	if c.State != models.StateConfigSchedule {
		t.Fatalf("first slot ended the sub-flow, state=%v", c.State)
	}
	if firstText(t, effects) != msgScheduleSecond {
		t.Errorf("expected prompt for the second slot")
	}

	Decide(c, "19")
	if !reflect.DeepEqual(c.PreferredTimes, []string{"07:00", "19:00"}) {
		t.Errorf("preferred times = %v, want [07:00 19:00]", c.PreferredTimes)
	}
	if c.State != models.StateConfiguring {
		t.Errorf("state = %v, want back to config menu", c.State)
	}
}

func TestDecideConfigScheduleInvalidTime(t *testing.T) {
	c := selectingContact()
	c.State = models.StateConfigSchedule
	c.Data = models.OnboardingData{ScheduleEdit: &models.ScheduleEdit{Times: []string{}}}

	effects := Decide(c, "meia noite")
	if firstText(t, effects) != msgScheduleInvalid {
		t.Errorf("expected invalid-time message")
	}
	if len(c.Data.ScheduleEdit.Times) != 0 {
		t.Errorf("invalid token was recorded: %v", c.Data.ScheduleEdit.Times)
	}
}

func TestDecideConfigInterestsToggleCapAndSave(t *testing.T) {
	c := selectingContact()
	c.State = models.StateConfigInterests
	c.IsActive = true
	c.Interests = []string{"TECH", "FINANCE", "POLITICS"}
	c.Data = models.OnboardingData{TopicsEdit: &models.TopicsEdit{Working: []string{"TECH", "FINANCE", "POLITICS"}}}

	// A fourth topic is rejected while the working set is full.
	effects := Decide(c, "sports")
	if firstText(t, effects) != msgTopicsEditFull {
		t.Errorf("expected full-set rejection")
	}
	if len(c.Data.TopicsEdit.Working) != 3 {
		t.Errorf("working set grew past the cap: %v", c.Data.TopicsEdit.Working)
	}

	// Toggling an existing topic removes it; now the new one fits.
	Decide(c, "tech")
	Decide(c, "sports")
	if !reflect.DeepEqual(c.Data.TopicsEdit.Working, []string{"FINANCE", "POLITICS", "SPORTS"}) {
		t.Errorf("working set = %v", c.Data.TopicsEdit.Working)
	}

	Decide(c, "salvar")
	if !reflect.DeepEqual(c.Interests, []string{"FINANCE", "POLITICS", "SPORTS"}) {
		t.Errorf("committed interests = %v", c.Interests)
	}
	if c.State != models.StateConfiguring {
		t.Errorf("state = %v, want back to config menu", c.State)
	}
}

func TestDecideConfigInterestsRejectsEmptySave(t *testing.T) {
	c := selectingContact()
	c.State = models.StateConfigInterests
	c.Interests = []string{"TECH"}
	c.Data = models.OnboardingData{TopicsEdit: &models.TopicsEdit{Working: []string{}}}

	effects := Decide(c, "salvar")
	if firstText(t, effects) != msgTopicsEditEmpty {
		t.Errorf("expected empty-save rejection")
	}
	if !reflect.DeepEqual(c.Interests, []string{"TECH"}) {
		t.Errorf("committed interests changed on rejected save: %v", c.Interests)
	}
	if c.State != models.StateConfigInterests {
		t.Errorf("state = %v, want to stay editing", c.State)
	}
}
