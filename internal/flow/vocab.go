// Package flow implements the conversational onboarding engine: a persisted
// per-contact state machine that turns inbound WhatsApp messages into funnel
// transitions, outbound prompts, and collaborator calls.
package flow

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripDiacritics decomposes to NFD, removes combining marks, and recomposes.
var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowers, trims, and strips diacritics so that "OLÁ", "olá" and
// "ola" all compare equal. Button and list reply ids go through the same
// function, so tapping a button and typing the word are interchangeable.
func Normalize(text string) string {
	out, _, err := transform.String(stripDiacritics, text)
	if err != nil {
		out = text
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Topic is one selectable news topic.
type Topic struct {
	Key   string // vocabulary token and button id
	ID    string // committed interest identifier
	Label string
	Emoji string
}

// Topics is the catalog of selectable topics, in display order.
var Topics = []Topic{
	{Key: "tech", ID: "TECH", Label: "Tecnologia", Emoji: "💻"},
	{Key: "finance", ID: "FINANCE", Label: "Mercado Financeiro", Emoji: "📈"},
	{Key: "politics", ID: "POLITICS", Label: "Política", Emoji: "🏛️"},
	{Key: "sports", ID: "SPORTS", Label: "Esportes", Emoji: "⚽"},
	{Key: "health", ID: "HEALTH", Label: "Saúde", Emoji: "🏥"},
	{Key: "entertainment", ID: "ENTERTAINMENT", Label: "Entretenimento", Emoji: "🎬"},
}

// topicAliases maps extra normalized tokens onto topic keys, so typing the
// Portuguese label works as well as the short key.
var topicAliases = map[string]string{
	"tecnologia":     "tech",
	"financeiro":     "finance",
	"mercado":        "finance",
	"financas":       "finance",
	"politica":       "politics",
	"esportes":       "sports",
	"esporte":        "sports",
	"saude":          "health",
	"entretenimento": "entertainment",
}

// TopicByToken resolves a normalized token to a topic, or nil.
func TopicByToken(token string) *Topic {
	if alias, ok := topicAliases[token]; ok {
		token = alias
	}
	for i := range Topics {
		if Topics[i].Key == token {
			return &Topics[i]
		}
	}
	return nil
}

// TopicByID resolves a committed interest identifier to a topic, or nil.
func TopicByID(id string) *Topic {
	for i := range Topics {
		if Topics[i].ID == id {
			return &Topics[i]
		}
	}
	return nil
}

// Vocabulary tables. All entries are pre-normalized (lowercase, no
// diacritics); inputs are normalized before lookup.
var (
	startKeywords = map[string]bool{
		"ola": true, "oi": true, "zapnoticias": true, "start": true,
		"inicio": true, "comecar": true, "teste": true, "quero testar": true,
		"menu": true,
	}

	resetKeywords = map[string]bool{
		"reset": true, "reiniciar": true, "debug_reset": true,
	}

	continueKeywords = map[string]bool{
		"pronto": true, "ok": true, "continuar": true, "proximo": true,
		"gerar": true, "resumo": true,
	}

	moreKeywords = map[string]bool{"mais": true}

	profileKeywords = map[string]string{
		"curioso": "curioso", "curiosidade": "curioso", "interesse": "curioso",
		"profissional": "profissional", "trabalho": "profissional",
		"area": "profissional",
		"investidor": "investidor", "invisto": "investidor",
		"investimento": "investidor",
	}

	toneKeywords = map[string]string{
		"formal": "formal", "serio": "formal", "profissional": "formal",
		"casual": "casual", "descontraido": "casual", "leve": "casual",
	}

	deepDiveKeywords = map[string]bool{
		"deep_dive": true, "explique": true, "mais detalhes": true,
		"aprofundar": true,
	}

	positiveKeywords = map[string]bool{
		"adorei": true, "gostei": true, "legal": true, "top": true,
		"show": true,
	}

	planKeywords = map[string]string{
		"generalista": "generalista", "plano 1": "generalista",
		"9,90": "generalista", "basico": "generalista",
		"estrategista": "estrategista", "plano 2": "estrategista",
		"29,90": "estrategista", "premium": "estrategista",
		"completo": "estrategista",
	}

	declineKeywords = map[string]bool{
		"nao": true, "depois": true, "cancelar": true,
	}

	paidKeywords = map[string]bool{
		"paguei": true, "pago": true, "pronto": true, "feito": true,
		"ja paguei": true,
	}

	changePlanKeywords = map[string]bool{
		"trocar": true, "mudar plano": true, "outro plano": true,
	}

	configKeywords = map[string]bool{
		"configuracoes": true, "configuracao": true, "config": true,
		"ajustes": true, "preferencias": true,
	}

	scheduleKeywords = map[string]bool{
		"horarios": true, "horario": true, "agenda": true, "schedule": true,
	}

	topicsEditKeywords = map[string]bool{
		"temas": true, "topicos": true, "assuntos": true, "interesses": true,
	}

	backKeywords = map[string]bool{
		"voltar": true, "sair": true, "pronto": true, "ok": true,
	}

	saveKeywords = map[string]bool{"salvar": true, "confirmar": true}

	clearKeywords = map[string]bool{"limpar": true, "zerar": true}
)

// IsStartKeyword reports whether the normalized text should (re)start the
// funnel. Multi-word phrases match as a whole; single keywords match any
// whitespace-separated token, so "oi, tudo bem" still triggers.
func IsStartKeyword(normalized string) bool {
	if startKeywords[normalized] {
		return true
	}
	for _, field := range strings.Fields(normalized) {
		if startKeywords[strings.Trim(field, ",.!?")] {
			return true
		}
	}
	return false
}

// IsResetKeyword reports whether the normalized text is the debug reset command.
func IsResetKeyword(normalized string) bool { return resetKeywords[normalized] }

// timeTokenRegex accepts "7", "07", "7:30", "07:30", "7h", "19h30".
var timeTokenRegex = regexp.MustCompile(`^(\d{1,2})(?:[:h](\d{2})?)?$`)

// ParseTimeToken parses a delivery-time token and returns it as "HH:MM".
// Returns false for anything that is not a valid time of day.
func ParseTimeToken(normalized string) (string, bool) {
	m := timeTokenRegex.FindStringSubmatch(normalized)
	if m == nil {
		return "", false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour > 23 {
		return "", false
	}
	minute := 0
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil || minute > 59 {
			return "", false
		}
	}
	return padTwo(hour) + ":" + padTwo(minute), true
}

func padTwo(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
