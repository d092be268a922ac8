package flow

import (
	"fmt"
	"strings"

	"github.com/zapnoticias/zapnoticias/internal/models"
)

// All user-visible copy lives here, next to the prompt constructors, so the
// decision logic stays free of strings.

const (
	msgWelcome = "👋 *Olá! Sou o ZapNotícias, sua IA Jornalista.*\n\n" +
		"Vou te enviar resumos personalizados das notícias que importam para você, " +
		"todo dia no WhatsApp.\n\n" +
		"Para começar, *sobre o que você quer ler?*\n" +
		"_(Selecione até 3 temas)_"

	msgResetDone = "🔄 Estado reiniciado para testes. Envie 'Olá' para começar."

	msgAlreadySelected = "Você já selecionou esse tema. Escolha outro!"

	msgNeedOneTopic = "Por favor, selecione pelo menos 1 tema para continuar."

	msgTopicsNotUnderstood = "Não entendi. Por favor, clique em um dos botões ou digite o nome do tema."

	msgAllTopicsSeen = "Você já viu todas as opções! Digite *pronto* para continuar."

	msgChooseOption = "Não entendi. Por favor, escolha uma das opções:"

	msgMagicBoxReading   = "🔍 *Lendo mais de 500 artigos sobre seus temas...*"
	msgMagicBoxFiltering = "🧹 *Filtrando clickbaits e fake news...*"
	msgMagicBoxWriting   = "✍️ *Resumindo o que importa para você...*"

	msgDemoFallback = "📰 *Estou coletando as notícias mais recentes...*\n\n" +
		"Assim que você assinar, vou te enviar resumos personalizados " +
		"todo dia às 07:00 e 19:00!"

	msgToneCheck = "E aí, acertei no tom? 🎯"

	msgOffer = "✨ *Gostou do resumo?*\n\n" +
		"Imagine receber isso *todo dia às 07:00*, pronto para começar o dia informado, " +
		"e às *19:00* para fechar o dia atualizado.\n\n" +
		"📊 *Você acabou de economizar ~40 minutos* que gastaria lendo dezenas de sites.\n\n" +
		"💰 *Planos:*\n" +
		"• *Generalista* - R$ 9,90/mês\n" +
		"  _Resumos diários + Chat com IA_\n\n" +
		"• *Estrategista* - R$ 29,90/mês\n" +
		"  _Tudo do Generalista + Áudios narrados + Análises profundas_\n\n" +
		"🎁 *Teste GRÁTIS por 5 dias!*\n" +
		"_Eu te aviso um dia antes do teste acabar. Sem surpresas na fatura._ 🤝"

	msgOfferClosing = "🎩 Pronto para entrar no clube dos bem informados?"

	msgUpsellAudio = "🎉 Que bom que gostou!\n\n" +
		"Sabia que no plano *Estrategista* eu também *leio as notícias para você*? " +
		"Perfeito para ouvir no carro ou na academia! 🎧"

	msgDeepDiveFallback = "🔍 No momento não tenho mais detalhes sobre essa notícia.\n\n" +
		"Mas quando você assinar, poderá me perguntar qualquer coisa sobre as notícias do dia!"

	msgDeepDiveUpsell = "Gostou dessa análise mais profunda? 📊\n\n" +
		"No plano *Estrategista* você tem acesso a análises como essa todos os dias!"

	msgSoftExit = "Sem problemas! 😊\n\n" +
		"Quando quiser assinar, é só me mandar uma mensagem.\n" +
		"Até mais!"

	msgPlanRePrompt = "Qual plano você prefere? Clique em uma das opções:"

	msgPaymentUnavailable = "⚠️ Sistema de pagamento temporariamente indisponível. " +
		"Tente novamente em alguns minutos."

	msgPaymentError = "⚠️ Erro ao gerar link de pagamento. " +
		"Por favor, tente novamente ou acesse nosso site."

	msgPaymentConfirmed = "✅ *Pagamento confirmado!*\n\n" +
		"Sua assinatura está ativa. Você receberá seu primeiro resumo " +
		"amanhã às 07:00!\n\n" +
		"Enquanto isso, pode me perguntar qualquer coisa sobre as notícias. 😊"

	msgPaymentPending = "⏳ Ainda não recebi a confirmação do pagamento.\n\n" +
		"Se você já pagou, aguarde alguns segundos e tente novamente.\n" +
		"Se precisar de ajuda, me avise!"

	msgPaymentWaiting = "Estou aguardando a confirmação do seu pagamento. 😊\n\n" +
		"Se precisar de um novo link, é só pedir!"

	msgAssistantFallback = "Desculpe, não consegui processar sua pergunta agora. " +
		"Tente novamente em instantes!"

	msgConfigMenu = "⚙️ *Configurações*\n\n" +
		"O que você quer ajustar?"

	msgConfigDone = "✅ Tudo certo! Voltando para o seu fluxo de notícias. " +
		"Se precisar de algo, digite *configurações*."

	msgScheduleFirst = "⏰ A que horas você quer receber seu resumo?\n" +
		"_Exemplos: 07:00, 19h30_"

	msgScheduleSecond = "⏰ Anotado! E o segundo horário do dia?\n" +
		"_Exemplos: 07:00, 19h30_"

	msgScheduleInvalid = "Não reconheci esse horário. Envie no formato *07:00* ou *19h30*."

	msgTopicsEditIntro = "📚 Seus temas atuais estão abaixo. Toque em um tema para " +
		"adicionar ou remover, e *salvar* quando terminar."

	msgTopicsEditFull = "Você já tem 3 temas. Remova um antes de adicionar outro."

	msgTopicsEditEmpty = "Escolha pelo menos 1 tema antes de salvar."

	msgTopicsEditCleared = "🧹 Lista de temas limpa. Escolha os novos temas:"

	msgTopicsSaved = "✅ Temas atualizados!"

	msgSubscriptionCanceled = "😢 Sua assinatura foi cancelada.\n\n" +
		"Sentirei sua falta! Quando quiser voltar, é só escolher um plano abaixo."
)

// WelcomeMessages returns the first-contact greeting and the initial topic chooser.
func WelcomeMessages() (string, models.ChoicePrompt) {
	return msgWelcome, TopicPrompt(1, nil)
}

// TopicPrompt builds the topic chooser for a page, excluding already-selected
// interest ids. WhatsApp caps quick replies at 3 buttons, so the catalog is
// paginated with a "ver mais" button, and a "pronto" button once something
// is selected.
func TopicPrompt(page int, exclude []string) models.ChoicePrompt {
	available := availableTopics(exclude)

	start := (page - 1) * 2
	if start >= len(available) {
		start = 0
	}
	pageTopics := available[start:]
	if len(pageTopics) > 2 {
		pageTopics = pageTopics[:2]
	}

	buttons := make([]models.Button, 0, models.MaxButtons)
	for _, t := range pageTopics {
		buttons = append(buttons, topicButton(t))
	}
	if len(available) > start+2 {
		buttons = append(buttons, models.Button{ID: "mais", Title: "➡️ Ver mais"})
	} else if len(exclude) > 0 {
		buttons = append(buttons, models.Button{ID: "pronto", Title: "✅ Pronto"})
	}

	return models.ChoicePrompt{Body: "Escolha um tema:", Buttons: buttons}
}

// TopicListPrompt builds the full-catalog list prompt, used when the contact
// asks for more options than fit in buttons.
func TopicListPrompt(exclude []string) models.ChoicePrompt {
	available := availableTopics(exclude)
	rows := make([]models.ListRow, 0, len(available))
	for _, t := range available {
		rows = append(rows, models.ListRow{ID: t.Key, Title: t.Emoji + " " + t.Label})
	}
	return models.ChoicePrompt{
		Body:       "Escolha um tema:",
		ListButton: "Ver temas",
		ListTitle:  "Temas disponíveis",
		Rows:       rows,
	}
}

// TopicAddedMessage confirms a selection and shows the running count.
func TopicAddedMessage(t Topic, count int) string {
	return fmt.Sprintf("✅ *%s* adicionado! (%d/%d)\n\n"+
		"Quer adicionar mais temas ou já podemos gerar seu resumo?",
		t.Label, count, models.MaxInterests)
}

// TopicsWithGeneratePrompt offers up to two remaining topics plus the
// generate button.
func TopicsWithGeneratePrompt(exclude []string) models.ChoicePrompt {
	available := availableTopics(exclude)
	if len(available) > 2 {
		available = available[:2]
	}
	buttons := make([]models.Button, 0, models.MaxButtons)
	for _, t := range available {
		buttons = append(buttons, topicButton(t))
	}
	buttons = append(buttons, models.Button{ID: "gerar", Title: "🚀 Gerar Resumo!"})
	return models.ChoicePrompt{Body: "Adicione mais temas ou gere seu resumo:", Buttons: buttons}
}

// InterestsCommittedMessage lists the focused topics and asks the profiling
// question, phrased by the first selected interest.
func InterestsCommittedMessage(interests []string) string {
	labels := make([]string, 0, len(interests))
	for _, id := range interests {
		if t := TopicByID(id); t != nil {
			labels = append(labels, t.Emoji+" "+t.Label)
		}
	}

	var question string
	switch interests[0] {
	case "TECH":
		question = "Legal, Tecnologia! 👨‍💻 Para eu calibrar minha IA: você lê por curiosidade ou trabalha na área?"
	case "FINANCE":
		question = "Ótimo, Mercado Financeiro! 📈 Para personalizar melhor: você acompanha por curiosidade, trabalha na área ou é investidor?"
	case "POLITICS":
		question = "Entendi, Política! 🏛️ Você acompanha por interesse geral ou trabalha/atua na área?"
	default:
		question = "Perfeito! Para eu calibrar minha IA: você lê por curiosidade ou é da área?"
	}

	return "✅ Vou focar em:\n" + strings.Join(labels, "\n") + "\n\n" + question
}

// ProfilePrompt builds the micro-profiling buttons.
func ProfilePrompt() models.ChoicePrompt {
	return models.ChoicePrompt{
		Body: "Qual é o seu perfil?",
		Buttons: []models.Button{
			{ID: "curioso", Title: "🧐 Curioso"},
			{ID: "profissional", Title: "👨‍💻 Trabalho na área"},
			{ID: "investidor", Title: "💰 Sou Investidor"},
		},
	}
}

// profileDescriptions echoes back what each profile means for the digest.
var profileDescriptions = map[string]string{
	"curioso":      "Explico termos técnicos de forma simples",
	"profissional": "Vou direto ao ponto, sem enrolação",
	"investidor":   "Foco em impactos de mercado e oportunidades",
}

var profileEmojis = map[string]string{
	"curioso": "🧐", "profissional": "👨‍💻", "investidor": "💰",
}

// ProfileAckMessage confirms the chosen profile and asks for the tone.
func ProfileAckMessage(profile string) string {
	return fmt.Sprintf("%s Entendido! *%s*.\n\n"+
		"Agora me conta: *você prefere um tom mais sério ou descontraído?*",
		profileEmojis[profile], profileDescriptions[profile])
}

// TonePrompt builds the tone choice buttons.
func TonePrompt() models.ChoicePrompt {
	return models.ChoicePrompt{
		Body: "Qual tom você prefere?",
		Buttons: []models.Button{
			{ID: "formal", Title: "📰 Sério"},
			{ID: "casual", Title: "😊 Descontraído"},
		},
	}
}

// ToneAckMessage confirms the chosen tone and announces the demo.
func ToneAckMessage(tone string) string {
	emoji, label := "📰", "Sério e Profissional"
	if tone == "casual" {
		emoji, label = "😊", "Descontraído e Leve"
	}
	return fmt.Sprintf("%s Entendido! Tom *%s*.\n\n"+
		"⏳ Aguarde um momento, estou preparando um resumo especial das últimas 12 horas para você testar...",
		emoji, label)
}

// DeepDivePrompt offers the deep-dive and positive-affect buttons after the demo.
func DeepDivePrompt() models.ChoicePrompt {
	return models.ChoicePrompt{
		Body: "Quer saber mais sobre alguma notícia?",
		Buttons: []models.Button{
			{ID: "deep_dive", Title: "🔍 Me explique melhor"},
			{ID: "adorei", Title: "😍 Adorei!"},
		},
	}
}

// PlanPrompt builds the plan choice buttons.
func PlanPrompt() models.ChoicePrompt {
	return models.ChoicePrompt{
		Body: "Escolha seu plano:",
		Buttons: []models.Button{
			{ID: "generalista", Title: "💼 R$ 9,90/mês"},
			{ID: "estrategista", Title: "🚀 R$ 29,90/mês"},
		},
	}
}

// PaymentLinkMessage wraps the checkout URL for the chosen plan.
func PaymentLinkMessage(plan models.Plan, url string) string {
	return fmt.Sprintf("🔒 *Link seguro de pagamento:*\n\n%s\n\n"+
		"_Plano %s - 5 dias grátis!_\n"+
		"_Você pode cancelar a qualquer momento._",
		url, planTitle(plan))
}

// WelcomeCelebrationMessages returns the celebration sequence sent when a
// payment is confirmed, personalized per plan.
func WelcomeCelebrationMessages(plan models.Plan) []string {
	var body string
	if plan == models.PlanEstrategista {
		body = "🎩 *Bem-vindo ao clube VIP do ZapNotícias Estrategista!*\n\n" +
			"Você desbloqueou:\n" +
			"✅ Resumos diários personalizados\n" +
			"✅ Áudios narrados para ouvir em qualquer lugar\n" +
			"✅ Análises profundas sob demanda\n" +
			"✅ Chat ilimitado com IA\n\n" +
			"📅 *Seus resumos chegam:*\n" +
			"• Às *07:00* - Para começar o dia informado ☕\n" +
			"• Às *19:00* - Para fechar o dia atualizado 🌙\n\n" +
			"💬 E pode me perguntar qualquer coisa sobre as notícias a qualquer momento!"
	} else {
		body = "🎩 *Bem-vindo ao ZapNotícias Generalista!*\n\n" +
			"Você desbloqueou:\n" +
			"✅ Resumos diários personalizados\n" +
			"✅ Chat com IA sobre as notícias\n\n" +
			"📅 *Seus resumos chegam:*\n" +
			"• Às *07:00* - Para começar o dia informado ☕\n" +
			"• Às *19:00* - Para fechar o dia atualizado 🌙\n\n" +
			"💬 Pode me perguntar qualquer coisa!"
	}
	return []string{
		"🎉 *Pagamento confirmado!*",
		body,
		"🎁 *Surpresa!* Como é sua primeira vez, vou te enviar um resumo agora mesmo!\n\n" +
			"_Aguarde alguns segundos..._",
	}
}

// ConfigMenuPrompt builds the settings menu.
func ConfigMenuPrompt() models.ChoicePrompt {
	return models.ChoicePrompt{
		Body: msgConfigMenu,
		Buttons: []models.Button{
			{ID: "horarios", Title: "⏰ Horários"},
			{ID: "temas", Title: "📚 Temas"},
			{ID: "voltar", Title: "↩️ Voltar"},
		},
	}
}

// TopicsEditPrompt builds the topic toggle list for the config sub-flow,
// marking topics currently in the working set.
func TopicsEditPrompt(working []string) models.ChoicePrompt {
	rows := make([]models.ListRow, 0, len(Topics)+2)
	for _, t := range Topics {
		title := t.Emoji + " " + t.Label
		desc := ""
		if containsString(working, t.ID) {
			desc = "✅ selecionado"
		}
		rows = append(rows, models.ListRow{ID: t.Key, Title: title, Description: desc})
	}
	rows = append(rows,
		models.ListRow{ID: "salvar", Title: "💾 Salvar"},
		models.ListRow{ID: "limpar", Title: "🧹 Limpar"},
	)
	return models.ChoicePrompt{
		Body:       msgTopicsEditIntro,
		ListButton: "Editar temas",
		ListTitle:  "Temas",
		Rows:       rows,
	}
}

func topicButton(t Topic) models.Button {
	title := t.Emoji + " " + t.Label
	if len([]rune(title)) > 20 {
		title = string([]rune(title)[:20]) // WhatsApp button title limit
	}
	return models.Button{ID: t.Key, Title: title}
}

func availableTopics(exclude []string) []Topic {
	out := make([]Topic, 0, len(Topics))
	for _, t := range Topics {
		if !containsString(exclude, t.ID) {
			out = append(out, t)
		}
	}
	return out
}

func planTitle(plan models.Plan) string {
	if plan == models.PlanEstrategista {
		return "Estrategista"
	}
	return "Generalista"
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
