// Package genai provides GenAI-backed content generation using the OpenAI API:
// the demo digest, deep-dive analyses, and the subscriber chat assistant.
package genai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemPrompt = "Você é o ZapNotícias, uma IA jornalista brasileira que envia " +
	"resumos de notícias pelo WhatsApp. Escreva em português do Brasil, com " +
	"formatação do WhatsApp (*negrito*, _itálico_), frases curtas e emojis com moderação."

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion API.
type Client struct {
	client openai.Client
	model  string
}

// NewClient initializes a GenAI client, falling back to the OPENAI_API_KEY
// environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	return &Client{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}, nil
}

// complete runs one chat completion with the shared system prompt.
func (c *Client) complete(ctx context.Context, userPrompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateDemoDigest produces the demo news digest for the given interests,
// adapted to the contact's tone and reader profile.
func (c *Client) GenerateDemoDigest(ctx context.Context, interests []string, tone, profile string) (string, error) {
	prompt := fmt.Sprintf(
		"Gere um resumo de notícias das últimas 12 horas sobre os temas: %s.\n"+
			"Tom: %s. Perfil do leitor: %s.\n"+
			"Comece com '📰 *SEU RESUMO PERSONALIZADO*'. No máximo 2 notícias por tema, "+
			"cada uma com título e um resumo de uma frase. Termine citando as fontes.",
		strings.Join(interests, ", "), toneInstruction(tone), profileInstruction(profile))
	return c.complete(ctx, prompt)
}

// GenerateDeepDive produces a deeper analysis of the most relevant recent
// story for the given interests.
func (c *Client) GenerateDeepDive(ctx context.Context, interests []string) (string, error) {
	prompt := fmt.Sprintf(
		"Aprofunde a notícia mais relevante do momento sobre os temas: %s.\n"+
			"Comece com '🔍 *Aprofundando:*' seguido do título. Liste até 4 pontos "+
			"importantes e um parágrafo de contexto. Cite a fonte no final.",
		strings.Join(interests, ", "))
	return c.complete(ctx, prompt)
}

// Answer handles free-form questions from active subscribers.
func (c *Client) Answer(ctx context.Context, contactID, text string) (string, error) {
	prompt := fmt.Sprintf("O assinante perguntou: %q\nResponda de forma útil e breve.", text)
	return c.complete(ctx, prompt)
}

func toneInstruction(tone string) string {
	if tone == "casual" {
		return "descontraído e leve"
	}
	return "sério e profissional"
}

func profileInstruction(profile string) string {
	switch profile {
	case "profissional":
		return "trabalha na área, seja direto ao ponto"
	case "investidor":
		return "investidor, foque em impactos de mercado"
	default:
		return "curioso, explique termos técnicos de forma simples"
	}
}

// MockGenerator is a test double that returns canned content or a configured
// error.
type MockGenerator struct {
	Digest   string
	DeepDive string
	Reply    string
	Err      error
	Calls    []string
}

func (m *MockGenerator) GenerateDemoDigest(ctx context.Context, interests []string, tone, profile string) (string, error) {
	m.Calls = append(m.Calls, "demo")
	if m.Err != nil {
		return "", m.Err
	}
	if m.Digest == "" {
		return "📰 *SEU RESUMO PERSONALIZADO*", nil
	}
	return m.Digest, nil
}

func (m *MockGenerator) GenerateDeepDive(ctx context.Context, interests []string) (string, error) {
	m.Calls = append(m.Calls, "deepdive")
	if m.Err != nil {
		return "", m.Err
	}
	if m.DeepDive == "" {
		return "🔍 *Aprofundando:* análise", nil
	}
	return m.DeepDive, nil
}

func (m *MockGenerator) Answer(ctx context.Context, contactID, text string) (string, error) {
	m.Calls = append(m.Calls, "answer")
	if m.Err != nil {
		return "", m.Err
	}
	if m.Reply == "" {
		return "Boa pergunta! Aqui vai o que sei sobre isso.", nil
	}
	return m.Reply, nil
}
