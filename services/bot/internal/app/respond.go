package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/WillianCassan/chatbot-with-rag/internal/util"
	"github.com/WillianCassan/chatbot-with-rag/pkg/ai"
	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
)

// FallbackReply is sent when no attempt produced a usable completion.
const FallbackReply = "Não consegui compreender bem a sua mensagem... Poderia reformulá-la, por favor?"

var errBlankReply = errors.New("blank completion")

// Respond answers question for phone. Model failures are retried with a
// linear backoff and never surface: after the last attempt FallbackReply is
// returned and nothing is persisted. Calls for the same phone run one at a
// time.
func (a *App) Respond(ctx context.Context, phone, question string) string {
	unlock := a.locks.lock(phone)
	defer unlock()

	logger := util.LoggerFromContext(ctx).With("phone", phone)
	var reply string
	for attempt := 1; attempt <= a.attempts; attempt++ {
		if attempt > 1 {
			if err := a.sleep(ctx, time.Duration(attempt-1)*a.backoff); err != nil {
				logger.Warn("reply abandoned", "err", err)
				return FallbackReply
			}
		}
		out, err := a.attempt(ctx, phone, question)
		if err != nil {
			logger.Warn("reply attempt failed", "attempt", attempt, "err", err)
			continue
		}
		reply = out
		break
	}
	if reply == "" {
		logger.Error("reply attempts exhausted", "attempts", a.attempts)
		return FallbackReply
	}

	reply = truncateRunes(reply, a.maxReplyRunes)
	now := a.now()
	if err := a.conversations.AppendTurns(ctx,
		domain.Turn{Phone: phone, Role: domain.RoleUser, Message: question, CreatedAt: now},
		domain.Turn{Phone: phone, Role: domain.RoleAssistant, Message: reply, CreatedAt: now},
	); err != nil {
		logger.Error("save turns failed", "err", err)
	}
	return reply
}

func (a *App) attempt(ctx context.Context, phone, question string) (string, error) {
	c, err := a.BuildContext(ctx, phone, question)
	if err != nil {
		return "", err
	}
	out, err := a.chat.Chat(ctx, a.composeMessages(c, question))
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", errBlankReply
	}
	return out, nil
}

// composeMessages builds the system prompt, replays history oldest first and
// ends with the question.
func (a *App) composeMessages(c Context, question string) []ai.Message {
	messages := make([]ai.Message, 0, len(c.History)+2)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: a.systemPrompt(c)})
	for i := len(c.History) - 1; i >= 0; i-- {
		turn := c.History[i]
		role := ai.RoleUser
		if turn.Role == domain.RoleAssistant {
			role = ai.RoleAssistant
		}
		messages = append(messages, ai.Message{Role: role, Content: turn.Message})
	}
	return append(messages, ai.Message{Role: ai.RoleUser, Content: question})
}

func (a *App) systemPrompt(c Context) string {
	org := a.orgName
	var b strings.Builder
	fmt.Fprintf(&b, "Você é um assistente virtual da %s, treinado exclusivamente para responder dúvidas sobre os serviços públicos oferecidos pela %s.\n\n", org, org)
	b.WriteString("Responda com base no contexto adicional abaixo, que reúne trechos dos documentos cadastrados, e no perfil do usuário com quem você está conversando.\n\n")
	b.WriteString("Restrições obrigatórias:\n")
	b.WriteString("- Use o contexto adicional como base principal para suas respostas.\n")
	b.WriteString("- Se a informação exata não estiver presente, construa uma resposta informativa com o que estiver disponível no contexto.\n")
	fmt.Fprintf(&b, "- Se o usuário perguntar algo fora do escopo, como piadas, política, receitas ou hobbies, responda educadamente que você é especializado em assuntos da %s, com uma frase como: \"Olá, eu sou um assistente virtual da %s e fui desenvolvido apenas para ajudar com dúvidas sobre os serviços da %s.\"\n\n", org, org, org)
	b.WriteString("Estilo de resposta:\n")
	b.WriteString("- Seja objetivo, acolhedor e respeitoso. Vá direto ao ponto.\n")
	b.WriteString("- Use o nome ou outros dados do perfil do usuário quando tiverem sido fornecidos.\n")
	b.WriteString("- Escreva para pessoas com baixa escolaridade, em parágrafos curtos próprios para o WhatsApp.\n")
	fmt.Fprintf(&b, "- No máximo %d caracteres. Para vários passos, use uma lista simples com marcadores (•).\n", a.maxReplyRunes)
	b.WriteString("- Quando possível, mencione o nome do arquivo de onde a informação foi extraída.\n\n")

	b.WriteString("##### Início do Perfil do usuário #####\n")
	b.WriteString(c.Profile)
	b.WriteString("\n##### Fim do perfil do usuário #####\n\n")
	fmt.Fprintf(&b, "##### Início de informações sobre os serviços oferecidos pela %s #####\n", org)
	b.WriteString(a.servicesContext)
	fmt.Fprintf(&b, "\n##### Fim de informações sobre os serviços oferecidos pela %s #####\n\n", org)
	b.WriteString("##### Início de contexto adicional #####\n")
	b.WriteString(c.Retrieved)
	b.WriteString("\n##### Fim de contexto adicional #####")
	return b.String()
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

var unsafeFragments = regexp.MustCompile(`--|\||;|#|/\*|\*/|'`)

// Sanitize strips fragments commonly used in injection payloads from an
// incoming question.
func Sanitize(question string) string {
	return unsafeFragments.ReplaceAllString(question, "")
}
