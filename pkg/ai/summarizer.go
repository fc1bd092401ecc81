package ai

import (
	"context"
	"fmt"
	"strings"
)

const profileSystemPrompt = `Você é um agente especialista em classificação de dados relevantes sobre pessoas.
Sua missão é, dada uma mensagem, extrair dela (se for possível e pertinente) informações relevantes sobre a pessoa.
Sua resposta deve ser apenas o resumo do perfil da pessoa atualizado.
O resumo deve sempre ser o mais objetivo possível e curto, sem exceder 300 palavras.
Se não houver dados relevantes, apenas responda com o resumo já construído até o momento.
A resposta não deve conter aspas de nenhum tipo nem parênteses.`

// ChatSummarizer implements Summarizer with a single chat completion.
type ChatSummarizer struct {
	model ChatModel
}

func NewChatSummarizer(model ChatModel) *ChatSummarizer {
	return &ChatSummarizer{model: model}
}

// Summarize returns the updated profile summary for message given prior.
func (s *ChatSummarizer) Summarize(ctx context.Context, prior, message string) (string, error) {
	user := fmt.Sprintf(`A mensagem de interação com a pessoa é: %q
Abaixo está o que se sabe até o momento sobre a pessoa. Agregue mais informações, se houver algo relevante, para criar um pequeno resumo do perfil dessa pessoa:

%s`, message, prior)
	out, err := s.model.Chat(ctx, []Message{
		{Role: RoleSystem, Content: profileSystemPrompt},
		{Role: RoleUser, Content: user},
	})
	if err != nil {
		return "", fmt.Errorf("summarize profile: %w", err)
	}
	out = stripQuotes(out)
	if out == "" {
		return "", fmt.Errorf("summarize profile: empty summary")
	}
	return out, nil
}

var quoteStripper = strings.NewReplacer(`"`, "", "“", "", "”", "", "'", "", "‘", "", "’", "", "(", "", ")", "")

func stripQuotes(s string) string {
	return strings.TrimSpace(quoteStripper.Replace(s))
}
