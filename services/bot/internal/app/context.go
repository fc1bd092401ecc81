package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WillianCassan/chatbot-with-rag/internal/util"
	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
)

// NoResults replaces an empty retrieval so the prompt never has a blank block.
const NoResults = "Nenhum resultado encontrado."

// Context is what the reply prompt is built from.
type Context struct {
	Profile string
	// History is newest first.
	History   []domain.Turn
	Retrieved string
}

// BuildContext loads history, refreshes the profile summary and retrieves
// document context for message.
func (a *App) BuildContext(ctx context.Context, phone, message string) (Context, error) {
	history, err := a.conversations.RecentTurns(ctx, phone, a.historyLimit)
	if err != nil {
		return Context{}, fmt.Errorf("load history: %w", err)
	}
	out := Context{History: history}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		profile, err := a.refreshProfile(gctx, phone, message)
		if err != nil {
			return err
		}
		out.Profile = profile
		return nil
	})
	g.Go(func() error {
		retrieved, err := a.retrieve(gctx, message, history)
		if err != nil {
			return err
		}
		out.Retrieved = retrieved
		return nil
	})
	if err := g.Wait(); err != nil {
		return Context{}, err
	}
	return out, nil
}

// refreshProfile asks the summarizer for an updated profile, retrying with a
// linear backoff. After the last failed attempt the prior summary is kept.
func (a *App) refreshProfile(ctx context.Context, phone, message string) (string, error) {
	prior, _, err := a.conversations.GetProfile(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	logger := util.LoggerFromContext(ctx)
	for attempt := 1; attempt <= a.attempts; attempt++ {
		if attempt > 1 {
			if err := a.sleep(ctx, time.Duration(attempt-1)*a.backoff); err != nil {
				return prior.Summary, nil
			}
		}
		summary, err := a.summarizer.Summarize(ctx, prior.Summary, message)
		if err != nil {
			logger.Warn("profile summary failed", "phone", phone, "attempt", attempt, "err", err)
			continue
		}
		if err := a.conversations.UpsertProfile(ctx, domain.Profile{Phone: phone, Summary: summary, UpdatedAt: a.now()}); err != nil {
			logger.Error("save profile failed", "phone", phone, "err", err)
		}
		return summary, nil
	}
	return prior.Summary, nil
}

func (a *App) retrieve(ctx context.Context, message string, history []domain.Turn) (string, error) {
	texts := []string{message}
	if len(history) >= 2 {
		texts = append(texts, history[1].Message)
	}
	matches, err := a.retriever.Query(ctx, texts, a.topK)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}
	if len(matches) == 0 {
		return NoResults, nil
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, m.Chunk.Content)
	}
	return strings.Join(parts, " "), nil
}
