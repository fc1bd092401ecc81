package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/WillianCassan/chatbot-with-rag/internal/util"
)

// DeclineReply answers message types the bot cannot handle.
const DeclineReply = "Desculpe, no momento só consigo responder mensagens de texto."

const (
	presenceAvailable = "available"
	presenceComposing = "composing"
	presenceRecording = "recording"
)

// HandleText runs the text flow: mark read, show typing, reply.
func (a *App) HandleText(ctx context.Context, phone, text string) error {
	a.markRead(ctx, phone)
	a.presence(ctx, phone, presenceComposing, 5*time.Second)
	reply := a.Respond(ctx, phone, Sanitize(text))
	if err := a.messenger.SendText(ctx, phone, reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// HandleAudio runs the voice note flow: transcribe, correct, reply and
// answer with synthesized speech. A failed synthesis falls back to text.
func (a *App) HandleAudio(ctx context.Context, phone string, audio []byte) error {
	if !a.AudioEnabled() {
		return a.Decline(ctx, phone)
	}
	if len(audio) == 0 {
		return ErrEmptyAudio
	}
	logger := util.LoggerFromContext(ctx).With("phone", phone)
	a.markRead(ctx, phone)
	a.presence(ctx, phone, presenceRecording, time.Second)

	transcript, err := a.transcriber.Transcribe(ctx, audio, phone+"_audio_message.ogg")
	if err != nil {
		logger.Error("transcription failed", "err", err)
		if sendErr := a.messenger.SendText(ctx, phone, FallbackReply); sendErr != nil {
			return fmt.Errorf("send fallback: %w", sendErr)
		}
		return nil
	}
	transcript = CorrectTranscription(transcript, a.orgName)
	logger.Info("voice note transcribed", "chars", len([]rune(transcript)))

	reply := a.Respond(ctx, phone, transcript)
	speech, err := a.speech.SynthesizeSpeech(ctx, reply)
	if err != nil {
		logger.Error("speech synthesis failed", "err", err)
		if err := a.messenger.SendText(ctx, phone, reply); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
		return nil
	}
	if err := a.messenger.SendWhatsAppAudio(ctx, phone, base64.StdEncoding.EncodeToString(speech)); err != nil {
		return fmt.Errorf("send audio reply: %w", err)
	}
	return nil
}

// Decline tells phone that only text messages are supported.
func (a *App) Decline(ctx context.Context, phone string) error {
	if err := a.messenger.SendText(ctx, phone, DeclineReply); err != nil {
		return fmt.Errorf("send decline: %w", err)
	}
	return nil
}

func (a *App) markRead(ctx context.Context, phone string) {
	a.presence(ctx, phone, presenceAvailable, time.Second)
}

// presence failures only cost the user a typing indicator.
func (a *App) presence(ctx context.Context, phone, state string, delay time.Duration) {
	if err := a.messenger.SendPresence(ctx, phone, state, delay); err != nil {
		util.LoggerFromContext(ctx).Warn("send presence failed", "phone", phone, "presence", state, "err", err)
	}
}
