package app

import "errors"

var (
	// ErrAudioDisabled is returned when no transcriber or synthesizer is configured.
	ErrAudioDisabled = errors.New("audio replies disabled")
	ErrEmptyAudio    = errors.New("empty audio payload")
)
