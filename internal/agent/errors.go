package agent

import (
	"context"
	"errors"

	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
	"github.com/sarpel/BedtimeStoryTeller/internal/wakeword"
)

var (
	ErrBusy            = errors.New("storyteller is busy")
	ErrNotInitialized  = errors.New("storyteller not initialized")
	ErrShutdown        = errors.New("storyteller shut down")
	ErrPlaybackStalled = errors.New("playback stalled waiting for audio")
	ErrSafetyRejected  = errors.New("prompt rejected by safety filter")
	ErrNoWakeEngine    = errors.New("wake word detection not configured")
)

// ErrEngineInitFailed is shared with the wake engine manager.
var ErrEngineInitFailed = wakeword.ErrEngineInitFailed

// ErrorKind classifies failures surfaced by the orchestrator.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindBusy            ErrorKind = "busy"
	KindProvider        ErrorKind = "provider"
	KindPlaybackStalled ErrorKind = "playback_stalled"
	KindEngineInit      ErrorKind = "engine_init_failed"
	KindSafetyRejected  ErrorKind = "safety_rejected"
	KindCancelled       ErrorKind = "cancelled"
	KindInternal        ErrorKind = "internal"
)

// KindOf maps err onto the closed set of error kinds.
func KindOf(err error) ErrorKind {
	var perr *provider.Error
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrSafetyRejected):
		return KindSafetyRejected
	case errors.Is(err, ErrPlaybackStalled):
		return KindPlaybackStalled
	case errors.Is(err, ErrEngineInitFailed):
		return KindEngineInit
	case errors.As(err, &perr):
		return KindProvider
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}
