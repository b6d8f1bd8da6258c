package timeline

import (
	"errors"
	"fmt"
)

var (
	// ErrDetectorUnavailable means a scene detector is not installed or cannot start.
	ErrDetectorUnavailable = errors.New("scene detector unavailable")
	// ErrDetectorError means a scene detector ran and failed.
	ErrDetectorError = errors.New("scene detector error")
	// ErrSceneDetectionFailure means no detector produced a result, or the video could not be opened.
	ErrSceneDetectionFailure = errors.New("scene detection failed")
	// ErrTranscriptionError means the speech model failed.
	ErrTranscriptionError = errors.New("transcription failed")
	// ErrInvalidAlignmentInput means alignment was asked to run without scenes.
	ErrInvalidAlignmentInput = errors.New("invalid alignment input")
)

// Stage names a step of a processing run.
type Stage string

const (
	StageReset        Stage = "reset"
	StageProbe        Stage = "probe"
	StageDetect       Stage = "detect"
	StageCanonicalize Stage = "canonicalize"
	StageTranscribe   Stage = "transcribe"
	StageAlign        Stage = "align"
	StageAssemble     Stage = "assemble"
)

// StageError is the fatal failure of a run, tagged with the video and stage.
type StageError struct {
	VideoID string
	Stage   Stage
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("video %s: %s: %v", e.VideoID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrorCode maps an error onto the short code reported to API clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSceneDetectionFailure):
		return "SCENE_DETECTION_FAILED"
	case errors.Is(err, ErrTranscriptionError):
		return "TRANSCRIPTION_FAILED"
	case errors.Is(err, ErrInvalidAlignmentInput):
		return "INVALID_ALIGNMENT_INPUT"
	case errors.Is(err, ErrDetectorUnavailable), errors.Is(err, ErrDetectorError):
		return "DETECTOR_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}
