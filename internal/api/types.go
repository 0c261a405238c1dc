package api

import (
	"errors"

	"stereochecker/audio"
	"stereochecker/internal/service"
	"stereochecker/media"
	"stereochecker/stereo"
)

// Message WebSocket / gRPC message structure
type Message struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`

	// Commands
	Path     string   `json:"path,omitempty"`
	Route    string   `json:"route,omitempty"`
	Position *float64 `json:"position,omitempty"`

	// Responses
	State    *service.State         `json:"state,omitempty"`
	Analysis *stereo.StateChange    `json:"analysis,omitempty"`
	Result   *stereo.AnalysisResult `json:"result,omitempty"`
	RunID    string                 `json:"runId,omitempty"`
	Devices  []audio.AudioDevice    `json:"devices,omitempty"`

	// Errors
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Типы сообщений
const (
	TypeLoadFile       = "load_file"
	TypeUnload         = "unload"
	TypeToggle         = "toggle"
	TypeSetRoute       = "set_route"
	TypeAnalyze        = "analyze"
	TypeCancelAnalysis = "cancel_analysis"
	TypeResume         = "resume"
	TypePlay           = "play"
	TypePause          = "pause"
	TypeSeek           = "seek"
	TypeGetState       = "get_state"
	TypeGetDevices     = "get_devices"

	TypeState          = "state"
	TypeAnalysisState  = "analysis_state"
	TypeAnalysisResult = "analysis_result"
	TypeAnalysisFailed = "analysis_failed"
	TypeAnalysisStart  = "analysis_started"
	TypeDevices        = "devices"
	TypeError          = "error"
)

// failureReason - машиночитаемая причина отказа для UI
func failureReason(err error) string {
	switch {
	case errors.Is(err, stereo.ErrNotReady):
		return "not_ready"
	case errors.Is(err, stereo.ErrDeviceSuspended):
		return "device_suspended"
	case errors.Is(err, stereo.ErrInsufficientDuration):
		return "insufficient_duration"
	case errors.Is(err, stereo.ErrDurationUnknown):
		return "duration_unknown"
	case errors.Is(err, stereo.ErrAnalysisInProgress):
		return "analysis_in_progress"
	case errors.Is(err, stereo.ErrAnalysisAborted):
		return "aborted"
	case errors.Is(err, stereo.ErrNoSamples):
		return "no_samples"
	case errors.Is(err, media.ErrUnsupportedFormat):
		return "unsupported_format"
	default:
		return "internal"
	}
}

// errorMessage собирает сообщение об ошибке для клиента
func errorMessage(typ string, err error) Message {
	return Message{Type: typ, Error: err.Error(), Reason: failureReason(err)}
}
