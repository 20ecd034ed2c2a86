package domain

import (
	"errors"
	"fmt"
)

var (
	// Device errors
	ErrDeviceNotFound           = errors.New("audio device not found")
	ErrUnsupportedChannelConfig = errors.New("channel configuration not supported by device")
	ErrUnsupportedSampleRate    = errors.New("sample rate not supported by device")
	ErrDeviceUnavailable        = errors.New("audio device unavailable")

	// Playback errors
	ErrDecode                = errors.New("audio source could not be decoded")
	ErrInvalidChannelIndex   = errors.New("channel index out of range")
	ErrGraphCapacityExceeded = errors.New("transient source capacity exceeded")

	// Graph errors
	ErrGraphCycle          = errors.New("connection would create a cycle")
	ErrDuplicateConnection = errors.New("connection already exists")
	ErrNodeNotFound        = errors.New("graph node not found")
	ErrReservedNode        = errors.New("reserved I/O node cannot be modified")

	// Engine errors
	ErrNotConfigured = errors.New("engine is not configured")
)

// Code identifies an error kind independently of its message.
type Code string

const (
	CodeDeviceNotFound           Code = "DEVICE_NOT_FOUND"
	CodeUnsupportedChannelConfig Code = "UNSUPPORTED_CHANNEL_CONFIG"
	CodeUnsupportedSampleRate    Code = "UNSUPPORTED_SAMPLE_RATE"
	CodeDeviceUnavailable        Code = "DEVICE_UNAVAILABLE"
	CodeDecode                   Code = "DECODE_ERROR"
	CodeInvalidChannelIndex      Code = "INVALID_CHANNEL_INDEX"
	CodeGraphCapacityExceeded    Code = "GRAPH_CAPACITY_EXCEEDED"
	CodeGraphCycle               Code = "GRAPH_CYCLE"
	CodeDuplicateConnection      Code = "DUPLICATE_CONNECTION"
	CodeNodeNotFound             Code = "NODE_NOT_FOUND"
	CodeReservedNode             Code = "RESERVED_NODE"
	CodeNotConfigured            Code = "NOT_CONFIGURED"
	CodeInternal                 Code = "INTERNAL"
)

var codes = map[error]Code{
	ErrDeviceNotFound:           CodeDeviceNotFound,
	ErrUnsupportedChannelConfig: CodeUnsupportedChannelConfig,
	ErrUnsupportedSampleRate:    CodeUnsupportedSampleRate,
	ErrDeviceUnavailable:        CodeDeviceUnavailable,
	ErrDecode:                   CodeDecode,
	ErrInvalidChannelIndex:      CodeInvalidChannelIndex,
	ErrGraphCapacityExceeded:    CodeGraphCapacityExceeded,
	ErrGraphCycle:               CodeGraphCycle,
	ErrDuplicateConnection:      CodeDuplicateConnection,
	ErrNodeNotFound:             CodeNodeNotFound,
	ErrReservedNode:             CodeReservedNode,
	ErrNotConfigured:            CodeNotConfigured,
}

// EngineError is the error type returned by every public engine operation.
// It matches its kind sentinel and its cause with errors.Is.
type EngineError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`

	kind error
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.kind != nil {
		errs = append(errs, e.kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError builds an EngineError of the given kind.
func NewError(kind error, details string) *EngineError {
	return Wrap(kind, nil, details)
}

// Errorf builds an EngineError of the given kind with formatted details.
func Errorf(kind error, format string, args ...interface{}) *EngineError {
	return Wrap(kind, nil, fmt.Sprintf(format, args...))
}

// Wrap builds an EngineError of the given kind around an underlying cause.
// If err already carries a kind it is returned unchanged.
func Wrap(kind error, err error, details string) *EngineError {
	var existing *EngineError
	if errors.As(err, &existing) && existing.kind != nil {
		return existing
	}
	code, ok := codes[kind]
	if !ok {
		code = CodeInternal
	}
	return &EngineError{
		Code:    code,
		Message: kind.Error(),
		Details: details,
		Err:     err,
		kind:    kind,
	}
}

// KindOf returns the code of err, or CodeInternal if err does not carry one.
func KindOf(err error) Code {
	if err == nil {
		return ""
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	for kind, code := range codes {
		if errors.Is(err, kind) {
			return code
		}
	}
	return CodeInternal
}

func IsDeviceError(err error) bool {
	return errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrUnsupportedChannelConfig) ||
		errors.Is(err, ErrUnsupportedSampleRate) || errors.Is(err, ErrDeviceUnavailable)
}

func IsGraphError(err error) bool {
	return errors.Is(err, ErrGraphCycle) || errors.Is(err, ErrDuplicateConnection) ||
		errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrReservedNode)
}

func IsPlaybackError(err error) bool {
	return errors.Is(err, ErrDecode) || errors.Is(err, ErrInvalidChannelIndex) ||
		errors.Is(err, ErrGraphCapacityExceeded)
}
