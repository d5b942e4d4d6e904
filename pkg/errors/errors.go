package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel values for the failure classes this service distinguishes.
// Configuration errors are fatal at startup; everything else is
// recoverable and surfaces as a structured error payload.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrConnection      = errors.New("provider connection failed")
	ErrAudioProcessing = errors.New("audio processing failed")
	ErrModelAPI        = errors.New("language model request failed")
	ErrParsing         = errors.New("response parsing failed")
	ErrValidation      = errors.New("invalid input")

	ErrSessionNotActive    = errors.New("transcription session not active")
	ErrTranscriptTooShort  = errors.New("transcript too short for analysis")
	ErrNoTranscript        = errors.New("no transcript available")
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
)

// Error is a structured error carrying context fields, a machine-readable
// code and the location it was created at.
type Error struct {
	original error
	message  string
	fields   map[string]interface{}
	file     string
	line     int

	// Code categorizes the error for the outbound error surface.
	Code string
}

// New creates a new structured error with the given message.
func New(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   firstOrEmpty(fields),
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: err,
		message:  message,
		fields:   firstOrEmpty(fields),
		file:     file,
		line:     line,
	}
}

func firstOrEmpty(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 && fields[0] != nil {
		return fields[0]
	}
	return make(map[string]interface{})
}

// WithField returns a copy of the error with one extra context field.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}

	result := e.clone(len(e.fields) + 1)
	result.fields[key] = value
	return result
}

// WithFields returns a copy of the error with extra context fields.
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}

	result := e.clone(len(e.fields) + len(fields))
	for k, v := range fields {
		result.fields[k] = v
	}
	return result
}

// WithCode returns a copy of the error carrying the given code.
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}

	result := e.clone(len(e.fields))
	result.Code = code
	return result
}

func (e *Error) clone(fieldCap int) *Error {
	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, fieldCap),
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}
	for k, v := range e.fields {
		result.fields[k] = v
	}
	return result
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" {
		return e.original.Error()
	}
	if e.message == e.original.Error() {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns the file:line where the error was created.
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], e.line)
}

// GetFields returns the error's context fields.
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// Is reports whether any error in err's tree matches target.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if errors.Is(e.original, target) {
		return true
	}
	return e == target
}

// AsJSON returns the error in a JSON-friendly map for outbound payloads.
func (e *Error) AsJSON() map[string]interface{} {
	if e == nil {
		return nil
	}

	result := map[string]interface{}{
		"message":  e.Error(),
		"location": e.Location(),
	}
	if e.Code != "" {
		result["code"] = e.Code
	}
	if len(e.fields) > 0 {
		result["context"] = e.fields
	}
	return result
}

// NewConfiguration creates an ErrConfiguration error.
func NewConfiguration(message string, fields ...map[string]interface{}) *Error {
	return typed(ErrConfiguration, "CONFIGURATION_ERROR", message, fields)
}

// NewConnection creates an ErrConnection error.
func NewConnection(message string, fields ...map[string]interface{}) *Error {
	return typed(ErrConnection, "CONNECTION_ERROR", message, fields)
}

// NewAudioProcessing creates an ErrAudioProcessing error.
func NewAudioProcessing(message string, fields ...map[string]interface{}) *Error {
	return typed(ErrAudioProcessing, "AUDIO_PROCESSING_ERROR", message, fields)
}

// NewModelAPI creates an ErrModelAPI error.
func NewModelAPI(message string, fields ...map[string]interface{}) *Error {
	return typed(ErrModelAPI, "MODEL_API_ERROR", message, fields)
}

// NewParsing creates an ErrParsing error.
func NewParsing(message string, fields ...map[string]interface{}) *Error {
	return typed(ErrParsing, "PARSING_ERROR", message, fields)
}

// NewValidation creates an ErrValidation error.
func NewValidation(message string, fields ...map[string]interface{}) *Error {
	return typed(ErrValidation, "VALIDATION_ERROR", message, fields)
}

func typed(sentinel error, code, message string, fields []map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(2)

	return &Error{
		original: sentinel,
		message:  message,
		fields:   firstOrEmpty(fields),
		file:     file,
		line:     line,
		Code:     code,
	}
}

// GetCode extracts the error code from an error if it is a structured error.
func GetCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Code
	}
	return ""
}

// GetFields extracts fields from an error if it is a structured error.
func GetFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}

// Is is a convenience re-export of errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience re-export of errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
