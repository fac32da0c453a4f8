// Package errors provides the sidecar's error taxonomy and its wire form.
// Errors raised while handling a packet never cross the wire as Go errors;
// they travel as a PlainError inside a RESPONSE payload.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeProtocol     ErrorType = "protocol_error"
	ErrorTypeTransport    ErrorType = "transport_error"
	ErrorTypeForeign      ErrorType = "foreign_error"
	ErrorTypeRouting      ErrorType = "routing_error"
	ErrorTypeUnavailable  ErrorType = "unavailable"
	ErrorTypeQueueFull    ErrorType = "queue_full"
	ErrorTypeRemote       ErrorType = "remote_error"
	ErrorTypeValidation   ErrorType = "validation_error"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeInternal     ErrorType = "internal_error"
)

// Reasons carried in AppError.Reason. They match the codes remote peers
// already understand.
const (
	ReasonMissingPayload           = "MISSING_PAYLOAD"
	ReasonProtocolVersionMismatch  = "PROTOCOL_VERSION_MISMATCH"
	ReasonInvalidPacketData        = "INVALID_PACKET_DATA"
	ReasonRequestRejected          = "REQUEST_REJECTED"
	ReasonServiceNotFound          = "SERVICE_NOT_FOUND"
	ReasonServiceNotAvailable      = "SERVICE_NOT_AVAILABLE"
	ReasonQueueFull                = "QUEUE_FULL"
	ReasonNoGateway                = "NO_GATEWAY"
	ReasonForeignException         = "FOREIGN_EXCEPTION"
	ReasonFailedSendRequestPacket  = "FAILED_SEND_REQUEST_PACKET"
	ReasonFailedSendEventPacket    = "FAILED_SEND_EVENT_PACKET"
	ReasonFailedSendInfoPacket     = "FAILED_SEND_INFO_PACKET"
	ReasonFailedSendChannelPacket  = "FAILED_SEND_CHANNEL_EVENT_PACKET"
	ReasonFailedSendHeartbeat      = "FAILED_SEND_REQUEST_HEARTBEAT_PACKET"
	ReasonFailedSendDiscoverPacket = "FAILED_SEND_DISCOVER_PACKET"
)

// AppError represents an application error with additional context
type AppError struct {
	Type    ErrorType      `json:"type"`
	Message string         `json:"message"`
	Code    int            `json:"code"`
	Reason  string         `json:"reason,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	NodeID  string         `json:"nodeID,omitempty"`
	Stack   string         `json:"stack,omitempty"`

	remoteName string
	cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Name is the error class name used on the wire.
func (e *AppError) Name() string {
	if e.remoteName != "" {
		return e.remoteName
	}
	switch e.Type {
	case ErrorTypeProtocol:
		if e.Reason == ReasonProtocolVersionMismatch {
			return "ProtocolVersionMismatchError"
		}
		return "ProtocolError"
	case ErrorTypeTransport:
		if e.Reason == ReasonInvalidPacketData {
			return "InvalidPacketDataError"
		}
		if e.Reason == ReasonRequestRejected {
			return "RequestRejectedError"
		}
		return "ServiceNotAvailableError"
	case ErrorTypeForeign:
		return "ForeignError"
	case ErrorTypeRouting:
		return "ServiceNotFoundError"
	case ErrorTypeUnavailable:
		return "ServiceNotAvailableError"
	case ErrorTypeQueueFull:
		return "QueueIsFullError"
	case ErrorTypeValidation:
		return "ValidationError"
	case ErrorTypeNotFound:
		return "NotFoundError"
	case ErrorTypeUnauthorized:
		return "UnAuthorizedError"
	default:
		return "Error"
	}
}

func newError(t ErrorType, code int, reason, message string, data map[string]any) *AppError {
	return &AppError{
		Type:    t,
		Message: message,
		Code:    code,
		Reason:  reason,
		Data:    data,
	}
}

// NewMissingPayloadError is raised when a packet arrives without a payload.
func NewMissingPayloadError(sender string) *AppError {
	return newError(ErrorTypeProtocol, http.StatusBadRequest, ReasonMissingPayload,
		"Missing response payload", map[string]any{"nodeID": sender})
}

// NewProtocolVersionMismatchError is raised for packets with an unsupported payload version.
func NewProtocolVersionMismatchError(sender, expected, received string) *AppError {
	return newError(ErrorTypeProtocol, http.StatusInternalServerError, ReasonProtocolVersionMismatch,
		"Protocol version mismatch", map[string]any{
			"nodeID":   sender,
			"actual":   expected,
			"expected": expected,
			"received": received,
		})
}

// NewInvalidPacketDataError is raised for reply bodies that are not a packet.
func NewInvalidPacketDataError(message string, data map[string]any) *AppError {
	return newError(ErrorTypeTransport, http.StatusInternalServerError, ReasonInvalidPacketData, message, data)
}

// NewRequestRejectedError is raised when a gateway reply cannot be interpreted.
func NewRequestRejectedError(message string, data map[string]any) *AppError {
	return newError(ErrorTypeTransport, http.StatusServiceUnavailable, ReasonRequestRejected, message, data)
}

// NewTransportError describes a non-2xx gateway reply.
func NewTransportError(status int, statusText, text string) *AppError {
	return newError(ErrorTypeTransport, http.StatusServiceUnavailable, ReasonServiceNotAvailable,
		"Gateway responded with status "+statusText, map[string]any{
			"status":     status,
			"statusText": statusText,
			"text":       text,
		})
}

// NewNetworkError wraps a failure to reach a gateway at all.
func NewNetworkError(url string, cause error) *AppError {
	e := newError(ErrorTypeTransport, http.StatusServiceUnavailable, ReasonServiceNotAvailable,
		"Gateway unreachable: "+cause.Error(), map[string]any{"url": url})
	e.cause = cause
	return e
}

// NewForeignError converts a legacy platform exception into the taxonomy.
func NewForeignError(description, stack string, status int, statusText string) *AppError {
	e := newError(ErrorTypeForeign, status, ReasonForeignException, description, map[string]any{
		"status":     status,
		"statusText": statusText,
	})
	e.Stack = stack
	return e
}

// NewServiceNotFoundError is raised when no local endpoint serves an action.
func NewServiceNotFoundError(action, nodeID string) *AppError {
	return newError(ErrorTypeRouting, http.StatusNotFound, ReasonServiceNotFound,
		fmt.Sprintf("Service '%s' is not found.", action), map[string]any{
			"action": action,
			"nodeID": nodeID,
		})
}

// NewServiceNotAvailableError is raised while the local broker is shutting down.
func NewServiceNotAvailableError(action, nodeID string) *AppError {
	return newError(ErrorTypeUnavailable, http.StatusServiceUnavailable, ReasonServiceNotAvailable,
		fmt.Sprintf("Service '%s' is not available.", action), map[string]any{
			"action": action,
			"nodeID": nodeID,
		})
}

// NewQueueFullError is raised when the pending request limit is reached.
func NewQueueFullError(action, nodeID string, size, limit int) *AppError {
	return newError(ErrorTypeQueueFull, http.StatusTooManyRequests, ReasonQueueFull,
		"Queue is full", map[string]any{
			"action": action,
			"nodeID": nodeID,
			"size":   size,
			"limit":  limit,
		})
}

// NewNoGatewayError is raised when a node cannot be reached because it has no gateway.
func NewNoGatewayError(nodeID string) *AppError {
	return newError(ErrorTypeRouting, http.StatusNotFound, ReasonNoGateway,
		"No gateway for node", map[string]any{"nodeID": nodeID})
}

// NewValidationError creates a new validation error
func NewValidationError(message string, details ...string) *AppError {
	e := newError(ErrorTypeValidation, http.StatusUnprocessableEntity, "", message, nil)
	if len(details) > 0 {
		e.Data = map[string]any{"details": details[0]}
	}
	return e
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, "", message, nil)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return newError(ErrorTypeUnauthorized, http.StatusUnauthorized, "", message, nil)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	e := newError(ErrorTypeInternal, http.StatusInternalServerError, "", message, nil)
	e.cause = cause
	return e
}

// GetAppError extracts AppError from error
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType reports whether err is an AppError of type t.
func IsType(err error, t ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == t
}

func IsProtocolError(err error) bool    { return IsType(err, ErrorTypeProtocol) }
func IsTransportError(err error) bool   { return IsType(err, ErrorTypeTransport) }
func IsForeignError(err error) bool     { return IsType(err, ErrorTypeForeign) }
func IsRoutingError(err error) bool     { return IsType(err, ErrorTypeRouting) }
func IsUnavailableError(err error) bool { return IsType(err, ErrorTypeUnavailable) }
func IsQueueFullError(err error) bool   { return IsType(err, ErrorTypeQueueFull) }
func IsValidationError(err error) bool  { return IsType(err, ErrorTypeValidation) }

// HTTPStatus maps err to the status code the inbound listener replies with.
func HTTPStatus(err error) int {
	if appErr := GetAppError(err); appErr != nil && appErr.Code >= 400 && appErr.Code < 600 {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
