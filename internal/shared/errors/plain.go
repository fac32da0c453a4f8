package errors

// PlainError is the transport-safe form of an error, embedded in RESPONSE
// payloads and in listener error replies.
type PlainError struct {
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Code    int            `json:"code,omitempty"`
	Type    string         `json:"type,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	NodeID  string         `json:"nodeID,omitempty"`
	Stack   string         `json:"stack,omitempty"`
}

// ToPlain normalizes any error into its wire form. nodeID names the node that
// raised it when the error does not carry one already.
func ToPlain(err error, nodeID string) *PlainError {
	if err == nil {
		return nil
	}
	appErr := GetAppError(err)
	if appErr == nil {
		return &PlainError{
			Name:    "Error",
			Message: err.Error(),
			Code:    500,
			NodeID:  nodeID,
		}
	}
	p := &PlainError{
		Name:    appErr.Name(),
		Message: appErr.Message,
		Code:    appErr.Code,
		Type:    appErr.Reason,
		Data:    appErr.Data,
		NodeID:  appErr.NodeID,
		Stack:   appErr.Stack,
	}
	if p.NodeID == "" {
		p.NodeID = nodeID
	}
	return p
}

var typesByName = map[string]ErrorType{
	"ProtocolError":                ErrorTypeProtocol,
	"ProtocolVersionMismatchError": ErrorTypeProtocol,
	"InvalidPacketDataError":       ErrorTypeTransport,
	"RequestRejectedError":         ErrorTypeTransport,
	"ForeignError":                 ErrorTypeForeign,
	"ServiceNotFoundError":         ErrorTypeRouting,
	"ServiceNotAvailableError":     ErrorTypeUnavailable,
	"QueueIsFullError":             ErrorTypeQueueFull,
	"ValidationError":              ErrorTypeValidation,
	"NotFoundError":                ErrorTypeNotFound,
	"UnAuthorizedError":            ErrorTypeUnauthorized,
}

// FromPlain rebuilds an error received from a remote node. Unknown names map
// to ErrorTypeRemote.
func FromPlain(p *PlainError) *AppError {
	if p == nil {
		return NewInternalError("remote call failed without error details", nil)
	}
	t, ok := typesByName[p.Name]
	remoteName := ""
	if !ok {
		t = ErrorTypeRemote
		remoteName = p.Name
	}
	code := p.Code
	if code == 0 {
		code = 500
	}
	return &AppError{
		Type:    t,
		Message: p.Message,
		Code:    code,
		Reason:  p.Type,
		Data:    p.Data,
		NodeID:  p.NodeID,
		Stack:   p.Stack,

		remoteName: remoteName,
	}
}
