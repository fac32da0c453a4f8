package client

import "encoding/json"

// Node is a remote node as reported by the sidecar registry.
type Node struct {
	ID                string         `json:"id"`
	InstanceID        string         `json:"instanceID,omitempty"`
	Available         bool           `json:"available"`
	Local             bool           `json:"local"`
	LastHeartbeatTime int64          `json:"lastHeartbeatTime"`
	OfflineSince      *int64         `json:"offlineSince"`
	Seq               int64          `json:"seq"`
	Client            ClientInfo     `json:"client"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Gateway           *Gateway       `json:"gateway,omitempty"`
}

type ClientInfo struct {
	Type        string `json:"type,omitempty"`
	Version     string `json:"version,omitempty"`
	LangVersion string `json:"langVersion,omitempty"`
}

// Gateway is the HTTP endpoint a remote node receives packets on.
type Gateway struct {
	Endpoint string `json:"endpoint"`
	Port     int    `json:"port,omitempty"`
	UseSSL   bool   `json:"useSSL,omitempty"`
	Path     string `json:"path,omitempty"`
}

// Service is one entry of the service catalog.
type Service struct {
	Name      string                     `json:"name"`
	Version   json.RawMessage            `json:"version,omitempty"`
	FullName  string                     `json:"fullName"`
	Settings  map[string]any             `json:"settings,omitempty"`
	Metadata  map[string]any             `json:"metadata,omitempty"`
	NodeID    string                     `json:"nodeID,omitempty"`
	Nodes     []string                   `json:"nodes,omitempty"`
	Available bool                       `json:"available"`
	Actions   map[string]json.RawMessage `json:"actions,omitempty"`
	Events    map[string]json.RawMessage `json:"events,omitempty"`
}

// ServiceQuery filters ListServices.
type ServiceQuery struct {
	NodeID        string
	OnlyAvailable bool
	WithActions   bool
	WithEvents    bool
	Grouping      bool
}

// Health is the body of GET /healthz.
type Health struct {
	Status  string `json:"status"`
	NodeID  string `json:"nodeID"`
	Version string `json:"version"`
}

// Event is one frame of the registry watch stream.
type Event struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Packet is the wire envelope posted to /v1/message.
type Packet struct {
	Type    string          `json:"type"`
	Target  string          `json:"target,omitempty"`
	Sender  string          `json:"sender"`
	Ver     string          `json:"ver"`
	Payload json.RawMessage `json:"payload"`
}

// PacketError is the plain error body the sidecar answers a rejected packet with.
type PacketError struct {
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Code    int            `json:"code,omitempty"`
	Type    string         `json:"type,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	NodeID  string         `json:"nodeID,omitempty"`
}

func (e *PacketError) Error() string {
	if e.Type != "" {
		return e.Name + " (" + e.Type + "): " + e.Message
	}
	return e.Name + ": " + e.Message
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}
