package packet

// ProtocolVersion is the only payload version this sidecar speaks.
const ProtocolVersion = "1"

// Type is the closed set of packet types.
type Type string

const (
	TypeUnknown             Type = "PACKET_UNKNOWN"
	TypeRequest             Type = "PACKET_REQUEST"
	TypeResponse            Type = "PACKET_RESPONSE"
	TypeEvent               Type = "PACKET_EVENT"
	TypeDiscover            Type = "PACKET_DISCOVER"
	TypeDiscoverServices    Type = "PACKET_DISCOVER_SERVICES"
	TypeInfo                Type = "PACKET_INFO"
	TypeServicesInfo        Type = "PACKET_SERVICES_INFO"
	TypeHeartbeat           Type = "PACKET_HEARTBEAT"
	TypeRequestHeartbeat    Type = "PACKET_REQUEST_HEARTBEAT"
	TypeDisconnect          Type = "PACKET_DISCONNECT"
	TypePing                Type = "PACKET_PING"
	TypePong                Type = "PACKET_PONG"
	TypeChannelEvent        Type = "PACKET_CHANNEL_EVENT"
	TypeChannelEventRequest Type = "PACKET_CHANNEL_EVENT_REQUEST"
)

var knownTypes = map[Type]struct{}{
	TypeRequest:             {},
	TypeResponse:            {},
	TypeEvent:               {},
	TypeDiscover:            {},
	TypeDiscoverServices:    {},
	TypeInfo:                {},
	TypeServicesInfo:        {},
	TypeHeartbeat:           {},
	TypeRequestHeartbeat:    {},
	TypeDisconnect:          {},
	TypePing:                {},
	TypePong:                {},
	TypeChannelEvent:        {},
	TypeChannelEventRequest: {},
}

// ParseType maps a wire type string to a Type; anything unrecognized is TypeUnknown.
func ParseType(s string) Type {
	t := Type(s)
	if _, ok := knownTypes[t]; ok {
		return t
	}
	return TypeUnknown
}

func (t Type) String() string {
	return string(t)
}
