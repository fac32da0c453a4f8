package runtime

import (
	"context"
	"maps"
	"sort"

	"github.com/orris-inc/sidecar/internal/domain/service"
)

// MetaNodeID marks a service as a proxy of the named remote node.
const MetaNodeID = "$sidecarNodeID"

type (
	ActionHandler  func(ctx context.Context, c *Context) (any, error)
	EventHandler   func(ctx context.Context, c *Context) error
	ChannelHandler func(ctx context.Context, c *Context) error
	Hook           func(ctx context.Context) error
)

type Action struct {
	Name       string
	Handler    ActionHandler
	Protected  bool
	Visibility string
	Params     map[string]any
	// RemoteHandler is set on proxies: the remote handler this action forwards to.
	RemoteHandler string
}

type Event struct {
	Name          string
	Group         string
	Handler       EventHandler
	RemoteHandler string
}

type Channel struct {
	Name          string
	Group         string
	Handler       ChannelHandler
	RemoteHandler string
}

// ServiceSchema is a service as registered in the local runtime.
type ServiceSchema struct {
	Name     string
	Version  service.Version
	Settings map[string]any
	Metadata map[string]any
	Actions  map[string]*Action
	Events   map[string]*Event
	Channels map[string]*Channel

	Created Hook
	Started Hook
	Stopped Hook
}

func (s *ServiceSchema) FullName() string {
	return service.FullNameOf(s.Name, s.Version)
}

// ActionName returns the fully-qualified name of the action declared under key.
func (s *ServiceSchema) ActionName(key string) string {
	d := service.Schema{Name: s.Name, Version: s.Version}
	a := s.Actions[key]
	name := ""
	if a != nil {
		name = a.Name
	}
	return d.ActionName(key, service.ActionSchema{Name: name})
}

// ProxyOf returns the remote node id when s is a proxy, "" otherwise.
func (s *ServiceSchema) ProxyOf() string {
	nodeID, _ := s.Metadata[MetaNodeID].(string)
	return nodeID
}

// Describe returns the transport-safe schema: names and options only, with
// Go handlers dropped.
func (s *ServiceSchema) Describe() service.Schema {
	out := service.Schema{
		Name:     s.Name,
		Version:  s.Version,
		FullName: s.FullName(),
		Settings: maps.Clone(s.Settings),
		Metadata: maps.Clone(s.Metadata),
	}
	if len(s.Actions) > 0 {
		out.Actions = make(map[string]service.ActionSchema, len(s.Actions))
		for _, key := range sortedKeys(s.Actions) {
			a := s.Actions[key]
			out.Actions[key] = service.ActionSchema{
				Name:       s.ActionName(key),
				Protected:  a.Protected,
				Visibility: a.Visibility,
				Params:     a.Params,
			}
		}
	}
	if len(s.Events) > 0 {
		out.Events = make(map[string]service.EventSchema, len(s.Events))
		for key, e := range s.Events {
			name := e.Name
			if name == "" {
				name = key
			}
			out.Events[key] = service.EventSchema{Name: name, Group: e.Group}
		}
	}
	if len(s.Channels) > 0 {
		out.Channels = make(map[string]service.ChannelSchema, len(s.Channels))
		for key, ch := range s.Channels {
			name := ch.Name
			if name == "" {
				name = key
			}
			out.Channels[key] = service.ChannelSchema{Name: name, Group: ch.Group}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
