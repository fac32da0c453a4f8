package registry

import (
	"context"
	"maps"

	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
)

func noopHook(context.Context) error { return nil }

// BuildProxy returns a local service whose handlers forward to the remote
// node behind gw. remote is left untouched.
func BuildProxy(nodeID string, gw *gateway.Gateway, remote service.Schema, t ProxyTransport) *runtime.ServiceSchema {
	metadata := maps.Clone(remote.Metadata)
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	metadata[runtime.MetaNodeID] = nodeID

	proxy := &runtime.ServiceSchema{
		Name:     remote.Name,
		Version:  remote.Version,
		Settings: maps.Clone(remote.Settings),
		Metadata: metadata,
		Created:  noopHook,
		Started:  noopHook,
		Stopped:  noopHook,
	}
	// Qualified names follow the proxy's own full name, which is the key the
	// runtime registers it under.
	named := service.Schema{Name: proxy.Name, Version: proxy.Version, FullName: proxy.FullName()}

	if len(remote.Actions) > 0 {
		proxy.Actions = make(map[string]*runtime.Action, len(remote.Actions))
		for key, a := range remote.Actions {
			name := named.ActionName(key, a)
			handler := a.Handler
			proxy.Actions[key] = &runtime.Action{
				Name:          name,
				Protected:     a.Protected,
				Visibility:    a.Visibility,
				Params:        a.Params,
				RemoteHandler: handler,
				Handler: func(ctx context.Context, c *runtime.Context) (any, error) {
					out := c.Clone()
					out.Action = name
					out.Handler = handler
					out.NodeID = nodeID
					data, err := t.Request(ctx, out, gw)
					if err != nil {
						return nil, err
					}
					c.MergeMeta(out.Meta)
					return data, nil
				},
			}
		}
	}

	if len(remote.Events) > 0 {
		proxy.Events = make(map[string]*runtime.Event, len(remote.Events))
		for key, e := range remote.Events {
			name := named.EventName(key, e)
			handler := e.Handler
			proxy.Events[key] = &runtime.Event{
				Name:          name,
				Group:         e.Group,
				RemoteHandler: handler,
				Handler: func(ctx context.Context, c *runtime.Context) error {
					out := c.Clone()
					out.Event = name
					out.Handler = handler
					out.NodeID = nodeID
					if out.EventType == "" {
						out.EventType = runtime.EventTypeEmit
					}
					t.SendEvent(ctx, out, gw)
					return nil
				},
			}
		}
	}

	if len(remote.Channels) > 0 {
		proxy.Channels = make(map[string]*runtime.Channel, len(remote.Channels))
		for key, ch := range remote.Channels {
			name := ch.Name
			if name == "" {
				name = key
			}
			handler := ch.Handler
			proxy.Channels[key] = &runtime.Channel{
				Name:          name,
				Group:         ch.Group,
				RemoteHandler: handler,
				Handler: func(ctx context.Context, c *runtime.Context) error {
					out := c.Clone()
					out.Channel = name
					out.Handler = handler
					out.NodeID = nodeID
					t.SendChannelEvent(ctx, out, gw)
					return nil
				},
			}
		}
	}

	return proxy
}
