package registry

import (
	"maps"
	"sort"
	"sync"

	"github.com/orris-inc/sidecar/internal/domain/service"
)

// ServiceItem is one service exposed by one remote node.
type ServiceItem struct {
	NodeID   string
	Name     string
	Version  service.Version
	FullName string
	Settings map[string]any
	Metadata map[string]any
	Actions  map[string]service.ActionSchema
	Events   map[string]service.EventSchema
	Channels map[string]service.ChannelSchema
}

func newServiceItem(nodeID string, s service.Schema) *ServiceItem {
	return &ServiceItem{
		NodeID:   nodeID,
		Name:     s.Name,
		Version:  s.Version,
		FullName: s.ResolvedFullName(),
		Settings: maps.Clone(s.Settings),
		Metadata: maps.Clone(s.Metadata),
		Actions:  maps.Clone(s.Actions),
		Events:   maps.Clone(s.Events),
		Channels: maps.Clone(s.Channels),
	}
}

// ListOptions filter ServiceCatalog.List.
type ListOptions struct {
	// NodeID restricts the listing to one node; empty means all nodes.
	NodeID        string `form:"nodeID" json:"nodeID"`
	OnlyAvailable bool   `form:"onlyAvailable" json:"onlyAvailable"`
	WithActions   bool   `form:"withActions" json:"withActions"`
	WithEvents    bool   `form:"withEvents" json:"withEvents"`
	Grouping      bool   `form:"grouping" json:"grouping"`
}

// ActionInfo is a listed action. Remote handler references are never listed.
type ActionInfo struct {
	Name       string         `json:"name"`
	Visibility string         `json:"visibility,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

type EventInfo struct {
	Name  string `json:"name"`
	Group string `json:"group,omitempty"`
}

// ServiceInfo is one entry of a service listing.
type ServiceInfo struct {
	Name      string                `json:"name"`
	Version   service.Version       `json:"version,omitempty"`
	FullName  string                `json:"fullName"`
	Settings  map[string]any        `json:"settings,omitempty"`
	Metadata  map[string]any        `json:"metadata,omitempty"`
	NodeID    string                `json:"nodeID,omitempty"`
	Nodes     []string              `json:"nodes,omitempty"`
	Available bool                  `json:"available"`
	Actions   map[string]ActionInfo `json:"actions,omitempty"`
	Events    map[string]EventInfo  `json:"events,omitempty"`
}

type serviceKey struct {
	nodeID   string
	fullName string
}

// ServiceCatalog indexes remote services by (nodeID, fullName).
type ServiceCatalog struct {
	mu    sync.RWMutex
	items map[serviceKey]*ServiceItem
}

func NewServiceCatalog() *ServiceCatalog {
	return &ServiceCatalog{items: make(map[serviceKey]*ServiceItem)}
}

// Add records s for nodeID, replacing any previous entry with the same full name.
func (c *ServiceCatalog) Add(nodeID string, s service.Schema) *ServiceItem {
	item := newServiceItem(nodeID, s)
	c.mu.Lock()
	c.items[serviceKey{nodeID, item.FullName}] = item
	c.mu.Unlock()
	return item
}

func (c *ServiceCatalog) Has(fullName, nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[serviceKey{nodeID, fullName}]
	return ok
}

func (c *ServiceCatalog) Get(fullName, nodeID string) (*ServiceItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[serviceKey{nodeID, fullName}]
	return item, ok
}

func (c *ServiceCatalog) Remove(fullName, nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := serviceKey{nodeID, fullName}
	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	return true
}

// RemoveAllByNodeID drops every service of a node and returns how many were removed.
func (c *ServiceCatalog) RemoveAllByNodeID(nodeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.items {
		if key.nodeID == nodeID {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// List returns the catalog ordered by full name, then node id.
// isAvailable reports the availability of the owning node.
func (c *ServiceCatalog) List(opts ListOptions, isAvailable func(nodeID string) bool) []ServiceInfo {
	c.mu.RLock()
	items := make([]*ServiceItem, 0, len(c.items))
	for _, item := range c.items {
		if opts.NodeID != "" && item.NodeID != opts.NodeID {
			continue
		}
		items = append(items, item)
	}
	c.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].FullName != items[j].FullName {
			return items[i].FullName < items[j].FullName
		}
		return items[i].NodeID < items[j].NodeID
	})

	out := make([]ServiceInfo, 0, len(items))
	grouped := make(map[string]int)
	for _, item := range items {
		available := isAvailable == nil || isAvailable(item.NodeID)
		if opts.OnlyAvailable && !available {
			continue
		}

		if opts.Grouping {
			if idx, ok := grouped[item.FullName]; ok {
				out[idx].Nodes = append(out[idx].Nodes, item.NodeID)
				out[idx].Available = out[idx].Available || available
				continue
			}
		}

		info := ServiceInfo{
			Name:      item.Name,
			Version:   item.Version,
			FullName:  item.FullName,
			Settings:  maps.Clone(item.Settings),
			Metadata:  maps.Clone(item.Metadata),
			Available: available,
		}
		if opts.Grouping {
			info.Nodes = []string{item.NodeID}
			grouped[item.FullName] = len(out)
		} else {
			info.NodeID = item.NodeID
		}
		if opts.WithActions {
			info.Actions = listActions(item)
		}
		if opts.WithEvents {
			info.Events = listEvents(item)
		}
		out = append(out, info)
	}
	return out
}

func listActions(item *ServiceItem) map[string]ActionInfo {
	schema := service.Schema{Name: item.Name, Version: item.Version, FullName: item.FullName}
	out := make(map[string]ActionInfo, len(item.Actions))
	for key, a := range item.Actions {
		if a.Protected {
			continue
		}
		name := schema.ActionName(key, a)
		out[name] = ActionInfo{Name: name, Visibility: a.Visibility, Params: a.Params}
	}
	return out
}

func listEvents(item *ServiceItem) map[string]EventInfo {
	schema := service.Schema{Name: item.Name, Version: item.Version, FullName: item.FullName}
	out := make(map[string]EventInfo, len(item.Events))
	for key, e := range item.Events {
		name := schema.EventName(key, e)
		out[name] = EventInfo{Name: name, Group: e.Group}
	}
	return out
}
