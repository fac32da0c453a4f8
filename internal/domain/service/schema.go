// Package service holds the transport-safe description of a service as it is
// exchanged with remote nodes in INFO and SERVICES_INFO payloads.
package service

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Version accepts both numeric and string versions on the wire.
type Version string

func (v *Version) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Version(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = Version(n.String())
	return nil
}

func (v Version) MarshalJSON() ([]byte, error) {
	if v == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(string(v), 64); err == nil {
		return []byte(v), nil
	}
	return json.Marshal(string(v))
}

// ActionSchema describes one remote action. Handler is the remote side's
// identifier of the code that serves it.
type ActionSchema struct {
	Name       string         `json:"name,omitempty"`
	Handler    string         `json:"handler,omitempty"`
	Protected  bool           `json:"protected,omitempty"`
	Visibility string         `json:"visibility,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Timeout    int64          `json:"timeout,omitempty"`
}

type EventSchema struct {
	Name    string         `json:"name,omitempty"`
	Group   string         `json:"group,omitempty"`
	Handler string         `json:"handler,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

type ChannelSchema struct {
	Name    string `json:"name,omitempty"`
	Group   string `json:"group,omitempty"`
	Handler string `json:"handler,omitempty"`
}

// Schema is a service as declared by a remote node.
type Schema struct {
	Name     string                   `json:"name"`
	Version  Version                  `json:"version,omitempty"`
	FullName string                   `json:"fullName,omitempty"`
	Settings map[string]any           `json:"settings,omitempty"`
	Metadata map[string]any           `json:"metadata,omitempty"`
	Actions  map[string]ActionSchema  `json:"actions,omitempty"`
	Events   map[string]EventSchema   `json:"events,omitempty"`
	Channels map[string]ChannelSchema `json:"channels,omitempty"`

	// Lifecycle hooks carry remote handler ids; they never run locally.
	Created string `json:"created,omitempty"`
	Started string `json:"started,omitempty"`
	Stopped string `json:"stopped,omitempty"`
}

// FullNameOf builds "v{version}.{name}" for numeric versions, "{version}.{name}"
// for string versions and plain "{name}" when unversioned.
func FullNameOf(name string, version Version) string {
	if version == "" {
		return name
	}
	if _, err := strconv.ParseFloat(string(version), 64); err == nil {
		return "v" + string(version) + "." + name
	}
	return string(version) + "." + name
}

// ResolvedFullName returns FullName or derives it from name and version.
func (s Schema) ResolvedFullName() string {
	if s.FullName != "" {
		return s.FullName
	}
	return FullNameOf(s.Name, s.Version)
}

// ActionName returns the fully-qualified name of the action declared under key.
func (s Schema) ActionName(key string, a ActionSchema) string {
	return qualify(s.ResolvedFullName(), key, a.Name)
}

// EventName returns the event name declared under key.
func (s Schema) EventName(key string, e EventSchema) string {
	if e.Name != "" {
		return e.Name
	}
	return key
}

func qualify(fullName, key, declared string) string {
	name := declared
	if name == "" {
		name = key
	}
	if strings.HasPrefix(name, fullName+".") {
		return name
	}
	return fullName + "." + name
}
