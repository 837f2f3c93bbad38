package domain

import (
	"fmt"
	"maps"
	"strings"
)

// Channels is the number of audio channels carried by a single Port (stereo).
const Channels = 2

// ChannelPorts holds one backend port name per audio channel, left first.
type ChannelPorts [Channels]string

// NodeID identifies a node by its type and instance id.
type NodeID struct {
	Type     string `json:"type"`
	Instance string `json:"instance"`
}

// String returns the full id, "type.instance".
func (id NodeID) String() string {
	return id.Type + "." + id.Instance
}

// IsZero reports whether the id is unset.
func (id NodeID) IsZero() bool {
	return id.Type == "" && id.Instance == ""
}

// ParseNodeID parses a full id of the form "type.instance".
// The type may not contain dots; the instance may.
func ParseNodeID(s string) (NodeID, error) {
	typ, instance, ok := strings.Cut(s, ".")
	if !ok || typ == "" || instance == "" || strings.ContainsAny(s, "[]") {
		return NodeID{}, fmt.Errorf("%w: node id %q", ErrMalformedAddress, s)
	}
	return NodeID{Type: typ, Instance: instance}, nil
}

// Config is the opaque key/value configuration of a node.
// Each node type validates the keys it understands.
type Config map[string]string

// Clone returns an independent copy of the configuration.
func (c Config) Clone() Config {
	if c == nil {
		return Config{}
	}
	return maps.Clone(c)
}

// Equal reports whether both configurations hold the same keys and values.
func (c Config) Equal(other Config) bool {
	return maps.Equal(c, other)
}

// With returns a copy of the configuration with key set to value.
func (c Config) With(key, value string) Config {
	out := c.Clone()
	out[key] = value
	return out
}
