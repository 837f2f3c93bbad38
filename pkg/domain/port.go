package domain

import (
	"fmt"
	"regexp"
)

// Direction tells whether a port consumes or produces audio.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// Port is a connection point on a node. Its ID is unique within the owning
// node only; by convention a node with a single input or output names it "0".
// Port is a value key: link bookkeeping lives in the topology's link table.
type Port struct {
	Node NodeID `json:"node"`
	ID   string `json:"id"`
}

// String returns the port address, "type.instance[port]".
func (p Port) String() string {
	return fmt.Sprintf("%s[%s]", p.Node, p.ID)
}

var addressPattern = regexp.MustCompile(`^([^.\[\]]+)\.([^\[\]]+)\[([^\[\]]+)\]$`)

// ParsePort parses a port address of the form `type.id[port]`.
func ParsePort(addr string) (Port, error) {
	m := addressPattern.FindStringSubmatch(addr)
	if m == nil {
		return Port{}, fmt.Errorf("%w: %q", ErrMalformedAddress, addr)
	}
	return Port{
		Node: NodeID{Type: m[1], Instance: m[2]},
		ID:   m[3],
	}, nil
}

// NewPorts builds the ordered port list for a node from the given ids.
func NewPorts(node NodeID, ids ...string) []Port {
	ports := make([]Port, len(ids))
	for i, id := range ids {
		ports[i] = Port{Node: node, ID: id}
	}
	return ports
}
