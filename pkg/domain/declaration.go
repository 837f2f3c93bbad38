package domain

import "sort"

// Declaration is the serialized form of a topology: node configurations keyed
// by type then instance id, plus the ordered link list.
type Declaration struct {
	Nodes map[string]map[string]Config `json:"all_nodes" yaml:"nodes"`
	Links []LinkDecl                   `json:"all_links" yaml:"links"`
}

// NewDeclaration returns an empty declaration.
func NewDeclaration() *Declaration {
	return &Declaration{
		Nodes: make(map[string]map[string]Config),
		Links: []LinkDecl{},
	}
}

// AddNode records the configuration of a node.
func (d *Declaration) AddNode(id NodeID, cfg Config) {
	if d.Nodes == nil {
		d.Nodes = make(map[string]map[string]Config)
	}
	if d.Nodes[id.Type] == nil {
		d.Nodes[id.Type] = make(map[string]Config)
	}
	d.Nodes[id.Type][id.Instance] = cfg.Clone()
}

// NodeIDs returns every declared node id in a stable order (type, then instance).
func (d *Declaration) NodeIDs() []NodeID {
	var ids []NodeID
	for typ, instances := range d.Nodes {
		for instance := range instances {
			ids = append(ids, NodeID{Type: typ, Instance: instance})
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Type != ids[j].Type {
			return ids[i].Type < ids[j].Type
		}
		return ids[i].Instance < ids[j].Instance
	})
	return ids
}

// Config returns the declared configuration of a node.
func (d *Declaration) Config(id NodeID) (Config, bool) {
	cfg, ok := d.Nodes[id.Type][id.Instance]
	return cfg, ok
}

// Clone returns a deep copy of the declaration.
func (d *Declaration) Clone() *Declaration {
	out := NewDeclaration()
	for _, id := range d.NodeIDs() {
		cfg, _ := d.Config(id)
		out.AddNode(id, cfg)
	}
	out.Links = append(out.Links, d.Links...)
	return out
}

// RemoveNode drops the configuration of a node. Links are left untouched.
func (d *Declaration) RemoveNode(id NodeID) {
	delete(d.Nodes[id.Type], id.Instance)
	if len(d.Nodes[id.Type]) == 0 {
		delete(d.Nodes, id.Type)
	}
}
