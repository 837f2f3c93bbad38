package runtime

import (
	"fmt"
	"slices"

	"github.com/aretw0/patchbay/pkg/domain"
)

// linkTable owns every declared link exactly once. Ports are keys into the two
// endpoint indexes, which are only ever touched together with the canonical list.
type linkTable struct {
	links    []domain.Link
	set      map[domain.Link]struct{}
	bySource map[domain.Port][]domain.Port // output port -> targets, in link order
	byTarget map[domain.Port][]domain.Port // input port -> sources, in link order
}

func newLinkTable() *linkTable {
	return &linkTable{
		set:      make(map[domain.Link]struct{}),
		bySource: make(map[domain.Port][]domain.Port),
		byTarget: make(map[domain.Port][]domain.Port),
	}
}

func (t *linkTable) has(l domain.Link) bool {
	_, ok := t.set[l]
	return ok
}

// add appends the link. It reports false if the pair is already declared.
func (t *linkTable) add(l domain.Link) bool {
	if t.has(l) {
		return false
	}
	t.links = append(t.links, l)
	t.set[l] = struct{}{}
	t.bySource[l.Source] = append(t.bySource[l.Source], l.Target)
	t.byTarget[l.Target] = append(t.byTarget[l.Target], l.Source)
	return true
}

// remove deletes the link. It reports false if the pair was not declared.
func (t *linkTable) remove(l domain.Link) bool {
	if !t.has(l) {
		return false
	}
	delete(t.set, l)
	t.links = slices.DeleteFunc(t.links, func(x domain.Link) bool { return x == l })
	t.bySource[l.Source] = deletePort(t.bySource[l.Source], l.Target)
	if len(t.bySource[l.Source]) == 0 {
		delete(t.bySource, l.Source)
	}
	t.byTarget[l.Target] = deletePort(t.byTarget[l.Target], l.Source)
	if len(t.byTarget[l.Target]) == 0 {
		delete(t.byTarget, l.Target)
	}
	return true
}

func deletePort(ports []domain.Port, p domain.Port) []domain.Port {
	return slices.DeleteFunc(ports, func(x domain.Port) bool { return x == p })
}

func (t *linkTable) all() []domain.Link {
	return slices.Clone(t.links)
}

func (t *linkTable) count() int {
	return len(t.links)
}

// from returns the links whose source port belongs to node, in link order.
func (t *linkTable) from(node domain.NodeID) []domain.Link {
	var out []domain.Link
	for _, l := range t.links {
		if l.Source.Node == node {
			out = append(out, l)
		}
	}
	return out
}

// touching returns the links with either endpoint on node.
func (t *linkTable) touching(node domain.NodeID) []domain.Link {
	var out []domain.Link
	for _, l := range t.links {
		if l.Source.Node == node || l.Target.Node == node {
			out = append(out, l)
		}
	}
	return out
}

func (t *linkTable) targets(p domain.Port) []domain.Port {
	return slices.Clone(t.bySource[p])
}

func (t *linkTable) sources(p domain.Port) []domain.Port {
	return slices.Clone(t.byTarget[p])
}

// upstream returns every node with a link path into node, nearest first.
// node itself is excluded even when the graph has a cycle through it.
func (t *linkTable) upstream(node domain.NodeID) []domain.NodeID {
	visited := map[domain.NodeID]bool{node: true}
	var out []domain.NodeID
	queue := []domain.NodeID{node}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, l := range t.links {
			if l.Target.Node != current || visited[l.Source.Node] {
				continue
			}
			visited[l.Source.Node] = true
			out = append(out, l.Source.Node)
			queue = append(queue, l.Source.Node)
		}
	}
	return out
}

// check verifies that both endpoint indexes mirror the canonical list.
func (t *linkTable) check() error {
	if len(t.set) != len(t.links) {
		return fmt.Errorf("link set holds %d entries, list holds %d", len(t.set), len(t.links))
	}
	sources, targets := 0, 0
	for _, ports := range t.bySource {
		sources += len(ports)
	}
	for _, ports := range t.byTarget {
		targets += len(ports)
	}
	if sources != len(t.links) || targets != len(t.links) {
		return fmt.Errorf("indexes hold %d/%d entries for %d links", sources, targets, len(t.links))
	}
	for _, l := range t.links {
		if !slices.Contains(t.bySource[l.Source], l.Target) {
			return fmt.Errorf("%s missing from source index", l)
		}
		if !slices.Contains(t.byTarget[l.Target], l.Source) {
			return fmt.Errorf("%s missing from target index", l)
		}
	}
	return nil
}
