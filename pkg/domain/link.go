package domain

import "fmt"

// Link is a declared directed edge from an output port to an input port.
type Link struct {
	Source Port `json:"source"`
	Target Port `json:"target"`
}

func (l Link) String() string {
	return fmt.Sprintf("%s -> %s", l.Source, l.Target)
}

// Decl returns the serialized form of the link.
func (l Link) Decl() LinkDecl {
	return LinkDecl{From: l.Source.String(), To: l.Target.String()}
}

// LinkDecl is the serialized form of a link: two port addresses.
type LinkDecl struct {
	From string `json:"from" yaml:"from" toml:"from" mapstructure:"from"`
	To   string `json:"to" yaml:"to" toml:"to" mapstructure:"to"`
}

// Parse resolves both addresses of the declaration.
func (d LinkDecl) Parse() (Link, error) {
	src, err := ParsePort(d.From)
	if err != nil {
		return Link{}, fmt.Errorf("link from: %w", err)
	}
	tgt, err := ParsePort(d.To)
	if err != nil {
		return Link{}, fmt.Errorf("link to: %w", err)
	}
	return Link{Source: src, Target: tgt}, nil
}
