package file

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Format is a declaration file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// linksKey is the top-level key holding the link list. It cannot be used as a
// node type name.
const linksKey = "links"

// FormatFromPath picks the encoding from the file extension, TOML by default.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatTOML
	}
}

// Decode parses a declaration document. The layout is the same in every
// format: one table per node type holding one table per instance, plus a
// "links" list of {from, to} pairs.
//
//	[mpv.main]
//	source = "http://radio.example/stream"
//
//	[[links]]
//	from = "mpv.main[0]"
//	to = "icecast.out[0]"
func Decode(data []byte, format Format) (*domain.Declaration, error) {
	raw := make(map[string]any)
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &raw)
	case FormatJSON:
		err = json.Unmarshal(data, &raw)
	default:
		_, err = toml.Decode(string(data), &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s declaration: %w", format, err)
	}
	return fromDocument(raw)
}

func fromDocument(raw map[string]any) (*domain.Declaration, error) {
	decl := domain.NewDeclaration()

	if links, ok := raw[linksKey]; ok {
		if err := mapstructure.Decode(links, &decl.Links); err != nil {
			return nil, fmt.Errorf("invalid links: %w", err)
		}
	}

	for typ, value := range raw {
		if typ == linksKey {
			continue
		}
		instances, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("node type %q: expected a table of instances", typ)
		}
		for instance, rawCfg := range instances {
			id := domain.NodeID{Type: typ, Instance: instance}
			fields, ok := rawCfg.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("node %s: expected a table of settings", id)
			}
			cfg := make(domain.Config, len(fields))
			for key, v := range fields {
				switch v.(type) {
				case map[string]any, []any, []map[string]any:
					return nil, fmt.Errorf("%w: node %s: %q must be a scalar", domain.ErrInvalidConfig, id, key)
				}
				cfg[key] = fmt.Sprint(v)
			}
			decl.AddNode(id, cfg)
		}
	}
	return decl, nil
}

// Encode renders a declaration in the given format.
func Encode(decl *domain.Declaration, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(toDocument(decl))
	case FormatJSON:
		return json.MarshalIndent(toDocument(decl), "", "  ")
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(toDocument(decl)); err != nil {
			return nil, fmt.Errorf("failed to encode declaration: %w", err)
		}
		return buf.Bytes(), nil
	}
}

func toDocument(decl *domain.Declaration) map[string]any {
	doc := make(map[string]any)
	types := make([]string, 0, len(decl.Nodes))
	for typ := range decl.Nodes {
		types = append(types, typ)
	}
	sort.Strings(types)

	for _, typ := range types {
		instances := make(map[string]map[string]string)
		for instance, cfg := range decl.Nodes[typ] {
			instances[instance] = map[string]string(cfg.Clone())
		}
		doc[typ] = instances
	}

	links := make([]map[string]string, 0, len(decl.Links))
	for _, l := range decl.Links {
		links = append(links, map[string]string{"from": l.From, "to": l.To})
	}
	doc[linksKey] = links
	return doc
}
