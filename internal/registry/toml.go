package registry

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pelletier/go-toml/v2/unstable"

	atomicio "github.com/sawpanic/cnmfsns/internal/io"
)

// document is the declarative layout: a name-keyed table of datasets.
type document struct {
	Datasets map[string]entry `toml:"datasets"`
}

type entry struct {
	Filename string `toml:"filename"`
	Metadata string `toml:"metadata,omitempty"`
	Color    string `toml:"color,omitempty"`
}

// Serialize renders the registry in its declarative TOML form, one
// [datasets.<name>] table per dataset in registry order.
func (r *Registry) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	for i, d := range r.datasets {
		body, err := toml.Marshal(entry{Filename: d.Filename, Metadata: d.Metadata, Color: d.Color})
		if err != nil {
			return nil, fmt.Errorf("registry: encode %q: %w", d.Name, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, "[datasets.%s]\n", tomlKey(d.Name))
		buf.Write(body)
	}
	return buf.Bytes(), nil
}

// tomlKey renders name as a bare key when allowed, else as a basic string.
func tomlKey(name string) string {
	bare := name != ""
	for _, c := range name {
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			bare = false
			break
		}
	}
	if bare {
		return name
	}

	var b strings.Builder
	b.WriteByte('"')
	for _, c := range name {
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\f':
			b.WriteString(`\f`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\u%04X`, c)
			} else {
				b.WriteRune(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Deserialize parses the declarative TOML form. Datasets keep the order in
// which they are first declared in data.
func Deserialize(data []byte) (*Registry, error) {
	var doc document
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("registry: decode toml: %w", err)
	}
	order, err := declarationOrder(data)
	if err != nil {
		return nil, fmt.Errorf("registry: decode toml: %w", err)
	}

	// inline tables such as datasets = {a = {...}} carry no per-name
	// expression; those names follow in sorted order
	var rest []string
	declared := make(map[string]bool, len(order))
	for _, name := range order {
		declared[name] = true
	}
	for name := range doc.Datasets {
		if !declared[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	r := New()
	for _, name := range order {
		e, ok := doc.Datasets[name]
		if !ok {
			continue
		}
		if err := r.Add(Dataset{Name: name, Filename: e.Filename, Metadata: e.Metadata, Color: e.Color}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// declarationOrder lists dataset names in first-appearance order. It
// accepts [datasets.<name>] tables, keys inside a [datasets] table and
// dotted datasets.<name>.* keys at the root.
func declarationOrder(data []byte) ([]string, error) {
	var (
		order []string
		seen  = make(map[string]bool)
		table []string
		p     unstable.Parser
	)
	note := func(name string) {
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}

	p.Reset(data)
	for p.NextExpression() {
		expr := p.Expression()
		switch expr.Kind {
		case unstable.Table, unstable.ArrayTable:
			table = keyParts(expr)
			if len(table) >= 2 && table[0] == "datasets" {
				note(table[1])
			}
		case unstable.KeyValue:
			path := append(append([]string(nil), table...), keyParts(expr)...)
			if len(path) >= 2 && path[0] == "datasets" {
				note(path[1])
			}
		}
	}
	if err := p.Error(); err != nil {
		return nil, err
	}
	return order, nil
}

func keyParts(n *unstable.Node) []string {
	var parts []string
	it := n.Key()
	for it.Next() {
		parts = append(parts, string(it.Node().Data))
	}
	return parts
}

// LoadFile reads a declarative TOML registry from path
func LoadFile(path string) (*Registry, error) {
	if !strings.HasSuffix(path, SpecExt) {
		return nil, &UnsupportedFormatError{Path: path, Want: SpecExt}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	r, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// SaveFile writes the registry to path atomically
func (r *Registry) SaveFile(path string) error {
	data, err := r.Serialize()
	if err != nil {
		return err
	}
	return atomicio.WriteFileAtomic(path, data)
}
