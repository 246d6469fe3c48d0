package resolve

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ManifestFileName is the package manifest consulted during resolution.
const ManifestFileName = "package.json"

// Manifest is the subset of package.json that resolution needs.
type Manifest struct {
	Name    string
	Type    string
	Main    string
	Exports *ExportsNode
	Dir     string
}

type rawManifest struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Main    string          `json:"main"`
	Exports json.RawMessage `json:"exports"`
}

// LoadManifest reads dir/package.json. A missing file returns (nil, nil).
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", filepath.Join(dir, ManifestFileName), err)
	}
	return ParseManifest(dir, data)
}

func ParseManifest(dir string, data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Join(dir, ManifestFileName), err)
	}

	m := &Manifest{Name: raw.Name, Type: raw.Type, Main: raw.Main, Dir: dir}
	if len(raw.Exports) > 0 {
		node, err := parseExports(raw.Exports)
		if err != nil {
			return nil, fmt.Errorf("parsing exports in %s: %w", filepath.Join(dir, ManifestFileName), err)
		}
		m.Exports = node
	}
	return m, nil
}

// NodeKind tags the shape of an exports value.
type NodeKind int

const (
	NodeNull NodeKind = iota
	NodeString
	NodeArray
	NodeObject
)

// ExportsNode is a package.json exports value. Object keys keep their
// declaration order, which decides condition matching.
type ExportsNode struct {
	Kind   NodeKind
	Target string
	Items  []*ExportsNode
	Keys   []string
	Values map[string]*ExportsNode
}

func parseExports(data []byte) (*ExportsNode, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	node, err := decodeNode(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected trailing data")
	}
	return node, nil
}

func decodeNode(dec *json.Decoder) (*ExportsNode, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch v := tok.(type) {
	case nil:
		return &ExportsNode{Kind: NodeNull}, nil
	case string:
		return &ExportsNode{Kind: NodeString, Target: v}, nil
	case json.Delim:
		switch v {
		case '[':
			n := &ExportsNode{Kind: NodeArray}
			for dec.More() {
				item, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				n.Items = append(n.Items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		case '{':
			n := &ExportsNode{Kind: NodeObject, Values: make(map[string]*ExportsNode)}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("expected object key, got %v", kt)
				}
				val, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				if _, dup := n.Values[key]; !dup {
					n.Keys = append(n.Keys, key)
				}
				n.Values[key] = val
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		}
	}
	// numbers and booleans are invalid targets and never match
	return &ExportsNode{Kind: NodeNull}, nil
}

// isSubpathMap reports whether an object node maps subpaths ("./x") rather
// than conditions.
func (n *ExportsNode) isSubpathMap() bool {
	if n == nil || n.Kind != NodeObject || len(n.Keys) == 0 {
		return false
	}
	return len(n.Keys[0]) > 0 && n.Keys[0][0] == '.'
}
