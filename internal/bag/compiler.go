package bag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mquintal/kitchenctl/internal/catalog"
)

// CompiledNode is the fully resolved record for one host: the node file
// content with expanded roles and recipes, effective attributes and
// automatic attributes merged in. One is produced fresh per run.
type CompiledNode struct {
	Node    *catalog.Node
	ID      string
	Roles   []string
	Recipes []string
	Record  map[string]any
}

// FQDN returns the node's fully-qualified name.
func (n *CompiledNode) FQDN() string { return n.Node.Name }

// IPAddress returns the record's address, or "" when not yet known.
func (n *CompiledNode) IPAddress() string {
	addr, _ := n.Record["ipaddress"].(string)
	return addr
}

// SetIPAddress merges a discovered address into the record so it is
// persisted alongside the rest of the node configuration.
func (n *CompiledNode) SetIPAddress(addr string) {
	n.Record["ipaddress"] = addr
}

// Dummy reports whether the node is a placeholder that must never be
// converged: flagged explicitly or carrying the "dummy" tag.
func (n *CompiledNode) Dummy() bool {
	if n.Node.Dummy {
		return true
	}
	for _, tag := range n.Node.Tags {
		if tag == "dummy" {
			return true
		}
	}
	return false
}

// Marshal renders the record as pretty-printed JSON with stable key
// order, so re-runs against an unchanged catalog are byte-identical.
func (n *CompiledNode) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(n.Record, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal node record %s: %w", n.Node.Name, err)
	}
	return append(data, '\n'), nil
}

// Compile builds one data-bag record per node in the catalog and writes
// it under data_bags/node/. The output area is cleared first so stale
// records from a previous run never linger. The first per-node failure
// aborts the whole batch: partial fleets are not silently compiled.
func Compile(cat *catalog.Catalog) ([]*CompiledNode, error) {
	outDir := filepath.Join(cat.Root(), "data_bags", "node")
	if err := os.RemoveAll(outDir); err != nil {
		return nil, fmt.Errorf("clear node data bag dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create node data bag dir: %w", err)
	}

	compiled := make([]*CompiledNode, 0, len(cat.Nodes))
	for _, node := range cat.Nodes {
		built, err := compileNode(node, cat)
		if err != nil {
			return nil, err
		}
		data, err := built.Marshal()
		if err != nil {
			return nil, err
		}
		path := filepath.Join(outDir, built.ID+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write node data bag item: %w", err)
		}
		compiled = append(compiled, built)
	}
	return compiled, nil
}

func compileNode(node *catalog.Node, cat *catalog.Catalog) (*CompiledNode, error) {
	roles, recipes, err := expandRunList(node, cat)
	if err != nil {
		return nil, err
	}
	env, err := cat.Environment(node.Environment)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", node.Name, err)
	}
	attrs, err := mergeAttributes(node, roles, recipes, env, cat)
	if err != nil {
		return nil, err
	}

	record := make(map[string]any, len(node.Raw)+8)
	for key, val := range node.Raw {
		record[key] = val
	}
	deepMerge(record, attrs)

	// Data bag ids allow only alphanumerics; dots become underscores.
	id := strings.ReplaceAll(node.Name, ".", "_")
	record["id"] = id
	record["name"] = node.Name
	record["role"] = toAnySlice(node.Roles)
	record["roles"] = toAnySlice(roles)
	record["recipes"] = toAnySlice(recipes)

	// Automatic attributes derived from the fully-qualified name.
	record["fqdn"] = node.Name
	hostname, domain, _ := strings.Cut(node.Name, ".")
	record["hostname"] = hostname
	record["domain"] = domain

	return &CompiledNode{
		Node:    node,
		ID:      id,
		Roles:   roles,
		Recipes: recipes,
		Record:  record,
	}, nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
