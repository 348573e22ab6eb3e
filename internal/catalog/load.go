package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrUnknownEnvironment = errors.New("catalog: unknown environment")

// Catalog holds every record loaded from a kitchen directory. It is
// read-only once loaded; workflows running in parallel share it without
// coordination.
type Catalog struct {
	root         string
	Roles        map[string]*Role
	Recipes      map[string]*Recipe
	Environments map[string]*Environment
	Nodes        []*Node
}

// Load reads roles, cookbook metadata, environments and nodes from the
// kitchen rooted at root. Missing directories load as empty; a file
// that fails to decode is an error naming the file.
func Load(root string) (*Catalog, error) {
	cat := &Catalog{
		root:         root,
		Roles:        make(map[string]*Role),
		Recipes:      make(map[string]*Recipe),
		Environments: make(map[string]*Environment),
	}
	if err := cat.loadRoles(); err != nil {
		return nil, err
	}
	// site-cookbooks load second so they shadow cookbooks of the same name.
	for _, dir := range []string{"cookbooks", "site-cookbooks"} {
		if err := cat.loadCookbooks(dir); err != nil {
			return nil, err
		}
	}
	if err := cat.loadEnvironments(); err != nil {
		return nil, err
	}
	if err := cat.loadNodes(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Root returns the kitchen directory this catalog was loaded from.
func (c *Catalog) Root() string { return c.root }

// Environment resolves a node's environment. A checked-in file wins;
// the built-in "_default" environment resolves to empty attribute
// layers when no file defines it.
func (c *Catalog) Environment(name string) (*Environment, error) {
	if env, ok := c.Environments[name]; ok {
		return env, nil
	}
	if name == DefaultEnvironment {
		return &Environment{
			Name:               DefaultEnvironment,
			DefaultAttributes:  map[string]any{},
			OverrideAttributes: map[string]any{},
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
}

// UsedEnvironments returns the sorted set of environments referenced by
// at least one node.
func (c *Catalog) UsedEnvironments() []string {
	seen := make(map[string]struct{})
	for _, node := range c.Nodes {
		seen[node.Environment] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) loadRoles() error {
	return eachJSONFile(filepath.Join(c.root, "roles"), func(path string, raw map[string]any) error {
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		role := &Role{
			Name:               name,
			DefaultAttributes:  attrMap(raw["default_attributes"]),
			OverrideAttributes: attrMap(raw["override_attributes"]),
		}
		role.IncludedRoles, role.IncludedRecipes = parseRunList(stringSlice(raw["run_list"]))
		c.Roles[name] = role
		return nil
	})
}

func (c *Catalog) loadCookbooks(dir string) error {
	base := filepath.Join(c.root, dir)
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", base, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(base, entry.Name(), "metadata.json")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read cookbook metadata %s: %w", path, err)
		}
		var meta struct {
			Name       string                    `json:"name"`
			Attributes map[string]map[string]any `json:"attributes"`
			Recipes    map[string]string         `json:"recipes"`
		}
		if err := json.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("parse cookbook metadata %s: %w", path, err)
		}
		name := meta.Name
		if name == "" {
			name = entry.Name()
		}
		attrs := make(map[string]AttributeSpec, len(meta.Attributes))
		for key, spec := range meta.Attributes {
			typ, _ := spec["type"].(string)
			attrs[key] = AttributeSpec{Type: typ, Default: spec["default"]}
		}
		// One record per cookbook plus one per named recipe, all sharing
		// the cookbook's attribute schema.
		c.Recipes[name] = &Recipe{Name: name, Attributes: attrs}
		for recipeName := range meta.Recipes {
			if recipeName == name {
				continue
			}
			c.Recipes[recipeName] = &Recipe{Name: recipeName, Attributes: attrs}
		}
	}
	return nil
}

func (c *Catalog) loadEnvironments() error {
	return eachJSONFile(filepath.Join(c.root, "environments"), func(path string, raw map[string]any) error {
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		c.Environments[name] = &Environment{
			Name:               name,
			DefaultAttributes:  attrMap(raw["default_attributes"]),
			OverrideAttributes: attrMap(raw["override_attributes"]),
		}
		return nil
	})
}

func (c *Catalog) loadNodes() error {
	err := eachJSONFile(filepath.Join(c.root, "nodes"), func(path string, raw map[string]any) error {
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		if strings.HasPrefix(name, "tmp_") {
			return nil
		}
		node := &Node{Name: name, Raw: raw}
		node.RunList = stringSlice(raw["run_list"])
		node.Roles, node.Recipes = parseRunList(node.RunList)
		node.Environment, _ = raw["chef_environment"].(string)
		if node.Environment == "" {
			node.Environment = DefaultEnvironment
			node.Raw["chef_environment"] = DefaultEnvironment
		}
		node.Dummy, _ = raw["dummy"].(bool)
		node.Tags = stringSlice(raw["tags"])
		node.IPAddress, _ = raw["ipaddress"].(string)
		c.Nodes = append(c.Nodes, node)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(c.Nodes, func(i, j int) bool { return c.Nodes[i].Name < c.Nodes[j].Name })
	return nil
}

// Node looks up one node by its fully-qualified name.
func (c *Catalog) Node(name string) (*Node, bool) {
	for _, node := range c.Nodes {
		if node.Name == name {
			return node, true
		}
	}
	return nil, false
}

func eachJSONFile(dir string, fn func(path string, raw map[string]any) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := fn(path, raw); err != nil {
			return err
		}
	}
	return nil
}

func attrMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
