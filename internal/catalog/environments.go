package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// environmentTemplate is the file content written for a referenced
// environment that has no checked-in definition. The remote agent
// refuses to run against an undefined environment, so these are created
// before any tree transfer.
func environmentTemplate(name string) map[string]any {
	return map[string]any{
		"name":                name,
		"description":         "auto-generated by kitchenctl",
		"json_class":          "Chef::Environment",
		"chef_type":           "environment",
		"cookbook_versions":   map[string]any{},
		"default_attributes":  map[string]any{},
		"override_attributes": map[string]any{},
	}
}

// EnsureEnvironmentFiles makes sure the environments directory exists.
// With createFromTemplate set, it also writes a template definition for
// every environment referenced by a node but lacking a file, and
// registers the new environments in the catalog.
func (c *Catalog) EnsureEnvironmentFiles(createFromTemplate bool) error {
	dir := filepath.Join(c.root, "environments")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if !createFromTemplate {
		return nil
	}
	for _, name := range c.UsedEnvironments() {
		path := filepath.Join(dir, name+".json")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		data, err := json.MarshalIndent(environmentTemplate(name), "", "    ")
		if err != nil {
			return fmt.Errorf("render environment template %s: %w", name, err)
		}
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		if _, ok := c.Environments[name]; !ok {
			c.Environments[name] = &Environment{
				Name:               name,
				DefaultAttributes:  map[string]any{},
				OverrideAttributes: map[string]any{},
			}
		}
	}
	return nil
}
