package catalog

import (
	"regexp"
	"strings"
)

// Non-attribute node fields: everything else in a node file is a normal
// attribute and participates in the merge.
var nonAttributeFields = map[string]struct{}{
	"id":        {},
	"name":      {},
	"role":      {},
	"roles":     {},
	"recipes":   {},
	"run_list":  {},
	"ipaddress": {},
}

// DefaultEnvironment is the environment assigned to nodes that do not
// declare one. It always resolves, file or no file.
const DefaultEnvironment = "_default"

// Role is a named bundle of attributes plus the roles and recipes its
// run list pulls in.
type Role struct {
	Name               string
	DefaultAttributes  map[string]any
	OverrideAttributes map[string]any
	IncludedRoles      []string
	IncludedRecipes    []string
}

// AttributeSpec is one entry of a cookbook's attribute schema, keyed by
// a slash-separated path in the cookbook metadata.
type AttributeSpec struct {
	Type    string
	Default any
}

// Recipe carries the attribute schema a node needs when it runs the
// recipe. Sub-recipes (cookbook::name) share their cookbook's schema.
type Recipe struct {
	Name       string
	Attributes map[string]AttributeSpec
}

// Environment is a named attribute layer applied to every node assigned
// to it.
type Environment struct {
	Name               string
	DefaultAttributes  map[string]any
	OverrideAttributes map[string]any
}

// Node is the raw declared configuration for one host. Name comes from
// the filename and must be a fully-qualified domain-style name. Raw
// holds the full decoded file so normal attributes survive untouched.
type Node struct {
	Name        string
	Environment string
	Roles       []string
	Recipes     []string
	RunList     []string
	Dummy       bool
	Tags        []string
	IPAddress   string
	Raw         map[string]any
}

// NormalAttributes returns the node's own attribute fields: every key in
// the node file except identity, run-list and network-address fields.
func (n *Node) NormalAttributes() map[string]any {
	attrs := make(map[string]any, len(n.Raw))
	for key, val := range n.Raw {
		if _, skip := nonAttributeFields[key]; skip {
			continue
		}
		attrs[key] = val
	}
	return attrs
}

var (
	rolePattern   = regexp.MustCompile(`^role\[(.+)\]$`)
	recipePattern = regexp.MustCompile(`^recipe\[(.+)\]$`)
)

// parseRunList splits run-list entries into role and recipe names,
// preserving declaration order. Entries matching neither form are
// dropped.
func parseRunList(entries []string) (roles, recipes []string) {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if m := rolePattern.FindStringSubmatch(entry); m != nil {
			roles = append(roles, m[1])
			continue
		}
		if m := recipePattern.FindStringSubmatch(entry); m != nil {
			recipes = append(recipes, m[1])
		}
	}
	return roles, recipes
}
