package bag

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mquintal/kitchenctl/internal/catalog"
)

func closureCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Roles: map[string]*catalog.Role{
			"app": {
				Name:            "app",
				IncludedRoles:   []string{"base"},
				IncludedRecipes: []string{"nginx"},
			},
			"base": {
				Name:            "base",
				IncludedRoles:   []string{"monitoring"},
				IncludedRecipes: []string{"ntp"},
			},
			"monitoring": {
				Name:            "monitoring",
				IncludedRecipes: []string{"nagios::client"},
			},
			// Includes base again: repeated inclusion must be idempotent.
			"db": {
				Name:          "db",
				IncludedRoles: []string{"base", "base"},
			},
		},
	}
}

func TestExpandRunListTransitive(t *testing.T) {
	node := &catalog.Node{
		Name:    "web1.example.com",
		Roles:   []string{"app"},
		Recipes: []string{"mysql"},
	}
	roles, recipes, err := expandRunList(node, closureCatalog())
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if diff := cmp.Diff([]string{"app", "base", "monitoring"}, roles); diff != "" {
		t.Fatalf("roles (-want +got):\n%s", diff)
	}
	// Declared recipes first, then discovery order across the role graph.
	if diff := cmp.Diff([]string{"mysql", "nginx", "ntp", "nagios::client"}, recipes); diff != "" {
		t.Fatalf("recipes (-want +got):\n%s", diff)
	}
}

func TestExpandRunListIdempotentInclusion(t *testing.T) {
	// base is reachable directly and via db's duplicate include.
	node := &catalog.Node{
		Name:  "db1.example.com",
		Roles: []string{"base", "db"},
	}
	roles, recipes, err := expandRunList(node, closureCatalog())
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	seen := make(map[string]int)
	for _, role := range roles {
		seen[role]++
	}
	if seen["base"] != 1 {
		t.Fatalf("base appears %d times in %v", seen["base"], roles)
	}
	if diff := cmp.Diff([]string{"ntp", "nagios::client"}, recipes); diff != "" {
		t.Fatalf("recipes (-want +got):\n%s", diff)
	}
}

func TestExpandRunListCycleTerminates(t *testing.T) {
	cat := &catalog.Catalog{
		Roles: map[string]*catalog.Role{
			"a": {Name: "a", IncludedRoles: []string{"b"}},
			"b": {Name: "b", IncludedRoles: []string{"a"}},
		},
	}
	node := &catalog.Node{Name: "n.example.com", Roles: []string{"a"}}
	roles, _, err := expandRunList(node, cat)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, roles); diff != "" {
		t.Fatalf("roles (-want +got):\n%s", diff)
	}
}

func TestExpandRunListUnknownRole(t *testing.T) {
	node := &catalog.Node{Name: "web1.example.com", Roles: []string{"ghost"}}
	_, _, err := expandRunList(node, closureCatalog())
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	for _, want := range []string{"ghost", "web1.example.com"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}
