package bag

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mquintal/kitchenctl/internal/catalog"
)

func emptyEnv() *catalog.Environment {
	return &catalog.Environment{
		Name:               catalog.DefaultEnvironment,
		DefaultAttributes:  map[string]any{},
		OverrideAttributes: map[string]any{},
	}
}

func TestDeepMergeRecursive(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1.0}}
	deepMerge(dst, map[string]any{"a": map[string]any{"y": 2.0}})
	want := map[string]any{"a": map[string]any{"x": 1.0, "y": 2.0}}
	if diff := cmp.Diff(want, dst); diff != "" {
		t.Fatalf("merge (-want +got):\n%s", diff)
	}
}

func TestDeepMergeLeafOverwrite(t *testing.T) {
	dst := map[string]any{"port": "3306", "nested": map[string]any{"keep": true, "swap": 1.0}}
	deepMerge(dst, map[string]any{"port": "5432", "nested": map[string]any{"swap": 2.0}})
	want := map[string]any{"port": "5432", "nested": map[string]any{"keep": true, "swap": 2.0}}
	if diff := cmp.Diff(want, dst); diff != "" {
		t.Fatalf("merge (-want +got):\n%s", diff)
	}
}

func TestDeepMergeDoesNotAliasSource(t *testing.T) {
	src := map[string]any{"sub": map[string]any{"k": "v"}}
	dst := map[string]any{}
	deepMerge(dst, src)
	dst["sub"].(map[string]any)["k"] = "mutated"
	if src["sub"].(map[string]any)["k"] != "v" {
		t.Fatal("merge aliased the source map")
	}
}

func TestMergePrecedenceOrder(t *testing.T) {
	cat := &catalog.Catalog{
		Roles: map[string]*catalog.Role{
			"app": {
				Name:               "app",
				DefaultAttributes:  map[string]any{"tier": "role-default", "port": "8080"},
				OverrideAttributes: map[string]any{"owner": "role-override"},
			},
		},
		Recipes: map[string]*catalog.Recipe{
			"web": {
				Name: "web",
				Attributes: map[string]catalog.AttributeSpec{
					"tier":    {Type: "string", Default: "cookbook-default"},
					"port":    {Type: "string", Default: "80"},
					"owner":   {Type: "string", Default: "cookbook-default"},
					"docroot": {Type: "string", Default: "/var/www"},
				},
			},
		},
	}
	env := &catalog.Environment{
		Name:               "staging",
		DefaultAttributes:  map[string]any{"tier": "env-default"},
		OverrideAttributes: map[string]any{"region": "env-override"},
	}
	node := &catalog.Node{
		Name: "web1.example.com",
		Raw: map[string]any{
			"run_list": []any{"role[app]", "recipe[web]"},
			"owner":    "node-normal",
			"region":   "node-normal",
		},
	}

	attrs, err := mergeAttributes(node, []string{"app"}, []string{"web"}, env, cat)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	// env default beats cookbook default, role default beats env default.
	if attrs["tier"] != "role-default" {
		t.Fatalf("tier: %v", attrs["tier"])
	}
	// role default beats cookbook default.
	if attrs["port"] != "8080" {
		t.Fatalf("port: %v", attrs["port"])
	}
	// role override beats node normal.
	if attrs["owner"] != "role-override" {
		t.Fatalf("owner: %v", attrs["owner"])
	}
	// env override beats node normal.
	if attrs["region"] != "env-override" {
		t.Fatalf("region: %v", attrs["region"])
	}
	// untouched cookbook default survives.
	if attrs["docroot"] != "/var/www" {
		t.Fatalf("docroot: %v", attrs["docroot"])
	}
}

func TestMergeNodeNormalBeatsDefaults(t *testing.T) {
	cat := &catalog.Catalog{
		Roles: map[string]*catalog.Role{},
		Recipes: map[string]*catalog.Recipe{
			"mysql": {
				Name: "mysql",
				Attributes: map[string]catalog.AttributeSpec{
					"mysql/port": {Type: "string", Default: "3306"},
				},
			},
		},
	}
	node := &catalog.Node{
		Name: "db1.example.com",
		Raw:  map[string]any{"mysql": map[string]any{"port": "13306"}},
	}
	attrs, err := mergeAttributes(node, nil, []string{"mysql"}, emptyEnv(), cat)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	want := map[string]any{"mysql": map[string]any{"port": "13306"}}
	if diff := cmp.Diff(want, attrs); diff != "" {
		t.Fatalf("attrs (-want +got):\n%s", diff)
	}
}

func TestSchemaDefaultCoercion(t *testing.T) {
	cat := &catalog.Catalog{
		Roles: map[string]*catalog.Role{},
		Recipes: map[string]*catalog.Recipe{
			"app": {
				Name: "app",
				Attributes: map[string]catalog.AttributeSpec{
					"app/enabled":  {Type: "string", Default: "true"},
					"app/optional": {Type: "string", Default: "false"},
					"app/flag":     {Type: "string", Default: "yes"},
					"app/settings": {Type: "hash", Default: "ignored"},
				},
			},
		},
	}
	// A node-supplied literal "true" string must stay a string.
	node := &catalog.Node{
		Name: "web1.example.com",
		Raw:  map[string]any{"verbose": "true"},
	}
	attrs, err := mergeAttributes(node, nil, []string{"app"}, emptyEnv(), cat)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	app := attrs["app"].(map[string]any)
	if app["enabled"] != true {
		t.Fatalf("enabled not coerced: %T %v", app["enabled"], app["enabled"])
	}
	if app["optional"] != false {
		t.Fatalf("optional not coerced: %T %v", app["optional"], app["optional"])
	}
	if app["flag"] != "yes" {
		t.Fatalf("flag mangled: %v", app["flag"])
	}
	if settings, ok := app["settings"].(map[string]any); !ok || len(settings) != 0 {
		t.Fatalf("hash type must be an empty map: %v", app["settings"])
	}
	if attrs["verbose"] != "true" {
		t.Fatalf("node string was coerced: %T %v", attrs["verbose"], attrs["verbose"])
	}
}

func TestMergeUnknownRecipe(t *testing.T) {
	cat := &catalog.Catalog{Roles: map[string]*catalog.Role{}, Recipes: map[string]*catalog.Recipe{}}
	node := &catalog.Node{Name: "web1.example.com", Raw: map[string]any{}}
	_, err := mergeAttributes(node, nil, []string{"mystery"}, emptyEnv(), cat)
	if !errors.Is(err, ErrUnknownRecipe) {
		t.Fatalf("expected ErrUnknownRecipe, got %v", err)
	}
	for _, want := range []string{"mystery", "web1.example.com"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestMergeDeterministic(t *testing.T) {
	cat := &catalog.Catalog{
		Roles: map[string]*catalog.Role{
			"app": {
				Name:              "app",
				DefaultAttributes: map[string]any{"a": map[string]any{"b": 1.0}},
			},
		},
		Recipes: map[string]*catalog.Recipe{
			"web": {
				Name: "web",
				Attributes: map[string]catalog.AttributeSpec{
					"a/b": {Type: "string", Default: "x"},
					"a":   {Type: "hash"},
				},
			},
		},
	}
	node := &catalog.Node{Name: "n.example.com", Raw: map[string]any{"c": "v"}}
	first, err := mergeAttributes(node, []string{"app"}, []string{"web"}, emptyEnv(), cat)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	second, err := mergeAttributes(node, []string{"app"}, []string{"web"}, emptyEnv(), cat)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("merge is not deterministic:\n%s", diff)
	}
}
