package bag

import (
	"errors"
	"fmt"

	"github.com/mquintal/kitchenctl/internal/catalog"
)

var (
	ErrUnknownRole   = errors.New("bag: unknown role")
	ErrUnknownRecipe = errors.New("bag: unknown recipe")
)

// expandRunList computes the transitive role and recipe sets for a node:
// declared roles and recipes, plus roles-in-roles to a fixpoint, plus
// recipes pulled in by every expanded role. Both results are
// deduplicated but keep declaration order first and discovery order
// after, so downstream "last layer wins" merging stays deterministic.
// Repeated inclusion is idempotent, so cycles in the role graph
// terminate.
func expandRunList(node *catalog.Node, cat *catalog.Catalog) (roles, recipes []string, err error) {
	seenRoles := make(map[string]struct{})
	seenRecipes := make(map[string]struct{})

	addRecipe := func(name string) {
		if _, ok := seenRecipes[name]; ok {
			return
		}
		seenRecipes[name] = struct{}{}
		recipes = append(recipes, name)
	}

	for _, name := range node.Recipes {
		addRecipe(name)
	}

	queue := append([]string(nil), node.Roles...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := seenRoles[name]; ok {
			continue
		}
		role, ok := cat.Roles[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: role %q required by node %q", ErrUnknownRole, name, node.Name)
		}
		seenRoles[name] = struct{}{}
		roles = append(roles, name)
		queue = append(queue, role.IncludedRoles...)
		for _, recipe := range role.IncludedRecipes {
			addRecipe(recipe)
		}
	}
	return roles, recipes, nil
}
