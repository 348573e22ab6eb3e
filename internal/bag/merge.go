package bag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mquintal/kitchenctl/internal/catalog"
)

// mergeAttributes computes the effective attribute map for one node.
// Layers apply in fixed precedence order, later layers winning on leaf
// collisions and merging recursively on sub-map collisions:
//
//	cookbook default < environment default < role default
//	< node normal < role override < environment override
//
// roles must already be the expanded role set in precedence order, and
// recipes the expanded recipe set. Catalog records are never mutated:
// every value is deep-copied on its way into the accumulator.
func mergeAttributes(node *catalog.Node, roles, recipes []string, env *catalog.Environment, cat *catalog.Catalog) (map[string]any, error) {
	attrs := make(map[string]any)

	for _, name := range recipes {
		recipe, ok := cat.Recipes[name]
		if !ok {
			return nil, fmt.Errorf("%w: recipe %q while building node data bag for %q", ErrUnknownRecipe, name, node.Name)
		}
		// Sorted paths keep overlapping schema keys deterministic.
		paths := make([]string, 0, len(recipe.Attributes))
		for path := range recipe.Attributes {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			setPath(attrs, strings.Split(path, "/"), schemaDefault(recipe.Attributes[path]))
		}
	}

	deepMerge(attrs, env.DefaultAttributes)
	for _, name := range roles {
		deepMerge(attrs, cat.Roles[name].DefaultAttributes)
	}
	deepMerge(attrs, node.NormalAttributes())
	for _, name := range roles {
		deepMerge(attrs, cat.Roles[name].OverrideAttributes)
	}
	deepMerge(attrs, env.OverrideAttributes)

	return attrs, nil
}

// schemaDefault resolves one cookbook attribute-schema entry to a value.
// A "hash"-typed attribute is always an empty map regardless of its
// declared default. String literals "true"/"false" coerce to booleans;
// this coercion applies only here, never to node- or role-supplied
// values.
func schemaDefault(spec catalog.AttributeSpec) any {
	if spec.Type == "hash" {
		return map[string]any{}
	}
	switch spec.Default {
	case "true":
		return true
	case "false":
		return false
	}
	return spec.Default
}

// setPath assigns value at the nested location named by keys, creating
// intermediate maps as needed.
func setPath(dst map[string]any, keys []string, value any) {
	key := keys[0]
	if len(keys) > 1 {
		sub, ok := dst[key].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			dst[key] = sub
		}
		setPath(sub, keys[1:], value)
		return
	}
	dst[key] = deepCopy(value)
}

// deepMerge recursively merges src into dst. Keys present as maps on
// both sides merge recursively; everything else overwrites. src values
// are deep-copied so the accumulator never aliases catalog records.
func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		if srcMap, ok := val.(map[string]any); ok {
			dstMap, ok := dst[key].(map[string]any)
			if !ok {
				dstMap = make(map[string]any)
				dst[key] = dstMap
			}
			deepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = deepCopy(val)
	}
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
