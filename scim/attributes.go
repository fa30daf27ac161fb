package scim

import (
	"sort"
	"strings"
)

// alwaysReturned attributes survive any projection, per RFC 7644 section 3.4.2.5.
var alwaysReturned = map[string]bool{
	"id":      true,
	"schemas": true,
	"meta":    true,
}

// attrNode is one level of the requested-attribute trie. A terminal node
// includes (or excludes) the whole subtree below it.
type attrNode struct {
	children map[string]*attrNode
	terminal bool
}

func newAttrNode() *attrNode {
	return &attrNode{children: map[string]*attrNode{}}
}

func (n *attrNode) insert(chain []string) {
	if len(chain) == 0 {
		n.terminal = true
		return
	}
	key := strings.ToLower(chain[0])
	child, ok := n.children[key]
	if !ok {
		child = newAttrNode()
		n.children[key] = child
	}
	child.insert(chain[1:])
}

// attrChain expands an attribute name into its lookup chain. URI-qualified
// names descend through the extension object stored under the URI key.
func attrChain(name string) []string {
	path := ParseAttrPath(strings.TrimSpace(name))
	if path.URI != "" {
		return append([]string{path.URI}, path.Segments...)
	}
	return path.Segments
}

// AttributeSelector projects resources onto a requested attribute set. Either
// attributes or excludedAttributes applies, never both; id, schemas and meta
// are always returned.
type AttributeSelector struct {
	include *attrNode
	exclude *attrNode
}

// NewAttributeSelector builds a selector from the attributes and
// excludedAttributes query parameters.
func NewAttributeSelector(attributes, excluded []string) *AttributeSelector {
	s := &AttributeSelector{}
	if len(attributes) > 0 {
		s.include = newAttrNode()
		for _, a := range attributes {
			if a = strings.TrimSpace(a); a != "" {
				s.include.insert(attrChain(a))
			}
		}
		return s
	}
	if len(excluded) > 0 {
		s.exclude = newAttrNode()
		for _, a := range excluded {
			if a = strings.TrimSpace(a); a != "" {
				s.exclude.insert(attrChain(a))
			}
		}
	}
	return s
}

// Apply projects a single resource. Without a requested attribute set the
// resource passes through untouched.
func (s *AttributeSelector) Apply(resource Resource) Resource {
	switch {
	case s.include != nil:
		return projectInclude(resource, s.include, true)
	case s.exclude != nil:
		out := copyMap(resource)
		projectExclude(out, s.exclude, true)
		return out
	}
	return resource
}

// ApplyList projects every resource of a list result.
func (s *AttributeSelector) ApplyList(resources []Resource) []Resource {
	if s.include == nil && s.exclude == nil {
		return resources
	}
	out := make([]Resource, len(resources))
	for i, r := range resources {
		out[i] = s.Apply(r)
	}
	return out
}

func projectInclude(resource Resource, node *attrNode, root bool) Resource {
	out := Resource{}
	for key, value := range resource {
		lower := strings.ToLower(key)
		if root && alwaysReturned[lower] {
			out[key] = value
			continue
		}
		child, ok := node.children[lower]
		if !ok {
			continue
		}
		if child.terminal || len(child.children) == 0 {
			out[key] = value
			continue
		}
		out[key] = projectValue(value, func(m Resource) Resource {
			return projectInclude(m, child, false)
		})
	}
	return out
}

func projectExclude(resource Resource, node *attrNode, root bool) {
	for key, value := range resource {
		lower := strings.ToLower(key)
		if root && alwaysReturned[lower] {
			continue
		}
		child, ok := node.children[lower]
		if !ok {
			continue
		}
		if child.terminal || len(child.children) == 0 {
			delete(resource, key)
			continue
		}
		resource[key] = projectValue(value, func(m Resource) Resource {
			out := copyMap(m)
			projectExclude(out, child, false)
			return out
		})
	}
}

// projectValue applies a map projection through one level of array nesting.
func projectValue(value any, project func(Resource) Resource) any {
	switch v := value.(type) {
	case map[string]any:
		return project(v)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			if m, ok := elem.(map[string]any); ok {
				out[i] = project(m)
			} else {
				out[i] = elem
			}
		}
		return out
	}
	return value
}

func copyMap(m Resource) Resource {
	out := make(Resource, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SortResources orders resources by the sortBy attribute path. The sort is
// stable so upstream order breaks ties; resources missing the attribute sort
// after all others regardless of direction. String comparison is
// case-insensitive.
func SortResources(resources []Resource, sortBy, sortOrder string) {
	if sortBy == "" {
		return
	}
	path := ParseAttrPath(sortBy)
	descending := strings.EqualFold(sortOrder, "descending")

	sort.SliceStable(resources, func(i, j int) bool {
		vi, oki := sortValue(resources[i], path)
		vj, okj := sortValue(resources[j], path)
		if !oki || !okj {
			// Present sorts before missing in both directions.
			return oki && !okj
		}
		less, comparable := compareSortValues(vi, vj)
		if !comparable {
			return false
		}
		if descending {
			return !less && !sortEqual(vi, vj)
		}
		return less
	})
}

// sortValue resolves the first usable value at the sort path. Arrays
// contribute their first comparable element.
func sortValue(resource Resource, path AttrPath) (any, bool) {
	for _, v := range resolveValues(resource, path) {
		if arr, ok := v.([]any); ok {
			for _, elem := range arr {
				if elem != nil {
					return elem, true
				}
			}
			continue
		}
		if v != nil {
			return v, true
		}
	}
	return nil, false
}

func compareSortValues(a, b any) (less, comparable bool) {
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return false, false
		}
		return strings.ToLower(sa) < strings.ToLower(sb), true
	}
	if na, ok := toFloat64(a); ok {
		nb, ok := toFloat64(b)
		if !ok {
			return false, false
		}
		return na < nb, true
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return false, false
		}
		return !ba && bb, true
	}
	return false, false
}

func sortEqual(a, b any) bool {
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && strings.EqualFold(sa, sb)
	}
	if na, ok := toFloat64(a); ok {
		nb, ok := toFloat64(b)
		return ok && na == nb
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	return false
}
