package scim

import "strings"

// AttrPath is an attribute path: an optional URI qualifier and one or more
// dotted identifier segments (name.givenName).
type AttrPath struct {
	URI      string
	Segments []string
}

// ParseAttrPath splits a raw attribute path. A URI-qualified path carries the
// schema URI up to the last colon (urn:ietf:params:scim:schemas:core:2.0:User:userName).
func ParseAttrPath(s string) AttrPath {
	var p AttrPath
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		p.URI = s[:idx]
		s = s[idx+1:]
	}
	p.Segments = strings.Split(s, ".")
	return p
}

func (p AttrPath) String() string {
	joined := strings.Join(p.Segments, ".")
	if p.URI != "" {
		return p.URI + ":" + joined
	}
	return joined
}

// valueRef is a structural handle to a resolved attribute value: the map that
// holds it, the actual (case-preserved) key, and the value itself. The PATCH
// applier mutates through these handles without rewalking the resource.
type valueRef struct {
	parent Resource
	key    string
	value  any
}

// lookupKey finds a map entry by case-insensitive attribute name and returns
// the stored key casing alongside the value.
func lookupKey(m Resource, name string) (string, any, bool) {
	if v, ok := m[name]; ok {
		return name, v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return k, v, true
		}
	}
	return "", nil, false
}

// resolveRefs resolves an attribute path against a resource. Descending
// through an array fans out element-wise; a missing attribute yields no refs.
// A URI-qualified path matches at the root, with a fallback into an extension
// object stored under the URI itself.
func resolveRefs(resource Resource, path AttrPath) []valueRef {
	if resource == nil || len(path.Segments) == 0 {
		return nil
	}

	root := resource
	if path.URI != "" {
		if _, ext, ok := lookupKey(resource, path.URI); ok {
			if extMap, ok := ext.(map[string]any); ok {
				root = extMap
			}
		}
	}

	containers := []Resource{root}
	for _, seg := range path.Segments[:len(path.Segments)-1] {
		var next []Resource
		for _, c := range containers {
			_, v, ok := lookupKey(c, seg)
			if !ok {
				continue
			}
			switch val := v.(type) {
			case map[string]any:
				next = append(next, val)
			case []any:
				for _, elem := range val {
					if m, ok := elem.(map[string]any); ok {
						next = append(next, m)
					}
				}
			}
		}
		containers = next
	}

	last := path.Segments[len(path.Segments)-1]
	var refs []valueRef
	for _, c := range containers {
		if key, v, ok := lookupKey(c, last); ok {
			refs = append(refs, valueRef{parent: c, key: key, value: v})
		}
	}
	return refs
}

// resolveValues returns the values an attribute path resolves to. Terminal
// arrays are returned whole; callers that compare apply existential semantics
// over their elements.
func resolveValues(resource Resource, path AttrPath) []any {
	refs := resolveRefs(resource, path)
	if len(refs) == 0 {
		return nil
	}
	values := make([]any, 0, len(refs))
	for _, ref := range refs {
		values = append(values, ref.value)
	}
	return values
}
