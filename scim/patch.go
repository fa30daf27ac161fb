package scim

import (
	"fmt"
	"strings"
)

// PatchPath is a parsed PATCH operation path: an attribute path, an optional
// value selector (emails[type eq "work"]) and an optional sub-attribute after
// the selector.
type PatchPath struct {
	Attr     AttrPath
	Selector Filter
	SubAttr  string
}

// ParsePatchPath parses a PATCH path expression. Selector filters are parsed
// with the full filter grammar; any parse failure maps to invalidPath.
func ParsePatchPath(raw string) (*PatchPath, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidPath("empty path")
	}

	open := strings.IndexByte(raw, '[')
	if open < 0 {
		return &PatchPath{Attr: ParseAttrPath(raw)}, nil
	}
	if open == 0 {
		return nil, ErrInvalidPath("path must name an attribute before a value selector")
	}

	// Find the matching close bracket, skipping string literals inside the
	// selector.
	depth := 1
	pos := open + 1
	inString := false
	for pos < len(raw) && depth > 0 {
		ch := raw[pos]
		if inString {
			if ch == '\\' {
				pos += 2
				continue
			}
			if ch == '"' {
				inString = false
			}
		} else {
			switch ch {
			case '"':
				inString = true
			case '[':
				depth++
			case ']':
				depth--
				if depth == 0 {
					break
				}
			}
		}
		if depth > 0 {
			pos++
		}
	}
	if depth != 0 {
		return nil, ErrInvalidPath(fmt.Sprintf("unterminated value selector in path %q", raw))
	}

	selector, err := NewFilterParser(raw[open+1 : pos]).Parse()
	if err != nil {
		return nil, ErrInvalidPath(fmt.Sprintf("invalid value selector in path %q: %v", raw, err))
	}

	p := &PatchPath{
		Attr:     ParseAttrPath(raw[:open]),
		Selector: selector,
	}

	rest := raw[pos+1:]
	if rest != "" {
		if !strings.HasPrefix(rest, ".") || len(rest) == 1 {
			return nil, ErrInvalidPath(fmt.Sprintf("unexpected trailing %q in path %q", rest, raw))
		}
		sub := rest[1:]
		if strings.ContainsAny(sub, "[]") {
			return nil, ErrInvalidPath("sub-attribute after a value selector cannot itself be complex")
		}
		p.SubAttr = sub
	}
	return p, nil
}

// immutableAttrs are server-managed attributes PATCH may never touch.
var immutableAttrs = map[string]bool{
	"id":      true,
	"schemas": true,
	"meta":    true,
}

func checkMutability(name string) error {
	if immutableAttrs[strings.ToLower(name)] {
		return ErrMutability(fmt.Sprintf("attribute %q is read-only", name))
	}
	return nil
}

// PatchProcessor applies SCIM PATCH operations to resources
type PatchProcessor struct{}

// NewPatchProcessor creates a new patch processor
func NewPatchProcessor() *PatchProcessor {
	return &PatchProcessor{}
}

// Apply applies all operations of a PatchOp to the resource in order. The
// resource is mutated in place; on error it may be partially modified, so
// callers apply patches to a working copy they discard on failure.
func (p *PatchProcessor) Apply(resource Resource, patch *PatchOp) error {
	if len(patch.Operations) == 0 {
		return ErrInvalidSyntax("PATCH request must contain at least one operation")
	}

	for _, op := range patch.Operations {
		var err error
		switch strings.ToLower(op.Op) {
		case "add":
			err = p.applyAdd(resource, op)
		case "replace":
			err = p.applyReplace(resource, op)
		case "remove":
			err = p.applyRemove(resource, op)
		default:
			err = ErrInvalidSyntax(fmt.Sprintf("unknown PATCH operation %q", op.Op))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *PatchProcessor) applyAdd(resource Resource, op PatchOperation) error {
	if op.Value == nil {
		return ErrInvalidValue("add operation requires a value")
	}
	if op.Path == "" {
		return mergeIntoResource(resource, op.Value)
	}

	path, err := ParsePatchPath(op.Path)
	if err != nil {
		return err
	}
	if err := checkMutability(path.Attr.Segments[0]); err != nil {
		return err
	}

	if path.Selector == nil {
		return setAtPath(resource, path.Attr, op.Value, true)
	}

	matched, err := selectElements(resource, path)
	if err != nil {
		return err
	}
	if len(matched) == 0 {
		return ErrNoTarget(fmt.Sprintf("no value matches the selector in path %q", op.Path))
	}
	return applyToElements(matched, path.SubAttr, op.Value)
}

func (p *PatchProcessor) applyReplace(resource Resource, op PatchOperation) error {
	if op.Value == nil {
		return ErrInvalidValue("replace operation requires a value")
	}
	if op.Path == "" {
		return mergeIntoResource(resource, op.Value)
	}

	path, err := ParsePatchPath(op.Path)
	if err != nil {
		return err
	}
	if err := checkMutability(path.Attr.Segments[0]); err != nil {
		return err
	}

	if path.Selector == nil {
		return setAtPath(resource, path.Attr, op.Value, false)
	}

	matched, err := selectElements(resource, path)
	if err != nil {
		return err
	}
	// Replace of unmatched selected values is a no-op so that repeated
	// applications converge.
	if len(matched) == 0 {
		return nil
	}
	if path.SubAttr == "" {
		// Replacing whole selected elements swaps each matched element for
		// the provided value.
		if _, ok := op.Value.(map[string]any); !ok {
			return ErrInvalidValue("replace of a selected element requires an object value")
		}
		for _, m := range matched {
			m.arr[m.index] = op.Value
		}
		return nil
	}
	return applyToElements(matched, path.SubAttr, op.Value)
}

func (p *PatchProcessor) applyRemove(resource Resource, op PatchOperation) error {
	if op.Path == "" {
		return ErrNoTarget("remove operation requires a path")
	}

	path, err := ParsePatchPath(op.Path)
	if err != nil {
		return err
	}
	if err := checkMutability(path.Attr.Segments[0]); err != nil {
		return err
	}

	if path.Selector == nil && path.SubAttr == "" && op.Value != nil {
		return ErrInvalidValue("remove of a whole attribute does not take a value")
	}

	if path.Selector == nil {
		for _, ref := range resolveRefs(resource, path.Attr) {
			delete(ref.parent, ref.key)
		}
		return nil
	}

	for _, ref := range resolveRefs(resource, path.Attr) {
		arr, ok := ref.value.([]any)
		if !ok {
			continue
		}
		if path.SubAttr != "" {
			for _, elem := range arr {
				m, isMap := elem.(map[string]any)
				if isMap && path.Selector.Matches(m) {
					if key, _, ok := lookupKey(m, path.SubAttr); ok {
						delete(m, key)
					}
				}
			}
			continue
		}
		kept := arr[:0]
		for _, elem := range arr {
			m, isMap := elem.(map[string]any)
			if isMap && path.Selector.Matches(m) {
				continue
			}
			kept = append(kept, elem)
		}
		if len(kept) == 0 {
			delete(ref.parent, ref.key)
		} else {
			ref.parent[ref.key] = append([]any(nil), kept...)
		}
	}
	return nil
}

// mergeIntoResource applies a no-path add or replace: the value object's
// attributes are set on the resource.
func mergeIntoResource(resource Resource, value any) error {
	obj, ok := value.(map[string]any)
	if !ok {
		return ErrInvalidValue("operation without a path requires an object value")
	}
	for k, v := range obj {
		if err := checkMutability(k); err != nil {
			return err
		}
		setKey(resource, k, v)
	}
	return nil
}

// selectedElement is a matched element of a selected multi-valued attribute.
type selectedElement struct {
	arr   []any
	index int
	elem  Resource
}

// selectElements finds the elements the path's value selector matches.
func selectElements(resource Resource, path *PatchPath) ([]selectedElement, error) {
	var matched []selectedElement
	for _, ref := range resolveRefs(resource, path.Attr) {
		arr, ok := ref.value.([]any)
		if !ok {
			return nil, ErrInvalidPath(fmt.Sprintf("attribute %q is not multi-valued", path.Attr.String()))
		}
		for i, elem := range arr {
			m, isMap := elem.(map[string]any)
			if isMap && path.Selector.Matches(m) {
				matched = append(matched, selectedElement{arr: arr, index: i, elem: m})
			}
		}
	}
	return matched, nil
}

// applyToElements writes a value into each matched element: either a single
// sub-attribute or a merge of an object value.
func applyToElements(matched []selectedElement, subAttr string, value any) error {
	if subAttr != "" {
		for _, m := range matched {
			setKey(m.elem, subAttr, value)
		}
		return nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return ErrInvalidValue("updating a selected element requires an object value")
	}
	for _, m := range matched {
		for k, v := range obj {
			setKey(m.elem, k, v)
		}
	}
	return nil
}

// setAtPath writes a value at a dotted attribute path, creating intermediate
// objects. With appendArrays, writing to an existing array appends instead of
// replacing, which is the add semantics for multi-valued attributes.
func setAtPath(resource Resource, path AttrPath, value any, appendArrays bool) error {
	container := resource
	if path.URI != "" {
		container = extensionContainer(resource, path.URI)
	}

	for _, seg := range path.Segments[:len(path.Segments)-1] {
		_, v, ok := lookupKey(container, seg)
		if !ok {
			next := map[string]any{}
			container[seg] = next
			container = next
			continue
		}
		m, isMap := v.(map[string]any)
		if !isMap {
			return ErrInvalidPath(fmt.Sprintf("attribute %q is not a complex attribute", seg))
		}
		container = m
	}

	last := path.Segments[len(path.Segments)-1]
	if appendArrays {
		if _, existing, ok := lookupKey(container, last); ok {
			if arr, isArr := existing.([]any); isArr {
				setKey(container, last, appendValues(arr, value))
				return nil
			}
		}
	}
	setKey(container, last, value)
	return nil
}

// extensionContainer finds or creates the extension object stored under a
// schema URI key.
func extensionContainer(resource Resource, uri string) Resource {
	if _, v, ok := lookupKey(resource, uri); ok {
		if m, isMap := v.(map[string]any); isMap {
			return m
		}
	}
	m := map[string]any{}
	resource[uri] = m
	return m
}

// appendValues appends a value to an array; an array value contributes its
// elements.
func appendValues(arr []any, value any) []any {
	if more, ok := value.([]any); ok {
		return append(arr, more...)
	}
	return append(arr, value)
}

// setKey writes a map entry, reusing the stored key casing when the attribute
// already exists under different case.
func setKey(m Resource, name string, value any) {
	if key, _, ok := lookupKey(m, name); ok {
		m[key] = value
		return
	}
	m[name] = value
}
