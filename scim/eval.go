package scim

import "strings"

// Matches reports whether the comparison holds for the resource. Comparing
// against a multi-valued attribute is existential: the expression holds when
// any element matches. An absent attribute matches only "eq null".
func (e *AttributeExpression) Matches(resource Resource) bool {
	values := resolveValues(resource, e.Path)

	if e.Operator == "pr" {
		for _, v := range values {
			if isPresent(v) {
				return true
			}
		}
		return false
	}

	if len(values) == 0 {
		return e.Operator == "eq" && e.Value == nil
	}

	for _, v := range values {
		if matchesAny(v, e.Operator, e.Value) {
			return true
		}
	}
	return false
}

// Matches applies the logical operator with short-circuit evaluation.
func (e *LogicalExpression) Matches(resource Resource) bool {
	switch e.Operator {
	case "and":
		return e.Left.Matches(resource) && e.Right.Matches(resource)
	case "or":
		return e.Left.Matches(resource) || e.Right.Matches(resource)
	case "not":
		return !e.Left.Matches(resource)
	}
	return false
}

// Matches evaluates the grouped filter.
func (e *GroupExpression) Matches(resource Resource) bool {
	return e.Filter.Matches(resource)
}

// Matches selects elements of the multi-valued attribute that satisfy the
// predicate, then applies the optional sub-attribute test. Without a
// sub-attribute the expression holds when any element matches the predicate.
func (e *ComplexExpression) Matches(resource Resource) bool {
	for _, v := range resolveValues(resource, e.Path) {
		elems, ok := v.([]any)
		if !ok {
			// A single complex value is treated as a one-element collection.
			if m, isMap := v.(map[string]any); isMap {
				elems = []any{m}
			} else {
				continue
			}
		}

		for _, elem := range elems {
			m, isMap := elem.(map[string]any)
			if !isMap || !e.Predicate.Matches(m) {
				continue
			}
			if e.SubAttribute == "" {
				return true
			}
			if e.matchesSub(m) {
				return true
			}
		}
	}
	return false
}

func (e *ComplexExpression) matchesSub(elem Resource) bool {
	subValues := resolveValues(elem, ParseAttrPath(e.SubAttribute))

	switch e.Operator {
	case "":
		// Bare projection asserts the sub-attribute is present.
		for _, v := range subValues {
			if isPresent(v) {
				return true
			}
		}
		return false
	case "pr":
		for _, v := range subValues {
			if isPresent(v) {
				return true
			}
		}
		return false
	}

	if len(subValues) == 0 {
		return e.Operator == "eq" && e.Value == nil
	}
	for _, v := range subValues {
		if matchesAny(v, e.Operator, e.Value) {
			return true
		}
	}
	return false
}

// matchesAny compares a resolved value against a literal, descending one
// level into arrays so multi-valued simple attributes compare element-wise.
func matchesAny(actual any, op string, literal any) bool {
	if arr, ok := actual.([]any); ok {
		for _, elem := range arr {
			if compareValue(elem, op, literal) {
				return true
			}
		}
		return false
	}
	return compareValue(actual, op, literal)
}

// compareValue applies a SCIM comparison operator. The literal's type picks
// the comparison domain; mismatched actual types never match. String
// comparisons are case-insensitive.
func compareValue(actual any, op string, literal any) bool {
	if literal == nil {
		switch op {
		case "eq":
			return actual == nil
		case "ne":
			return actual != nil
		}
		return false
	}

	switch lit := literal.(type) {
	case string:
		s, ok := actual.(string)
		if !ok {
			return false
		}
		return compareString(strings.ToLower(s), op, strings.ToLower(lit))

	case float64:
		n, ok := toFloat64(actual)
		if !ok {
			return false
		}
		return compareNumber(n, op, lit)

	case bool:
		b, ok := actual.(bool)
		if !ok {
			return false
		}
		switch op {
		case "eq":
			return b == lit
		case "ne":
			return b != lit
		}
		return false
	}

	return false
}

func compareString(s, op, lit string) bool {
	switch op {
	case "eq":
		return s == lit
	case "ne":
		return s != lit
	case "co":
		return strings.Contains(s, lit)
	case "sw":
		return strings.HasPrefix(s, lit)
	case "ew":
		return strings.HasSuffix(s, lit)
	case "gt":
		return s > lit
	case "ge":
		return s >= lit
	case "lt":
		return s < lit
	case "le":
		return s <= lit
	}
	return false
}

func compareNumber(n float64, op string, lit float64) bool {
	switch op {
	case "eq":
		return n == lit
	case "ne":
		return n != lit
	case "gt":
		return n > lit
	case "ge":
		return n >= lit
	case "lt":
		return n < lit
	case "le":
		return n <= lit
	}
	return false
}

// toFloat64 widens JSON-decoded numeric values for comparison.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// isPresent implements the SCIM "pr" semantics: present means non-null,
// non-empty string, non-empty array.
func isPresent(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	}
	return true
}
