package scim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectionResource() Resource {
	return Resource{
		"id":       "1",
		"schemas":  []any{SchemaUser},
		"meta":     map[string]any{"resourceType": "User"},
		"userName": "alice",
		"name": map[string]any{
			"givenName":  "Alice",
			"familyName": "Smith",
		},
		"emails": []any{
			map[string]any{"type": "work", "value": "a@corp.example.com"},
		},
		"active": true,
	}
}

func TestAttributeSelectorInclude(t *testing.T) {
	t.Run("keeps requested and always-returned attributes", func(t *testing.T) {
		s := NewAttributeSelector([]string{"userName"}, nil)
		out := s.Apply(projectionResource())

		assert.Equal(t, "alice", out["userName"])
		assert.Equal(t, "1", out["id"])
		assert.Contains(t, out, "schemas")
		assert.Contains(t, out, "meta")
		assert.NotContains(t, out, "active")
		assert.NotContains(t, out, "emails")
	})

	t.Run("sub-attribute projection", func(t *testing.T) {
		s := NewAttributeSelector([]string{"name.givenName"}, nil)
		out := s.Apply(projectionResource())

		name, ok := out["name"].(Resource)
		require.True(t, ok)
		assert.Equal(t, "Alice", name["givenName"])
		assert.NotContains(t, name, "familyName")
	})

	t.Run("multi-valued sub-attribute projection", func(t *testing.T) {
		s := NewAttributeSelector([]string{"emails.value"}, nil)
		out := s.Apply(projectionResource())

		emails, ok := out["emails"].([]any)
		require.True(t, ok)
		require.Len(t, emails, 1)
		elem := emails[0].(Resource)
		assert.Equal(t, "a@corp.example.com", elem["value"])
		assert.NotContains(t, elem, "type")
	})

	t.Run("case-insensitive attribute names", func(t *testing.T) {
		s := NewAttributeSelector([]string{"USERNAME"}, nil)
		out := s.Apply(projectionResource())
		assert.Equal(t, "alice", out["userName"])
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		r := projectionResource()
		NewAttributeSelector([]string{"userName"}, nil).Apply(r)
		assert.Equal(t, projectionResource(), r)
	})
}

func TestAttributeSelectorExclude(t *testing.T) {
	t.Run("drops excluded attributes", func(t *testing.T) {
		s := NewAttributeSelector(nil, []string{"emails", "active"})
		out := s.Apply(projectionResource())

		assert.NotContains(t, out, "emails")
		assert.NotContains(t, out, "active")
		assert.Equal(t, "alice", out["userName"])
	})

	t.Run("never drops always-returned attributes", func(t *testing.T) {
		s := NewAttributeSelector(nil, []string{"id", "schemas", "meta"})
		out := s.Apply(projectionResource())

		assert.Contains(t, out, "id")
		assert.Contains(t, out, "schemas")
		assert.Contains(t, out, "meta")
	})

	t.Run("excluded sub-attribute", func(t *testing.T) {
		s := NewAttributeSelector(nil, []string{"name.familyName"})
		out := s.Apply(projectionResource())

		name, ok := out["name"].(Resource)
		require.True(t, ok)
		assert.Equal(t, "Alice", name["givenName"])
		assert.NotContains(t, name, "familyName")
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		r := projectionResource()
		NewAttributeSelector(nil, []string{"name.familyName"}).Apply(r)
		assert.Equal(t, projectionResource(), r)
	})
}

func TestAttributeSelectorPassThrough(t *testing.T) {
	r := projectionResource()
	s := NewAttributeSelector(nil, nil)
	out := s.Apply(r)
	assert.Equal(t, r, out)
}

func TestSortResources(t *testing.T) {
	resources := func() []Resource {
		return []Resource{
			{"id": "1", "userName": "carol", "age": float64(40)},
			{"id": "2", "userName": "Alice", "age": float64(30)},
			{"id": "3", "age": float64(25)},
			{"id": "4", "userName": "bob", "age": float64(35)},
		}
	}

	ids := func(rs []Resource) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r["id"].(string)
		}
		return out
	}

	t.Run("ascending case-insensitive", func(t *testing.T) {
		rs := resources()
		SortResources(rs, "userName", "ascending")
		assert.Equal(t, []string{"2", "4", "1", "3"}, ids(rs))
	})

	t.Run("descending keeps missing last", func(t *testing.T) {
		rs := resources()
		SortResources(rs, "userName", "descending")
		assert.Equal(t, []string{"1", "4", "2", "3"}, ids(rs))
	})

	t.Run("numeric", func(t *testing.T) {
		rs := resources()
		SortResources(rs, "age", "ascending")
		assert.Equal(t, []string{"3", "2", "4", "1"}, ids(rs))
	})

	t.Run("no sortBy leaves order", func(t *testing.T) {
		rs := resources()
		SortResources(rs, "", "ascending")
		assert.Equal(t, []string{"1", "2", "3", "4"}, ids(rs))
	})

	t.Run("stable on ties", func(t *testing.T) {
		rs := []Resource{
			{"id": "a", "dept": "x"},
			{"id": "b", "dept": "x"},
			{"id": "c", "dept": "x"},
		}
		SortResources(rs, "dept", "ascending")
		assert.Equal(t, []string{"a", "b", "c"}, ids(rs))
	})
}
