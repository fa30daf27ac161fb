package scim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttrPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		uri      string
		segments []string
	}{
		{"simple", "userName", "", []string{"userName"}},
		{"dotted", "name.givenName", "", []string{"name", "givenName"}},
		{
			"urn qualified",
			"urn:ietf:params:scim:schemas:core:2.0:User:userName",
			"urn:ietf:params:scim:schemas:core:2.0:User",
			[]string{"userName"},
		},
		{
			"urn qualified dotted",
			"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User:manager.displayName",
			"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User",
			[]string{"manager", "displayName"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseAttrPath(tt.input)
			assert.Equal(t, tt.uri, p.URI)
			assert.Equal(t, tt.segments, p.Segments)
			assert.Equal(t, tt.input, p.String())
		})
	}
}

func TestResolveValues(t *testing.T) {
	resource := Resource{
		"UserName": "alice",
		"name":     map[string]any{"givenName": "Alice"},
		"emails": []any{
			map[string]any{"value": "a@x.example"},
			map[string]any{"value": "b@x.example"},
		},
		"urn:example:ext": map[string]any{"department": "Eng"},
	}

	t.Run("case-insensitive lookup", func(t *testing.T) {
		values := resolveValues(resource, ParseAttrPath("username"))
		require.Len(t, values, 1)
		assert.Equal(t, "alice", values[0])
	})

	t.Run("nested", func(t *testing.T) {
		values := resolveValues(resource, ParseAttrPath("name.givenName"))
		require.Len(t, values, 1)
		assert.Equal(t, "Alice", values[0])
	})

	t.Run("array fan-out", func(t *testing.T) {
		values := resolveValues(resource, ParseAttrPath("emails.value"))
		assert.Equal(t, []any{"a@x.example", "b@x.example"}, values)
	})

	t.Run("extension object", func(t *testing.T) {
		values := resolveValues(resource, ParseAttrPath("urn:example:ext:department"))
		require.Len(t, values, 1)
		assert.Equal(t, "Eng", values[0])
	})

	t.Run("absent", func(t *testing.T) {
		assert.Empty(t, resolveValues(resource, ParseAttrPath("nickName")))
		assert.Empty(t, resolveValues(resource, ParseAttrPath("name.missing")))
	})
}

func TestLookupKeyPreservesCase(t *testing.T) {
	m := Resource{"UserName": "alice"}
	key, value, ok := lookupKey(m, "username")
	require.True(t, ok)
	assert.Equal(t, "UserName", key)
	assert.Equal(t, "alice", value)
}
