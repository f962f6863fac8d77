package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		Name:        "echo",
		Description: "echoes the text argument",
		Run: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return args["text"].(string), nil
		},
	})

	result := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hello"})
	assert.Equal(t, "hello", result)
}

func TestRegistry_Execute_UnknownToolIsAnErrorString(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), "nonexistent", nil)
	assert.Equal(t, "Error: unknown tool nonexistent", result)
}

func TestRegistry_Execute_ToolErrorIsStringified(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		Name: "failing",
		Run: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", errors.New("boom")
		},
	})
	result := r.Execute(context.Background(), "failing", nil)
	assert.Equal(t, "Error: boom", result)
}

func TestRegistry_Register_ReplacesExistingToolWithoutDuplicatingOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Name: "a", Description: "first"})
	r.Register(Tool{Name: "a", Description: "second"})

	defs := r.ProviderDefs()
	require.Len(t, defs, 1)
	assert.Equal(t, "second", defs[0].Function.Description)
}

func TestRegistry_ProviderDefs_PreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Name: "first"})
	r.Register(Tool{Name: "second"})
	r.Register(Tool{Name: "third"})

	defs := r.ProviderDefs()
	require.Len(t, defs, 3)
	assert.Equal(t, "first", defs[0].Function.Name)
	assert.Equal(t, "second", defs[1].Function.Name)
	assert.Equal(t, "third", defs[2].Function.Name)
	for _, d := range defs {
		assert.Equal(t, "function", d.Type)
	}
}

func TestDecodeArgs_RoundTripsIntoTypedStruct(t *testing.T) {
	type params struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	var out params
	err := DecodeArgs(map[string]interface{}{"query": "foo", "limit": 5}, &out)
	require.NoError(t, err)
	assert.Equal(t, "foo", out.Query)
	assert.Equal(t, 5, out.Limit)
}

func TestDecodeArgs_PropagatesMismatchedTypeError(t *testing.T) {
	type params struct {
		Limit int `json:"limit"`
	}
	var out params
	err := DecodeArgs(map[string]interface{}{"limit": "not-a-number"}, &out)
	assert.Error(t, err)
}
