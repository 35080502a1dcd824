package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/statehub/pkg/errmodel"
	"github.com/wilhg/statehub/pkg/reducer"
)

const addSchema = `{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`

type rename struct {
	Title string `json:"title"`
}

func runValidate(t *testing.T, mw Middleware, a reducer.Action) bool {
	t.Helper()
	c, err := NewChain(mw)
	require.NoError(t, err)
	passed := false
	c.OnAction(context.Background(), a, &fakeStore{}, &fakeStore{}, func(reducer.Action) { passed = true })
	return passed
}

func TestValidate_ExplicitSchema(t *testing.T) {
	var rejected []error
	mw, err := Validate(discard(),
		Schema("ADD", []byte(addSchema)),
		OnInvalid(func(ctx context.Context, a reducer.Action, err error) { rejected = append(rejected, err) }),
	)
	require.NoError(t, err)

	assert.True(t, runValidate(t, mw, reducer.NewAction("ADD", map[string]any{"a": 1, "b": 2})))
	assert.False(t, runValidate(t, mw, reducer.NewAction("ADD", map[string]any{"a": "x", "b": 2})))
	assert.False(t, runValidate(t, mw, reducer.NewAction("ADD", map[string]any{"a": 1})))
	assert.True(t, runValidate(t, mw, reducer.NewAction("OTHER", "anything")), "types without schema pass")

	require.Len(t, rejected, 2)
	assert.True(t, errmodel.Is(rejected[0], errmodel.CategoryValidation, errmodel.CodeInvalidPayload))
}

func TestValidate_SchemaFromGoType(t *testing.T) {
	mw, err := Validate(discard(), SchemaFor[rename]("RENAME"))
	require.NoError(t, err)

	assert.True(t, runValidate(t, mw, reducer.NewAction("RENAME", rename{Title: "new"})))
	assert.True(t, runValidate(t, mw, reducer.NewAction("RENAME", map[string]any{"title": "new"})))
	assert.False(t, runValidate(t, mw, reducer.NewAction("RENAME", map[string]any{"title": 5})))
}

func TestValidate_InvalidSchemaIsConfigurationError(t *testing.T) {
	_, err := Validate(discard(), Schema("BAD", []byte(`{"type":`)))
	require.Error(t, err)
	assert.True(t, errmodel.Is(err, errmodel.CategoryConfiguration, errmodel.CodeInvalidSchema))

	_, err = Validate(discard(), Schema("BAD", []byte(`{"type":"no-such-type"}`)))
	require.Error(t, err)
	assert.True(t, errmodel.Is(err, errmodel.CategoryConfiguration, errmodel.CodeInvalidSchema))
}
