package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	gojsonschema "github.com/google/jsonschema-go/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wilhg/statehub/pkg/errmodel"
	"github.com/wilhg/statehub/pkg/reducer"
)

// SchemaOption registers a payload schema or configures Validate.
type SchemaOption func(*validator) error

// InvalidFunc is called for every action dropped by Validate.
type InvalidFunc func(ctx context.Context, action reducer.Action, err error)

type validator struct {
	compiler  *jsonschema.Compiler
	schemas   map[string]*jsonschema.Schema
	onInvalid InvalidFunc
	logger    *slog.Logger
}

// Schema validates the payload of actions of actionType against a JSON
// schema document (draft 2020-12 by default).
func Schema(actionType string, schema []byte) SchemaOption {
	return func(v *validator) error {
		var doc any
		if err := json.Unmarshal(schema, &doc); err != nil {
			return invalidSchema(actionType, err)
		}
		return v.add(actionType, doc)
	}
}

// SchemaFor validates the payload of actions of actionType against the
// schema inferred from the Go type T.
func SchemaFor[T any](actionType string) SchemaOption {
	return func(v *validator) error {
		inferred, err := gojsonschema.For[T](nil)
		if err != nil {
			return invalidSchema(actionType, err)
		}
		b, err := json.Marshal(inferred)
		if err != nil {
			return invalidSchema(actionType, err)
		}
		return Schema(actionType, b)(v)
	}
}

// OnInvalid sets a callback for rejected actions.
func OnInvalid(fn InvalidFunc) SchemaOption {
	return func(v *validator) error {
		v.onInvalid = fn
		return nil
	}
}

// Validate drops actions whose payload does not match the schema registered
// for their type. Actions of other types pass through untouched.
func Validate(logger *slog.Logger, opts ...SchemaOption) (Middleware, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &validator{
		compiler: jsonschema.NewCompiler(),
		schemas:  make(map[string]*jsonschema.Schema),
		logger:   logger,
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	return Func(v.onAction), nil
}

func (v *validator) add(actionType string, doc any) error {
	url := "mem://actions/" + actionType + ".json"
	if err := v.compiler.AddResource(url, doc); err != nil {
		return invalidSchema(actionType, err)
	}
	sch, err := v.compiler.Compile(url)
	if err != nil {
		return invalidSchema(actionType, err)
	}
	v.schemas[actionType] = sch
	return nil
}

func (v *validator) onAction(ctx context.Context, action reducer.Action, store StateGetter, dispatcher Dispatcher, next Next) {
	sch, ok := v.schemas[action.Type]
	if !ok {
		next(action)
		return
	}
	if err := v.check(sch, action); err != nil {
		v.logger.WarnContext(
			ctx,
			"action rejected",
			slog.String("action", action.Type),
			slog.String("error", err.Error()),
		)
		if v.onInvalid != nil {
			v.onInvalid(ctx, action, err)
		}
		return
	}
	next(action)
}

func (v *validator) check(sch *jsonschema.Schema, action reducer.Action) error {
	b, err := json.Marshal(action.Data)
	if err != nil {
		return errmodel.Validation(errmodel.CodeInvalidPayload, "payload is not JSON encodable",
			map[string]any{"action": action.Type, "error": err.Error()})
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return errmodel.Validation(errmodel.CodeInvalidPayload, "payload is not JSON encodable",
			map[string]any{"action": action.Type, "error": err.Error()})
	}
	if err := sch.Validate(doc); err != nil {
		return errmodel.Validation(errmodel.CodeInvalidPayload, "payload does not match schema",
			map[string]any{"action": action.Type, "error": err.Error()})
	}
	return nil
}

func invalidSchema(actionType string, err error) error {
	return errmodel.Configuration(errmodel.CodeInvalidSchema,
		fmt.Sprintf("schema for action %q is invalid", actionType),
		map[string]any{"action": actionType, "error": err.Error()})
}
