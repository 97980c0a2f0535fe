// Package graphqlapi exposes the mutation pipeline over GraphQL. Every
// registered list contributes create/update/delete fields plus batch
// variants; per-item results are flattened payloads carrying either the
// item or typed error details.
package graphqlapi

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/leopoldkristjansson/keystone/internal/mutation"
	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/session"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

// Builder assembles the GraphQL schema for a registry.
type Builder struct {
	reg  *schema.Registry
	pipe *mutation.Pipeline

	value        *graphql.Scalar
	errorType    *graphql.Object
	itemTypes    map[string]*graphql.Object
	payloadTypes map[string]*graphql.Object
	createInputs map[string]*graphql.InputObject
	updateInputs map[string]*graphql.InputObject
	uniqueInputs map[string]*graphql.InputObject
	relateInputs map[string]*graphql.InputObject
	updateArgs   map[string]*graphql.InputObject
}

// NewBuilder prepares a schema builder for the registry.
func NewBuilder(reg *schema.Registry, pipe *mutation.Pipeline) *Builder {
	return &Builder{
		reg:          reg,
		pipe:         pipe,
		value:        Value(),
		itemTypes:    map[string]*graphql.Object{},
		payloadTypes: map[string]*graphql.Object{},
		createInputs: map[string]*graphql.InputObject{},
		updateInputs: map[string]*graphql.InputObject{},
		uniqueInputs: map[string]*graphql.InputObject{},
		relateInputs: map[string]*graphql.InputObject{},
		updateArgs:   map[string]*graphql.InputObject{},
	}
}

// BuildSchema builds the executable schema for all registered lists.
func BuildSchema(reg *schema.Registry, pipe *mutation.Pipeline) (graphql.Schema, error) {
	return NewBuilder(reg, pipe).Build()
}

// Build assembles query and mutation roots.
func (b *Builder) Build() (graphql.Schema, error) {
	mutationFields := graphql.Fields{}
	for _, key := range b.reg.Keys() {
		b.addListMutations(mutationFields, b.reg.Get(key))
	}
	if len(mutationFields) == 0 {
		return graphql.Schema{}, fmt.Errorf("no lists registered")
	}

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: b.queryFields(),
		}),
		Mutation: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Mutation",
			Fields: mutationFields,
		}),
	})
}

func (b *Builder) queryFields() graphql.Fields {
	return graphql.Fields{
		"lists": &graphql.Field{
			Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.String))),
			Description: "Keys of all registered lists.",
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return b.reg.Keys(), nil
			},
		},
	}
}

func (b *Builder) addListMutations(fields graphql.Fields, list *schema.List) {
	typeName := b.typeName(list)
	pluralName := b.pluralTypeName(list)
	payload := b.payloadType(list)
	createInput := b.createInputType(list)
	updateInput := b.updateInputType(list)
	uniqueInput := b.uniqueInputType(list)
	updateArgs := b.updateArgsType(list)

	fields["create"+typeName] = &graphql.Field{
		Type: graphql.NewNonNull(payload),
		Args: graphql.FieldConfigArgument{
			"data": &graphql.ArgumentConfig{Type: graphql.NewNonNull(createInput)},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			data, _ := p.Args["data"].(map[string]interface{})
			item, err := b.pipe.CreateOne(p.Context, list.Key, data, callerSession(p.Context))
			return b.itemPayload(list, item, err), nil
		},
	}

	fields["create"+pluralName] = &graphql.Field{
		Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(payload))),
		Args: graphql.FieldConfigArgument{
			"data": &graphql.ArgumentConfig{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(createInput))),
			},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			inputs := argMaps(p.Args["data"])
			results, err := b.pipe.CreateMany(p.Context, list.Key, inputs, callerSession(p.Context))
			if err != nil {
				return nil, err
			}
			return b.batchPayload(list, results), nil
		},
	}

	fields["update"+typeName] = &graphql.Field{
		Type: graphql.NewNonNull(payload),
		Args: graphql.FieldConfigArgument{
			"where": &graphql.ArgumentConfig{Type: graphql.NewNonNull(uniqueInput)},
			"data":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(updateInput)},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			where, _ := p.Args["where"].(map[string]interface{})
			data, _ := p.Args["data"].(map[string]interface{})
			item, err := b.pipe.UpdateOne(p.Context, list.Key, where, data, callerSession(p.Context))
			return b.itemPayload(list, item, err), nil
		},
	}

	fields["update"+pluralName] = &graphql.Field{
		Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(payload))),
		Args: graphql.FieldConfigArgument{
			"data": &graphql.ArgumentConfig{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(updateArgs))),
			},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			var inputs []mutation.UpdateManyInput
			for _, raw := range argMaps(p.Args["data"]) {
				unique, _ := raw["where"].(map[string]interface{})
				data, _ := raw["data"].(map[string]interface{})
				inputs = append(inputs, mutation.UpdateManyInput{Unique: unique, Data: data})
			}
			results, err := b.pipe.UpdateMany(p.Context, list.Key, inputs, callerSession(p.Context))
			if err != nil {
				return nil, err
			}
			return b.batchPayload(list, results), nil
		},
	}

	fields["delete"+typeName] = &graphql.Field{
		Type: graphql.NewNonNull(payload),
		Args: graphql.FieldConfigArgument{
			"where": &graphql.ArgumentConfig{Type: graphql.NewNonNull(uniqueInput)},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			where, _ := p.Args["where"].(map[string]interface{})
			item, err := b.pipe.DeleteOne(p.Context, list.Key, where, callerSession(p.Context))
			return b.itemPayload(list, item, err), nil
		},
	}

	fields["delete"+pluralName] = &graphql.Field{
		Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(payload))),
		Args: graphql.FieldConfigArgument{
			"where": &graphql.ArgumentConfig{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(uniqueInput))),
			},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			wheres := argMaps(p.Args["where"])
			results, err := b.pipe.DeleteMany(p.Context, list.Key, wheres, callerSession(p.Context))
			if err != nil {
				return nil, err
			}
			return b.batchPayload(list, results), nil
		},
	}
}

// itemPayload shapes one item outcome into the flattened payload map.
func (b *Builder) itemPayload(list *schema.List, item store.Item, err error) map[string]interface{} {
	if err != nil {
		return map[string]interface{}{"errors": errorDetails(err)}
	}
	return map[string]interface{}{b.itemFieldName(list): item}
}

func (b *Builder) batchPayload(list *schema.List, results []mutation.ItemResult) []interface{} {
	payloads := make([]interface{}, 0, len(results))
	for _, res := range results {
		payloads = append(payloads, b.itemPayload(list, res.Item, res.Err))
	}
	return payloads
}

// callerSession resolves the acting identity for access control. The
// returned value is untyped nil for anonymous callers so nil checks in
// access functions behave.
func callerSession(ctx context.Context) any {
	id := session.FromContext(ctx)
	if id == nil {
		return nil
	}
	return id
}

func argMaps(raw interface{}) []map[string]any {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, _ := item.(map[string]interface{})
		out = append(out, m)
	}
	return out
}
