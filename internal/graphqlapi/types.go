package graphqlapi

import (
	"unicode"

	"github.com/graphql-go/graphql"
	"github.com/jinzhu/inflection"

	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

func (b *Builder) typeName(list *schema.List) string {
	return upperFirst(schema.Singular(list.Key))
}

func (b *Builder) pluralTypeName(list *schema.List) string {
	return inflection.Plural(b.typeName(list))
}

func (b *Builder) itemFieldName(list *schema.List) string {
	return lowerFirst(schema.Singular(list.Key))
}

// itemType builds the output object for a list. Multi fields expose their
// expanded storage columns; to-many relation fields have no column of
// their own and are not part of the item shape.
func (b *Builder) itemType(list *schema.List) *graphql.Object {
	name := b.typeName(list)
	if cached, ok := b.itemTypes[name]; ok {
		return cached
	}

	fields := graphql.Fields{
		"id": &graphql.Field{
			Type:    graphql.ID,
			Resolve: itemFieldResolver("id"),
		},
	}
	for _, key := range list.FieldKeys() {
		field := list.Fields[key]
		switch field.Kind {
		case schema.KindMulti:
			for _, sub := range field.SubKeys {
				col := field.Key + "_" + sub
				fields[col] = &graphql.Field{
					Type:    b.value,
					Resolve: itemFieldResolver(col),
				}
			}
		case schema.KindRelation:
			if field.Many {
				continue
			}
			fields[key] = &graphql.Field{
				Type:    b.value,
				Resolve: itemFieldResolver(key),
			}
		default:
			fields[key] = &graphql.Field{
				Type:    b.value,
				Resolve: itemFieldResolver(key),
			}
		}
	}

	obj := graphql.NewObject(graphql.ObjectConfig{
		Name:   name,
		Fields: fields,
	})
	b.itemTypes[name] = obj
	return obj
}

// itemFieldResolver reads one column from the row map. The source is a
// store.Item, which does not satisfy the library's default map lookup.
func itemFieldResolver(col string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		switch m := p.Source.(type) {
		case store.Item:
			return m[col], nil
		case map[string]interface{}:
			return m[col], nil
		}
		return nil, nil
	}
}

func (b *Builder) errorDetailType() *graphql.Object {
	if b.errorType != nil {
		return b.errorType
	}
	b.errorType = graphql.NewObject(graphql.ObjectConfig{
		Name: "MutationErrorDetail",
		Fields: graphql.Fields{
			"code":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"message": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"field":   &graphql.Field{Type: graphql.String},
		},
	})
	return b.errorType
}

// payloadType is the flattened per-item mutation result: the item on
// success, error details on failure.
func (b *Builder) payloadType(list *schema.List) *graphql.Object {
	name := b.typeName(list) + "Payload"
	if cached, ok := b.payloadTypes[name]; ok {
		return cached
	}

	obj := graphql.NewObject(graphql.ObjectConfig{
		Name: name,
		Fields: graphql.Fields{
			b.itemFieldName(list): &graphql.Field{Type: b.itemType(list)},
			"errors": &graphql.Field{
				Type: graphql.NewList(graphql.NewNonNull(b.errorDetailType())),
			},
		},
	})
	b.payloadTypes[name] = obj
	return obj
}

// uniqueInputType is the unique-target selector: id or any unique field,
// exactly one of which must be supplied.
func (b *Builder) uniqueInputType(list *schema.List) *graphql.InputObject {
	name := b.typeName(list) + "WhereUniqueInput"
	if cached, ok := b.uniqueInputs[name]; ok {
		return cached
	}

	fields := graphql.InputObjectConfigFieldMap{}
	for _, key := range list.UniqueFieldKeys() {
		if key == list.IDColumn() {
			fields[key] = &graphql.InputObjectFieldConfig{Type: graphql.ID}
			continue
		}
		fields[key] = &graphql.InputObjectFieldConfig{Type: b.value}
	}

	obj := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   name,
		Fields: fields,
	})
	b.uniqueInputs[name] = obj
	return obj
}

// createInputType builds the create data input. Relation fields use the
// nested relate-to input vocabulary; everything else is a dynamic value.
// Fields are thunked because relation inputs may cycle back through the
// related list's create input.
func (b *Builder) createInputType(list *schema.List) *graphql.InputObject {
	name := b.typeName(list) + "CreateInput"
	if cached, ok := b.createInputs[name]; ok {
		return cached
	}

	obj := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{}
			if list.IDKind == schema.IDString {
				fields["id"] = &graphql.InputObjectFieldConfig{Type: graphql.ID}
			}
			for _, key := range list.FieldKeys() {
				field := list.Fields[key]
				if field.Kind == schema.KindRelation {
					fields[key] = &graphql.InputObjectFieldConfig{
						Type: b.relateInputType(list, field, schema.OpCreate),
					}
					continue
				}
				fields[key] = &graphql.InputObjectFieldConfig{Type: b.value}
			}
			return fields
		}),
	})
	b.createInputs[name] = obj
	return obj
}

// updateInputType builds the update data input.
func (b *Builder) updateInputType(list *schema.List) *graphql.InputObject {
	name := b.typeName(list) + "UpdateInput"
	if cached, ok := b.updateInputs[name]; ok {
		return cached
	}

	obj := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{}
			for _, key := range list.FieldKeys() {
				field := list.Fields[key]
				if field.Kind == schema.KindRelation {
					fields[key] = &graphql.InputObjectFieldConfig{
						Type: b.relateInputType(list, field, schema.OpUpdate),
					}
					continue
				}
				fields[key] = &graphql.InputObjectFieldConfig{Type: b.value}
			}
			return fields
		}),
	})
	b.updateInputs[name] = obj
	return obj
}

// relateInputType builds the nested mutation input for one relation field:
// connect/create for creates, plus disconnect/set for updates.
func (b *Builder) relateInputType(list *schema.List, field *schema.Field, op schema.Operation) *graphql.InputObject {
	related := field.Related()

	shape := "RelateToOne"
	if field.Many {
		shape = "RelateToMany"
	}
	verb := "Create"
	if op == schema.OpUpdate {
		verb = "Update"
	}
	name := b.typeName(list) + upperFirst(field.Key) + shape + "For" + verb + "Input"
	if cached, ok := b.relateInputs[name]; ok {
		return cached
	}

	obj := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			unique := b.uniqueInputType(related)
			create := b.createInputType(related)

			fields := graphql.InputObjectConfigFieldMap{}
			if field.Many {
				fields["connect"] = &graphql.InputObjectFieldConfig{
					Type: graphql.NewList(graphql.NewNonNull(unique)),
				}
				fields["create"] = &graphql.InputObjectFieldConfig{
					Type: graphql.NewList(graphql.NewNonNull(create)),
				}
				if op == schema.OpUpdate {
					fields["disconnect"] = &graphql.InputObjectFieldConfig{
						Type: graphql.NewList(graphql.NewNonNull(unique)),
					}
					fields["set"] = &graphql.InputObjectFieldConfig{
						Type: graphql.NewList(graphql.NewNonNull(unique)),
					}
				}
				return fields
			}

			fields["connect"] = &graphql.InputObjectFieldConfig{Type: unique}
			fields["create"] = &graphql.InputObjectFieldConfig{Type: create}
			if op == schema.OpUpdate {
				fields["disconnect"] = &graphql.InputObjectFieldConfig{Type: graphql.Boolean}
			}
			return fields
		}),
	})
	b.relateInputs[name] = obj
	return obj
}

// updateArgsType pairs a unique target with its data for batch updates.
func (b *Builder) updateArgsType(list *schema.List) *graphql.InputObject {
	name := b.typeName(list) + "UpdateArgs"
	if cached, ok := b.updateArgs[name]; ok {
		return cached
	}

	obj := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMap{
			"where": &graphql.InputObjectFieldConfig{
				Type: graphql.NewNonNull(b.uniqueInputType(list)),
			},
			"data": &graphql.InputObjectFieldConfig{
				Type: graphql.NewNonNull(b.updateInputType(list)),
			},
		},
	})
	b.updateArgs[name] = obj
	return obj
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
