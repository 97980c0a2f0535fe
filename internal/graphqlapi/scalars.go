package graphqlapi

import (
	"strconv"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// Value is a scalar for dynamically typed field values. List fields carry
// no static type information, so inputs and outputs pass through as native
// Go values; literals are decoded into maps, lists, and primitives.
func Value() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Value",
		Description: "Arbitrary field value: scalar, object, or list.",
		Serialize: func(value interface{}) interface{} {
			return value
		},
		ParseValue: func(value interface{}) interface{} {
			return value
		},
		ParseLiteral: parseValueLiteral,
	})
}

func parseValueLiteral(valueAST ast.Value) interface{} {
	switch v := valueAST.(type) {
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.IntValue:
		parsed, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil
		}
		return parsed
	case *ast.FloatValue:
		parsed, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil
		}
		return parsed
	case *ast.EnumValue:
		return v.Value
	case *ast.ListValue:
		out := make([]interface{}, 0, len(v.Values))
		for _, item := range v.Values {
			out = append(out, parseValueLiteral(item))
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]interface{}, len(v.Fields))
		for _, field := range v.Fields {
			out[field.Name.Value] = parseValueLiteral(field.Value)
		}
		return out
	default:
		return nil
	}
}
