package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/session"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

// buildRegistry assembles the lists this server exposes. Users own posts
// through a to-many relation; settings is a singleton row.
func buildRegistry() (*schema.Registry, error) {
	reg := schema.NewRegistry()

	lists := []*schema.List{
		userList(),
		postList(),
		settingsList(),
	}
	for _, l := range lists {
		if err := reg.Register(l); err != nil {
			return nil, err
		}
	}
	if err := reg.ResolveRelations(); err != nil {
		return nil, err
	}
	return reg, nil
}

func userList() *schema.List {
	l := schema.NewList("users", []*schema.Field{
		{
			Key:     "name",
			Kind:    schema.KindMulti,
			SubKeys: []string{"first", "last"},
		},
		{
			Key:      "email",
			Unique:   true,
			Required: true,
			CreateInput: func(ctx context.Context, raw any, args *schema.HookArgs) (any, error) {
				return normalizeEmail(raw)
			},
			UpdateInput: func(ctx context.Context, raw any, args *schema.HookArgs) (any, error) {
				return normalizeEmail(raw)
			},
		},
		{
			Key:      "password",
			Required: true,
			Hooks: schema.FieldHooks{
				Validate: map[schema.Operation]schema.ValidateHook{
					schema.OpCreate: validatePassword,
					schema.OpUpdate: validatePassword,
				},
			},
		},
		{
			Key:  "preferences",
			JSON: true,
		},
		{Key: "created_at", AutoNowOnCreate: true},
		{Key: "updated_at", AutoNowOnCreate: true, AutoNowOnUpdate: true},
		{
			Key:        "posts",
			Kind:       schema.KindRelation,
			Ref:        "posts",
			Many:       true,
			ForeignKey: "author",
		},
	})
	l.Access = schema.AccessConfig{
		Operation: requireIdentity,
		Filter:    ownRowsUnlessAdmin("id"),
	}
	return l
}

func postList() *schema.List {
	l := schema.NewList("posts", []*schema.Field{
		{Key: "title", Required: true},
		{Key: "body"},
		{
			Key:  "author",
			Kind: schema.KindRelation,
			Ref:  "users",
		},
		{Key: "created_at", AutoNowOnCreate: true},
		{Key: "updated_at", AutoNowOnCreate: true, AutoNowOnUpdate: true},
	})
	l.Access = schema.AccessConfig{
		Operation: requireIdentity,
		Filter:    ownRowsUnlessAdmin("author"),
	}
	return l
}

func settingsList() *schema.List {
	l := schema.NewList("settings", []*schema.Field{
		{Key: "site_name"},
		{Key: "registration_open"},
		{Key: "updated_at", AutoNowOnCreate: true, AutoNowOnUpdate: true},
	})
	l.IDKind = schema.IDSingleton
	l.Access = schema.AccessConfig{
		Operation: func(ctx context.Context, op schema.Operation, s any) bool {
			id, ok := s.(*session.Identity)
			return ok && id.Admin
		},
	}
	return l
}

// requireIdentity permits writes only for authenticated callers.
func requireIdentity(ctx context.Context, op schema.Operation, s any) bool {
	return s != nil
}

// ownRowsUnlessAdmin restricts update/delete to rows whose column matches
// the caller's subject. Admin identities see every row.
func ownRowsUnlessAdmin(column string) func(ctx context.Context, op schema.Operation, s any) schema.Filter {
	return func(ctx context.Context, op schema.Operation, s any) schema.Filter {
		id, ok := s.(*session.Identity)
		if !ok {
			return schema.FilterNone()
		}
		if id.Admin {
			return schema.FilterAll()
		}
		return schema.FilterWhere(store.Where{column: id.Subject})
	}
}

func normalizeEmail(raw any) (any, error) {
	value, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("email must be a string")
	}
	value = strings.ToLower(strings.TrimSpace(value))
	if !strings.Contains(value, "@") {
		return nil, fmt.Errorf("email %q is not valid", value)
	}
	return value, nil
}

func validatePassword(ctx context.Context, args *schema.HookArgs) error {
	value, present := args.Resolved["password"]
	if !present {
		return nil
	}
	str, ok := value.(string)
	if !ok || len(str) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}
