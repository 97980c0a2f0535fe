package mutation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

func authorLists() (*schema.List, *schema.List) {
	users := schema.NewList("users", []*schema.Field{
		{Key: "email", Unique: true},
		{Key: "posts", Kind: schema.KindRelation, Ref: "posts", Many: true, ForeignKey: "author"},
	})
	posts := schema.NewList("posts", []*schema.Field{
		{Key: "title"},
		{Key: "author", Kind: schema.KindRelation, Ref: "users"},
	})
	return users, posts
}

func TestToOneConnectStoresRelatedID(t *testing.T) {
	st := newMemStore()
	st.seed("users", store.Item{"id": int64(5), "email": "ada@example.com"})
	users, posts := authorLists()
	p := newTestPipeline(t, st, users, posts)

	item, err := p.CreateOne(context.Background(), "posts", map[string]any{
		"title":  "hello",
		"author": map[string]any{"connect": map[string]any{"email": "ada@example.com"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), item["author"])
}

func TestToOneCreateNestsAndDefersAfterHooks(t *testing.T) {
	var events []string
	st := newMemStore()
	st.onWrite = func(call string) { events = append(events, call) }

	users, posts := authorLists()
	users.Hooks.AfterOperation = map[schema.Operation]schema.OperationHook{
		schema.OpCreate: func(ctx context.Context, args *schema.HookArgs) error {
			events = append(events, "nested afterOperation")
			return nil
		},
	}
	p := newTestPipeline(t, st, users, posts)

	item, err := p.CreateOne(context.Background(), "posts", map[string]any{
		"title":  "hello",
		"author": map[string]any{"create": map[string]any{"email": "new@example.com"}},
	}, nil)
	require.NoError(t, err)

	author := st.row("users", item["author"])
	require.NotNil(t, author)
	assert.Equal(t, "new@example.com", author["email"])

	// The nested row is written before the parent, but its afterOperation
	// side effects fire only after the outermost write committed.
	assert.Equal(t, []string{"create users", "create posts", "nested afterOperation"}, events)
}

func TestNestedAfterHooksSkippedWhenOuterWriteFails(t *testing.T) {
	var nestedAfterRan bool
	st := newMemStore()
	st.failCreate["posts"] = errors.New("insert failed")

	users, posts := authorLists()
	users.Hooks.AfterOperation = map[schema.Operation]schema.OperationHook{
		schema.OpCreate: func(ctx context.Context, args *schema.HookArgs) error {
			nestedAfterRan = true
			return nil
		},
	}
	p := newTestPipeline(t, st, users, posts)

	_, err := p.CreateOne(context.Background(), "posts", map[string]any{
		"title":  "hello",
		"author": map[string]any{"create": map[string]any{"email": "new@example.com"}},
	}, nil)

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)

	// The nested create is durable on its own, but its deferred side
	// effects never fire when the outer write fails.
	assert.Len(t, st.rows("users"), 1)
	assert.False(t, nestedAfterRan)
}

func TestToOneDisconnectResolvesToExplicitNull(t *testing.T) {
	st := newMemStore()
	st.seed("users", store.Item{"id": int64(5), "email": "ada@example.com"})
	st.seed("posts", store.Item{"id": int64(1), "title": "x", "author": int64(5)})
	users, posts := authorLists()
	p := newTestPipeline(t, st, users, posts)

	_, err := p.UpdateOne(context.Background(), "posts",
		map[string]any{"id": 1},
		map[string]any{"author": map[string]any{"disconnect": true}}, nil)
	require.NoError(t, err)

	row := st.row("posts", int64(1))
	val, present := row["author"]
	assert.True(t, present)
	assert.Nil(t, val)
}

func TestToManyConnectLinksAfterParentWrite(t *testing.T) {
	st := newMemStore()
	st.seed("posts",
		store.Item{"id": int64(10), "title": "a", "author": nil},
		store.Item{"id": int64(11), "title": "b", "author": nil},
	)
	users, posts := authorLists()
	p := newTestPipeline(t, st, users, posts)

	item, err := p.CreateOne(context.Background(), "users", map[string]any{
		"email": "ada@example.com",
		"posts": map[string]any{"connect": []any{
			map[string]any{"id": 10},
			map[string]any{"id": 11},
		}},
	}, nil)
	require.NoError(t, err)

	for _, id := range []int64{10, 11} {
		row := st.row("posts", id)
		assert.Equal(t, item["id"], row["author"], "post %d should point at the new user", id)
	}
	// The posts key itself never becomes a column of the parent row.
	_, hasColumn := st.row("users", item["id"])["posts"]
	assert.False(t, hasColumn)
}

func TestToManySetReplacesMembership(t *testing.T) {
	st := newMemStore()
	st.seed("users", store.Item{"id": int64(1), "email": "ada@example.com"})
	st.seed("posts",
		store.Item{"id": int64(10), "title": "old", "author": int64(1)},
		store.Item{"id": int64(11), "title": "new", "author": nil},
	)
	users, posts := authorLists()
	p := newTestPipeline(t, st, users, posts)

	_, err := p.UpdateOne(context.Background(), "users",
		map[string]any{"id": 1},
		map[string]any{"posts": map[string]any{"set": []any{
			map[string]any{"id": 11},
		}}}, nil)
	require.NoError(t, err)

	assert.Nil(t, st.row("posts", int64(10))["author"])
	assert.Equal(t, int64(1), st.row("posts", int64(11))["author"])
}

func TestToManyDisconnectOnlyDetachesOwnRows(t *testing.T) {
	st := newMemStore()
	st.seed("users",
		store.Item{"id": int64(1), "email": "ada@example.com"},
		store.Item{"id": int64(2), "email": "bob@example.com"},
	)
	st.seed("posts", store.Item{"id": int64(10), "title": "theirs", "author": int64(2)})
	users, posts := authorLists()
	p := newTestPipeline(t, st, users, posts)

	_, err := p.UpdateOne(context.Background(), "users",
		map[string]any{"id": 1},
		map[string]any{"posts": map[string]any{"disconnect": []any{
			map[string]any{"id": 10},
		}}}, nil)
	require.NoError(t, err)

	// Post 10 belongs to user 2; disconnecting it from user 1 is a no-op.
	assert.Equal(t, int64(2), st.row("posts", int64(10))["author"])
}

func TestConnectRespectsRelatedListAccess(t *testing.T) {
	st := newMemStore()
	st.seed("users", store.Item{"id": int64(5), "email": "ada@example.com", "owner": "someone-else"})
	users, posts := authorLists()
	users.Access.Filter = func(ctx context.Context, op schema.Operation, session any) schema.Filter {
		return schema.FilterWhere(store.Where{"owner": session})
	}
	p := newTestPipeline(t, st, users, posts)

	_, err := p.CreateOne(context.Background(), "posts", map[string]any{
		"title":  "hello",
		"author": map[string]any{"connect": map[string]any{"id": 5}},
	}, "me")

	var relErrs *RelationshipErrors
	require.ErrorAs(t, err, &relErrs)
	require.Len(t, relErrs.Failures, 1)
	assert.Equal(t, "author", relErrs.Failures[0].Field)

	var denied *AccessDeniedError
	require.ErrorAs(t, relErrs.Failures[0].Err, &denied)
	assert.Empty(t, st.writeCalls())
}

func TestNestedCreateRequiresRelatedCreateAccess(t *testing.T) {
	st := newMemStore()
	users, posts := authorLists()
	users.Access.Operation = func(ctx context.Context, op schema.Operation, session any) bool {
		return op != schema.OpCreate
	}
	p := newTestPipeline(t, st, users, posts)

	_, err := p.CreateOne(context.Background(), "posts", map[string]any{
		"title":  "hello",
		"author": map[string]any{"create": map[string]any{"email": "x@example.com"}},
	}, nil)

	var relErrs *RelationshipErrors
	require.ErrorAs(t, err, &relErrs)
	var denied *AccessDeniedError
	require.ErrorAs(t, relErrs.Failures[0].Err, &denied)
	assert.Equal(t, "users", denied.List)
}

func TestNestedInputValidation(t *testing.T) {
	st := newMemStore()
	st.seed("users", store.Item{"id": int64(1), "email": "a@example.com"})
	users, posts := authorLists()
	p := newTestPipeline(t, st, users, posts)

	cases := []struct {
		name    string
		listKey string
		input   map[string]any
	}{
		{
			name:    "unknown operation",
			listKey: "posts",
			input: map[string]any{
				"title":  "x",
				"author": map[string]any{"upsert": map[string]any{"id": 1}},
			},
		},
		{
			name:    "to-one create requires exactly one operation",
			listKey: "posts",
			input: map[string]any{
				"title": "x",
				"author": map[string]any{
					"connect": map[string]any{"id": 1},
					"create":  map[string]any{"email": "y@example.com"},
				},
			},
		},
		{
			name:    "set invalid on to-one",
			listKey: "posts",
			input: map[string]any{
				"title":  "x",
				"author": map[string]any{"set": []any{map[string]any{"id": 1}}},
			},
		},
		{
			name:    "disconnect invalid on to-many create",
			listKey: "users",
			input: map[string]any{
				"email": "z@example.com",
				"posts": map[string]any{"disconnect": []any{map[string]any{"id": 1}}},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.CreateOne(context.Background(), tc.listKey, tc.input, nil)
			var relErrs *RelationshipErrors
			require.ErrorAs(t, err, &relErrs)
		})
	}
}

func TestNullRelationshipInputIsNoOp(t *testing.T) {
	st := newMemStore()
	users, posts := authorLists()
	p := newTestPipeline(t, st, users, posts)

	item, err := p.CreateOne(context.Background(), "posts", map[string]any{
		"title":  "solo",
		"author": nil,
	}, nil)
	require.NoError(t, err)
	_, present := st.row("posts", item["id"])["author"]
	assert.False(t, present)
}

func TestResolveMembersCollectsEveryFailure(t *testing.T) {
	st := newMemStore()
	users, posts := authorLists()
	p := newTestPipeline(t, st, users, posts)

	_, err := p.CreateOne(context.Background(), "users", map[string]any{
		"email": "ada@example.com",
		"posts": map[string]any{"connect": []any{
			map[string]any{"id": 404},
			map[string]any{"id": 405},
		}},
	}, nil)

	var relErrs *RelationshipErrors
	require.ErrorAs(t, err, &relErrs)
	require.Len(t, relErrs.Failures, 1)
	assert.Contains(t, relErrs.Failures[0].Err.Error(), "connect[0]")
	assert.Contains(t, relErrs.Failures[0].Err.Error(), "connect[1]")
}
