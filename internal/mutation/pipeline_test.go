package mutation

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leopoldkristjansson/keystone/internal/access"
	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

// memStore is an in-memory store.Store with a call log, used to assert
// what reaches the persistence layer and in which order.
type memStore struct {
	mu     sync.Mutex
	tables map[string][]store.Item
	nextID map[string]int64
	calls  []string

	failCreate map[string]error
	failUpdate map[string]error

	// onWrite, when set, observes every create/update/delete call.
	onWrite func(call string)
}

func newMemStore() *memStore {
	return &memStore{
		tables:     map[string][]store.Item{},
		nextID:     map[string]int64{},
		failCreate: map[string]error{},
		failUpdate: map[string]error{},
	}
}

func (s *memStore) Collection(table string) store.Collection {
	return &memCollection{s: s, table: table}
}

func (s *memStore) seed(table string, items ...store.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.tables[table] = append(s.tables[table], copyItem(item))
	}
}

func (s *memStore) rows(table string) []store.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Item, 0, len(s.tables[table]))
	for _, item := range s.tables[table] {
		out = append(out, copyItem(item))
	}
	return out
}

func (s *memStore) row(table string, id any) store.Item {
	for _, item := range s.rows(table) {
		if reflect.DeepEqual(item["id"], id) {
			return item
		}
	}
	return nil
}

func (s *memStore) record(call string) {
	s.calls = append(s.calls, call)
	if s.onWrite != nil && call != "find" {
		s.onWrite(call)
	}
}

func (s *memStore) writeCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		if c != "find" {
			out = append(out, c)
		}
	}
	return out
}

type memCollection struct {
	s     *memStore
	table string
}

func (c *memCollection) FindUnique(ctx context.Context, where store.Where) (store.Item, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.record("find")
	for _, item := range c.s.tables[c.table] {
		if matches(item, where) {
			return copyItem(item), nil
		}
	}
	return nil, nil
}

func (c *memCollection) Create(ctx context.Context, data store.Item) (store.Item, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.record("create " + c.table)
	if err := c.s.failCreate[c.table]; err != nil {
		return nil, err
	}

	item := copyItem(data)
	if _, ok := item["id"]; !ok {
		c.s.nextID[c.table]++
		item["id"] = c.s.nextID[c.table]
	}
	for k, v := range item {
		if store.IsExplicitNull(v) {
			item[k] = nil
		}
	}
	c.s.tables[c.table] = append(c.s.tables[c.table], item)
	return copyItem(item), nil
}

func (c *memCollection) Update(ctx context.Context, where store.Where, data store.Item) (store.Item, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.record("update " + c.table)
	if err := c.s.failUpdate[c.table]; err != nil {
		return nil, err
	}

	var first store.Item
	for _, item := range c.s.tables[c.table] {
		if !matches(item, where) {
			continue
		}
		for k, v := range data {
			if store.IsExplicitNull(v) {
				item[k] = nil
				continue
			}
			item[k] = v
		}
		if first == nil {
			first = copyItem(item)
		}
	}
	return first, nil
}

func (c *memCollection) Delete(ctx context.Context, where store.Where) (store.Item, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.record("delete " + c.table)
	rows := c.s.tables[c.table]
	for i, item := range rows {
		if matches(item, where) {
			c.s.tables[c.table] = append(rows[:i:i], rows[i+1:]...)
			return copyItem(item), nil
		}
	}
	return nil, nil
}

func matches(item store.Item, where store.Where) bool {
	for k, v := range where {
		if !reflect.DeepEqual(item[k], v) {
			return false
		}
	}
	return true
}

func copyItem(item store.Item) store.Item {
	out := make(store.Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, st store.Store, lists ...*schema.List) *Pipeline {
	t.Helper()
	reg := schema.NewRegistry()
	for _, l := range lists {
		require.NoError(t, reg.Register(l))
	}
	require.NoError(t, reg.ResolveRelations())
	logger := testLogger()
	return New(reg, st, access.NewGate(logger), logger, nil)
}

func lowercaseResolver(ctx context.Context, raw any, args *schema.HookArgs) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, &ValidationError{Message: "must be a string", Field: args.FieldKey}
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out), nil
}

func TestCreateOneAppliesDefaultsAndResolvers(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st, schema.NewList("users", []*schema.Field{
		{Key: "email", Unique: true, CreateInput: lowercaseResolver},
		{Key: "role", Default: "member"},
		{Key: "created_at", AutoNowOnCreate: true},
	}))

	item, err := p.CreateOne(context.Background(), "users", map[string]any{
		"email": "Ada@Example.COM",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", item["email"])
	assert.Equal(t, "member", item["role"])
	assert.NotNil(t, item["created_at"])
	assert.Equal(t, int64(1), item["id"])
}

func TestCreateOneCollectsResolverFailures(t *testing.T) {
	st := newMemStore()
	failing := func(ctx context.Context, raw any, args *schema.HookArgs) (any, error) {
		return nil, &ValidationError{Message: "bad value", Field: args.FieldKey}
	}
	p := newTestPipeline(t, st, schema.NewList("users", []*schema.Field{
		{Key: "email", CreateInput: failing},
		{Key: "handle", CreateInput: failing},
	}))

	_, err := p.CreateOne(context.Background(), "users", map[string]any{
		"email":  "x",
		"handle": "y",
	}, nil)

	var resolverErrs *ResolverErrors
	require.ErrorAs(t, err, &resolverErrs)
	require.Len(t, resolverErrs.Failures, 2)
	assert.Equal(t, "email", resolverErrs.Failures[0].Field)
	assert.Equal(t, "handle", resolverErrs.Failures[1].Field)

	// Nothing may reach the store when resolution fails.
	assert.Empty(t, st.writeCalls())
}

func TestCreateManyIsolatesItemFailures(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st, schema.NewList("users", []*schema.Field{
		{
			Key: "email",
			CreateInput: func(ctx context.Context, raw any, args *schema.HookArgs) (any, error) {
				if raw == "bad" {
					return nil, &ValidationError{Message: "rejected", Field: "email"}
				}
				return raw, nil
			},
		},
	}))

	results, err := p.CreateMany(context.Background(), "users", []map[string]any{
		{"email": "first@example.com"},
		{"email": "bad"},
		{"email": "third@example.com"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "first@example.com", results[0].Item["email"])
	assert.Error(t, results[1].Err)
	assert.Nil(t, results[1].Item)
	assert.NoError(t, results[2].Err)

	assert.Len(t, st.rows("users"), 2)
}

func TestCreateDeniedBeforeAnyStoreCall(t *testing.T) {
	st := newMemStore()
	l := schema.NewList("users", []*schema.Field{{Key: "email"}})
	l.Access.Operation = func(ctx context.Context, op schema.Operation, session any) bool {
		return session != nil
	}
	p := newTestPipeline(t, st, l)

	_, err := p.CreateOne(context.Background(), "users", map[string]any{"email": "a@b.c"}, nil)

	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "users", denied.List)
	assert.Empty(t, st.calls)
}

func TestUpdateMergesAccessFilterIntoUniqueWhere(t *testing.T) {
	st := newMemStore()
	st.seed("posts",
		store.Item{"id": int64(1), "title": "mine", "author": "alice"},
		store.Item{"id": int64(2), "title": "theirs", "author": "bob"},
	)
	l := schema.NewList("posts", []*schema.Field{
		{Key: "title"},
		{Key: "author"},
	})
	l.Access.Filter = func(ctx context.Context, op schema.Operation, session any) schema.Filter {
		return schema.FilterWhere(store.Where{"author": session.(string)})
	}
	p := newTestPipeline(t, st, l)

	item, err := p.UpdateOne(context.Background(), "posts",
		map[string]any{"id": 1}, map[string]any{"title": "updated"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "updated", item["title"])

	// A row outside the filter is reported exactly like a missing row.
	_, err = p.UpdateOne(context.Background(), "posts",
		map[string]any{"id": 2}, map[string]any{"title": "nope"}, "alice")
	var deniedOther *AccessDeniedError
	require.ErrorAs(t, err, &deniedOther)

	_, err = p.UpdateOne(context.Background(), "posts",
		map[string]any{"id": 99}, map[string]any{"title": "nope"}, "alice")
	var deniedMissing *AccessDeniedError
	require.ErrorAs(t, err, &deniedMissing)
	assert.Equal(t, deniedOther.Error(), deniedMissing.Error())
}

func TestFilterOnUniqueColumnCannotBeOverridden(t *testing.T) {
	// An own-rows-only filter keyed on the id column itself must hold even
	// when the caller's unique input targets a different id.
	st := newMemStore()
	st.seed("users",
		store.Item{"id": int64(1), "name": "ada"},
		store.Item{"id": int64(2), "name": "grace"},
	)
	l := schema.NewList("users", []*schema.Field{{Key: "name"}})
	l.Access.Filter = func(ctx context.Context, op schema.Operation, session any) schema.Filter {
		return schema.FilterWhere(store.Where{"id": session.(int64)})
	}
	p := newTestPipeline(t, st, l)

	_, err := p.UpdateOne(context.Background(), "users",
		map[string]any{"id": 2}, map[string]any{"name": "hacked"}, int64(1))
	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Empty(t, st.writeCalls())
	assert.Equal(t, "grace", st.row("users", int64(2))["name"])

	_, err = p.DeleteOne(context.Background(), "users", map[string]any{"id": 2}, int64(1))
	require.ErrorAs(t, err, &denied)
	assert.Len(t, st.rows("users"), 2)

	// The caller's own row stays reachable through the same filter.
	item, err := p.UpdateOne(context.Background(), "users",
		map[string]any{"id": 1}, map[string]any{"name": "renamed"}, int64(1))
	require.NoError(t, err)
	assert.Equal(t, "renamed", item["name"])
}

func TestUpdateFilterNoneRejectsWithoutStoreCall(t *testing.T) {
	st := newMemStore()
	st.seed("posts", store.Item{"id": int64(1), "title": "x"})
	l := schema.NewList("posts", []*schema.Field{{Key: "title"}})
	l.Access.Filter = func(ctx context.Context, op schema.Operation, session any) schema.Filter {
		return schema.FilterNone()
	}
	p := newTestPipeline(t, st, l)

	_, err := p.UpdateOne(context.Background(), "posts",
		map[string]any{"id": 1}, map[string]any{"title": "y"}, nil)

	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Empty(t, st.calls)
}

func TestUpdateByUniqueFieldWritesThroughCanonicalID(t *testing.T) {
	st := newMemStore()
	st.seed("users", store.Item{"id": int64(7), "email": "ada@example.com", "role": "member"})
	p := newTestPipeline(t, st, schema.NewList("users", []*schema.Field{
		{Key: "email", Unique: true},
		{Key: "role"},
	}))

	item, err := p.UpdateOne(context.Background(), "users",
		map[string]any{"email": "ada@example.com"}, map[string]any{"role": "admin"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), item["id"])
	assert.Equal(t, "admin", item["role"])
}

func TestDeleteRunsLifecycleAndReturnsRow(t *testing.T) {
	st := newMemStore()
	st.seed("users", store.Item{"id": int64(3), "email": "gone@example.com"})
	var sawExisting store.Item
	l := schema.NewList("users", []*schema.Field{{Key: "email", Unique: true}})
	l.Hooks.Validate = map[schema.Operation]schema.ValidateHook{
		schema.OpDelete: func(ctx context.Context, args *schema.HookArgs) error {
			sawExisting = args.Existing
			return nil
		},
	}
	p := newTestPipeline(t, st, l)

	item, err := p.DeleteOne(context.Background(), "users", map[string]any{"id": 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gone@example.com", item["email"])
	assert.Equal(t, "gone@example.com", sawExisting["email"])
	assert.Empty(t, st.rows("users"))
}

func TestDeleteManyIsolatesFailures(t *testing.T) {
	st := newMemStore()
	st.seed("users",
		store.Item{"id": int64(1), "email": "a@example.com"},
		store.Item{"id": int64(2), "email": "b@example.com"},
	)
	p := newTestPipeline(t, st, schema.NewList("users", []*schema.Field{{Key: "email"}}))

	results, err := p.DeleteMany(context.Background(), "users", []map[string]any{
		{"id": 1},
		{"id": 42},
		{"id": 2},
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Empty(t, st.rows("users"))
}

func TestMultiFieldExpandsToColumns(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st, schema.NewList("users", []*schema.Field{
		{Key: "name", Kind: schema.KindMulti, SubKeys: []string{"first", "last"}},
	}))

	_, err := p.CreateOne(context.Background(), "users", map[string]any{
		"name": map[string]any{"first": "Ada", "last": "Lovelace"},
	}, nil)
	require.NoError(t, err)

	row := st.row("users", int64(1))
	require.NotNil(t, row)
	assert.Equal(t, "Ada", row["name_first"])
	assert.Equal(t, "Lovelace", row["name_last"])
	_, hasCombined := row["name"]
	assert.False(t, hasCombined)
}

func TestExplicitNullReachesStoreForJSONFields(t *testing.T) {
	st := newMemStore()
	st.seed("users", store.Item{"id": int64(1), "prefs": `{"theme":"dark"}`})
	p := newTestPipeline(t, st, schema.NewList("users", []*schema.Field{
		{Key: "prefs", JSON: true},
	}))

	_, err := p.UpdateOne(context.Background(), "users",
		map[string]any{"id": 1}, map[string]any{"prefs": nil}, nil)
	require.NoError(t, err)

	row := st.row("users", int64(1))
	val, present := row["prefs"]
	assert.True(t, present)
	assert.Nil(t, val)
}

func TestStringIDListsGenerateUUIDs(t *testing.T) {
	st := newMemStore()
	l := schema.NewList("tokens", []*schema.Field{{Key: "label"}})
	l.IDKind = schema.IDString
	p := newTestPipeline(t, st, l)

	item, err := p.CreateOne(context.Background(), "tokens", map[string]any{"label": "x"}, nil)
	require.NoError(t, err)

	id, ok := item["id"].(string)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
}

func TestSingletonCreatePinsIDToOne(t *testing.T) {
	st := newMemStore()
	l := schema.NewList("settings", []*schema.Field{{Key: "site_name"}})
	l.IDKind = schema.IDSingleton
	p := newTestPipeline(t, st, l)

	item, err := p.CreateOne(context.Background(), "settings", map[string]any{"site_name": "keystone"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, item["id"])

	// The empty unique input resolves to the singleton row.
	updated, err := p.UpdateOne(context.Background(), "settings",
		map[string]any{}, map[string]any{"site_name": "renamed"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated["site_name"])
}

func TestUnknownListIsValidationError(t *testing.T) {
	p := newTestPipeline(t, newMemStore(), schema.NewList("users", []*schema.Field{{Key: "email"}}))

	_, err := p.CreateOne(context.Background(), "ghosts", map[string]any{}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestWriteUsesRequestLimiter(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st, schema.NewList("users", []*schema.Field{{Key: "email"}}))

	limiter := store.NewWriteLimiter()
	ctx := store.WithWriteLimiter(context.Background(), limiter)

	_, err := p.CreateOne(ctx, "users", map[string]any{"email": "a@b.c"}, nil)
	require.NoError(t, err)

	// The slot must be free again after the write.
	require.NoError(t, limiter.Acquire(context.Background()))
	limiter.Release()
}
