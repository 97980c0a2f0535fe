package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableName(t *testing.T) {
	cases := map[string]string{
		"users":    "users",
		"user":     "users",
		"BlogPost": "blog_posts",
		"Category": "categories",
		"posts":    "posts",
	}
	for key, want := range cases {
		assert.Equal(t, want, TableName(key), "key %q", key)
	}
}

func TestNewListPreservesFieldOrder(t *testing.T) {
	l := NewList("users", []*Field{
		{Key: "email"},
		{Key: "name"},
		{Key: "bio"},
	})
	assert.Equal(t, []string{"email", "name", "bio"}, l.FieldKeys())
	assert.Equal(t, "users", l.Table)
	assert.Equal(t, "id", l.IDColumn())
}

func TestUniqueFieldKeysIncludesID(t *testing.T) {
	l := NewList("users", []*Field{
		{Key: "email", Unique: true},
		{Key: "bio"},
		{Key: "handle", Unique: true},
	})
	assert.Equal(t, []string{"id", "email", "handle"}, l.UniqueFieldKeys())
}

func TestRegistryResolveRelations(t *testing.T) {
	reg := NewRegistry()
	users := NewList("users", []*Field{
		{Key: "posts", Kind: KindRelation, Ref: "posts", Many: true, ForeignKey: "author"},
	})
	posts := NewList("posts", []*Field{
		{Key: "author", Kind: KindRelation, Ref: "users"},
	})
	require.NoError(t, reg.Register(users))
	require.NoError(t, reg.Register(posts))
	require.NoError(t, reg.ResolveRelations())

	assert.Same(t, posts, users.Fields["posts"].Related())
	assert.Same(t, users, posts.Fields["author"].Related())
}

func TestRegistryRejectsUnknownRef(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewList("posts", []*Field{
		{Key: "author", Kind: KindRelation, Ref: "ghosts"},
	})))
	assert.Error(t, reg.ResolveRelations())
}

func TestRegistryRejectsToManyWithoutForeignKey(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewList("users", []*Field{
		{Key: "posts", Kind: KindRelation, Ref: "posts", Many: true},
	})))
	require.NoError(t, reg.Register(NewList("posts", []*Field{{Key: "title"}})))
	assert.Error(t, reg.ResolveRelations())
}

func TestRegistryRejectsDuplicatesAndLateRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewList("users", []*Field{{Key: "email"}})))
	assert.Error(t, reg.Register(NewList("users", []*Field{{Key: "email"}})))

	require.NoError(t, reg.ResolveRelations())
	assert.Error(t, reg.Register(NewList("posts", []*Field{{Key: "title"}})))
}

func TestRegistryKeysSorted(t *testing.T) {
	reg := NewRegistry()
	for _, key := range []string{"posts", "users", "categories"} {
		require.NoError(t, reg.Register(NewList(key, []*Field{{Key: "x"}})))
	}
	assert.Equal(t, []string{"categories", "posts", "users"}, reg.Keys())
	assert.Nil(t, reg.Get("ghosts"))
}
