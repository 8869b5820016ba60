package sql

import (
	"testing"

	"github.com/easybib/ormresource/dialect"

	"github.com/stretchr/testify/assert"
)

func TestSelector(t *testing.T) {
	t.Run("mysql", func(t *testing.T) {
		query, args := Select(dialect.MySQLPlatform{}, "id", "name").
			From("users").
			Where(EQ("name", "a8m"), In("id", 1, 2)).
			OrderBy("-id", "name").
			Limit(10).
			Offset(5).
			Query()
		assert.Equal(t, "SELECT `id`, `name` FROM `users` WHERE (`name` = ? AND `id` IN (?, ?)) ORDER BY `id` DESC, `name` LIMIT 10 OFFSET 5", query)
		assert.Equal(t, []any{"a8m", 1, 2}, args)
	})

	t.Run("postgres", func(t *testing.T) {
		query, args := Select(dialect.PostgresPlatform{}).
			From("users").
			Where(Or(GT("age", 18), IsNull("age")), NEQ("name", "x")).
			Offset(3).
			Query()
		assert.Equal(t, `SELECT * FROM "users" WHERE (("age" > $1 OR "age" IS NULL) AND "name" <> $2) OFFSET 3`, query)
		assert.Equal(t, []any{18, "x"}, args)
	})

	t.Run("count", func(t *testing.T) {
		query, args := Count(dialect.SQLitePlatform{}).From("t").Where(EQ("parent_id", nil)).Query()
		assert.Equal(t, "SELECT COUNT(*) FROM `t` WHERE `parent_id` IS NULL", query)
		assert.Empty(t, args)
	})

	t.Run("empty_in", func(t *testing.T) {
		query, _ := Select(dialect.SQLitePlatform{}, "id").From("t").Where(In("id")).Query()
		assert.Equal(t, "SELECT `id` FROM `t` WHERE 1 = 0", query)
	})

	t.Run("prefix", func(t *testing.T) {
		query, args := Select(dialect.SQLitePlatform{}, "slug").From("t").Where(HasPrefix("slug", "a_b")).Query()
		assert.Equal(t, "SELECT `slug` FROM `t` WHERE `slug` LIKE ? ESCAPE '\\'", query)
		assert.Equal(t, []any{`a\_b%`}, args)
	})
}

func TestInsertBuilder(t *testing.T) {
	query, args := Insert(dialect.PostgresPlatform{}, "users").Set("name", "a").Set("age", 1).Returning("id").Query()
	assert.Equal(t, `INSERT INTO "users" ("name", "age") VALUES ($1, $2) RETURNING "id"`, query)
	assert.Equal(t, []any{"a", 1}, args)

	query, _ = Insert(dialect.MySQLPlatform{}, "users").Returning("id").Query()
	assert.Equal(t, "INSERT INTO `users` () VALUES ()", query)

	query, _ = Insert(dialect.SQLitePlatform{}, "users").Query()
	assert.Equal(t, "INSERT INTO `users` DEFAULT VALUES", query)
}

func TestUpdateBuilder(t *testing.T) {
	u := Update(dialect.MySQLPlatform{}, "category")
	assert.True(t, u.Empty())
	query, args := u.Add("rgt", 2).Set("title", "x").Where(GTE("rgt", 4)).Query()
	assert.Equal(t, "UPDATE `category` SET `rgt` = `rgt` + ?, `title` = ? WHERE `rgt` >= ?", query)
	assert.Equal(t, []any{int64(2), "x", 4}, args)
}

func TestDeleteBuilder(t *testing.T) {
	query, args := Delete(dialect.PostgresPlatform{}, "category").Where(GT("lft", 1), LT("rgt", 6)).Query()
	assert.Equal(t, `DELETE FROM "category" WHERE ("lft" > $1 AND "rgt" < $2)`, query)
	assert.Equal(t, []any{1, 6}, args)
}
