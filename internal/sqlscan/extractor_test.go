package sqlscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSimpleSelect(t *testing.T) {
	ent := Extract("SELECT day, amount FROM sales LIMIT 50")

	assert.True(t, ent.ParsedOK)
	assert.Equal(t, []string{"sales"}, ent.Tables)
	assert.ElementsMatch(t, []ColumnRef{
		{Table: "", Name: "day"},
		{Table: "", Name: "amount"},
	}, ent.Columns)
	assert.False(t, ent.MissingLimit)
	assert.False(t, ent.Bulk)
}

func TestExtractJoinWithAliases(t *testing.T) {
	ent := Extract("SELECT u.email, o.total FROM users u JOIN orders o ON u.id = o.user_id LIMIT 10")

	assert.True(t, ent.ParsedOK)
	assert.ElementsMatch(t, []string{"users", "orders"}, ent.Tables)
	assert.Contains(t, ent.Columns, ColumnRef{Table: "u", Name: "email"})
	assert.Contains(t, ent.Columns, ColumnRef{Table: "o", Name: "total"})
}

func TestExtractSubquery(t *testing.T) {
	ent := Extract("SELECT name FROM users WHERE id IN (SELECT user_id FROM orders WHERE total > 10) LIMIT 5")

	assert.True(t, ent.ParsedOK)
	assert.ElementsMatch(t, []string{"users", "orders"}, ent.Tables)
}

func TestExtractSchemaQualifierStripped(t *testing.T) {
	ent := Extract("SELECT id FROM public.users LIMIT 1")

	assert.True(t, ent.ParsedOK)
	assert.Equal(t, []string{"users"}, ent.Tables)
}

func TestExtractDML(t *testing.T) {
	ins := Extract("INSERT INTO audit_log (event) VALUES ('x')")
	assert.True(t, ins.ParsedOK)
	assert.Equal(t, []string{"audit_log"}, ins.Tables)

	upd := Extract("UPDATE users SET name = 'x' WHERE id = 1")
	assert.True(t, upd.ParsedOK)
	assert.Equal(t, []string{"users"}, upd.Tables)
	assert.False(t, upd.MissingLimit, "missing_limit applies to SELECT only")

	del := Extract("DELETE FROM sessions WHERE expired = true")
	assert.True(t, del.ParsedOK)
	assert.Equal(t, []string{"sessions"}, del.Tables)
}

func TestExtractParseFailure(t *testing.T) {
	ent := Extract("SELEKT * FORM users")

	assert.False(t, ent.ParsedOK)
	assert.Empty(t, ent.Tables)
	assert.Empty(t, ent.Columns)
}

func TestMissingLimitAndBulk(t *testing.T) {
	noLimit := Extract("SELECT name FROM users")
	assert.True(t, noLimit.MissingLimit)
	assert.True(t, noLimit.Bulk)

	star := Extract("SELECT * FROM users")
	assert.True(t, star.MissingLimit)
	assert.True(t, star.Bulk)
	assert.Contains(t, star.Columns, ColumnRef{Table: "", Name: "*"})

	starLimited := Extract("SELECT * FROM users LIMIT 5")
	assert.False(t, starLimited.MissingLimit)
	assert.False(t, starLimited.Bulk)

	// The textual flags survive parse failures.
	broken := Extract("SELECT !!! nonsense")
	assert.False(t, broken.ParsedOK)
	assert.True(t, broken.MissingLimit)
}

func TestColumnRefKey(t *testing.T) {
	assert.Equal(t, "users.email", ColumnRef{Table: "users", Name: "email"}.Key())
	assert.Equal(t, "email", ColumnRef{Table: "", Name: "email"}.Key())
}
