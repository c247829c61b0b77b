package database

import (
	"strconv"
	"strings"
)

// Rebind rewrites Postgres $N placeholders into positional ? placeholders
// for SQLite, reordering (and duplicating) args to match. Queries for
// Postgres are returned untouched.
func Rebind(dialect Dialect, query string, args []any) (string, []any) {
	if dialect != SQLite || !strings.Contains(query, "$") {
		return query, args
	}

	var b strings.Builder
	b.Grow(len(query))
	bound := make([]any, 0, len(args))

	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}

		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}

		n, _ := strconv.Atoi(query[i+1 : j])
		if n >= 1 && n <= len(args) {
			bound = append(bound, args[n-1])
		}
		b.WriteByte('?')
		i = j - 1
	}

	return b.String(), bound
}
