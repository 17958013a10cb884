package database

import (
	"fmt"
	"strings"
)

// jobConditions collects WHERE conditions for job listings. Each format
// holds one %d, replaced by the next placeholder number.
type jobConditions struct {
	clauses []string
	args    []any
}

func (c *jobConditions) add(format string, val any) {
	c.args = append(c.args, val)
	c.clauses = append(c.clauses, fmt.Sprintf(format, len(c.args)))
}

// jobWhere translates a JobFilter into a WHERE clause (with leading space)
// and its arguments. An empty filter yields "" and no arguments.
func jobWhere(f JobFilter) (string, []any) {
	var c jobConditions
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		c.add("status = ANY($%d)", statuses)
	}
	if f.Source != "" {
		c.add("source = $%d", f.Source)
	}
	if f.Since != nil {
		c.add("created_at >= $%d", *f.Since)
	}
	if len(c.clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(c.clauses, " AND "), c.args
}
