package audit

import (
	"fmt"
	"strings"
)

// dialect selects placeholder syntax so the postgres and sqlite stores
// share one predicate compiler. Every query path goes through this
// builder; filter semantics cannot diverge between entry points.
type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

func (d dialect) placeholder(n int) string {
	if d == dialectSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// sortColumn maps the allow-listed sort fields to columns. The set is
// exactly the indexed columns; adding a filter here requires adding the
// matching index in the schema.
var sortColumn = map[SortField]string{
	SortTimestamp:   "timestamp",
	SortContentType: "content_type",
	SortAction:      "action",
	SortUser:        "user_id",
}

// whereBuilder accumulates AND-ed predicates with positional args.
type whereBuilder struct {
	d     dialect
	conds []string
	args  []interface{}
}

func (b *whereBuilder) add(column, op string, arg interface{}) {
	b.args = append(b.args, arg)
	b.conds = append(b.conds, fmt.Sprintf("%s %s %s", column, op, b.d.placeholder(len(b.args))))
}

// addLike adds a contains match with an explicit escape character;
// sqlite has no default LIKE escape.
func (b *whereBuilder) addLike(column string, arg string) {
	b.args = append(b.args, arg)
	b.conds = append(b.conds, fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, column, b.d.placeholder(len(b.args))))
}

func (b *whereBuilder) clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// compileFilter turns a FilterSpec's predicates into a WHERE clause.
// Only allow-listed columns ever appear; all values are bound args, so
// no caller-supplied string reaches the SQL text.
func compileFilter(d dialect, spec FilterSpec) *whereBuilder {
	b := &whereBuilder{d: d}
	if spec.ContentType != "" {
		b.add("content_type", "=", spec.ContentType)
	}
	if spec.UserID != nil {
		b.add("user_id", "=", *spec.UserID)
	}
	if spec.Action != "" {
		b.add("action", "=", string(spec.Action))
	}
	if spec.RecordID != "" {
		b.add("record_id", "=", spec.RecordID)
	}
	if spec.RequestID != "" {
		b.add("request_id", "=", spec.RequestID)
	}
	if spec.IPAddress != "" {
		b.add("ip_address", "=", spec.IPAddress)
	}
	if spec.UserAgent != "" {
		b.addLike("user_agent", "%"+escapeLike(spec.UserAgent)+"%")
	}
	if spec.StartDate != nil {
		b.add("timestamp", ">=", *spec.StartDate)
	}
	if spec.EndDate != nil {
		b.add("timestamp", "<=", *spec.EndDate)
	}
	return b
}

// orderClause renders the stable sort: requested key first, id ascending
// tie-break second so duplicate sort values cannot shuffle page
// boundaries under concurrent writes.
func orderClause(spec FilterSpec) string {
	column, ok := sortColumn[spec.SortField]
	if !ok {
		column = "timestamp"
	}
	direction := "DESC"
	if spec.SortDir == SortAsc {
		direction = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id ASC", column, direction)
}

// escapeLike neutralizes LIKE metacharacters in contains matches.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
