package fhir

import (
	"fmt"
	"strings"
)

// SearchQuery builds parameterised SQL for FHIR searches. Clauses are joined
// with AND and reference arguments as $1, $2, ... in the order they are added.
type SearchQuery struct {
	from    string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewSearchQuery creates a SearchQuery over from, which may include joins.
func NewSearchQuery(from, cols string) *SearchQuery {
	return &SearchQuery{
		from: from,
		cols: cols,
		idx:  1,
	}
}

// Idx returns the next available parameter index.
func (q *SearchQuery) Idx() int { return q.idx }

// Add appends a WHERE fragment. Placeholders in clause must start at Idx().
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// AddEq adds "column = $n".
func (q *SearchQuery) AddEq(column string, value interface{}) {
	q.Add(fmt.Sprintf("%s = $%d", column, q.idx), value)
}

// AddTokenPair adds an exact system+code match.
func (q *SearchQuery) AddTokenPair(sysCol, codeCol, system, code string) {
	q.Add(fmt.Sprintf("(%s = $%d AND %s = $%d)", sysCol, q.idx, codeCol, q.idx+1), system, code)
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

// Where returns the accumulated filter, starting with "1=1".
func (q *SearchQuery) Where() string {
	return "1=1" + q.where
}

// CountSQL returns the count query SQL.
func (q *SearchQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", q.from, q.Where())
}

// CountArgs returns the arguments for the count query.
func (q *SearchQuery) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the data query SQL with ORDER BY and LIMIT/OFFSET.
func (q *SearchQuery) DataSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s", q.cols, q.from, q.Where())
	if q.orderBy != "" {
		b.WriteString(" ORDER BY " + q.orderBy)
	}
	fmt.Fprintf(&b, " LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return b.String()
}

// DataArgs returns the arguments for the data query (search args + limit + offset).
func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}

// SplitToken splits a "system|code" token on the first '|'. ok is false when
// the separator is missing or either side is empty.
func SplitToken(value string) (system, code string, ok bool) {
	system, code, found := strings.Cut(value, "|")
	if !found || system == "" || code == "" {
		return "", "", false
	}
	return system, code, true
}
