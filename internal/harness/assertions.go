package harness

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/reconcilor/internal/store"
)

// sqlIdentifier is the shape allowed for table and column names in
// final_state assertions. Identifiers are interpolated; values never are.
var sqlIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError describes a failed assertion together with the trace it was
// checked against.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&b, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  Actual: %s\n", e.Actual)
	if len(e.Trace) == 0 {
		return b.String()
	}

	b.WriteString("\nFull trace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&b, "  [%d] cycle %d %s", i+1, event.Cycle, event.Label())
		if event.Error != "" {
			fmt.Fprintf(&b, " (%s)", event.Error)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func traceFailure(kind, expected, actual string, trace []TraceEvent) *AssertionError {
	return &AssertionError{Type: kind, Expected: expected, Actual: actual, Trace: trace}
}

func stateFailure(expected, actual string) *AssertionError {
	return &AssertionError{Type: AssertFinalState, Expected: expected, Actual: actual}
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Label() == a.Action && matchArgs(event.Fields(), a.Args) {
			return nil
		}
	}
	return traceFailure(AssertTraceContains,
		fmt.Sprintf("event %s with fields %v", a.Action, a.Args),
		"not found in trace", trace)
}

// assertTraceOrder checks that each label first appears after the first
// appearance of the one before it. Other events may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	first := make(map[string]int, len(a.Actions))
	for i, event := range trace {
		label := event.Label()
		if _, seen := first[label]; !seen {
			first[label] = i
		}
	}

	for _, label := range a.Actions {
		if _, ok := first[label]; !ok {
			return traceFailure(AssertTraceOrder,
				fmt.Sprintf("all events present: %v", a.Actions),
				"missing event: "+label, trace)
		}
	}

	for i := 1; i < len(a.Actions); i++ {
		prev, curr := a.Actions[i-1], a.Actions[i]
		if first[prev] >= first[curr] {
			return traceFailure(AssertTraceOrder,
				fmt.Sprintf("events in order: %v", a.Actions),
				fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, first[prev]+1, curr, first[curr]+1),
				trace)
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, event := range trace {
		if event.Label() == a.Action {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return traceFailure(AssertTraceCount,
		fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
		fmt.Sprintf("%d occurrences", n), trace)
}

// assertFinalState requires exactly one row of a.Table to match a.Where and
// compares the columns named in a.Expect against it.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if a.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}
	if !sqlIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, sqlIdentifier)
	}
	where, args, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}

	query := "SELECT * FROM " + a.Table
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return stateFailure("query table "+a.Table, fmt.Sprintf("query error: %v", err))
	}
	defer rows.Close()

	row, n, err := scanFirstRow(rows)
	if err != nil {
		return err
	}
	switch {
	case n == 0:
		return stateFailure(
			fmt.Sprintf("row in %s where %s", a.Table, formatWhereClause(a.Where)),
			"row not found")
	case n > 1:
		return stateFailure(
			fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhereClause(a.Where)),
			"multiple rows matched (assertion is ambiguous)")
	}

	keys := sortedKeys(a.Expect)
	for _, key := range keys {
		want := a.Expect[key]
		got, ok := row[key]
		if !ok {
			return stateFailure(
				fmt.Sprintf("field %q to exist", key),
				fmt.Sprintf("field %q not present in result columns: %v", key, row.columns()))
		}
		if !stateValuesEqual(want, got) {
			return stateFailure(
				fmt.Sprintf("field %q = %v (type %T)", key, want, want),
				fmt.Sprintf("field %q = %v (type %T)", key, got, got))
		}
	}
	return nil
}

type rowValues map[string]any

func (r rowValues) columns() []string {
	return sortedKeys(map[string]any(r))
}

// scanFirstRow reads the first row of rows and reports whether there were
// zero, one or more rows.
func scanFirstRow(rows *sql.Rows) (rowValues, int, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, 0, fmt.Errorf("get columns: %w", err)
	}
	if !rows.Next() {
		return nil, 0, rows.Err()
	}

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, 0, fmt.Errorf("scan row: %w", err)
	}

	row := make(rowValues, len(columns))
	for i, col := range columns {
		row[col] = values[i]
	}
	if rows.Next() {
		return row, 2, nil
	}
	return row, 1, rows.Err()
}

// buildWhereClause turns where into "col = ?" terms joined by AND, in key
// order, with the values as bind arguments.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	terms := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, key := range keys {
		if !sqlIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, sqlIdentifier)
		}
		terms[i] = key + " = ?"
		args[i] = bindValue(where[key])
	}
	return strings.Join(terms, " AND "), args, nil
}

func bindValue(v any) any {
	switch v.(type) {
	case string, int, int64, bool:
		return v
	}
	return fmt.Sprintf("%v", v)
}

func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, where[k])
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares a YAML value with a value scanned from SQLite,
// where TEXT may arrive as []byte and booleans as integers.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch want := expected.(type) {
	case string:
		switch got := actual.(type) {
		case string:
			return want == got
		case []byte:
			return want == string(got)
		}
		return false
	case int:
		switch got := actual.(type) {
		case int64:
			return int64(want) == got
		case int:
			return want == got
		}
		return false
	case int64:
		got, ok := actual.(int64)
		return ok && want == got
	case bool:
		switch got := actual.(type) {
		case bool:
			return want == got
		case int64:
			return want == (got != 0)
		}
		return false
	}
	return reflect.DeepEqual(expected, actual)
}

// matchArgs reports whether actual holds every key of expected with an
// equal value. Extra keys are ignored.
func matchArgs(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares an event field with a YAML value. Lists compare
// element-wise.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	got, gotList := actual.([]any)
	want, wantList := expected.([]any)
	if gotList != wantList {
		return false
	}
	if !gotList {
		return stateValuesEqual(expected, actual)
	}
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if !valuesEqual(got[i], want[i]) {
			return false
		}
	}
	return true
}

// AssertionContext gives final_state assertions access to the database.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions runs every assertion against result and returns one
// message per failure, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
				break
			}
			err = assertFinalState(actx.Ctx, actx.Store, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}
