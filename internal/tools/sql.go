package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	_ "modernc.org/sqlite"

	"github.com/example/query-router-agent/internal/providers/llm"
)

var ErrUnsafeSQL = errors.New("only a single read-only SELECT statement is allowed")

const defaultMaxRows = 50

var writeKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "DROP": {}, "ALTER": {},
	"CREATE": {}, "ATTACH": {}, "DETACH": {}, "PRAGMA": {}, "REPLACE": {}, "VACUUM": {},
}

// OpenSQLite opens a SQLite database. An empty dsn opens a private in-memory
// database; in that case the pool is pinned to one connection because every
// new connection would otherwise see a different empty database.
func OpenSQLite(dsn string) (*sql.DB, error) {
	memory := dsn == "" || dsn == ":memory:"
	if memory {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

type column struct {
	Name string
	Type string
}

type tableSchema struct {
	Name    string
	Columns []column
}

// SQLTool answers questions over tabular data: the LLM writes a SELECT for the
// question, the tool runs it and the LLM phrases the rows as an answer.
type SQLTool struct {
	name        string
	description string
	db          *sql.DB
	client      llm.Client
	tables      []tableSchema
	MaxRows     int
}

// NewSQLTool introspects the tables of db. Only the listed tables are exposed
// to the model; an empty list exposes every user table.
func NewSQLTool(ctx context.Context, name, description string, db *sql.DB, client llm.Client, tables ...string) (*SQLTool, error) {
	if len(tables) == 0 {
		rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				rows.Close()
				return nil, err
			}
			tables = append(tables, t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("sql tool %s: database has no tables", name)
	}
	t := &SQLTool{name: name, description: description, db: db, client: client, MaxRows: defaultMaxRows}
	for _, tbl := range tables {
		schema, err := describeTable(ctx, db, tbl)
		if err != nil {
			return nil, err
		}
		t.tables = append(t.tables, schema)
	}
	return t, nil
}

func describeTable(ctx context.Context, db *sql.DB, table string) (tableSchema, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return tableSchema{}, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()
	s := tableSchema{Name: table}
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return tableSchema{}, err
		}
		s.Columns = append(s.Columns, column{Name: name, Type: typ})
	}
	if err := rows.Err(); err != nil {
		return tableSchema{}, err
	}
	if len(s.Columns) == 0 {
		return tableSchema{}, fmt.Errorf("table %s does not exist", table)
	}
	return s, nil
}

func (t *SQLTool) Name() string        { return t.name }
func (t *SQLTool) Description() string { return t.description }

func (t *SQLTool) Query(ctx context.Context, text string) (string, error) {
	raw, err := t.client.GenerateText(ctx, t.sqlPrompt(text))
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}
	stmt, err := cleanSQL(raw)
	if err != nil {
		return "", err
	}
	table, err := t.run(ctx, stmt)
	if err != nil {
		return "", fmt.Errorf("run sql %q: %w", stmt, err)
	}
	answer, err := t.client.GenerateText(ctx, fmt.Sprintf(`Given an input question, a SQL query that was run against the database and its result, write a concise natural-language answer.

SQL: %s
Result:
%s
Question: %s`, stmt, table, text))
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func (t *SQLTool) sqlPrompt(question string) string {
	var b strings.Builder
	b.WriteString("Write one SQLite SELECT statement that answers the question below. ")
	b.WriteString("Use only the tables and columns listed. Return only the SQL, no prose, no code fences.\n\nSchema:\n")
	for _, s := range t.tables {
		cols := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			cols[i] = c.Name + " " + c.Type
		}
		fmt.Fprintf(&b, "- %s(%s)\n", s.Name, strings.Join(cols, ", "))
	}
	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return b.String()
}

// run executes stmt on a connection switched to query_only, so SQLite itself
// refuses writes, and renders at most MaxRows rows as a pipe-separated table.
func (t *SQLTool) run(ctx context.Context, stmt string) (string, error) {
	conn, err := t.db.Conn(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return "", fmt.Errorf("enable query_only: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF")

	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	limit := t.MaxRows
	if limit <= 0 {
		limit = defaultMaxRows
	}
	var b strings.Builder
	b.WriteString(strings.Join(cols, " | "))
	b.WriteByte('\n')
	n := 0
	for rows.Next() {
		if n == limit {
			fmt.Fprintf(&b, "... (truncated at %d rows)\n", limit)
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		cells := make([]string, len(cols))
		for i, v := range vals {
			cells[i] = formatCell(v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
		n++
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if n == 0 {
		b.WriteString("(no rows)\n")
	}
	return b.String(), nil
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// cleanSQL strips code fences and a trailing semicolon and rejects anything
// that is not a single SELECT (or WITH ... SELECT) statement. Keywords inside
// string literals are ignored. This is a first screen; run enforces read-only
// access in the engine.
func cleanSQL(raw string) (string, error) {
	s := strings.TrimSpace(stripFences(raw))
	if i := strings.Index(strings.ToUpper(s), "SQLQUERY:"); i != -1 {
		s = strings.TrimSpace(s[i+len("SQLQUERY:"):])
	}
	s = strings.TrimSpace(strings.TrimRight(s, "; \n\t"))
	code := strings.ToUpper(blankLiterals(s))
	if s == "" || strings.Contains(code, ";") {
		return "", ErrUnsafeSQL
	}
	if !strings.HasPrefix(code, "SELECT") && !strings.HasPrefix(code, "WITH") {
		return "", ErrUnsafeSQL
	}
	words := strings.FieldsFunc(code, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		if _, ok := writeKeywords[w]; ok {
			return "", ErrUnsafeSQL
		}
	}
	return s, nil
}

// blankLiterals replaces the contents of '...' strings and "..." identifiers
// with spaces. An unterminated literal runs to the end of s.
func blankLiterals(s string) string {
	b := []byte(s)
	var quote byte
	for i, c := range b {
		switch {
		case quote == 0 && (c == '\'' || c == '"'):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
			b[i] = ' '
		}
	}
	return string(b)
}

// stripFences removes a surrounding ```lang ... ``` block.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	// drop possible language hint
	if idx := strings.IndexByte(t, '\n'); idx != -1 {
		t = t[idx+1:]
	}
	if j := strings.LastIndex(t, "```"); j != -1 {
		t = t[:j]
	}
	return strings.TrimSpace(t)
}
