package tools

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// LoadCSV creates table in db from CSV data and returns the number of rows
// inserted. The first record is the header; blank or missing header cells become
// c1, c2, ... . Ragged rows are padded with empty strings. A column is typed
// INTEGER or REAL when every non-empty value parses as one, TEXT otherwise.
func LoadCSV(ctx context.Context, db *sql.DB, table string, r io.Reader) (int, error) {
	rdr := csv.NewReader(r)
	// allow ragged rows
	rdr.FieldsPerRecord = -1
	rdr.TrimLeadingSpace = true

	headers, err := rdr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("csv for table %s is empty", table)
		}
		return 0, err
	}
	cols := columnNames(headers)

	var records [][]string
	for {
		rec, err := rdr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, fmt.Errorf("read csv for table %s: %w", table, err)
		}
		row := make([]string, len(cols))
		for i := range cols {
			if i < len(rec) {
				row[i] = strings.TrimSpace(rec[i])
			}
		}
		records = append(records, row)
	}

	types := inferColumnTypes(len(cols), records)
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c) + " " + types[i]
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return 0, fmt.Errorf("create table %s: %w", table, err)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(table), placeholders))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, rec := range records {
		args := make([]any, len(rec))
		for i, v := range rec {
			args[i] = typedValue(v, types[i])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

func columnNames(headers []string) []string {
	out := make([]string, len(headers))
	seen := map[string]int{}
	for i, h := range headers {
		name := sanitizeIdent(h)
		if name == "" {
			name = fmt.Sprintf("c%d", i+1)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

// sanitizeIdent lowercases s and maps every run of non-alphanumerics to "_".
func sanitizeIdent(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func inferColumnTypes(n int, records [][]string) []string {
	types := make([]string, n)
	for i := 0; i < n; i++ {
		isInt, isReal, seen := true, true, false
		for _, rec := range records {
			v := rec[i]
			if v == "" {
				continue
			}
			seen = true
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isReal = false
			}
		}
		switch {
		case seen && isInt:
			types[i] = "INTEGER"
		case seen && isReal:
			types[i] = "REAL"
		default:
			types[i] = "TEXT"
		}
	}
	return types
}

func typedValue(v, typ string) any {
	if v == "" {
		if typ == "TEXT" {
			return ""
		}
		return nil
	}
	switch typ {
	case "INTEGER":
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case "REAL":
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return v
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// TableName derives a table name from a CSV path or URL: the file name
// without extension, sanitized.
func TableName(source string) string {
	base := source
	if i := strings.LastIndexAny(base, `/\`); i != -1 {
		base = base[i+1:]
	}
	if i := strings.IndexAny(base, "?#"); i != -1 {
		base = base[:i]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	name := sanitizeIdent(base)
	if name == "" {
		return "data"
	}
	if unicode.IsDigit(rune(name[0])) {
		name = "t_" + name
	}
	return name
}
