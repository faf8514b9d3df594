package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	_ "modernc.org/sqlite"

	"github.com/dialogkit/dialogkit/errors"
	"github.com/dialogkit/dialogkit/logging"
)

// bannedSQLKeywords lists statement keywords that disqualify a
// generated query. Matching is on whole tokens, case-insensitive.
var bannedSQLKeywords = map[string]bool{
	"insert":   true,
	"update":   true,
	"delete":   true,
	"drop":     true,
	"truncate": true,
	"alter":    true,
	"create":   true,
	"grant":    true,
	"revoke":   true,
	"commit":   true,
	"rollback": true,
	"attach":   true,
	"pragma":   true,
	"vacuum":   true,
	"replace":  true,
}

// ValidateQuery checks that a generated statement is a read-only
// SELECT free of mutating or administrative keywords. It does not
// bound the result size; see EnsureLimit.
func ValidateQuery(q string) error {
	tokens := sqlTokens(q)
	if len(tokens) == 0 {
		return errors.QueryRejected("empty query")
	}
	if tokens[0] != "select" {
		return errors.QueryRejected("only SELECT statements are allowed")
	}
	for _, tok := range tokens {
		if bannedSQLKeywords[tok] {
			return errors.QueryRejected("forbidden keyword: " + tok)
		}
	}
	return nil
}

// EnsureLimit appends a LIMIT clause when the statement has none.
func EnsureLimit(q string, limit int) string {
	for _, tok := range sqlTokens(q) {
		if tok == "limit" {
			return q
		}
	}
	return strings.TrimRight(strings.TrimSpace(q), ";") + " LIMIT " + strconv.Itoa(limit)
}

func sqlTokens(q string) []string {
	return strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// Template generates a SELECT for one table by matching query
// keywords against its text columns.
type Template struct {
	// Table is the table to query.
	Table string

	// SearchColumns are matched against query keywords with LIKE.
	SearchColumns []string

	// SelectColumns are the projected columns. Empty selects all.
	SelectColumns []string
}

func (t Template) build(keywords []string) (string, []interface{}) {
	cols := "*"
	if len(t.SelectColumns) > 0 {
		cols = strings.Join(t.SelectColumns, ", ")
	}

	var (
		conds []string
		args  []interface{}
	)
	for _, kw := range keywords {
		for _, col := range t.SearchColumns {
			conds = append(conds, col+" LIKE ?")
			args = append(args, "%"+kw+"%")
		}
	}

	q := "SELECT " + cols + " FROM " + t.Table
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " OR ")
	}
	return q, args
}

// SQLGenerator turns natural-language text into a SQL statement. The
// result still passes ValidateQuery before execution.
type SQLGenerator interface {
	GenerateSQL(ctx context.Context, text, schema string) (string, error)
}

// StructuredConfig configures a StructuredSource.
type StructuredConfig struct {
	// Templates maps a scope entry to the template that serves it.
	Templates map[string]Template

	// Generator handles queries no template covers. Optional.
	Generator SQLGenerator

	// Schema is a textual schema description handed to the generator.
	Schema string
}

// StructuredSource retrieves documents from a relational record store
// by generating bounded read-only queries. A generated query that
// fails validation is dropped, never executed.
type StructuredSource struct {
	db  *sql.DB
	cfg StructuredConfig
	log *logging.Logger
}

// NewStructuredSource wraps an existing database handle.
func NewStructuredSource(db *sql.DB, cfg StructuredConfig, log *logging.Logger) *StructuredSource {
	if log == nil {
		log = logging.New()
	}
	return &StructuredSource{db: db, cfg: cfg, log: log.WithComponent("retrieval")}
}

// OpenStructuredSource opens a SQLite database at dsn and wraps it.
func OpenStructuredSource(dsn string, cfg StructuredConfig, log *logging.Logger) (*StructuredSource, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewStructuredSource(db, cfg, log), nil
}

func (s *StructuredSource) Tag() string { return TagStructured }

// Normalized reports false: row order carries the ranking, not a
// comparable score.
func (s *StructuredSource) Normalized() bool { return false }

// Search generates a statement for the first scoped template, or via
// the generator when no template matches, validates it and maps the
// resulting rows to documents.
func (s *StructuredSource) Search(ctx context.Context, text string, scope []string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = DefaultTopK
	}

	stmt, args, ok := s.generate(ctx, text, scope)
	if !ok {
		return nil, nil
	}

	if err := ValidateQuery(stmt); err != nil {
		s.log.QueryRejected(err.Error())
		return nil, nil
	}
	stmt = EnsureLimit(stmt, limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("execute structured query: %w", err)
	}
	defer rows.Close()

	docs, err := rowsToDocuments(rows)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *StructuredSource) generate(ctx context.Context, text string, scope []string) (string, []interface{}, bool) {
	keywords := queryKeywords(text)

	for _, entry := range scope {
		if t, ok := s.cfg.Templates[entry]; ok {
			stmt, args := t.build(keywords)
			return stmt, args, true
		}
	}

	if s.cfg.Generator != nil {
		stmt, err := s.cfg.Generator.GenerateSQL(ctx, text, s.cfg.Schema)
		if err != nil {
			s.log.Warn("sql generation failed", map[string]interface{}{"error": err.Error()})
			return "", nil, false
		}
		return stmt, nil, true
	}
	return "", nil, false
}

// rowsToDocuments renders each row as "col=value" pairs and keeps the
// column values as metadata. Row order becomes the ranking.
func rowsToDocuments(rows *sql.Rows) ([]Document, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var docs []Document
	for i := 0; rows.Next(); i++ {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for j := range vals {
			ptrs[j] = &vals[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		metadata := make(map[string]string, len(cols))
		parts := make([]string, 0, len(cols))
		for j, col := range cols {
			v := renderValue(vals[j])
			metadata[col] = v
			parts = append(parts, col+"="+v)
		}

		id := metadata["id"]
		if id == "" {
			id = "row-" + strconv.Itoa(i)
		}

		docs = append(docs, Document{
			ID:       id,
			Content:  strings.Join(parts, ", "),
			Metadata: metadata,
			RawScore: 1 / float64(i+1),
		})
	}
	return docs, rows.Err()
}

func renderValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// queryKeywords tokenizes query text, dropping stop words and short
// tokens.
func queryKeywords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool)
	var keywords []string
	for _, w := range words {
		if len(w) < 3 || sqlStopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}

var sqlStopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"you": true, "can": true, "what": true, "how": true, "does": true,
	"with": true, "this": true, "that": true, "have": true, "has": true,
	"about": true, "tell": true, "show": true, "find": true, "get": true,
	"want": true, "need": true, "please": true, "would": true, "could": true,
}
