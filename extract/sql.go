package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/dialogkit/dialogkit/llm"
)

// sqlPrompt is the system prompt for natural-language-to-SQL.
const sqlPrompt = `You translate user questions into SQLite SELECT statements.
You are given the schema of a read-only database.

Rules:
- Output ONLY the SQL statement, no markdown, no explanation.
- SELECT statements only. Never modify data.
- Include a LIMIT clause.`

// NL2SQL generates read-only SQL from user text. The caller is
// expected to validate the statement before executing it.
type NL2SQL struct {
	provider llm.Provider
}

// NewNL2SQL creates a generator over the given provider.
func NewNL2SQL(provider llm.Provider) *NL2SQL {
	return &NL2SQL{provider: provider}
}

// GenerateSQL produces a statement answering text against schema.
func (g *NL2SQL) GenerateSQL(ctx context.Context, text, schema string) (string, error) {
	if g.provider == nil {
		return "", fmt.Errorf("no llm provider configured")
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty query text")
	}

	user := fmt.Sprintf("Schema:\n%s\n\nQuestion: %s", schema, text)
	resp, err := g.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: sqlPrompt},
			{Role: "user", Content: user},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}

	stmt := strings.TrimSpace(resp.Content)
	if strings.HasPrefix(stmt, "```") {
		stmt = strings.TrimPrefix(stmt, "```sql")
		stmt = strings.TrimPrefix(stmt, "```")
		if i := strings.Index(stmt, "```"); i >= 0 {
			stmt = stmt[:i]
		}
		stmt = strings.TrimSpace(stmt)
	}
	return stmt, nil
}
