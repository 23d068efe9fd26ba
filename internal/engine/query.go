package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"polyglot-sandbox/internal/policy"
)

// QueryEngine executes SQL against an embedded, per-session, in-memory
// SQLite database. Databases are never shared across sessions and live until
// Cleanup releases them.
type QueryEngine struct {
	policies *policy.Store

	mu       sync.Mutex
	sessions map[string]*querySession
}

type querySession struct {
	db *sql.DB

	mu     sync.Mutex
	seeded bool
}

// seed loads sample data exactly once per session. Concurrent requests
// sharing a session serialize here so the DDL runs a single time.
func (s *querySession) seed(ctx context.Context, ddl string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	s.seeded = true
	return nil
}

func NewQueryEngine(policies *policy.Store) *QueryEngine {
	return &QueryEngine{
		policies: policies,
		sessions: make(map[string]*querySession),
	}
}

var (
	firstKeywordRe = regexp.MustCompile(`(?i)^\s*([a-z]+)`)
	tableRefRe     = regexp.MustCompile(`(?i)\b(?:from|join|into|update|table(?:\s+if\s+(?:not\s+)?exists)?)\s+["']?([a-z_][a-z0-9_]*)`)
)

func (e *QueryEngine) Execute(ctx context.Context, req *Request) *Result {
	start := time.Now()
	pol := e.policies.Get(policy.LangSQL)

	query := strings.TrimSpace(req.Code)
	if query == "" {
		return failure(start, "no query to execute")
	}
	if int64(len(query)) > pol.MaxCodeBytes {
		return failure(start, fmt.Sprintf("query exceeds %d byte limit", pol.MaxCodeBytes))
	}

	session, err := e.session(req.SessionID)
	if err != nil {
		return failure(start, "opening session database: "+err.Error())
	}

	// The query timeout is policy-owned and independent of the other
	// engines' deadlines; it nests inside the controller's context.
	queryCtx, cancel := context.WithTimeout(ctx, pol.MaxExecutionTime)
	defer cancel()

	if req.Options.SampleData != "" {
		if err := session.seed(queryCtx, req.Options.SampleData); err != nil {
			return failure(start, "loading sample data: "+err.Error())
		}
	}

	kind := classifyQuery(query)
	tables := extractTables(query)
	metadata := map[string]any{
		"query_type": kind,
		"tables":     tables,
	}

	result := &Result{Duration: 0, Metadata: metadata}

	switch kind {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN":
		table, rowCount, err := e.runQuery(queryCtx, session.db, query)
		if err != nil {
			result.Error = queryErrorMessage(err, queryCtx, pol.MaxExecutionTime)
			result.Duration = since(start)
			return result
		}
		result.Success = true
		result.Output = fmt.Sprintf("%d row(s) returned", rowCount)
		result.VisualOutput = truncate(table, pol.MaxOutputBytes)
		metadata["row_count"] = rowCount

	default:
		res, err := session.db.ExecContext(queryCtx, query)
		if err != nil {
			result.Error = queryErrorMessage(err, queryCtx, pol.MaxExecutionTime)
			result.Duration = since(start)
			return result
		}
		affected, _ := res.RowsAffected()
		result.Success = true
		result.Output = fmt.Sprintf("%s completed, %d row(s) affected", kind, affected)
		metadata["rows_affected"] = affected
	}

	result.Duration = since(start)
	return result
}

func (e *QueryEngine) runQuery(ctx context.Context, db *sql.DB, query string) (string, int, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return "", 0, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	b.WriteString(`<table class="sql-result"><thead><tr>`)
	for _, col := range columns {
		b.WriteString("<th>" + html.EscapeString(col) + "</th>")
	}
	b.WriteString("</tr></thead><tbody>")

	count := 0
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", count, err
		}
		b.WriteString("<tr>")
		for _, v := range values {
			b.WriteString("<td>" + renderCell(v) + "</td>")
		}
		b.WriteString("</tr>")
		count++
	}
	if err := rows.Err(); err != nil {
		return "", count, err
	}

	b.WriteString("</tbody></table>")
	return b.String(), count, nil
}

// renderCell HTML-escapes every value so injected markup in result sets
// cannot execute in the result view. NULL is rendered distinctly.
func renderCell(v any) string {
	if v == nil {
		return `<span class="null">NULL</span>`
	}
	switch val := v.(type) {
	case []byte:
		return html.EscapeString(string(val))
	case time.Time:
		return html.EscapeString(val.Format(time.RFC3339))
	default:
		return html.EscapeString(fmt.Sprintf("%v", val))
	}
}

// ValidateCode accepts statements beginning with a known SQL keyword.
func (e *QueryEngine) ValidateCode(code string) bool {
	kind := classifyQuery(code)
	switch kind {
	case "SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER",
		"WITH", "PRAGMA", "EXPLAIN", "BEGIN", "COMMIT", "ROLLBACK", "REPLACE":
		return true
	}
	return false
}

func (e *QueryEngine) Cleanup(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	closeSession := func(id string, s *querySession) {
		if err := s.db.Close(); err != nil {
			log.Warn().Str("session_id", id).Err(err).Msg("closing session database")
		}
		delete(e.sessions, id)
	}

	if sessionID == "" {
		for id, s := range e.sessions {
			closeSession(id, s)
		}
		return
	}
	if s, ok := e.sessions[sessionID]; ok {
		closeSession(sessionID, s)
	}
}

func (e *QueryEngine) session(id string) (*querySession, error) {
	if id == "" {
		id = "default"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions[id]; ok {
		return s, nil
	}

	// One connection per session keeps the in-memory database alive and
	// matches the single-threaded resource model.
	db, err := sql.Open("sqlite", "file:"+id+"?mode=memory&cache=shared")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &querySession{db: db}
	e.sessions[id] = s
	log.Debug().Str("session_id", id).Msg("session database created")
	return s, nil
}

// classifyQuery returns the uppercased leading keyword for metadata.
func classifyQuery(query string) string {
	m := firstKeywordRe.FindStringSubmatch(query)
	if m == nil {
		return "UNKNOWN"
	}
	return strings.ToUpper(m[1])
}

// extractTables lexically scans for table references after FROM/JOIN/INTO/
// UPDATE/TABLE, uppercased and deduplicated. Best-effort display metadata: it
// can over- and under-report for subqueries, quoted identifiers, and CTEs.
func extractTables(query string) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, m := range tableRefRe.FindAllStringSubmatch(query, -1) {
		name := strings.ToUpper(m[1])
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	sort.Strings(tables)
	return tables
}

func queryErrorMessage(err error, ctx context.Context, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return fmt.Sprintf("query timed out after %s", timeout)
	}
	return err.Error()
}
