package credential

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ErrorLog persists credential failures to the api_error_log table so
// operators can see which keys are degrading and why.
type ErrorLog struct {
	db *sql.DB
}

func NewErrorLog(db *sql.DB) *ErrorLog {
	return &ErrorLog{db: db}
}

func (l *ErrorLog) Record(ctx context.Context, credentialName, errorType, message string) error {
	query := `INSERT INTO api_error_log (credential_name, error_type, message) VALUES ($1, $2, $3)`
	if _, err := l.db.ExecContext(ctx, query, credentialName, errorType, message); err != nil {
		return fmt.Errorf("failed to record credential error: %w", err)
	}
	return nil
}

// CountSince returns per-credential failure counts newer than the cutoff,
// used by the credential status endpoint.
func (l *ErrorLog) CountSince(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `SELECT credential_name, COUNT(*) FROM api_error_log WHERE created_at >= $1 GROUP BY credential_name`
	rows, err := l.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count credential errors: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("failed to scan credential error count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}
