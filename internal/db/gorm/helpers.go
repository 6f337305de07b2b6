package gorm

import (
	"database/sql"
	"net/http"
	"strconv"
)

// sqlNullString creates a sql.NullString from a string.
func sqlNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// MaxPaginationLimit is the maximum allowed limit for pagination queries.
const MaxPaginationLimit = 1000

// PaginationParams holds pagination parameters.
type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePaginationParams parses "limit" and "offset" from an HTTP request.
// Limit falls back to defaultLimit and is capped at MaxPaginationLimit.
func ParsePaginationParams(r *http.Request, defaultLimit int) PaginationParams {
	p := PaginationParams{Limit: defaultLimit}
	q := r.URL.Query()
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			p.Limit = parsed
		}
	}
	if p.Limit > MaxPaginationLimit {
		p.Limit = MaxPaginationLimit
	}
	if o := q.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			p.Offset = parsed
		}
	}
	return p
}
