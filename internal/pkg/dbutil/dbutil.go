package dbutil

import (
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

var limitRegex = regexp.MustCompile(`(?i)LIMIT\s+\?\s*,\s*\?`)

// BindType returns the placeholder style of the driver. Builder output uses "?".
func BindType(driver string) int {
	if driver == DriverPostgres {
		return sqlx.DOLLAR
	}
	return sqlx.QUESTION
}

func Finalize(bind int, query string, args []interface{}) (string, []interface{}) {
	loc := limitRegex.FindStringIndex(query)
	if loc != nil {
		prefix := query[:loc[0]]
		qCount := strings.Count(prefix, "?")
		if qCount+1 < len(args) {
			args[qCount], args[qCount+1] = args[qCount+1], args[qCount]
			query = limitRegex.ReplaceAllString(query, "LIMIT ? OFFSET ?")
		}
	}
	return sqlx.Rebind(bind, query), args
}

func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if pgErr, ok := err.(*pq.Error); ok {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
