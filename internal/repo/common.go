package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/xxxsen/mdeck/internal/pkg/dbutil"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type base struct {
	db   *sql.DB
	bind int
}

func (b base) finalize(query string, args []interface{}) (string, []interface{}) {
	return dbutil.Finalize(b.bind, query, args)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(raw string) []string {
	items := make([]string, 0)
	if raw == "" {
		return items
	}
	_ = json.Unmarshal([]byte(raw), &items)
	return items
}

func toArgs(items []string) []interface{} {
	args := make([]interface{}, 0, len(items))
	for _, item := range items {
		args = append(args, item)
	}
	return args
}
