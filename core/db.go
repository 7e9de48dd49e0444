package core

import (
	"strings"

	"github.com/jmoiron/sqlx"
)

// DBExecutor is satisfied by *sqlx.DB and *sqlx.Tx.
type DBExecutor interface {
	sqlx.ExtContext
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// ParseOrdering reads a comma separated list of fields, eg. "-created_at,score".
// A leading "-" sorts the field in descending order.
func ParseOrdering(s string) []DBOrdering {
	var ordering []DBOrdering
	for _, field := range strings.Split(s, ",") {
		field = CleanString(field, true /* lower */)
		descending := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		if field == "" {
			continue
		}
		ordering = append(ordering, DBOrdering{Field: field, Ascending: !descending})
	}
	return ordering
}
