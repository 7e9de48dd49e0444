package inmemdb

import (
	"sync"

	"github.com/trezcool/kinga/core/moderation"
)

type (
	DB struct {
		flags   *flagTable
		appeals *appealTable
	}

	flagTable struct {
		table map[string]*moderation.Flag
		mutex sync.RWMutex
	}

	appealTable struct {
		table map[string]*moderation.Appeal
		mutex sync.RWMutex
	}
)

func Open() *DB {
	return &DB{
		flags:   &flagTable{table: make(map[string]*moderation.Flag)},
		appeals: &appealTable{table: make(map[string]*moderation.Appeal)},
	}
}
