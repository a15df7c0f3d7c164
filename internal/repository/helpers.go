package repository

import (
	"database/sql"
	"fmt"
)

// paginate normalises page inputs, capping the page size at 100.
func paginate(page, pageSize, defaultSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultSize
	}
	return page, pageSize, (page - 1) * pageSize
}

// requireAffected maps an update or delete that touched no row to sql.ErrNoRows.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
