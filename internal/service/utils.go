package service

import (
	"fmt"
	"math"

	"github.com/ayo6706/payment-escrow/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func clampPage(limit, offset int32) (int32, int32) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// pageWindow turns a 1-based page into limit and offset. Pages whose offset does not
// fit the query's int32 range are rejected rather than wrapped.
func pageWindow(page, pageSize int) (int32, int32, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if int64(page-1) > math.MaxInt32/int64(pageSize) {
		return 0, 0, domain.ErrInvalidFilter
	}
	return int32(pageSize), int32((page - 1) * pageSize), nil
}
