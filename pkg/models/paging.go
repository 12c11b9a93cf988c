package models

// Paging is a zero-based page request.
type Paging struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// PagingInfo describes a returned page.
type PagingInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	PageCount  int `json:"page_count"`
	TotalCount int `json:"total_count"`
}

// PagedResult is a page of items with its paging metadata.
type PagedResult[T any] struct {
	Payload []T        `json:"payload"`
	Paging  PagingInfo `json:"paging"`
}

// NewPagedResult builds a PagedResult, computing the page count by ceiling division.
func NewPagedResult[T any](paging Paging, total int, payload []T) *PagedResult[T] {
	pageCount := 0
	if paging.PageSize > 0 {
		pageCount = (total + paging.PageSize - 1) / paging.PageSize
	}
	if payload == nil {
		payload = []T{}
	}
	return &PagedResult[T]{
		Payload: payload,
		Paging: PagingInfo{
			Page:       paging.Page,
			PageSize:   paging.PageSize,
			PageCount:  pageCount,
			TotalCount: total,
		},
	}
}
