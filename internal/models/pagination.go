package models

// Pagination describes a bounded listing such as the sync queue.
type Pagination struct {
	Limit int `json:"limit"`
	Count int `json:"count"`
}

