package models

// Position is an open exchange position as seen by the pre-filter.
type Position struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
}

// Order is a resting exchange order as seen by the pre-filter.
type Order struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"order_id"`
	Side    string `json:"side"`
}
