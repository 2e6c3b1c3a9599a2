package domain

// AdapterRecord is a venue adapter identity in the trust registry.
// Created and removed only by the administrator.
type AdapterRecord struct {
	AdapterID   string // adapter account address
	Whitelisted bool
	AddedAt     int64 // Unix timestamp in milliseconds
}
