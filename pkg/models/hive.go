package models

import "time"

// Hive is a field device registered to push readings. The password hash never
// leaves the credential store, so it has no field here.
type Hive struct {
	ID         string     `json:"id"`
	Identifier string     `json:"identifier"`
	IP         *string    `json:"ip,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// HiveCredentials is returned exactly once, when a hive is created.
type HiveCredentials struct {
	Hive       *Hive  `json:"hive"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// RegisterHiveRequest creates a hive with caller-chosen credentials
type RegisterHiveRequest struct {
	Identifier string  `json:"identifier"`
	Password   string  `json:"password"`
	IP         *string `json:"ip,omitempty"`
}

// UpdateHiveRequest changes any subset of a hive's identifier, ip and password
type UpdateHiveRequest struct {
	Identifier *string `json:"identifier,omitempty"`
	IP         *string `json:"ip,omitempty"`
	Password   *string `json:"password,omitempty"`
}

// ListHivesResponse is the response for listing hives
type ListHivesResponse struct {
	Hives []*Hive `json:"hives"`
	Total int     `json:"total"`
}
