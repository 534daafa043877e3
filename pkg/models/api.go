package models

// HealthResponse is the response for health checks
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

// ErrorResponse is a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// QueryReadingsResponse is the response for a hive's stored metrics
type QueryReadingsResponse struct {
	Identifier string    `json:"identifier"`
	Metrics    []*Metric `json:"metrics"`
	Limit      int       `json:"limit"`
}

// TokenResponse carries an admin bearer token
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}
