package models

import (
	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/phase"
)

// BaseResponse represents the base API response structure
type BaseResponse struct {
	Success   bool        `json:"success" example:"true"`
	Message   string      `json:"message,omitempty" example:"Operation completed successfully"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp" example:"1640995200"`
	RequestID string      `json:"request_id,omitempty" example:"0b6f0d4e-3c55-4a8e-9df1-6d1f7b1e9a10"`
}

// ErrorInfo represents error information
type ErrorInfo struct {
	Code    string                 `json:"code" example:"SECRET_CODE_LOCKED"`
	Message string                 `json:"message" example:"secret code is locked after too many failed attempts"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PhaseResponse is the public phase view of an election
type PhaseResponse struct {
	*phase.Status
	SignerAddress string `json:"signer_address"`
}

// CodeValidationResponse confirms a secret code without revealing anything else
type CodeValidationResponse struct {
	Valid      bool   `json:"valid"`
	ElectionID string `json:"election_id"`
	PositionID string `json:"position_id,omitempty"`
}

// PaginationInfo represents pagination information
type PaginationInfo struct {
	Limit  int `json:"limit" example:"50"`
	Offset int `json:"offset" example:"0"`
	Count  int `json:"count" example:"50"`
}

// AuditLogsResponse is a page of audit entries
type AuditLogsResponse struct {
	Logs       []database.AuditLog `json:"logs"`
	Pagination PaginationInfo      `json:"pagination"`
}

// AuditStatisticsResponse counts audit entries per action
type AuditStatisticsResponse struct {
	Total   int                        `json:"total"`
	Actions []repositories.ActionCount `json:"actions"`
}

// HealthCheckResponse represents health check response
type HealthCheckResponse struct {
	Status     string                 `json:"status" example:"healthy"`
	Version    string                 `json:"version" example:"1.0.0"`
	Timestamp  int64                  `json:"timestamp" example:"1640995200"`
	Components map[string]interface{} `json:"components"`
}
