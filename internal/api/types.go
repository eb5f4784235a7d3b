// Package api defines the wire types and routes of the scroll HTTP API.
package api

import "time"

// Defines values for HealthResponseStatus.
const (
	Healthy   HealthResponseStatus = "healthy"
	Unhealthy HealthResponseStatus = "unhealthy"
)

// Defines values for ValidationErrorResponseError.
const (
	VALIDATIONERROR ValidationErrorResponseError = "VALIDATION_ERROR"
)

// HealthResponseStatus defines model for HealthResponse.Status.
type HealthResponseStatus string

// HealthResponse defines model for HealthResponse.
type HealthResponse struct {
	Status    HealthResponseStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
	Uptime    *int                 `json:"uptime,omitempty"`
	Version   *string              `json:"version,omitempty"`
}

// TileRequest asks for one tile of the scroll. Unset fields fall back to the
// server defaults.
type TileRequest struct {
	// Previous is the scroll so far as a base64 PNG. Without it a first tile
	// is generated.
	Previous        *string `json:"previous,omitempty"`
	Prompt          *string `json:"prompt,omitempty"`
	NegativePrompt  *string `json:"negative_prompt,omitempty"`
	Seed            *int64  `json:"seed,omitempty"`
	Width           *int    `json:"width,omitempty"`
	Height          *int    `json:"height,omitempty"`
	OverlapHeight   *int    `json:"overlap_height,omitempty"`
	ControlnetModel *string `json:"controlnet_model,omitempty"`
}

// TileResponse carries the produced images as base64 PNGs.
type TileResponse struct {
	RequestId string  `json:"request_id"`
	Seed      int64   `json:"seed"`
	Complete  string  `json:"complete"`
	Overlap   *string `json:"overlap,omitempty"`
	New       string  `json:"new"`
	Print     string  `json:"print"`
}

// ErrorResponse defines model for ErrorResponse.
type ErrorResponse struct {
	Error     string                  `json:"error"`
	Message   string                  `json:"message"`
	RequestId *string                 `json:"request_id,omitempty"`
	Details   *map[string]interface{} `json:"details,omitempty"`
}

// ValidationErrorResponseError defines model for ValidationErrorResponse.Error.
type ValidationErrorResponseError string

// ValidationError describes one rejected field.
type ValidationError struct {
	Code    *string `json:"code,omitempty"`
	Field   string  `json:"field"`
	Message string  `json:"message"`
}

// ValidationErrorResponse defines model for ValidationErrorResponse.
type ValidationErrorResponse struct {
	Error            ValidationErrorResponseError `json:"error"`
	Message          string                       `json:"message"`
	RequestId        *string                      `json:"request_id,omitempty"`
	ValidationErrors []ValidationError            `json:"validation_errors"`
}

// GetMaskParams defines parameters for GetMask.
type GetMaskParams struct {
	Width  int      `form:"width" json:"width"`
	Height int      `form:"height" json:"height"`
	Offset *float64 `form:"offset,omitempty" json:"offset,omitempty"`
}

// CreateTileJSONRequestBody defines body for CreateTile for application/json ContentType.
type CreateTileJSONRequestBody = TileRequest
