package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/likeablob/infinite-mucha-esque-scroll/internal/api"
	"github.com/likeablob/infinite-mucha-esque-scroll/internal/backend"
	"github.com/likeablob/infinite-mucha-esque-scroll/internal/painter"
	"github.com/likeablob/infinite-mucha-esque-scroll/pkg/scroll"
)

const (
	// maxRequestBody bounds the JSON body, which carries the previous scroll.
	maxRequestBody = 64 << 20
	// maxImageSide bounds the width of every image and the height of masks
	// and generated tiles. A scroll grows downwards, so only its pixel count
	// is bounded.
	maxImageSide = 8192
	// maxImagePixels bounds any image decoded or allocated for a request.
	maxImagePixels = 1 << 26
)

// Options configures a Server
type Options struct {
	// Defaults fill every field a tile request leaves unset.
	Defaults painter.Request
	// RateInterval is the minimum spacing between generation calls; zero
	// disables throttling.
	RateInterval time.Duration
}

// Server implements the ServerInterface of the scroll API
type Server struct {
	startTime time.Time
	version   string
	painter   *painter.Painter
	defaults  painter.Request
	limiter   *rate.Limiter
}

// NewServer creates a new server instance
func NewServer(version string, p *painter.Painter, opts Options) *Server {
	s := &Server{
		startTime: time.Now(),
		version:   version,
		painter:   p,
		defaults:  opts.Defaults,
	}
	if opts.RateInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(opts.RateInterval), 1)
	}
	return s
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())

	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
	}

	s.writeJSON(w, http.StatusOK, response)
}

// CreateTile generates the next tile of a scroll
func (s *Server) CreateTile(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	ctx := r.Context()

	var req api.TileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_JSON",
			"Invalid JSON in request body", &requestID, nil)
		return
	}

	tile, opts, err := s.convertToPainterRequest(&req)
	if err != nil {
		var vErr *validationError
		if errors.As(err, &vErr) {
			s.writeValidationErrorResponse(w, vErr.field, vErr.message, &requestID)
			return
		}
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), &requestID, nil)
		return
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.writeErrorResponse(w, http.StatusTooManyRequests, "RATE_LIMITED",
				"Too many generation requests", &requestID, nil)
			return
		}
	}

	slog.InfoContext(ctx, "tile requested",
		"request_id", requestID,
		"continuation", req.Previous != nil,
		"width", opts.Width,
		"height", opts.Height,
		"overlap_height", opts.OverlapHeight)

	result, err := s.painter.Run(ctx, tile, opts)
	if err != nil {
		s.handlePainterError(w, err, &requestID)
		return
	}

	response, err := encodeResult(ctx, result)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode tile", "request_id", requestID, "error", err)
		s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Internal server error", &requestID, nil)
		return
	}
	response.RequestId = requestID
	response.Seed = result.Seed

	w.Header().Set("X-Request-ID", requestID)
	s.writeJSON(w, http.StatusOK, response)
}

// GetMask renders a blending mask as PNG
func (s *Server) GetMask(w http.ResponseWriter, r *http.Request, params api.GetMaskParams) {
	requestID := getRequestID(r)

	offset := scroll.DefaultMaskOffset
	if params.Offset != nil {
		offset = *params.Offset
	}

	if params.Width > maxImageSide || params.Height > maxImageSide {
		s.writeValidationErrorResponse(w, "mask",
			fmt.Sprintf("mask sides must not exceed %d pixels", maxImageSide), &requestID)
		return
	}

	mask, err := scroll.GradientMask(params.Width, params.Height, offset)
	if err != nil {
		s.writeValidationErrorResponse(w, "mask", err.Error(), &requestID)
		return
	}

	data, err := scroll.EncodePNG(mask)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Internal server error", &requestID, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Warn("error writing response", "error", err)
	}
}

// HandleParamError renders query binding failures as validation errors.
func (s *Server) HandleParamError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := getRequestID(r)
	field := "query"
	var paramErr *api.InvalidParamFormatError
	if errors.As(err, &paramErr) {
		field = paramErr.ParamName
	}
	s.writeValidationErrorResponse(w, field, err.Error(), &requestID)
}

type validationError struct {
	field   string
	message string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s: %s", e.field, e.message)
}

// convertToPainterRequest merges the request over the server defaults
func (s *Server) convertToPainterRequest(req *api.TileRequest) (painter.Tile, *painter.Request, error) {
	opts := s.defaults

	if req.Prompt != nil {
		opts.Prompt = *req.Prompt
	}
	if req.NegativePrompt != nil {
		opts.NegativePrompt = *req.NegativePrompt
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	if req.Width != nil {
		opts.Width = *req.Width
	}
	if req.Height != nil {
		opts.Height = *req.Height
	}
	if req.OverlapHeight != nil {
		opts.OverlapHeight = *req.OverlapHeight
	}
	if req.ControlnetModel != nil {
		opts.ControlNetModel = *req.ControlnetModel
	}

	if opts.Width <= 0 {
		return nil, nil, &validationError{"width", "must be positive"}
	}
	if opts.Height <= 0 {
		return nil, nil, &validationError{"height", "must be positive"}
	}
	if opts.OverlapHeight < 0 {
		return nil, nil, &validationError{"overlap_height", "must not be negative"}
	}
	if opts.Width > maxImageSide {
		return nil, nil, &validationError{"width", fmt.Sprintf("must not exceed %d", maxImageSide)}
	}
	if opts.Height+opts.OverlapHeight > maxImageSide {
		return nil, nil, &validationError{"height", fmt.Sprintf("height plus overlap_height must not exceed %d", maxImageSide)}
	}
	if strings.TrimSpace(opts.ControlNetModel) == "" {
		return nil, nil, &validationError{"controlnet_model", "must not be empty"}
	}

	if req.Previous == nil {
		return painter.FirstTile{}, &opts, nil
	}

	prev, err := decodeImage(*req.Previous)
	if err != nil {
		return nil, nil, &validationError{"previous", err.Error()}
	}
	return painter.ContinuationTile{Previous: prev}, &opts, nil
}

// handlePainterError maps pipeline failures onto API errors. Geometry errors
// are only the client's fault when they are raised before generation; a
// generated tile that does not fit is a backend error.
func (s *Server) handlePainterError(w http.ResponseWriter, err error, requestID *string) {
	var notFound *painter.ModelNotFoundError
	if errors.As(err, &notFound) {
		s.writeErrorResponse(w, http.StatusUnprocessableEntity, "MODEL_NOT_FOUND",
			notFound.Error(), requestID, map[string]interface{}{
				"requested": notFound.Requested,
				"available": notFound.Catalog,
			})
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		s.writeErrorResponse(w, http.StatusGatewayTimeout, "BACKEND_TIMEOUT",
			"Generation backend timed out", requestID, nil)
		return
	}

	var backendErr *painter.BackendError
	if errors.As(err, &backendErr) {
		details := map[string]interface{}{"operation": backendErr.Op}
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) {
			details["status_code"] = statusErr.StatusCode
		}
		s.writeErrorResponse(w, http.StatusBadGateway, "BACKEND_ERROR",
			backendErr.Error(), requestID, details)
		return
	}

	var geomErr *scroll.GeometryError
	if errors.As(err, &geomErr) {
		s.writeValidationErrorResponse(w, "overlap_height", geomErr.Error(), requestID)
		return
	}

	slog.Error("tile generation failed", "request_id", *requestID, "error", err)
	s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
		"Internal server error", requestID, nil)
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, requestID *string, details map[string]interface{}) {
	response := api.ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: requestID,
	}

	if details != nil {
		response.Details = &details
	}

	s.writeJSON(w, statusCode, response)
}

// writeValidationErrorResponse writes a validation error response
func (s *Server) writeValidationErrorResponse(w http.ResponseWriter, field, message string, requestID *string) {
	response := api.ValidationErrorResponse{
		Error:     api.VALIDATIONERROR,
		Message:   message,
		RequestId: requestID,
		ValidationErrors: []api.ValidationError{
			{
				Field:   field,
				Message: message,
			},
		},
	}

	s.writeJSON(w, http.StatusBadRequest, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("error encoding response", "error", err)
	}
}

// encodeResult renders every output image as base64 PNG in parallel
func encodeResult(ctx context.Context, res *painter.Result) (*api.TileResponse, error) {
	var out api.TileResponse
	var overlap string

	g, _ := errgroup.WithContext(ctx)
	encode := func(img image.Image, dst *string) {
		g.Go(func() error {
			data, err := scroll.EncodePNG(img)
			if err != nil {
				return err
			}
			*dst = base64.StdEncoding.EncodeToString(data)
			return nil
		})
	}

	encode(res.Complete, &out.Complete)
	encode(res.New, &out.New)
	encode(res.Print, &out.Print)
	if res.Overlap != nil {
		encode(res.Overlap, &overlap)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if res.Overlap != nil {
		out.Overlap = &overlap
	}
	return &out, nil
}

func decodeImage(s string) (image.Image, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	cfg, err := scroll.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}
	if cfg.Width > maxImageSide || int64(cfg.Width)*int64(cfg.Height) > maxImagePixels {
		return nil, fmt.Errorf("image of %dx%d exceeds the size limit", cfg.Width, cfg.Height)
	}
	img, err := scroll.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}
	return img, nil
}

// getRequestID reuses the router's request id, or makes a new one
func getRequestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}
