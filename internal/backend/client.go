package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/likeablob/infinite-mucha-esque-scroll/pkg/scroll"
)

const (
	txt2imgPath   = "/sdapi/v1/txt2img"
	modelListPath = "/controlnet/model_list"
	maxErrorBody  = 512
)

// Address is a parsed backend location
type Address struct {
	Host string
	Port string
	TLS  bool
}

// BaseURL returns the scheme://host:port prefix for API calls.
func (a Address) BaseURL() string {
	scheme := "http"
	if a.TLS {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(a.Host, a.Port)
}

// ParseAddress accepts URLs like http://127.0.0.1:7860. Host and port are
// both required; https selects TLS.
func ParseAddress(raw string) (Address, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, &AddressError{Raw: raw, Reason: err.Error()}
	}
	if u.Hostname() == "" {
		return Address{}, &AddressError{Raw: raw, Reason: "failed to get hostname"}
	}
	if u.Port() == "" {
		return Address{}, &AddressError{Raw: raw, Reason: "failed to get port"}
	}
	return Address{Host: u.Hostname(), Port: u.Port(), TLS: u.Scheme == "https"}, nil
}

// HTTPClient talks to a Stable Diffusion web UI instance
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// NewHTTPClient creates a client for the web UI at rawURL
func NewHTTPClient(rawURL string, timeout time.Duration) (*HTTPClient, error) {
	addr, err := ParseAddress(rawURL)
	if err != nil {
		return nil, err
	}
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: addr.BaseURL(),
	}, nil
}

type controlNetArg struct {
	InputImage   string  `json:"input_image"`
	Module       string  `json:"module"`
	Model        string  `json:"model"`
	Weight       float64 `json:"weight"`
	ProcessorRes int     `json:"processor_res"`
	ThresholdA   float64 `json:"threshold_a"`
	ThresholdB   float64 `json:"threshold_b"`
}

type controlNetScript struct {
	Args []controlNetArg `json:"args"`
}

type txt2imgPayload struct {
	Prompt         string                      `json:"prompt"`
	NegativePrompt string                      `json:"negative_prompt"`
	Seed           int64                       `json:"seed"`
	CFGScale       float64                     `json:"cfg_scale"`
	Steps          int                         `json:"steps"`
	Width          int                         `json:"width"`
	Height         int                         `json:"height"`
	SamplerName    string                      `json:"sampler_name"`
	AlwaysOn       map[string]controlNetScript `json:"alwayson_scripts,omitempty"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
	// Info is a JSON document encoded as a string.
	Info string `json:"info"`
}

type generationInfo struct {
	Seed *int64 `json:"seed"`
}

type modelListResponse struct {
	ModelList []string `json:"model_list"`
}

// Txt2Img runs a text-to-image generation and returns the first image. The
// seed is read from the generation info, falling back to the requested one.
func (c *HTTPClient) Txt2Img(ctx context.Context, req *Txt2ImgRequest) (*Txt2ImgResult, error) {
	payload := txt2imgPayload{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		CFGScale:       req.CFGScale,
		Steps:          req.Steps,
		Width:          req.Width,
		Height:         req.Height,
		SamplerName:    req.Sampler,
	}

	if unit := req.ControlNet; unit != nil {
		data, err := scroll.EncodePNG(unit.Image)
		if err != nil {
			return nil, fmt.Errorf("failed to encode guide image: %w", err)
		}
		payload.AlwaysOn = map[string]controlNetScript{
			"controlnet": {Args: []controlNetArg{{
				InputImage:   base64.StdEncoding.EncodeToString(data),
				Module:       unit.Module,
				Model:        unit.Model,
				Weight:       unit.Weight,
				ProcessorRes: unit.ProcessorRes,
				ThresholdA:   unit.ThresholdA,
				ThresholdB:   unit.ThresholdB,
			}}},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var resp txt2imgResponse
	if err := c.do(ctx, http.MethodPost, txt2imgPath, bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 {
		return nil, fmt.Errorf("backend returned no images")
	}

	img, err := decodeBase64Image(resp.Images[0])
	if err != nil {
		return nil, err
	}
	return &Txt2ImgResult{Image: img, Seed: resp.seed(req.Seed)}, nil
}

func (r *txt2imgResponse) seed(requested int64) int64 {
	if r.Info == "" {
		return requested
	}
	var info generationInfo
	if err := json.Unmarshal([]byte(r.Info), &info); err != nil || info.Seed == nil {
		return requested
	}
	return *info.Seed
}

// ControlNetModels returns the ControlNet model catalog.
func (c *HTTPClient) ControlNetModels(ctx context.Context) ([]string, error) {
	var resp modelListResponse
	if err := c.do(ctx, http.MethodGet, modelListPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.ModelList, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// decodeBase64Image accepts plain base64 as well as data URLs.
func decodeBase64Image(s string) (image.Image, error) {
	if i := strings.IndexByte(s, ','); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}
	img, err := scroll.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
