package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/likeablob/infinite-mucha-esque-scroll/pkg/scroll"
)

func TestParseAddress(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    Address
		wantErr bool
	}{
		{"Default web UI", "http://127.0.0.1:7860", Address{Host: "127.0.0.1", Port: "7860"}, false},
		{"HTTPS", "https://gpu.example.com:443", Address{Host: "gpu.example.com", Port: "443", TLS: true}, false},
		{"IPv6", "http://[::1]:7860", Address{Host: "::1", Port: "7860"}, false},
		{"Missing port", "http://127.0.0.1", Address{}, true},
		{"Missing scheme", "localhost:7860", Address{}, true},
		{"Bare host and port", "127.0.0.1:7860", Address{}, true},
		{"Empty", "", Address{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAddress(tc.raw)
			if tc.wantErr {
				var addrErr *AddressError
				require.ErrorAs(t, err, &addrErr)
				assert.Equal(t, tc.raw, addrErr.Raw)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	assert.Equal(t, "http://[::1]:7860", Address{Host: "::1", Port: "7860"}.BaseURL())
	assert.Equal(t, "https://h:1", Address{Host: "h", Port: "1", TLS: true}.BaseURL())
}

func pngBase64(t *testing.T, w, h int, v uint8) string {
	t.Helper()
	data, err := scroll.EncodePNG(imaging.New(w, h, color.NRGBA{v, v, v, 255}))
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func TestHTTPClient_Txt2Img(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, txt2imgPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"images": []string{pngBase64(t, 8, 12, 40)},
			"info":   `{"seed": 3141592653, "width": 8}`,
		})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, time.Second)
	require.NoError(t, err)

	res, err := c.Txt2Img(context.Background(), &Txt2ImgRequest{
		Prompt:   "a girl, art nouveau",
		Seed:     42,
		CFGScale: 7,
		Steps:    20,
		Sampler:  "Euler a",
		Width:    8,
		Height:   12,
		ControlNet: &ControlNetUnit{
			Image:        imaging.New(8, 12, color.White),
			Module:       "canny",
			Model:        "control_canny [abcd]",
			Weight:       1,
			ProcessorRes: 512,
			ThresholdA:   100,
			ThresholdB:   200,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 12), res.Image.Bounds())
	assert.EqualValues(t, 3141592653, res.Seed)

	assert.Equal(t, "a girl, art nouveau", got["prompt"])
	assert.Equal(t, "Euler a", got["sampler_name"])
	assert.EqualValues(t, 42, got["seed"])
	assert.EqualValues(t, 20, got["steps"])

	scripts := got["alwayson_scripts"].(map[string]any)
	args := scripts["controlnet"].(map[string]any)["args"].([]any)
	require.Len(t, args, 1)
	unit := args[0].(map[string]any)
	assert.Equal(t, "control_canny [abcd]", unit["model"])
	assert.Equal(t, "canny", unit["module"])
	assert.EqualValues(t, 512, unit["processor_res"])
	assert.NotEmpty(t, unit["input_image"])
}

func TestHTTPClient_Txt2ImgWithoutControlNet(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		json.NewEncoder(w).Encode(map[string]any{"images": []string{"data:image/png;base64," + pngBase64(t, 4, 4, 0)}})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, time.Second)
	require.NoError(t, err)

	res, err := c.Txt2Img(context.Background(), &Txt2ImgRequest{Width: 4, Height: 4, Seed: 9})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Image.Bounds().Dx())
	assert.EqualValues(t, 9, res.Seed, "requested seed is kept without generation info")
	_, ok := raw["alwayson_scripts"]
	assert.False(t, ok)
}

func TestHTTPClient_Errors(t *testing.T) {
	t.Run("Non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "CUDA out of memory", http.StatusInternalServerError)
		}))
		defer srv.Close()

		c, err := NewHTTPClient(srv.URL, time.Second)
		require.NoError(t, err)

		_, err = c.Txt2Img(context.Background(), &Txt2ImgRequest{})
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
		assert.Contains(t, statusErr.Body, "CUDA out of memory")
		assert.True(t, statusErr.Temporary())
	})

	t.Run("No images", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"images": []}`))
		}))
		defer srv.Close()

		c, err := NewHTTPClient(srv.URL, time.Second)
		require.NoError(t, err)

		_, err = c.Txt2Img(context.Background(), &Txt2ImgRequest{})
		assert.Error(t, err)
	})

	t.Run("Invalid address", func(t *testing.T) {
		_, err := NewHTTPClient("http://nohost", time.Second)
		var addrErr *AddressError
		assert.ErrorAs(t, err, &addrErr)
	})
}

func TestHTTPClient_ControlNetModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, modelListPath, r.URL.Path)
		w.Write([]byte(`{"model_list": ["control_v11p_sd15_canny [d14c016b]", "control_v11p_sd15_lineart [43d4be0d]"]}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, time.Second)
	require.NoError(t, err)

	models, err := c.ControlNetModels(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, 2)
	assert.True(t, strings.Contains(models[0], "canny"))
}

type fakeClient struct {
	mu         sync.Mutex
	txtCalls   int
	modelCalls atomic.Int32
	errs       []error
	models     []string
	delay      time.Duration
	release    chan struct{}
}

func (f *fakeClient) Txt2Img(ctx context.Context, req *Txt2ImgRequest) (*Txt2ImgResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txtCalls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &Txt2ImgResult{Image: imaging.New(req.Width, req.Height, color.White), Seed: req.Seed}, nil
}

func (f *fakeClient) ControlNetModels(ctx context.Context) ([]string, error) {
	f.modelCalls.Add(1)
	if f.release != nil {
		<-f.release
	}
	time.Sleep(f.delay)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.models, nil
}

func fastRetry(c Client, n uint64) *retryClient {
	return &retryClient{
		Client:     c,
		maxRetries: n,
		newBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("Zero retries returns the client", func(t *testing.T) {
		f := &fakeClient{}
		assert.Same(t, f, WithRetry(f, 0))
	})

	t.Run("Recovers from temporary failures", func(t *testing.T) {
		f := &fakeClient{errs: []error{
			&StatusError{StatusCode: 503, Status: "503 Service Unavailable"},
			errors.New("connection reset"),
		}}
		res, err := fastRetry(f, 3).Txt2Img(ctx, &Txt2ImgRequest{Width: 2, Height: 2})
		require.NoError(t, err)
		assert.NotNil(t, res.Image)
		assert.Equal(t, 3, f.txtCalls)
	})

	t.Run("Gives up after max retries", func(t *testing.T) {
		f := &fakeClient{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
		_, err := fastRetry(f, 1).Txt2Img(ctx, &Txt2ImgRequest{})
		assert.EqualError(t, err, "b")
		assert.Equal(t, 2, f.txtCalls)
	})

	t.Run("Client errors are permanent", func(t *testing.T) {
		f := &fakeClient{errs: []error{&StatusError{StatusCode: 422, Status: "422 Unprocessable Entity"}}}
		_, err := fastRetry(f, 5).Txt2Img(ctx, &Txt2ImgRequest{})
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, 1, f.txtCalls)
	})
}

func TestCachedCatalog(t *testing.T) {
	f := &fakeClient{models: []string{"canny", "lineart"}, delay: 20 * time.Millisecond}
	c := NewCachedCatalog(f, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			models, err := c.ControlNetModels(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, []string{"canny", "lineart"}, models)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, f.modelCalls.Load())

	models, err := c.ControlNetModels(context.Background())
	require.NoError(t, err)
	models[0] = "mutated"
	again, err := c.ControlNetModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "canny", again[0])
	assert.EqualValues(t, 1, f.modelCalls.Load())

	c.Invalidate()
	_, err = c.ControlNetModels(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.modelCalls.Load())
}

func TestCachedCatalog_CancelledLeader(t *testing.T) {
	f := &fakeClient{models: []string{"canny"}, release: make(chan struct{})}
	c := NewCachedCatalog(f, time.Minute)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		c.ControlNetModels(leaderCtx)
	}()
	require.Eventually(t, func() bool { return f.modelCalls.Load() == 1 }, time.Second, time.Millisecond)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := c.ControlNetModels(context.Background())
		waiterErr <- err
	}()
	// let the waiter join the in-flight fetch
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(f.release)
	<-leaderDone

	assert.NoError(t, <-waiterErr)
}
