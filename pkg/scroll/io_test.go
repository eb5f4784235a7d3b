package scroll

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tile.png")

	require.NoError(t, Save(striped(8, 20), path, false))

	err := Save(solid(8, 4, 0), path, false)
	assert.ErrorIs(t, err, ErrOutputExists)

	img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dy(), "existing file is kept")

	require.NoError(t, Save(solid(8, 4, 0), path, true))
	img, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dy())

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestEncodeDecodePNG(t *testing.T) {
	data, err := EncodePNG(striped(3, 5))
	require.NoError(t, err)

	img, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())
}

func TestDirSink_ConcurrentSaves(t *testing.T) {
	sink := &DirSink{Dir: t.TempDir()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(h int) {
			defer wg.Done()
			sink.Save(DebugResult, striped(16, h))
		}(10 + i)
	}
	wg.Wait()

	img, err := Load(filepath.Join(sink.Dir, DebugResult))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.GreaterOrEqual(t, img.Bounds().Dy(), 10)
}

func TestDecodeConfig(t *testing.T) {
	data, err := EncodePNG(striped(7, 9))
	require.NoError(t, err)

	cfg, err := DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Width)
	assert.Equal(t, 9, cfg.Height)
}
