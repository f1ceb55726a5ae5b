package services_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flipmaster/internal/models"
	"flipmaster/internal/services"
)

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func coinFS(t *testing.T) fstest.MapFS {
	return fstest.MapFS{
		"coin-head.png": {Data: pngBytes(t, color.RGBA{R: 0xd4, G: 0xaf, B: 0x37, A: 0xff})},
		"coin-tail.png": {Data: pngBytes(t, color.RGBA{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff})},
	}
}

func TestDetectModernFormatSupport(t *testing.T) {
	assert.True(t, services.DetectModernFormatSupport())
	assert.True(t, services.DetectModernFormatSupport(), "probe result is cached")
}

func TestResolveImagePath(t *testing.T) {
	modern := services.NewAssetResolver(nil, true, zerolog.Nop())
	assert.Equal(t, "coin-head.webp", modern.ResolveImagePath(models.FaceHeads))
	assert.Equal(t, "coin-tail.webp", modern.ResolveImagePath(models.FaceTails))

	legacy := services.NewAssetResolver(nil, false, zerolog.Nop())
	assert.Equal(t, "coin-head.png", legacy.ResolveImagePath(models.FaceHeads))
	assert.Equal(t, "coin-tail.png", legacy.ResolveImagePath(models.FaceTails))
}

func TestPreloadSucceeds(t *testing.T) {
	r := services.NewAssetResolver(coinFS(t), false, zerolog.Nop())
	assert.False(t, r.Settled())

	require.NoError(t, r.Preload(context.Background()))

	assert.True(t, r.Settled())
	assert.Equal(t, models.AssetCapability{ImagesReady: true}, r.Capability())
	assert.Equal(t, models.FaceView{Face: models.FaceHeads, Path: "/assets/heads"}, r.Face(models.FaceHeads))

	select {
	case <-r.Done():
	default:
		t.Fatal("done channel should be closed after preload")
	}
}

func TestPreloadMissingImageFallsBackToGlyphs(t *testing.T) {
	files := coinFS(t)
	delete(files, "coin-tail.png")

	r := services.NewAssetResolver(files, false, zerolog.Nop())
	assert.Error(t, r.Preload(context.Background()))

	assert.True(t, r.Settled())
	c := r.Capability()
	assert.True(t, c.LoadFailed)
	assert.False(t, c.ImagesReady)
	assert.Equal(t, models.FaceView{Face: models.FaceHeads, Glyph: "H"}, r.Face(models.FaceHeads))
	assert.Equal(t, models.FaceView{Face: models.FaceTails, Glyph: "T"}, r.Face(models.FaceTails))
}

func TestPreloadCorruptImage(t *testing.T) {
	files := coinFS(t)
	files["coin-head.png"] = &fstest.MapFile{Data: []byte("not a png")}

	r := services.NewAssetResolver(files, false, zerolog.Nop())
	assert.Error(t, r.Preload(context.Background()))
	assert.True(t, r.Capability().LoadFailed)
}

func TestOpenFailureMarksLoadFailed(t *testing.T) {
	r := services.NewAssetResolver(fstest.MapFS{}, true, zerolog.Nop())

	_, path, err := r.Open(models.FaceHeads)
	assert.Error(t, err)
	assert.Equal(t, "coin-head.webp", path)
	assert.True(t, r.Capability().LoadFailed)
}

func TestModernFormatFallsBackToPNG(t *testing.T) {
	r := services.NewAssetResolver(coinFS(t), true, zerolog.Nop())

	require.NoError(t, r.Preload(context.Background()))
	assert.Equal(t, models.AssetCapability{SupportsModernFormat: true, ImagesReady: true}, r.Capability())

	f, path, err := r.Open(models.FaceHeads)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "coin-head.png", path)
	assert.False(t, r.Capability().LoadFailed)
}

func TestOpenServesImage(t *testing.T) {
	r := services.NewAssetResolver(coinFS(t), false, zerolog.Nop())
	require.NoError(t, r.Preload(context.Background()))

	f, path, err := r.Open(models.FaceTails)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "coin-tail.png", path)
	_, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestMarkLoadFailedAfterPreload(t *testing.T) {
	r := services.NewAssetResolver(coinFS(t), false, zerolog.Nop())
	require.NoError(t, r.Preload(context.Background()))

	r.MarkLoadFailed()
	assert.Equal(t, "H", r.Face(models.FaceHeads).Glyph)
	assert.Empty(t, r.Face(models.FaceHeads).Path)
}
