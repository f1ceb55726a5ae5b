package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io/fs"
	"strings"
	"sync"

	"flipmaster/internal/models"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// 1x1 lossless WebP used to probe decoder support.
const webpProbe = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

var (
	probeOnce   sync.Once
	probeResult bool
)

// DetectModernFormatSupport reports whether WebP images can be decoded by
// this process. The probe runs once per process.
func DetectModernFormatSupport() bool {
	probeOnce.Do(func() {
		data, err := base64.StdEncoding.DecodeString(webpProbe)
		if err != nil {
			return
		}
		_, format, err := image.DecodeConfig(bytes.NewReader(data))
		probeResult = err == nil && format == "webp"
	})
	return probeResult
}

type AssetResolver struct {
	files  fs.FS
	modern bool
	log    zerolog.Logger

	mu         sync.RWMutex
	capability models.AssetCapability
	settled    bool
	done       chan struct{}
}

func NewAssetResolver(files fs.FS, modern bool, logger zerolog.Logger) *AssetResolver {
	return &AssetResolver{
		files:      files,
		modern:     modern,
		log:        logger.With().Str("component", "assets").Logger(),
		capability: models.AssetCapability{SupportsModernFormat: modern},
		done:       make(chan struct{}),
	}
}

func (r *AssetResolver) ResolveImagePath(face models.Face) string {
	name := "coin-head"
	if face == models.FaceTails {
		name = "coin-tail"
	}
	if r.modern {
		return name + ".webp"
	}
	return name + ".png"
}

// Preload decodes both faces concurrently. Failure is recorded in the
// capability and returned for logging; the game carries on with glyphs.
func (r *AssetResolver) Preload(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, face := range []models.Face{models.FaceHeads, models.FaceTails} {
		face := face
		g.Go(func() error {
			return r.load(gctx, face)
		})
	}

	err := g.Wait()

	r.mu.Lock()
	if err != nil {
		r.capability.LoadFailed = true
		r.capability.ImagesReady = false
	} else {
		r.capability.ImagesReady = true
	}
	if !r.settled {
		r.settled = true
		close(r.done)
	}
	r.mu.Unlock()

	if err != nil {
		r.log.Warn().Err(err).Msg("coin images unavailable, using glyphs")
	}
	return err
}

func (r *AssetResolver) load(ctx context.Context, face models.Face) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, path, err := r.open(face)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, _, err := image.Decode(f); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// open tries the resolved path first. A directory holding only the PNG set
// still serves images when WebP is preferred.
func (r *AssetResolver) open(face models.Face) (fs.File, string, error) {
	path := r.ResolveImagePath(face)
	if r.files == nil {
		return nil, path, fmt.Errorf("no asset source for %s", path)
	}

	f, err := r.files.Open(path)
	if err == nil {
		return f, path, nil
	}

	if r.modern && errors.Is(err, fs.ErrNotExist) {
		fallback := strings.TrimSuffix(path, ".webp") + ".png"
		if pf, perr := r.files.Open(fallback); perr == nil {
			return pf, fallback, nil
		}
	}
	return nil, path, fmt.Errorf("failed to open %s: %w", path, err)
}

// Open hands out a face image for serving. A failure here also degrades the
// game to glyphs.
func (r *AssetResolver) Open(face models.Face) (fs.File, string, error) {
	f, path, err := r.open(face)
	if err != nil {
		r.MarkLoadFailed()
		return nil, path, err
	}
	return f, path, nil
}

func (r *AssetResolver) MarkLoadFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capability.LoadFailed {
		r.log.Warn().Msg("coin image failed at runtime, switching to glyphs")
	}
	r.capability.LoadFailed = true
}

func (r *AssetResolver) Capability() models.AssetCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capability
}

// Settled is true once Preload has finished, successfully or not.
func (r *AssetResolver) Settled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settled
}

func (r *AssetResolver) Done() <-chan struct{} {
	return r.done
}

func (r *AssetResolver) Face(face models.Face) models.FaceView {
	view := models.FaceView{Face: face}

	c := r.Capability()
	if c.ImagesReady && !c.LoadFailed {
		view.Path = "/assets/" + string(face)
		return view
	}

	view.Glyph = face.Glyph()
	return view
}
