package imagebuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/stackhost-io/stackhost/internal/notify"
	"github.com/stackhost-io/stackhost/internal/objectstore"
	"github.com/stackhost-io/stackhost/internal/runtime"
	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/models"
)

// Pipeline advances pending image requests through the build states. One
// ProcessNext call handles at most one image, so the worker pool controls
// concurrency.
type Pipeline struct {
	store        *store.Store
	runtime      runtime.Runtime
	objects      objectstore.ObjectStore
	scanner      Scanner
	notifier     notify.Notifier
	logger       *slog.Logger
	buildTimeout time.Duration
}

// NewPipeline wires the image build pipeline.
func NewPipeline(
	st *store.Store,
	rt runtime.Runtime,
	objects objectstore.ObjectStore,
	scanner Scanner,
	notifier notify.Notifier,
	buildTimeout time.Duration,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		store:        st,
		runtime:      rt,
		objects:      objects,
		scanner:      scanner,
		notifier:     notifier,
		logger:       logger,
		buildTimeout: buildTimeout,
	}
}

// ProcessNext claims the oldest pending image and runs it through the
// pipeline. It reports whether any work was done so pollers can back off on
// an empty queue.
func (p *Pipeline) ProcessNext(ctx context.Context) (bool, error) {
	img, err := p.store.NextPendingImage()
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, p.Process(ctx, img)
}

// Process runs one image through validate, build and scan.
func (p *Pipeline) Process(ctx context.Context, img *models.CustomImage) error {
	p.logger.Info("image build started", "image_id", img.ID, "reference", img.Reference(), "version", img.Version)

	archive, err := p.stageArchive(ctx, img)
	if err != nil {
		return p.fail(ctx, img, models.ImagePending, err)
	}
	defer func() {
		archive.Close()
		os.Remove(archive.Name())
	}()

	// Validate.
	if err := p.advance(img, models.ImageValidating); err != nil {
		return err
	}
	dockerfile, err := ValidateArchive(archive)
	if err != nil {
		return p.fail(ctx, img, models.ImageValidating, err)
	}
	p.appendLog(img, models.ImageValidating, "build context validated")

	// Build.
	if err := p.advance(img, models.ImageBuilding); err != nil {
		return err
	}
	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return p.fail(ctx, img, models.ImageBuilding, err)
	}
	buildCtx, cancel := context.WithTimeout(ctx, p.buildTimeout)
	runtimeImageID, err := p.runtime.BuildImage(buildCtx, archive, runtime.BuildOptions{
		Tag:       img.Reference(),
		BuildArgs: img.BuildArgs,
	}, func(line string) {
		p.appendLog(img, models.ImageBuilding, line)
	})
	cancel()
	if err != nil {
		return p.fail(ctx, img, models.ImageBuilding, err)
	}
	img.RuntimeImageID = runtimeImageID

	// Scan.
	if err := p.advance(img, models.ImageScanning); err != nil {
		return err
	}
	if err := p.scanner.Scan(ctx, img.Reference(), dockerfile); err != nil {
		return p.fail(ctx, img, models.ImageScanning, err)
	}
	p.appendLog(img, models.ImageScanning, "scan passed")

	if err := p.advance(img, models.ImageCompleted); err != nil {
		return err
	}
	p.notifier.Notify(ctx, notify.Event{
		Type:    notify.EventBuildCompleted,
		ImageID: img.ID,
		Message: fmt.Sprintf("image %s v%d built", img.Reference(), img.Version),
	})
	p.logger.Info("image build completed", "image_id", img.ID, "runtime_image_id", runtimeImageID)
	return nil
}

// stageArchive downloads the build context to a temp file so it can be read
// once for validation and again for the build.
func (p *Pipeline) stageArchive(ctx context.Context, img *models.CustomImage) (*os.File, error) {
	body, err := p.objects.Get(ctx, img.ArchiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch build context: %w", err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp("", "stackhost-build-*.tar.gz")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to stage build context: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	return tmp, nil
}

func (p *Pipeline) advance(img *models.CustomImage, next models.ImageStatus) error {
	if err := img.SetStatus(next); err != nil {
		return err
	}
	return p.store.UpdateImage(img)
}

func (p *Pipeline) fail(ctx context.Context, img *models.CustomImage, step models.ImageStatus, cause error) error {
	img.BuildError = cause.Error()
	if err := img.SetStatus(models.ImageFailed); err != nil {
		p.logger.Error("cannot mark image failed", "image_id", img.ID, "status", img.Status, "error", err)
		return cause
	}
	if err := p.store.UpdateImage(img); err != nil {
		p.logger.Error("failed to persist image failure", "image_id", img.ID, "error", err)
	}
	p.appendLog(img, step, "error: "+cause.Error())
	p.notifier.Notify(ctx, notify.Event{
		Type:    notify.EventBuildFailed,
		ImageID: img.ID,
		Message: cause.Error(),
	})
	p.logger.Warn("image build failed", "image_id", img.ID, "step", step, "error", cause)
	return cause
}

func (p *Pipeline) appendLog(img *models.CustomImage, step models.ImageStatus, line string) {
	err := p.store.AppendBuildLog(&models.ImageBuildLog{
		ImageID:   img.ID,
		Step:      string(step),
		Line:      line,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("failed to append build log", "image_id", img.ID, "error", err)
	}
}
