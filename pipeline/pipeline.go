// Package pipeline turns a batch of uploaded files into stored originals,
// watermarked previews and audit records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hosseinskia/imageflow/auditlog"
	"github.com/hosseinskia/imageflow/config"
	"github.com/hosseinskia/imageflow/media"
	"github.com/hosseinskia/imageflow/progress"
	"github.com/hosseinskia/imageflow/storage"
	"github.com/hosseinskia/imageflow/types"
)

// Upload is one intake file, already spooled to TempPath.
type Upload struct {
	FileName string
	Size     int64
	TempPath string
}

// Batch is the set of files of a single upload request.
type Batch struct {
	CorrelationID string
	Files         []Upload
}

type Limits struct {
	MaxFiles          int
	MaxFileSize       int64
	MaxTotalFileSize  int64
	AllowedExtensions []string
}

func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MaxFiles:          cfg.MaxFiles,
		MaxFileSize:       cfg.MaxFileSize,
		MaxTotalFileSize:  cfg.MaxTotalFileSize,
		AllowedExtensions: cfg.NormalizedExtensions(),
	}
}

// Previewer renders the preview of an original.
type Previewer interface {
	Generate(ctx context.Context, originalPath, previewPath string) error
}

type Pipeline struct {
	store    *storage.Store
	previews Previewer
	audit    *auditlog.Logger
	events   progress.Publisher
	limits   Limits
	sem      *semaphore.Weighted
	logger   *zap.Logger
	now      func() time.Time
}

// New returns a pipeline whose image work is bounded by workers concurrent
// files across all batches.
func New(store *storage.Store, previews Previewer, audit *auditlog.Logger, events progress.Publisher, limits Limits, workers int, logger *zap.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}

	return &Pipeline{
		store:    store,
		previews: previews,
		audit:    audit,
		events:   events,
		limits:   limits,
		sem:      semaphore.NewWeighted(int64(workers)),
		logger:   logger,
		now:      time.Now,
	}
}

// Run validates and processes b. Exactly one terminal progress event is
// published for every batch that passes validation.
func (p *Pipeline) Run(ctx context.Context, b Batch, who auditlog.Requester) ([]types.GalleryImage, error) {
	if err := p.Validate(b); err != nil {
		removeIntake(b)
		return nil, err
	}

	if n, err := p.store.Purge(p.now()); err != nil {
		p.logger.Warn("retention sweep failed", zap.Error(err))
	} else if n > 0 {
		p.logger.Info("retention sweep", zap.Int("removed", n))
	}

	p.events.Publish(b.CorrelationID, progress.Update("Starting image upload...", 0, 0))

	total := len(b.Files)
	results := make([]types.GalleryImage, 0, total)
	for i, f := range b.Files {
		index := i + 1

		img, err := p.process(ctx, f, index)
		if err != nil {
			removeIntake(Batch{Files: b.Files[i:]})
			p.logger.Error("upload processing failed",
				zap.String("correlation_id", b.CorrelationID),
				zap.Int("index", index),
				zap.String("file", f.FileName),
				zap.Error(err),
			)
			p.events.Publish(b.CorrelationID, progress.Error("Error: "+err.Error()))
			return nil, &ProcessingError{Index: index, Err: err}
		}

		results = append(results, img)
		p.events.Publish(b.CorrelationID, progress.Update(fmt.Sprintf("Uploaded image %d/%d", index, total), index, total))
	}

	for _, r := range results {
		p.audit.Log(ctx, who, auditlog.ActionUploaded, storage.PictureLink(r.PictureID))
	}

	p.events.Publish(b.CorrelationID, progress.Complete(results))
	return results, nil
}

// Validate checks the whole batch against the limits without touching disk.
func (p *Pipeline) Validate(b Batch) error {
	if len(b.Files) == 0 {
		return invalid("No valid images uploaded.")
	}
	if len(b.Files) > p.limits.MaxFiles {
		return invalid("Too many files: at most %d images per upload.", p.limits.MaxFiles)
	}

	var total int64
	for _, f := range b.Files {
		if f.Size <= 0 {
			return invalid("No valid images uploaded.")
		}
		if p.limits.MaxFileSize > 0 && f.Size > p.limits.MaxFileSize {
			return invalid("File %s exceeds the maximum size of %d bytes.", storage.SanitizeName(filepath.Base(f.FileName)), p.limits.MaxFileSize)
		}
		total += f.Size

		ext := strings.ToLower(filepath.Ext(f.FileName))
		if !slices.Contains(p.limits.AllowedExtensions, ext) {
			return invalid("Only %s files allowed.", strings.Join(p.limits.AllowedExtensions, ", "))
		}
	}

	if p.limits.MaxTotalFileSize > 0 && total > p.limits.MaxTotalFileSize {
		return invalid("Upload exceeds the maximum total size of %d bytes.", p.limits.MaxTotalFileSize)
	}

	return nil
}

func (p *Pipeline) process(ctx context.Context, f Upload, index int) (types.GalleryImage, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return types.GalleryImage{}, err
	}
	defer p.sem.Release(1)

	pictureID, err := storage.NewPictureID()
	if err != nil {
		return types.GalleryImage{}, err
	}
	name := storage.EncodeFileName(index, pictureID, f.FileName)

	data, err := os.ReadFile(f.TempPath)
	if err != nil {
		return types.GalleryImage{}, fmt.Errorf("read upload: %w", err)
	}

	clean, err := media.Strip(data, filepath.Ext(name))
	if err != nil {
		return types.GalleryImage{}, err
	}

	if err := p.store.WriteOriginal(name, clean); err != nil {
		return types.GalleryImage{}, fmt.Errorf("store original: %w", err)
	}
	if err := os.Remove(f.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("failed to remove intake file", zap.String("path", f.TempPath), zap.Error(err))
	}

	if err := p.previews.Generate(ctx, p.store.OriginalPath(name), p.store.PreviewPath(name)); err != nil {
		return types.GalleryImage{}, fmt.Errorf("generate preview: %w", err)
	}

	return types.GalleryImage{Link: storage.PreviewLink(name), PictureID: pictureID}, nil
}

func removeIntake(b Batch) {
	for _, f := range b.Files {
		if f.TempPath != "" {
			_ = os.Remove(f.TempPath)
		}
	}
}
