package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hosseinskia/imageflow/types"
)

// ErrNotFound is returned when no stored image matches a lookup.
var ErrNotFound = errors.New("image not found")

// RetentionMonths is how long an original is kept before the sweep removes it.
const RetentionMonths = 1

// StoredImage is an original on disk together with its derived preview path.
// The preview may not exist.
type StoredImage struct {
	FileName
	File         string
	OriginalPath string
	PreviewPath  string
	ModTime      time.Time
}

// PreviewLink is the public URL of the preview.
func (s StoredImage) PreviewLink() string {
	return PreviewLink(s.File)
}

// PictureLink is the public URL of the picture detail page, used as the
// image link of audit records.
func (s StoredImage) PictureLink() string {
	return PictureLink(s.PictureID)
}

func PreviewLink(file string) string     { return "/previews/" + file }
func PictureLink(pictureID string) string { return "/pictures/" + pictureID }

// Store manages the originals and previews directories.
type Store struct {
	originalsDir string
	previewsDir  string
	logger       *zap.Logger
}

// New creates the directories if needed and returns a Store over them.
func New(originalsDir, previewsDir string, logger *zap.Logger) (*Store, error) {
	for _, dir := range []string{originalsDir, previewsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	return &Store{
		originalsDir: originalsDir,
		previewsDir:  previewsDir,
		logger:       logger,
	}, nil
}

func (s *Store) OriginalPath(file string) string { return filepath.Join(s.originalsDir, file) }
func (s *Store) PreviewPath(file string) string  { return filepath.Join(s.previewsDir, file) }
func (s *Store) PreviewsDir() string             { return s.previewsDir }

// WriteOriginal stores data under file using a temp file and rename, so a
// failed write never leaves a truncated original behind.
func (s *Store) WriteOriginal(file string, data []byte) error {
	if _, err := DecodeFileName(file); err != nil {
		return err
	}
	return WriteFileAtomic(s.OriginalPath(file), data)
}

// WriteFileAtomic writes data to a temp file in the destination directory and
// renames it into place.
func WriteFileAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}

// List returns the gallery entries derived from the preview files.
func (s *Store) List() ([]types.GalleryImage, error) {
	names, err := s.imageNames(s.previewsDir)
	if err != nil {
		return nil, err
	}

	images := make([]types.GalleryImage, 0, len(names))
	for _, name := range names {
		fn, err := DecodeFileName(name)
		if err != nil {
			continue
		}
		images = append(images, types.GalleryImage{Link: PreviewLink(name), PictureID: fn.PictureID})
	}

	return images, nil
}

// Find returns the stored original carrying pictureID.
func (s *Store) Find(pictureID string) (StoredImage, error) {
	originals, err := s.originals()
	if err != nil {
		return StoredImage{}, err
	}

	for _, img := range originals {
		if img.PictureID == pictureID {
			return img, nil
		}
	}

	return StoredImage{}, fmt.Errorf("%w: %s", ErrNotFound, pictureID)
}

// HasPreview reports whether a preview exists for pictureID.
func (s *Store) HasPreview(pictureID string) (bool, error) {
	names, err := s.imageNames(s.previewsDir)
	if err != nil {
		return false, err
	}

	for _, name := range names {
		if fn, err := DecodeFileName(name); err == nil && fn.PictureID == pictureID {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes a stored original and its preview. A missing preview is
// not an error.
func (s *Store) Delete(file string) (StoredImage, error) {
	fn, err := DecodeFileName(file)
	if err != nil {
		return StoredImage{}, err
	}

	img := s.stored(file, fn)
	if err := os.Remove(img.OriginalPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StoredImage{}, fmt.Errorf("%w: %s", ErrNotFound, file)
		}
		return StoredImage{}, fmt.Errorf("remove original: %w", err)
	}

	if err := removeIfExists(img.PreviewPath); err != nil {
		s.logger.Warn("failed to remove preview", zap.String("file", file), zap.Error(err))
	}

	return img, nil
}

// DeleteAll removes every original and its preview and returns how many
// originals were found. Failures on individual files are logged and skipped.
func (s *Store) DeleteAll() (int, error) {
	names, err := s.imageNames(s.originalsDir)
	if err != nil {
		return 0, err
	}

	for _, name := range names {
		if err := removeIfExists(s.OriginalPath(name)); err != nil {
			s.logger.Error("failed to delete original", zap.String("file", name), zap.Error(err))
			continue
		}
		if err := removeIfExists(s.PreviewPath(name)); err != nil {
			s.logger.Warn("failed to delete preview", zap.String("file", name), zap.Error(err))
		}
	}

	return len(names), nil
}

// Purge removes originals last modified more than RetentionMonths before now,
// together with their previews. It returns the number removed.
func (s *Store) Purge(now time.Time) (int, error) {
	cutoff := now.AddDate(0, -RetentionMonths, 0)

	names, err := s.imageNames(s.originalsDir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		info, err := os.Stat(s.OriginalPath(name))
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := removeIfExists(s.OriginalPath(name)); err != nil {
			s.logger.Error("retention sweep failed to delete original", zap.String("file", name), zap.Error(err))
			continue
		}
		_ = removeIfExists(s.PreviewPath(name))
		removed++
	}

	if removed > 0 {
		s.logger.Info("retention sweep removed old images", zap.Int("count", removed), zap.Time("cutoff", cutoff))
	}

	return removed, nil
}

func (s *Store) originals() ([]StoredImage, error) {
	names, err := s.imageNames(s.originalsDir)
	if err != nil {
		return nil, err
	}

	images := make([]StoredImage, 0, len(names))
	for _, name := range names {
		fn, err := DecodeFileName(name)
		if err != nil {
			continue
		}
		img := s.stored(name, fn)
		if info, err := os.Stat(img.OriginalPath); err == nil {
			img.ModTime = info.ModTime()
		}
		images = append(images, img)
	}

	return images, nil
}

func (s *Store) stored(file string, fn FileName) StoredImage {
	return StoredImage{
		FileName:     fn,
		File:         file,
		OriginalPath: s.OriginalPath(file),
		PreviewPath:  s.PreviewPath(file),
	}
}

// imageNames lists regular files with image extensions in dir, sorted.
func (s *Store) imageNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	return names, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
