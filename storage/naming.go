package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	filePrefix = "upload"

	// PictureIDBytes is the number of random bytes behind a picture id.
	PictureIDBytes = 8
)

// ErrInvalidName is returned for file names that don't follow the
// upload_<index>_<pictureId>_<name><ext> layout.
var ErrInvalidName = errors.New("invalid stored file name")

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// imageExtensions are the extensions the gallery recognises on disk.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// IsImageFile reports whether name has one of the recognised image extensions.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// FileName is the decoded form of a stored file name.
type FileName struct {
	Index     int
	PictureID string
	Name      string
	Ext       string
}

func (f FileName) String() string {
	return fmt.Sprintf("%s_%d_%s_%s%s", filePrefix, f.Index, f.PictureID, f.Name, f.Ext)
}

// EncodeFileName builds the stored name for the index-th file of a batch.
// originalName is the client supplied name; its base is sanitized and its
// extension kept as is.
func EncodeFileName(index int, pictureID, originalName string) string {
	base := filepath.Base(originalName)
	ext := filepath.Ext(base)

	return FileName{
		Index:     index,
		PictureID: pictureID,
		Name:      SanitizeName(strings.TrimSuffix(base, ext)),
		Ext:       ext,
	}.String()
}

// DecodeFileName is the inverse of EncodeFileName.
func DecodeFileName(name string) (FileName, error) {
	if name != filepath.Base(name) {
		return FileName{}, fmt.Errorf("%w: %q contains a path", ErrInvalidName, name)
	}

	parts := strings.SplitN(name, "_", 4)
	if len(parts) != 4 || parts[0] != filePrefix {
		return FileName{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	index, err := strconv.Atoi(parts[1])
	if err != nil || index < 1 {
		return FileName{}, fmt.Errorf("%w: bad index in %q", ErrInvalidName, name)
	}

	if !isPictureID(parts[2]) {
		return FileName{}, fmt.Errorf("%w: bad picture id in %q", ErrInvalidName, name)
	}

	ext := filepath.Ext(parts[3])
	return FileName{
		Index:     index,
		PictureID: parts[2],
		Name:      strings.TrimSuffix(parts[3], ext),
		Ext:       ext,
	}, nil
}

// SanitizeName replaces every character outside [a-zA-Z0-9._-] with an
// underscore.
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// NewPictureID returns a random lowercase hex id.
func NewPictureID() (string, error) {
	b := make([]byte, PictureIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate picture id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func isPictureID(s string) bool {
	if s == "" {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil && strings.ToLower(s) == s
}
