package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hosseinskia/imageflow/auditlog"
	"github.com/hosseinskia/imageflow/pipeline"
	"github.com/hosseinskia/imageflow/progress"
	"github.com/hosseinskia/imageflow/storage"
	"github.com/hosseinskia/imageflow/types"
)

const (
	// multipartMemory is how much of a multipart body is held in memory
	// before parts spill to disk.
	multipartMemory = 8 << 20
	// multipartOverhead allows for boundaries and form fields on top of
	// the file payload.
	multipartOverhead = 1 << 20

	uploadField      = "image"
	correlationField = "socketId"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	writeJson(w, http.StatusOK, jMap{"status": "ok"})
	return nil
}

// handleUpload is called when someone uploads a batch of images.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxTotalFileSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return PublicError{http.StatusBadRequest, fmt.Sprintf("Upload exceeds the maximum total size of %d bytes.", s.cfg.MaxTotalFileSize)}
		}
		return PublicError{http.StatusBadRequest, "No valid images uploaded."}
	}
	defer r.MultipartForm.RemoveAll()

	correlationID := r.FormValue(correlationField)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	batch, err := spoolUploads(correlationID, r.MultipartForm.File[uploadField])
	if err != nil {
		return err
	}

	// a client that disconnects mid-batch must not leave it half processed
	ctx := context.WithoutCancel(r.Context())
	results, err := s.pipeline.Run(ctx, batch, requester(r))
	if err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			return PublicError{http.StatusBadRequest, verr.Message}
		}

		var perr *pipeline.ProcessingError
		if errors.As(err, &perr) {
			loggerFrom(r).Error("upload failed", zap.String("correlation_id", correlationID), zap.Error(err))
			return PublicError{http.StatusInternalServerError, "Processing failed: " + perr.Err.Error()}
		}
		return err
	}

	writeJson(w, http.StatusOK, jMap{"results": results})
	return nil
}

// spoolUploads copies every multipart file to its own intake file, which the
// pipeline owns from then on.
func spoolUploads(correlationID string, headers []*multipart.FileHeader) (pipeline.Batch, error) {
	batch := pipeline.Batch{CorrelationID: correlationID}

	for _, h := range headers {
		path, err := spool(h)
		if err != nil {
			for _, f := range batch.Files {
				_ = os.Remove(f.TempPath)
			}
			return pipeline.Batch{}, fmt.Errorf("spool upload %q: %w", h.Filename, err)
		}
		batch.Files = append(batch.Files, pipeline.Upload{FileName: h.Filename, Size: h.Size, TempPath: path})
	}

	return batch, nil
}

func spool(h *multipart.FileHeader) (string, error) {
	src, err := h.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "imageflow_upload_*")
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}

	return dst.Name(), nil
}

// handleEvents streams the progress of the upload identified by correlationId.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "correlationId")
	if id == "" {
		return PublicError{http.StatusBadRequest, "Missing correlation id."}
	}

	return progress.Stream(r.Context(), w, s.hub, id)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) error {
	images, err := s.store.List()
	if err != nil {
		return PublicError{http.StatusInternalServerError, "Failed to fetch images: " + err.Error()}
	}

	writeJson(w, http.StatusOK, jMap{"images": images})
	return nil
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) error {
	file := chi.URLParam(r, "file")

	img, err := s.store.Delete(file)
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		return PublicError{http.StatusBadRequest, "Invalid file name."}
	case errors.Is(err, storage.ErrNotFound):
		return PublicError{http.StatusNotFound, "Image not found"}
	case err != nil:
		return PublicError{http.StatusInternalServerError, "Failed to delete image: " + err.Error()}
	}

	s.audit.Log(r.Context(), requester(r), auditlog.ActionDeleted, img.PictureLink())

	writeJson(w, http.StatusOK, jMap{"message": "Deleted " + file})
	return nil
}

func (s *Server) handleDeleteAllImages(w http.ResponseWriter, r *http.Request) error {
	n, err := s.store.DeleteAll()
	if err != nil {
		return PublicError{http.StatusInternalServerError, "Failed to delete all images: " + err.Error()}
	}

	if n == 0 {
		writeJson(w, http.StatusOK, jMap{"message": "No images to delete"})
		return nil
	}

	s.audit.Log(r.Context(), requester(r), auditlog.ActionDeletedAll, "")

	writeJson(w, http.StatusOK, jMap{"message": "All images deleted"})
	return nil
}

// handleLogs answers with an empty list when the log can't be read.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) error {
	records, err := s.logs.ReadAll(r.Context())
	if err != nil {
		loggerFrom(r).Error("failed to read audit log", zap.Error(err))
		records = []auditlog.Record{}
	}

	writeJson(w, http.StatusOK, records)
	return nil
}

func (s *Server) pictureDetail(ctx context.Context, pictureID string) (types.PictureDetail, error) {
	img, err := s.store.Find(pictureID)
	if err != nil {
		return types.PictureDetail{}, err
	}

	records, err := s.logs.FindByImageLink(ctx, img.PictureLink())
	if err != nil {
		return types.PictureDetail{}, fmt.Errorf("read picture logs: %w", err)
	}

	events := make([]types.PictureEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, types.PictureEvent{Date: rec.Date, IP: rec.IP, Device: rec.Device, Action: rec.Action})
	}

	return types.PictureDetail{
		Preview:  img.PreviewLink(),
		Logs:     events,
		FileName: img.File,
	}, nil
}

func (s *Server) handlePicture(w http.ResponseWriter, r *http.Request) error {
	detail, err := s.pictureDetail(r.Context(), chi.URLParam(r, "pictureId"))
	if errors.Is(err, storage.ErrNotFound) {
		return PublicError{http.StatusNotFound, "Image not found"}
	}
	if err != nil {
		return PublicError{http.StatusInternalServerError, "Failed to fetch picture details: " + err.Error()}
	}

	writeJson(w, http.StatusOK, detail)
	return nil
}

func (s *Server) handleDownloadLink(w http.ResponseWriter, r *http.Request) error {
	img, err := s.store.Find(chi.URLParam(r, "pictureId"))
	if errors.Is(err, storage.ErrNotFound) {
		return PublicError{http.StatusNotFound, "Image not found"}
	}
	if err != nil {
		return err
	}

	token, err := s.tokens.Issue(img.OriginalPath)
	if err != nil {
		return err
	}

	writeJson(w, http.StatusOK, jMap{"downloadLink": "/download/" + token})
	return nil
}

// handlePreview serves preview files. Previews are always jpeg encoded.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) error {
	file := chi.URLParam(r, "file")
	if _, err := storage.DecodeFileName(file); err != nil {
		return PublicError{http.StatusNotFound, "Preview not found"}
	}

	path := s.store.PreviewPath(file)
	if _, err := os.Stat(path); err != nil {
		return PublicError{http.StatusNotFound, "Preview not found"}
	}

	setCacheControlHeaders(w)
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
	return nil
}

func setCacheControlHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "private, max-age=1800") // 30 min cache time
}
