package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"imagesearch/internal/services"
	"imagesearch/internal/storage"
)

const (
	maxUploadSize = 50 * 1024 * 1024 // whole request, all parts
	maxFormMemory = 32 << 20
	uploadField   = "images"
)

// UploadHandler stages multipart image parts in a temporary folder and runs
// them through the ingestion pipeline.
type UploadHandler struct {
	pipeline *services.Pipeline
	tempDir  string
}

// NewUploadHandler stages uploads under tempDir, or the system default when
// it is empty.
func NewUploadHandler(p *services.Pipeline, tempDir string) *UploadHandler {
	return &UploadHandler{pipeline: p, tempDir: tempDir}
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	parts := r.MultipartForm.File[uploadField]
	if len(parts) == 0 {
		writeDetail(w, http.StatusBadRequest, "at least one file in field \"images\" is required")
		return
	}

	for _, fh := range parts {
		if err := storage.ValidateName(filepath.Base(fh.Filename)); err != nil {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid filename %q", fh.Filename))
			return
		}
		mime := fh.Header.Get("Content-Type")
		if mime == "" || mime == "application/octet-stream" {
			mime = detectMime(fh.Filename)
		}
		if !isAllowedMime(mime) {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("unsupported image format %q", fh.Filename))
			return
		}
	}

	dir, err := os.MkdirTemp(h.tempDir, "upload-*")
	if err != nil {
		writeError(w, r, fmt.Errorf("create staging dir: %w", err))
		return
	}
	defer os.RemoveAll(dir)

	files := make([]services.SourceFile, 0, len(parts))
	staged := make(map[string]struct{}, len(parts))
	for _, fh := range parts {
		name := filepath.Base(fh.Filename)
		if _, dup := staged[name]; dup {
			continue
		}
		path := filepath.Join(dir, name)
		if err := stageFile(fh, path); err != nil {
			writeError(w, r, err)
			return
		}
		staged[name] = struct{}{}
		files = append(files, services.SourceFile{Name: name, Path: path})
	}

	added, err := h.pipeline.IngestFiles(r.Context(), files)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summaries(added))
}

func stageFile(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("stage %s: %w", fh.Filename, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("stage %s: %w", fh.Filename, err)
	}
	return dst.Close()
}

func detectMime(filename string) string {
	switch filepath.Ext(filename) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

func isAllowedMime(mime string) bool {
	switch mime {
	case "image/jpeg", "image/png", "image/webp", "image/gif", "image/bmp", "image/x-ms-bmp":
		return true
	}
	return false
}
