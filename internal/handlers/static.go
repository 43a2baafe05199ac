package handlers

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"imagesearch/internal/services"
	"imagesearch/internal/storage"
)

// StaticImageHandler serves image bytes from managed storage.
func StaticImageHandler(catalog *services.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "filename")
		// chi matches on the raw path when the request carries one.
		if r.URL.RawPath != "" {
			if unescaped, err := url.PathUnescape(name); err == nil {
				name = unescaped
			}
		}
		if storage.ValidateName(name) != nil {
			http.NotFound(w, r)
			return
		}

		rc, err := catalog.Open(r.Context(), name)
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", storage.ContentType(name))
		w.Header().Set("Cache-Control", "public, max-age=86400")
		if rs, ok := rc.(io.ReadSeeker); ok {
			http.ServeContent(w, r, name, time.Time{}, rs)
			return
		}
		if _, err := io.Copy(w, rc); err != nil {
			slog.WarnContext(r.Context(), "failed to stream image", "filename", name, "error", err)
		}
	}
}
