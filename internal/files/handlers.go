package files

import (
	"errors"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"storefront/internal/api"
	"storefront/pkg/signedurl"
)

type Handlers struct {
	FS     fs.FS
	Signer *signedurl.Signer
	TTL    time.Duration
}

// Serve returns an uploaded file. The signed link is checked before the
// filesystem is touched, whatever other authentication the caller has.
func (h Handlers) Serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	q := r.URL.Query()
	if err := h.Signer.Verify(name, q.Get("token"), q.Get("expires")); err != nil {
		log.Printf("upload link rejected name=%q err=%v", name, err)
		api.Forbidden(w)
		return
	}

	info, err := fs.Stat(h.FS, name)
	if err != nil || info.IsDir() {
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "file not found")
			return
		}
		log.Printf("upload stat failed name=%q err=%v", name, err)
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeFileFS(w, r, h.FS, name)
}

// List is the admin view of the upload root with a fresh signed URL per file.
func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	items, err := List(h.FS)
	if err != nil {
		log.Printf("uploads list failed err=%v", err)
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	for i := range items {
		signed, err := h.Signer.Sign(items[i].Name, h.TTL)
		if err != nil {
			continue
		}
		items[i].URL = h.Signer.Link(signed)
		items[i].ExpiresAt = signed.ExpiresAt
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}
