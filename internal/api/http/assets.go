package http

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mind-engage/iti-mocktest/internal/rbac"
	"github.com/mind-engage/iti-mocktest/internal/storage"
)

const maxImageBytes = 5 << 20

var imageExt = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// MountAssets serves question images out of the blob store.
func MountAssets(r chi.Router, bs storage.BlobStore, log *zap.Logger) {
	// POST /assets/questions/{questionID}  multipart "file"
	r.With(rbac.Require("question:write")).Post("/questions/{questionID}", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+1<<10)
		f, _, err := r.FormFile("file")
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid", "file required")
			return
		}
		defer f.Close()

		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		ext, ok := imageExt[http.DetectContentType(head[:n])]
		if !ok {
			writeErr(w, http.StatusUnsupportedMediaType, "invalid", "png, jpeg, gif or webp expected")
			return
		}
		key := "questions/" + chi.URLParam(r, "questionID") + "/" + uuid.NewString() + ext
		key, err = bs.Put(key, io.MultiReader(bytes.NewReader(head[:n]), f))
		if err != nil {
			log.Error("store image", zap.String("key", key), zap.Error(err))
			writeErr(w, http.StatusInternalServerError, "internal", "store error")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"key": key, "url": "/assets/" + key})
	})

	// GET /assets/questions/...
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(path.Clean("/"+chi.URLParam(r, "*")), "/")
		if !strings.HasPrefix(key, "questions/") {
			writeErr(w, http.StatusNotFound, "not_found", "asset not found")
			return
		}
		rc, err := bs.Get(key)
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			writeErr(w, http.StatusNotFound, "not_found", "asset not found")
			return
		}
		if err != nil {
			log.Error("read asset", zap.String("key", key), zap.Error(err))
			writeErr(w, http.StatusInternalServerError, "internal", "store error")
			return
		}
		defer rc.Close()
		ct := mime.TypeByExtension(path.Ext(key))
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		_, _ = io.Copy(w, rc)
	})
}
