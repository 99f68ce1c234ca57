package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/speechmentor/internal/auth"
	"github.com/nikhilbhutani/speechmentor/internal/storage"
	"github.com/nikhilbhutani/speechmentor/internal/trigger"
)

const MaxUploadBytes = 200 << 20

type UploadHandler struct {
	blobs    storage.Storage
	bucket   string
	prefix   string
	listener EventListener
	maxBytes int64
}

func NewUploadHandler(blobs storage.Storage, bucket, prefix string, l EventListener) *UploadHandler {
	return &UploadHandler{blobs: blobs, bucket: bucket, prefix: prefix, listener: l, maxBytes: MaxUploadBytes}
}

// Upload stores a recording under the caller's session and starts its
// execution.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	if session == "" {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}

	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds 200MB")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds 200MB")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	if !strings.HasPrefix(contentType, "audio/") && !strings.HasPrefix(contentType, "video/") {
		writeError(w, http.StatusUnsupportedMediaType, "only audio and video files are accepted")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	key := h.prefix + session + "/" + uuid.NewString() + "-" + cleanName(header.Filename)
	if err := h.blobs.Put(r.Context(), h.bucket, key, data, contentType); err != nil {
		slog.Error("upload store failed", "key", key, "error", err)
		writeError(w, http.StatusBadGateway, "failed to store file")
		return
	}

	res, err := h.listener.Handle(r.Context(), trigger.Event{Bucket: h.bucket, ObjectKey: key})
	if err != nil {
		slog.Error("upload trigger failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start execution")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"object_key":   key,
		"execution_id": res.ExecutionID,
	})
}

// cleanName keeps the base name and replaces characters that would break
// object keys.
func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "/" || name == "." || name == ".." {
		return "recording"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '?' || r == '#' || r == '%' || r < 0x20:
			return '_'
		}
		return r
	}, name)
}
