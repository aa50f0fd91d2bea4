package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"nano-chat-go/engine"
	"nano-chat-go/model"
)

const maxUploadBytes = 10 << 20 // 10 MiB

var allowedImageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// handleUploadImage stores an image upload under a content-addressed
// name, so re-uploading the same file is idempotent. Accepts either a
// multipart "file" field or a JSON body with a base64 data URL.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var (
		data []byte
		name string
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var err error
		data, name, err = decodeDataURLUpload(r.Body)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		file, header, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		name = header.Filename
		if data, err = io.ReadAll(file); err != nil {
			s.writeError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !allowedImageExts[ext] {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported image type %q", ext))
		return
	}

	// webp has no registered stdlib decoder; trust the extension there.
	if ext != ".webp" {
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			s.writeError(w, http.StatusBadRequest, "file is not a decodable image")
			return
		}
	}

	if err := os.MkdirAll(s.cfg.UploadsDir, 0o755); err != nil {
		s.logger.Error("uploads dir create failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	stored := fmt.Sprintf("%016x%s", xxhash.Sum64(data), ext)
	path := filepath.Join(s.cfg.UploadsDir, stored)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Error("upload write failed", "path", path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	s.logger.Info("image uploaded", "filename", stored, "bytes", len(data))
	s.writeJSON(w, http.StatusOK, map[string]string{
		"filename": stored,
		"url":      "/uploads/" + stored,
	})
}

// decodeDataURLUpload parses {"image": "data:image/png;base64,...",
// "filename": "x.png"} request bodies.
func decodeDataURLUpload(body io.Reader) ([]byte, string, error) {
	var req struct {
		Image    string `json:"image"`
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, "", errors.New("invalid JSON body")
	}
	if req.Image == "" {
		return nil, "", errors.New("missing image field")
	}
	payload := req.Image
	if idx := strings.Index(payload, ";base64,"); idx >= 0 {
		payload = payload[idx+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", errors.New("image field is not valid base64")
	}
	name := req.Filename
	if name == "" {
		name = "upload.png"
	}
	return data, name, nil
}

// loadUploadedImage resolves an /uploads/... URL back to a file in the
// uploads directory and preprocesses it for the model. Only the base
// name is used, so path traversal in the URL is inert.
func (s *Server) loadUploadedImage(imageURL string) (*engine.Image, error) {
	name := filepath.Base(imageURL)
	if name == "." || name == "/" || name == "" {
		return nil, fmt.Errorf("invalid image url %q", imageURL)
	}
	path := filepath.Join(s.cfg.UploadsDir, name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("image %s not found", name)
	}
	img, err := model.LoadImage(path, model.DefaultImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return img, nil
}
