package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"assetcache/internal/cache"
	"assetcache/internal/config"
)

// Prober extracts image metadata from a file on disk.
type Prober func(path string) (cache.ImageMeta, error)

type Handlers struct {
	config *config.Config
	logger *zap.Logger
	engine *cache.Engine
	probe  Prober
}

func New(config *config.Config, logger *zap.Logger, engine *cache.Engine, probe Prober) *Handlers {
	return &Handlers{
		config: config,
		logger: logger,
		engine: engine,
		probe:  probe,
	}
}

// Register mounts all cache routes on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/cache", h.HandleCache)
	mux.HandleFunc("/api/cache/stats", h.HandleStats)
	mux.HandleFunc("/api/cache/upload", h.HandleUpload)
	mux.HandleFunc("/api/cache/entry", h.HandleEntry)
	mux.HandleFunc("/api/cache/content", h.HandleContent)
	mux.HandleFunc("/api/cache/rename", h.HandleRename)
	mux.HandleFunc("/api/cache/exists", h.HandleExists)
	mux.HandleFunc("/api/cache/limits", h.HandleLimits)
	mux.HandleFunc("/healthz", h.HandleHealthz)
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleCache lists entries (GET) or clears the cache (DELETE).
func (h *Handlers) HandleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := h.engine.List(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, entries)
	case http.MethodDelete:
		if !h.authorized(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		result, err := h.engine.ClearAll(r.Context())
		if err != nil && len(result.Failed) == 0 {
			h.writeError(w, err)
			return
		}
		status := http.StatusOK
		if err != nil {
			h.logger.Warn("Cache cleared partially", zap.Error(err))
			status = http.StatusMultiStatus
		}
		h.writeJSON(w, status, result)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)

	err := r.ParseMultipartForm(32 << 20)
	if err != nil {
		http.Error(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}

	mode, ok := cache.ParseAddressingMode(r.FormValue("mode"))
	if !ok {
		http.Error(w, "Invalid mode", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	allowedExts := map[string]bool{
		".tif":  true,
		".tiff": true,
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".webp": true,
	}

	if !allowedExts[ext] {
		http.Error(w, "Invalid file extension", http.StatusBadRequest)
		return
	}

	tempFile, err := os.CreateTemp(os.TempDir(), "upload_*"+ext)
	if err != nil {
		h.logger.Error("Failed to create temp file", zap.Error(err))
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	_, err = io.Copy(tempFile, file)
	tempFile.Close()
	if err != nil {
		h.logger.Error("Failed to copy file", zap.Error(err))
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}

	meta, err := h.probe(tempPath)
	if err != nil {
		h.logger.Warn("Failed to probe uploaded image", zap.String("filename", header.Filename), zap.Error(err))
		http.Error(w, "Failed to read image", http.StatusBadRequest)
		return
	}

	data, err := os.ReadFile(tempPath)
	if err != nil {
		h.logger.Error("Failed to read uploaded file", zap.Error(err))
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}

	key := r.FormValue("key")
	if key == "" {
		key = header.Filename
	}

	var path string
	if mode == cache.NameKeyed {
		path, err = h.engine.CacheImageWithOriginalName(r.Context(), key, data, meta)
	} else {
		path, err = h.engine.CacheImage(r.Context(), key, data, meta)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("Cached uploaded image",
		zap.String("key", key),
		zap.String("mode", mode.String()),
		zap.String("path", path),
	)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"mode":  mode.String(),
		"path":  path,
		"saved": true,
	})
}

// HandleEntry returns (GET) or removes (DELETE) the entry for ?mode=&key=.
func (h *Handlers) HandleEntry(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseKey(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		entry, err := h.engine.Get(r.Context(), key)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if entry == nil {
			http.NotFound(w, r)
			return
		}
		h.writeJSON(w, http.StatusOK, entry)
	case http.MethodDelete:
		if !h.authorized(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		removed, err := h.engine.Remove(r.Context(), key)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) HandleContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, ok := h.parseKey(w, r)
	if !ok {
		return
	}

	data, entry, err := h.engine.ReadImage(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	contentType := http.DetectContentType(data)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("ETag", `"`+entry.ID+`"`)
	w.Header().Set("X-Image-Width", fmt.Sprintf("%d", entry.Width))
	w.Header().Set("X-Image-Height", fmt.Sprintf("%d", entry.Height))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(data)
}

type renameRequest struct {
	Old string `json:"old"`
	New string `json:"new"`
}

func (h *Handlers) HandleRename(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	path, err := h.engine.Rename(r.Context(), req.Old, req.New)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (h *Handlers) HandleExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	exists, err := h.engine.FileNameExists(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

type limitsRequest struct {
	MaxBytes int64 `json:"maxBytes"`
	MaxFiles int   `json:"maxFiles"`
}

func (h *Handlers) HandleLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req limitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.engine.SetLimits(r.Context(), req.MaxBytes, req.MaxFiles); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) parseKey(w http.ResponseWriter, r *http.Request) (cache.Key, bool) {
	query := r.URL.Query()
	mode, ok := cache.ParseAddressingMode(query.Get("mode"))
	if !ok {
		http.Error(w, "Invalid mode", http.StatusBadRequest)
		return cache.Key{}, false
	}
	value := query.Get("key")
	if value == "" {
		http.Error(w, "Missing key", http.StatusBadRequest)
		return cache.Key{}, false
	}
	return cache.Key{Mode: mode, Value: value}, true
}

func (h *Handlers) authorized(r *http.Request) bool {
	if h.config.IsUploadPublic() {
		return true
	}

	token := ""
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return token == h.config.UploadToken
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps cache error codes to HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	code := cache.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case cache.CodeInvalidArgument:
		status = http.StatusBadRequest
	case cache.CodeNotFound:
		status = http.StatusNotFound
	case cache.CodeDuplicateName:
		status = http.StatusConflict
	case cache.CodeNotInitialized:
		status = http.StatusServiceUnavailable
	case cache.CodeInsufficientSpace:
		status = http.StatusInsufficientStorage
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Cache operation failed", zap.String("code", string(code)), zap.Error(err))
	}

	message := err.Error()
	var platformErr platformerrors.PlatformError
	if platformerrors.As(err, &platformErr) {
		message = platformErr.Message()
	}

	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  string(code),
	})
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
