package server

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"musaic/logger"
	"musaic/storage"
)

// StaticHandler 处理 MinIO 头像请求
type StaticHandler struct {
	store AvatarStore
}

// NewStaticHandler 创建 StaticHandler 实例，store 可以为 nil
func NewStaticHandler(store AvatarStore) *StaticHandler {
	return &StaticHandler{store: store}
}

// ServeHTTP serves /static/avatars/{key}.
func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	objectPath := strings.TrimPrefix(r.URL.Path, "/static/")
	if h.store == nil || !strings.HasPrefix(objectPath, storage.AvatarPrefix) || path.Clean(objectPath) != objectPath {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	object, info, err := h.store.Get(ctx, objectPath)
	if err != nil {
		if !storage.IsNotFound(err) {
			logger.Error("[Static] 读取头像失败", logger.String("key", objectPath), logger.ErrorField(err))
		}
		http.NotFound(w, r)
		return
	}
	defer object.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")

	if _, err := io.Copy(w, object); err != nil {
		logger.Error("Error serving file from MinIO", logger.ErrorField(err))
	}
}
