package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"musaic/config"
	"musaic/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// AvatarPrefix is the object prefix all mirrored avatars live under.
const AvatarPrefix = "avatars/"

// MaxAvatarSize caps a mirrored avatar download.
const MaxAvatarSize = 5 << 20

// NewMinioClient 创建 MinIO 客户端，不做任何网络请求
func NewMinioClient(cfg *config.Config) (*minio.Client, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}
	return client, nil
}

// InitMinio 初始化 MinIO 客户端，存储桶不存在时自动创建
func InitMinio(ctx context.Context, cfg *config.Config) (*AvatarStore, error) {
	logger.Info("正在连接 MinIO 服务器...",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := NewMinioClient(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	logger.Info("MinIO 客户端初始化成功")
	return NewAvatarStore(client, cfg.MinioBucket), nil
}

// AvatarStore keeps mirrored profile pictures in one bucket.
type AvatarStore struct {
	client *minio.Client
	bucket string
}

// NewAvatarStore wraps an existing client.
func NewAvatarStore(client *minio.Client, bucket string) *AvatarStore {
	return &AvatarStore{client: client, bucket: bucket}
}

// Bucket returns the bucket name.
func (s *AvatarStore) Bucket() string {
	return s.bucket
}

// Put uploads one object.
func (s *AvatarStore) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=86400",
	})
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", key, err)
	}
	return nil
}

// Get opens an object. The caller closes it.
func (s *AvatarStore) Get(ctx context.Context, key string) (*minio.Object, minio.ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minio.ObjectInfo{}, fmt.Errorf("获取对象 %s 失败: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, minio.ObjectInfo{}, fmt.Errorf("获取对象 %s 信息失败: %w", key, err)
	}
	return obj, info, nil
}

// IsNotFound reports whether err came from a missing object.
func IsNotFound(err error) bool {
	for err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// AvatarKey names the object for a user's avatar.
func AvatarKey(userID int64, contentType string) string {
	ext := ".jpg"
	switch {
	case strings.Contains(contentType, "png"):
		ext = ".png"
	case strings.Contains(contentType, "gif"):
		ext = ".gif"
	case strings.Contains(contentType, "webp"):
		ext = ".webp"
	}
	return fmt.Sprintf("%s%d%s", AvatarPrefix, userID, ext)
}

// MirrorAvatar downloads srcURL and stores it under the user's avatar key.
// It returns the public path the server serves the object at.
func (s *AvatarStore) MirrorAvatar(ctx context.Context, httpClient *http.Client, userID int64, srcURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("创建头像请求失败: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("下载头像失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("下载头像失败: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxAvatarSize+1))
	if err != nil {
		return "", fmt.Errorf("读取头像失败: %w", err)
	}
	if len(body) > MaxAvatarSize {
		return "", fmt.Errorf("头像超过 %d 字节", MaxAvatarSize)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	key := AvatarKey(userID, contentType)
	if err := s.Put(ctx, key, contentType, bytes.NewReader(body), int64(len(body))); err != nil {
		return "", err
	}
	return "/static/" + path.Clean(key), nil
}
