// Package avatar stores user avatar images in S3-compatible object storage.
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/util"
)

// MaxSize is the largest accepted avatar in bytes.
const MaxSize = 2 << 20

var (
	ErrUnsupportedType = errors.New("avatar must be a png, jpeg, gif or webp image")
	ErrTooLarge        = errors.New("avatar exceeds 2MB")
	ErrEmpty           = errors.New("avatar is empty")
)

var allowedTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ObjectPutter is the subset of *minio.Client used to store objects.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base clients load avatars from. Defaults to the
	// endpoint plus bucket.
	PublicURL string
}

// Uploader validates and stores avatar images.
type Uploader struct {
	objects   ObjectPutter
	bucket    string
	publicURL string
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.WithField("bucket", cfg.Bucket).Info("avatar: created bucket")
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return NewWithClient(client, cfg.Bucket, publicURL), nil
}

// NewWithClient builds an uploader over an existing object client.
func NewWithClient(objects ObjectPutter, bucket, publicURL string) *Uploader {
	return &Uploader{
		objects:   objects,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Upload sniffs the image type from its content, stores it under a fresh key
// for the user and returns the public URL.
func (u *Uploader) Upload(ctx context.Context, userID string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}

	contentType := mimetype.Detect(data).String()
	ext, ok := allowedTypes[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}

	key := objectKey(userID, ext)
	if _, err := u.objects.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	}); err != nil {
		return "", fmt.Errorf("put avatar: %w", err)
	}

	log.WithFields(log.Fields{"user_id": userID, "key": key, "bytes": len(data)}).Info("avatar: uploaded")
	return u.publicURL + "/" + key, nil
}

func objectKey(userID, ext string) string {
	return "avatars/" + userID + "/" + util.NewID("av") + ext
}
