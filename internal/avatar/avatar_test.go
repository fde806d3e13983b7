package avatar

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	bucket, key string
	opts        minio.PutObjectOptions
	data        []byte
	err         error
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.bucket, f.key, f.opts, f.data = bucket, key, opts, data
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestUploadStoresImageUnderUserPrefix(t *testing.T) {
	objects := &fakeObjects{}
	u := NewWithClient(objects, "avatars", "https://cdn.example.com/avatars/")

	url, err := u.Upload(context.Background(), "usr_1", bytes.NewReader(pngHeader))
	require.NoError(t, err)

	assert.Equal(t, "avatars", objects.bucket)
	assert.True(t, strings.HasPrefix(objects.key, "avatars/usr_1/av_"), objects.key)
	assert.True(t, strings.HasSuffix(objects.key, ".png"), objects.key)
	assert.Equal(t, "image/png", objects.opts.ContentType)
	assert.Equal(t, pngHeader, objects.data)
	assert.Equal(t, "https://cdn.example.com/avatars/"+objects.key, url)
}

func TestUploadRejectsNonImages(t *testing.T) {
	u := NewWithClient(&fakeObjects{}, "avatars", "http://localhost:9000/avatars")
	_, err := u.Upload(context.Background(), "usr_1", strings.NewReader("just some text"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestUploadRejectsEmptyAndOversized(t *testing.T) {
	u := NewWithClient(&fakeObjects{}, "avatars", "http://localhost:9000/avatars")

	_, err := u.Upload(context.Background(), "usr_1", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmpty)

	big := append(append([]byte{}, pngHeader...), make([]byte, MaxSize)...)
	_, err = u.Upload(context.Background(), "usr_1", bytes.NewReader(big))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestUploadWrapsStorageErrors(t *testing.T) {
	boom := errors.New("bucket unavailable")
	u := NewWithClient(&fakeObjects{err: boom}, "avatars", "http://localhost:9000/avatars")
	_, err := u.Upload(context.Background(), "usr_1", bytes.NewReader([]byte("GIF89a\x01\x00\x01\x00")))
	assert.ErrorIs(t, err, boom)
}
