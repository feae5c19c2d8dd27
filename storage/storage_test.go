package storage

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"uplink-service/apperr"
	"uplink-service/config"
	"uplink-service/model"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUploader struct {
	err    error
	inputs []*s3.PutObjectInput
	bodies []string
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.inputs = append(f.inputs, in)
	data, _ := io.ReadAll(in.Body)
	f.bodies = append(f.bodies, string(data))
	if f.err != nil {
		return nil, f.err
	}
	return &manager.UploadOutput{Key: in.Key}, nil
}

func testConfig() config.StorageConfig {
	return config.StorageConfig{
		Region:         "us-east-1",
		Bucket:         "uplink",
		PublicURL:      "https://cdn.example.com/",
		MaxUploadBytes: 10 * 1024 * 1024,
	}
}

func TestUploadReturnsPublicURL(t *testing.T) {
	up := &fakeUploader{}
	s := NewWithUploader(up, testConfig(), zap.NewNop())
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	obj, err := s.Upload(context.Background(), BucketAttachments, "brief v2.pdf", "application/pdf", 5, strings.NewReader("hello"))
	require.NoError(t, err)

	assert.Equal(t, model.MessageFile, obj.Kind)
	assert.True(t, strings.HasPrefix(obj.Path, "1700000000000-"))
	assert.True(t, strings.HasSuffix(obj.Path, "-brief_v2.pdf"))
	assert.Equal(t, "https://cdn.example.com/chat-attachments/"+obj.Path, obj.URL)

	require.Len(t, up.inputs, 1)
	assert.Equal(t, "uplink", *up.inputs[0].Bucket)
	assert.Equal(t, "chat-attachments/"+obj.Path, *up.inputs[0].Key)
	assert.Equal(t, "hello", up.bodies[0])
}

func TestUploadValidation(t *testing.T) {
	up := &fakeUploader{}
	s := NewWithUploader(up, testConfig(), zap.NewNop())
	ctx := context.Background()

	_, err := s.Upload(ctx, "secrets", "a.txt", "text/plain", 1, strings.NewReader("a"))
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = s.Upload(ctx, BucketAvatars, "big.png", "image/png", 11*1024*1024, strings.NewReader(""))
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	assert.Contains(t, apperr.Message(err), "10MB")

	_, err = s.Upload(ctx, BucketAvatars, " ", "image/png", 1, strings.NewReader(""))
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	assert.Empty(t, up.inputs)
}

func TestUploadClassifiesPermissionDenied(t *testing.T) {
	for _, msg := range []string{
		"operation error S3: PutObject, https response error StatusCode: 403, api error AccessDenied: Access Denied",
		"new row violates row-level security policy",
		"pq: permission denied (SQLSTATE 42501)",
	} {
		s := NewWithUploader(&fakeUploader{err: errors.New(msg)}, testConfig(), zap.NewNop())
		_, err := s.Upload(context.Background(), BucketAvatars, "me.png", "image/png", 1, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrPermissionDenied, msg)
		assert.ErrorIs(t, err, apperr.ErrUnauthorized, msg)
	}

	s := NewWithUploader(&fakeUploader{err: errors.New("connection reset by peer")}, testConfig(), zap.NewNop())
	_, err := s.Upload(context.Background(), BucketAvatars, "me.png", "image/png", 1, strings.NewReader("x"))
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	up := &fakeUploader{err: errors.New("timeout")}
	s := NewWithUploader(up, testConfig(), zap.NewNop())
	for i := 0; i < 5; i++ {
		_, _ = s.Upload(context.Background(), BucketAvatars, "me.png", "image/png", 1, strings.NewReader("x"))
	}

	_, err := s.Upload(context.Background(), BucketAvatars, "me.png", "image/png", 1, strings.NewReader("x"))
	assert.Equal(t, "storage temporarily unavailable", apperr.Message(err))
	assert.Len(t, up.inputs, 5)
}

func TestObjectPathAndKind(t *testing.T) {
	path := ObjectPath(time.UnixMilli(42), "héllo wörld!.png")
	assert.Regexp(t, regexp.MustCompile(`^42-[0-9a-z]{1,6}-h_llo_w_rld_\.png$`), path)

	assert.Equal(t, model.MessageImage, MessageKind("image/webp"))
	assert.Equal(t, model.MessageFile, MessageKind("application/zip"))
}

func TestDefaultPublicURL(t *testing.T) {
	cfg := testConfig()
	cfg.PublicURL = ""
	s := NewWithUploader(&fakeUploader{}, cfg, zap.NewNop())
	assert.Equal(t, "https://uplink.s3.us-east-1.amazonaws.com/avatars/a%20b.png", s.PublicURL("avatars/a b.png"))

	cfg.Endpoint = "http://minio:9000"
	s = NewWithUploader(&fakeUploader{}, cfg, zap.NewNop())
	assert.Equal(t, "http://minio:9000/uplink/avatars/x.png", s.PublicURL("avatars/x.png"))
}
