package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"uplink-service/apperr"
	"uplink-service/config"
	"uplink-service/metrics"
	"uplink-service/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	BucketAvatars     = "avatars"
	BucketAttachments = "chat-attachments"
)

var buckets = map[string]bool{
	BucketAvatars:     true,
	BucketAttachments: true,
}

// ErrPermissionDenied marks uploads the store refused for lack of rights.
var ErrPermissionDenied = errors.New("permission denied")

// Uploader is the part of manager.Uploader the service needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type Object struct {
	Bucket      string `json:"bucket"`
	Path        string `json:"path"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	// Kind is the message type an attachment should be sent as.
	Kind string `json:"kind"`
}

// Storage puts objects into one S3 compatible bucket. Logical buckets
// (avatars, chat-attachments) become key prefixes.
type Storage struct {
	uploader  Uploader
	bucket    string
	publicURL string
	maxBytes  int64
	cb        *gobreaker.CircuitBreaker
	log       *zap.Logger
	now       func() time.Time
}

func New(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (*Storage, error) {
	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsConfig, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	log.Info("object storage client initialized",
		zap.String("bucket", cfg.Bucket),
		zap.String("endpoint", cfg.Endpoint))

	return NewWithUploader(manager.NewUploader(client), cfg, log), nil
}

func NewWithUploader(uploader Uploader, cfg config.StorageConfig, log *zap.Logger) *Storage {
	log = log.Named("storage")
	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		switch {
		case cfg.Endpoint != "":
			publicURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		default:
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	st := gobreaker.Settings{
		Name:        "storage",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A refused upload says nothing about the store's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrPermissionDenied)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Storage{
		uploader:  uploader,
		bucket:    cfg.Bucket,
		publicURL: publicURL,
		maxBytes:  cfg.MaxUploadBytes,
		cb:        gobreaker.NewCircuitBreaker(st),
		log:       log,
		now:       time.Now,
	}
}

// Upload stores body under a generated path in bucket and returns its
// public URL.
func (s *Storage) Upload(ctx context.Context, bucket, filename, contentType string, size int64, body io.Reader) (*Object, error) {
	if !buckets[bucket] {
		return nil, apperr.Invalid("unknown bucket")
	}
	if strings.TrimSpace(filename) == "" {
		return nil, apperr.Invalid("file name is required")
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, apperr.Invalid(fmt.Sprintf("file too large (max %dMB)", s.maxBytes/(1024*1024)))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	path := ObjectPath(s.now(), filename)
	key := bucket + "/" + path

	_, err := s.cb.Execute(func() (interface{}, error) {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        body,
			ContentType: aws.String(contentType),
		})
		return nil, Classify(err)
	})
	if err != nil {
		metrics.Uploads.WithLabelValues(bucket, outcome(err)).Inc()
		s.log.Warn("upload failed", zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
		switch {
		case errors.Is(err, ErrPermissionDenied):
			return nil, apperr.Wrap(apperr.KindUnauthorized, "permission denied: you are not allowed to upload to this bucket", err)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, apperr.Upstream("storage temporarily unavailable", err)
		}
		return nil, apperr.Upstream("upload failed", err)
	}
	metrics.Uploads.WithLabelValues(bucket, "ok").Inc()

	return &Object{
		Bucket:      bucket,
		Path:        path,
		URL:         s.PublicURL(key),
		ContentType: contentType,
		Size:        size,
		Kind:        MessageKind(contentType),
	}, nil
}

func (s *Storage) PublicURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.publicURL + "/" + strings.Join(parts, "/")
}

// permissionPatterns are the fragments upstream errors carry when an upload
// was refused rather than failed.
var permissionPatterns = []string{"accessdenied", "access denied", "forbidden", "row-level security", "42501"}

// Classify turns a refused upload into ErrPermissionDenied, keeping the
// original error in the chain.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, p := range permissionPatterns {
		if strings.Contains(msg, p) {
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}
	return err
}

func outcome(err error) string {
	if errors.Is(err, ErrPermissionDenied) {
		return "denied"
	}
	return "error"
}

// MessageKind maps a content type to the message type of an attachment.
func MessageKind(contentType string) string {
	if strings.HasPrefix(contentType, "image/") {
		return model.MessageImage
	}
	return model.MessageFile
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// ObjectPath builds "<unix ms>-<random base36>-<sanitized name>".
func ObjectPath(now time.Time, filename string) string {
	suffix := strconv.FormatUint(rand.Uint64(), 36)
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), suffix, unsafeName.ReplaceAllString(filename, "_"))
}
