package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PresignTTL time.Duration
}

// MediaStore issues presigned URLs for chat media. Clients upload straight
// to the bucket; message rows only carry the object URL.
type MediaStore struct {
	cfg     S3Config
	s3      *s3.Client
	presign *s3.PresignClient
}

// MaxMediaBytes caps a single upload at 50 MiB.
const MaxMediaBytes = 50 << 20

var allowedMediaTypes = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"video/mp4":       "mp4",
	"audio/mpeg":      "mp3",
	"audio/ogg":       "ogg",
	"application/pdf": "pdf",
}

func NewMediaStore(ctx context.Context, cfg S3Config) (*MediaStore, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &MediaStore{
		cfg:     cfg,
		s3:      s3Client,
		presign: s3.NewPresignClient(s3Client),
	}, nil
}

// ObjectKey builds the bucket key for a new piece of chat media.
func (m *MediaStore) ObjectKey(chatID uuid.UUID, contentType string) (string, error) {
	ext, ok := allowedMediaTypes[strings.ToLower(contentType)]
	if !ok {
		return "", fmt.Errorf("unsupported media type %q", contentType)
	}
	return path.Join("chat-media", chatID.String(), uuid.NewString()+"."+ext), nil
}

// PresignUpload returns a presigned PUT URL plus the headers the client
// must send with it.
func (m *MediaStore) PresignUpload(ctx context.Context, key, contentType string, sizeBytes int64) (string, map[string]string, error) {
	if m == nil {
		return "", nil, errors.New("media store not configured")
	}
	if sizeBytes <= 0 || sizeBytes > MaxMediaBytes {
		return "", nil, fmt.Errorf("media size must be between 1 and %d bytes", MaxMediaBytes)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(sizeBytes),
	}
	presigned, err := m.presign.PresignPutObject(ctx, input, func(po *s3.PresignOptions) {
		if m.cfg.PresignTTL > 0 {
			po.Expires = m.cfg.PresignTTL
		}
	})
	if err != nil {
		return "", nil, err
	}

	headers := map[string]string{
		"Content-Type":   contentType,
		"Content-Length": strconv.FormatInt(sizeBytes, 10),
	}
	return presigned.URL, headers, nil
}

// PresignDownload returns a presigned GET URL for stored media.
func (m *MediaStore) PresignDownload(ctx context.Context, key string) (string, error) {
	if m == nil {
		return "", errors.New("media store not configured")
	}
	presigned, err := m.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		if m.cfg.PresignTTL > 0 {
			po.Expires = m.cfg.PresignTTL
		}
	})
	if err != nil {
		return "", err
	}
	return presigned.URL, nil
}
