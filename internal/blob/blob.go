// Package blob stores uploaded clip images in an S3-compatible bucket.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"clipnote/internal/config"
)

var ErrDisabled = errors.New("blob: storage not configured")

// objectAPI is the subset of the S3 client used here.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store writes objects under a single bucket.
type Store struct {
	bucket     string
	client     objectAPI
	presigner  *s3.PresignClient
	presignTTL time.Duration
}

// New builds a Store from config. It returns ErrDisabled when no bucket is set.
func New(cfg config.S3Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, ErrDisabled
	}
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	client := s3.New(opts)

	ttl := time.Duration(cfg.PresignMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Store{
		bucket:     cfg.Bucket,
		client:     client,
		presigner:  s3.NewPresignClient(client),
		presignTTL: ttl,
	}, nil
}

var extByMIME = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/heic": ".heic",
}

func userSegment(userID string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, userID)
}

// ObjectKey builds "<user>/<yyyy>/<mm>/<uuid><ext>" for an upload.
func ObjectKey(userID, mimeType string, now time.Time) string {
	ext := extByMIME[strings.ToLower(mimeType)]
	return path.Join(userSegment(userID), now.UTC().Format("2006/01"), uuid.NewString()+ext)
}

// OwnedBy reports whether key lies under the user's upload prefix.
func OwnedBy(userID, key string) bool {
	user := userSegment(userID)
	if user == "" || user == "." || user == ".." || path.Clean(key) != key {
		return false
	}
	return strings.HasPrefix(key, user+"/")
}

// Put uploads data and returns its key.
func (s *Store) Put(ctx context.Context, userID, mimeType string, data []byte) (string, error) {
	key := ObjectKey(userID, mimeType, time.Now())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// Delete removes an object. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// URL returns a time-limited GET URL for key.
func (s *Store) URL(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}
