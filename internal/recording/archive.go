package recording

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/huddlehq/huddle-recorder/internal/api"
	"github.com/huddlehq/huddle-recorder/internal/util"
)

// ArchiveConfig holds S3-compatible storage configuration.
type ArchiveConfig struct {
	Endpoint        string // Custom S3 endpoint (empty for AWS)
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// IsConfigured returns true if S3 settings are configured.
func (c *ArchiveConfig) IsConfigured() bool {
	return util.IsConfigured(c.Bucket, c.AccessKeyID, c.SecretAccessKey)
}

// S3Archive mirrors uploaded segments to an S3 bucket. It is best effort:
// failures are reported to the caller and never retried.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archive returns an archive for cfg.
func NewS3Archive(cfg *ArchiveConfig) *S3Archive {
	return &S3Archive{
		client: createS3Client(cfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *ArchiveConfig) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = cmp.Or(cfg.Region, "auto")
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Key returns the object key for seg: prefix/meeting/session/sequence-filename.
func (a *S3Archive) Key(seg *api.Segment) string {
	return a.prefix + path.Join(seg.MeetingID, seg.SessionID, fmt.Sprintf("%06d-%s", seg.Sequence, seg.Filename()))
}

// Archive uploads the segment file and returns its key.
func (a *S3Archive) Archive(ctx context.Context, seg *api.Segment) (string, error) {
	file, err := os.Open(seg.Path)
	if err != nil {
		return "", util.WrapError("open segment", err)
	}
	defer util.SafeCloseFunc(file, "segment file")()

	info, err := file.Stat()
	if err != nil {
		return "", util.WrapError("stat segment", err)
	}

	key := a.Key(seg)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("audio/wav"),
		Metadata: map[string]string{
			"recorder-role": string(seg.Role),
			"sequence":      strconv.Itoa(seg.Sequence),
			"final":         strconv.FormatBool(seg.Final),
		},
	})
	if err != nil {
		return "", util.WrapError("put segment object", err)
	}
	return key, nil
}

// TestArchiveConnection verifies bucket access by uploading and deleting a probe object.
func TestArchiveConnection(ctx context.Context, cfg *ArchiveConfig) error {
	if !cfg.IsConfigured() {
		return fmt.Errorf("archive is not configured")
	}

	client := createS3Client(cfg)

	ctx, cancel := context.WithTimeout(ctx, 30000*time.Millisecond)
	defer cancel()

	testKey := cfg.Prefix + fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano())
	testContent := []byte("huddle-recorder archive connection test")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}

	return nil
}
