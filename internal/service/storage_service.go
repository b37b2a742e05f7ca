package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	appconfig "github.com/jmylchreest/autoindex-api/internal/config"
)

// reportPrefix is the object key prefix for archived report details.
const reportPrefix = "reports/"

// StorageService archives report details to object storage (Tigris/S3-compatible).
type StorageService struct {
	client  *s3.Client
	bucket  string
	enabled bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewStorageService creates a new storage service.
func NewStorageService(cfg *appconfig.Config, logger *slog.Logger) (*StorageService, error) {
	logger = logger.With("component", "storage")
	if !cfg.StorageEnabled {
		logger.Info("storage service disabled - no bucket configured")
		return &StorageService{
			enabled: false,
			logger:  logger,
			now:     time.Now,
		}, nil
	}

	// Load AWS config with static credentials
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.StorageEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		}
		o.UsePathStyle = true // Required for some S3-compatible services
	})

	logger.Info("storage service initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
	)

	return &StorageService{
		client:  client,
		bucket:  cfg.StorageBucket,
		enabled: true,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// IsEnabled returns whether storage is configured and available.
func (s *StorageService) IsEnabled() bool {
	return s != nil && s.enabled
}

// Bucket returns the configured bucket name.
func (s *StorageService) Bucket() string {
	return s.bucket
}

func reportKey(siteID, day string) string {
	return fmt.Sprintf("%s%s/%s.json", reportPrefix, siteID, day)
}

// PutReportDetails archives a report's detail document.
func (s *StorageService) PutReportDetails(ctx context.Context, siteID, day string, data []byte) error {
	if !s.IsEnabled() || len(data) == 0 {
		return nil
	}

	key := reportKey(siteID, day)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report details: %w", err)
	}

	s.logger.Debug("archived report details", "site_id", siteID, "day", day, "key", key, "bytes", len(data))
	return nil
}

// GetReportDetails fetches an archived detail document. It returns nil
// with no error when the object does not exist or storage is disabled.
func (s *StorageService) GetReportDetails(ctx context.Context, siteID, day string) ([]byte, error) {
	if !s.IsEnabled() {
		return nil, nil
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(reportKey(siteID, day)),
	})
	if err != nil {
		s.logger.Debug("report details not found", "site_id", siteID, "day", day, "error", err)
		return nil, nil
	}
	defer func() { _ = output.Body.Close() }()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read report details: %w", err)
	}
	return data, nil
}

// DeleteSiteReports deletes every archived report for a site.
func (s *StorageService) DeleteSiteReports(ctx context.Context, siteID string) (int, error) {
	return s.deleteMatching(ctx, reportPrefix+siteID+"/", func(time.Time) bool { return true })
}

// DeleteOldReports deletes archived reports older than maxAge.
func (s *StorageService) DeleteOldReports(ctx context.Context, maxAge time.Duration) (int, error) {
	if !s.IsEnabled() {
		return 0, nil
	}
	cutoff := s.now().Add(-maxAge)
	deleted, err := s.deleteMatching(ctx, reportPrefix, func(modified time.Time) bool {
		return modified.Before(cutoff)
	})
	if err == nil {
		s.logger.Info("report archive cleanup completed",
			"deleted_count", deleted,
			"max_age", maxAge.String(),
		)
	}
	return deleted, err
}

func (s *StorageService) deleteMatching(ctx context.Context, prefix string, match func(time.Time) bool) (int, error) {
	if !s.IsEnabled() {
		return 0, nil
	}

	deleted := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.LastModified == nil || !match(*obj.LastModified) {
				continue
			}
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				s.logger.Warn("failed to delete object",
					"key", aws.ToString(obj.Key),
					"error", err,
				)
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}

// GetObjectIfChanged fetches a small config document unless its ETag still
// matches etag. changed is false when the object is unchanged or missing.
func (s *StorageService) GetObjectIfChanged(ctx context.Context, key, etag string) (data []byte, newETag string, changed bool, err error) {
	if !s.IsEnabled() {
		return nil, etag, false, nil
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if etag != "" {
		input.IfNoneMatch = aws.String(`"` + etag + `"`)
	}

	output, err := s.client.GetObject(ctx, input)
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, "", false, nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotModified" || apiErr.ErrorCode() == "NoSuchKey") {
			return nil, etag, false, nil
		}
		return nil, etag, false, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer func() { _ = output.Body.Close() }()

	data, err = io.ReadAll(output.Body)
	if err != nil {
		return nil, etag, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	newETag = strings.Trim(aws.ToString(output.ETag), `"`)
	return data, newETag, true, nil
}
