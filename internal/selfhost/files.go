package selfhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bakaf/pixel/internal/platform"
)

// S3Config describes the object store holding uploaded files.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	// PublicBaseURL serves objects directly. Without it view URLs are presigned.
	PublicBaseURL   string
	AccessKeyID     string
	SecretAccessKey string
	PresignTTL      time.Duration
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type objectHeader interface {
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Storage implements platform.StorageService on an S3-compatible service. Each
// platform bucket is a key prefix inside the configured S3 bucket.
type S3Storage struct {
	uploader   objectUploader
	objects    objectHeader
	presigner  objectPresigner
	bucket     string
	baseURL    string
	presignTTL time.Duration
	now        func() time.Time
}

// NewS3Storage configures an uploader targeting the provided object store.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if strings.TrimSpace(cfg.Endpoint) != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return newS3Storage(uploader, client, s3.NewPresignClient(client), cfg), nil
}

func newS3Storage(uploader objectUploader, objects objectHeader, presigner objectPresigner, cfg S3Config) *S3Storage {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &S3Storage{
		uploader:   uploader,
		objects:    objects,
		presigner:  presigner,
		bucket:     cfg.Bucket,
		baseURL:    strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		presignTTL: ttl,
		now:        time.Now,
	}
}

func objectKey(bucketID, fileID string) string {
	return strings.Trim(bucketID, "/") + "/" + strings.Trim(fileID, "/")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// CreateFile uploads the file under bucketID/fileID.
func (s *S3Storage) CreateFile(ctx context.Context, bucketID, fileID string, file platform.InputFile) (platform.File, error) {
	if strings.TrimSpace(fileID) == "" {
		return platform.File{}, invalidArgument("Invalid `fileId` param: must not be empty")
	}
	rc, err := file.Open()
	if err != nil {
		return platform.File{}, invalidArgument("Invalid `file` param: %v", err)
	}
	defer rc.Close()

	key := objectKey(bucketID, fileID)
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	body := &countingReader{r: rc}
	input := &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               manager.ReadSeekCloser(body),
		ContentType:        aws.String(mimeType),
		ContentDisposition: aws.String(fmt.Sprintf("inline; filename=%q", file.Name)),
	}
	if s.baseURL != "" {
		input.ACL = s3types.ObjectCannedACLPublicRead
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return platform.File{}, fmt.Errorf("s3 storage upload %s: %w", key, err)
	}

	return platform.File{
		ID:        fileID,
		BucketID:  bucketID,
		Name:      file.Name,
		MimeType:  mimeType,
		Size:      body.n,
		CreatedAt: s.now().UTC(),
	}, nil
}

func (s *S3Storage) ensureExists(ctx context.Context, key string) error {
	_, err := s.objects.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		return nil
	}
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return errFileNotFound
	}
	return fmt.Errorf("s3 storage head %s: %w", key, err)
}

func (s *S3Storage) viewURL(ctx context.Context, key string) (string, error) {
	if s.baseURL != "" {
		return s.baseURL + "/" + (&url.URL{Path: key}).EscapedPath(), nil
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("s3 storage presign %s: %w", key, err)
	}
	return req.URL, nil
}

// GetFileView returns a URL serving the stored object.
func (s *S3Storage) GetFileView(ctx context.Context, bucketID, fileID string) (string, error) {
	key := objectKey(bucketID, fileID)
	if err := s.ensureExists(ctx, key); err != nil {
		return "", err
	}
	return s.viewURL(ctx, key)
}

// GetFilePreview returns the public URL with resize parameters for an image proxy
// in front of the bucket. Presigned URLs cannot carry extra parameters, so they are
// returned unchanged.
func (s *S3Storage) GetFilePreview(ctx context.Context, bucketID, fileID string, opts platform.PreviewOptions) (string, error) {
	key := objectKey(bucketID, fileID)
	if err := s.ensureExists(ctx, key); err != nil {
		return "", err
	}
	view, err := s.viewURL(ctx, key)
	if err != nil || s.baseURL == "" {
		return view, err
	}

	params := url.Values{}
	if opts.Width > 0 {
		params.Set("width", strconv.Itoa(opts.Width))
	}
	if opts.Height > 0 {
		params.Set("height", strconv.Itoa(opts.Height))
	}
	if opts.Gravity != "" {
		params.Set("gravity", opts.Gravity)
	}
	if opts.Quality > 0 {
		params.Set("quality", strconv.Itoa(opts.Quality))
	}
	if len(params) == 0 {
		return view, nil
	}
	return view + "?" + params.Encode(), nil
}

var _ platform.StorageService = (*S3Storage)(nil)
