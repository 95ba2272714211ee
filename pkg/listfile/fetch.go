package listfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ErrFetch wraps failures acquiring a manifest from its source.
var ErrFetch = errors.New("fetching listfile")

// Defaults used by the manifest cache.
const (
	DefaultURL          = "https://github.com/wowdev/wow-listfile/releases/latest/download/community-listfile.csv"
	DefaultCacheFile    = "listfile.csv"
	DefaultMaxAge       = 7 * 24 * time.Hour
	DefaultFetchTimeout = 20 * time.Second
)

// Source provides the raw manifest bytes.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// HTTPSource downloads a manifest over HTTP(S).
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Open issues a GET request for the manifest.
func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

func (s *HTTPSource) String() string {
	return s.URL
}

// S3GetObjectAPI is the subset of the S3 client used by S3Source.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config locates a manifest object in an S3-compatible bucket.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Key          string `yaml:"key"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// S3Source reads a manifest object from S3.
type S3Source struct {
	Client S3GetObjectAPI
	Bucket string
	Key    string
}

// NewS3Source builds an S3Source using the default AWS credential chain.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, errors.New("s3 bucket and key are required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Source{
		Client: s3.NewFromConfig(awsConfig, s3Opts...),
		Bucket: cfg.Bucket,
		Key:    cfg.Key,
	}, nil
}

// Open fetches the manifest object body.
func (s *S3Source) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (s *S3Source) String() string {
	return "s3://" + s.Bucket + "/" + s.Key
}

// Cache keeps a fetched manifest on disk and reuses it until it goes stale.
type Cache struct {
	Path    string
	MaxAge  time.Duration
	Timeout time.Duration
	Now     func() time.Time
	Log     *zap.Logger
}

// NewCache returns a cache for the manifest file inside dir.
func NewCache(dir string, log *zap.Logger) *Cache {
	if dir == "" {
		dir = DefaultMappingsDirectory
	}
	return &Cache{
		Path:    filepath.Join(dir, DefaultCacheFile),
		MaxAge:  DefaultMaxAge,
		Timeout: DefaultFetchTimeout,
		Now:     time.Now,
		Log:     log,
	}
}

// Stale reports whether the cached file exists and is older than MaxAge.
func (c *Cache) Stale() (bool, error) {
	info, err := os.Stat(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.now().Sub(info.ModTime()) > c.MaxAge, nil
}

// Ensure makes sure a fresh manifest is present at Path, fetching it from
// src when it is missing or stale. It reports whether a fetch happened.
func (c *Cache) Ensure(ctx context.Context, src Source) (bool, error) {
	log := c.logger()

	stale, err := c.Stale()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if stale {
		log.Info("listfile is outdated, removing it", zap.String("path", c.Path))
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("%w: removing stale listfile: %w", ErrFetch, err)
		}
	}

	if _, err := os.Stat(c.Path); err == nil {
		return false, nil
	}

	return true, c.Fetch(ctx, src)
}

// Fetch downloads src into Path unconditionally.
func (c *Cache) Fetch(ctx context.Context, src Source) error {
	log := c.logger()
	log.Info("downloading listfile", zap.String("source", src.String()))

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := src.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w from %s: %w", ErrFetch, src, err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.Path), ".listfile-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w from %s: %w", ErrFetch, src, err)
	}

	if err := os.Rename(tmpName, c.Path); err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}

	log.Info("listfile downloaded", zap.String("path", c.Path), zap.Int64("bytes", n))
	return nil
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Cache) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}
