// Package coldstorage offloads demoted run artifacts to an out-of-process
// blob archive (local mirror or S3) as a single tar.gz object per run, and
// restores them on demand.
package coldstorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Provider stores and fetches opaque objects by key. Implementations are
// assumed linearizable per object key.
type Provider interface {
	Name() string
	PutObject(ctx context.Context, key string, data []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// LocalMirror stores objects under a directory tree; the test and default
// provider.
type LocalMirror struct {
	Root string
}

// NewLocalMirror creates a filesystem-backed provider.
func NewLocalMirror(root string) *LocalMirror { return &LocalMirror{Root: root} }

func (p *LocalMirror) Name() string { return "local" }

func (p *LocalMirror) PutObject(_ context.Context, key string, data []byte) error {
	dest := filepath.Join(p.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func (p *LocalMirror) GetObject(_ context.Context, key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(p.Root, filepath.FromSlash(key)))
}

// S3Provider offloads to an S3 bucket using the standard AWS credential
// chain (or static credentials when supplied).
type S3Provider struct {
	bucket     string
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// S3Options configure the S3 provider.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string // custom endpoint for S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Provider builds an S3-backed provider.
func NewS3Provider(ctx context.Context, opts S3Options) (*S3Provider, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 provider requires a bucket")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Provider{
		bucket:     opts.Bucket,
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

func (p *S3Provider) Name() string { return "s3" }

func (p *S3Provider) PutObject(ctx context.Context, key string, data []byte) error {
	_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   newBytesReader(data),
	})
	return err
}

func (p *S3Provider) GetObject(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := p.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
