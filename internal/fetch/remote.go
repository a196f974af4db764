package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/aotkit/blutter/internal/sdk"
)

// RemoteStore holds prebuilt Dart VM bundles.
type RemoteStore interface {
	// Get copies the object at key into w. It returns false with a nil
	// error when the object does not exist.
	Get(ctx context.Context, key string, w io.Writer) (bool, error)
	Put(ctx context.Context, key string, r io.Reader, size int64) error
}

// S3Config locates an S3-compatible bucket.
type S3Config struct {
	Bucket string
	// Endpoint overrides the AWS endpoint, e.g. for R2 or MinIO.
	Endpoint string
	Region   string
	// AccessKey and SecretKey are optional; the default AWS credential chain
	// is used when empty.
	AccessKey string
	SecretKey string
}

// S3Store is a RemoteStore backed by an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3Store from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("remote cache bucket is not set")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	options := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote cache config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Get implements RemoteStore.
func (s *S3Store) Get(ctx context.Context, key string, w io.Writer) (bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return false, nil
		}
		return false, err
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return false, err
	}
	return true, nil
}

// Put implements RemoteStore.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/zstd"),
	})
	return err
}

func (f *Fetcher) packagesDir() string {
	return filepath.Join(f.layout.Root, "packages")
}

func (f *Fetcher) fetchBundle(ctx context.Context, desc sdk.Descriptor) (bool, error) {
	key := f.BundleKey(desc)
	if err := os.MkdirAll(f.packagesDir(), 0755); err != nil {
		return false, err
	}

	tmp, err := os.CreateTemp(f.packagesDir(), ".bundle-*.tar.zst")
	if err != nil {
		return false, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	found, err := f.remote.Get(ctx, key, tmp)
	if err != nil || !found {
		f.logger.Debug("Prebuilt bundle lookup",
			zap.String("key", key),
			zap.Bool("found", found))
		return false, err
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return false, err
	}

	// Unpack next to packages/ so the final moves are renames on one
	// filesystem. Nothing reaches lib/ or include/ unless the whole bundle
	// unpacked.
	staging, err := os.MkdirTemp(f.packagesDir(), ".bundle-")
	if err != nil {
		return false, err
	}
	defer os.RemoveAll(staging)

	if err := unpackBundle(tmp, staging); err != nil {
		return false, fmt.Errorf("failed to unpack %s: %w", key, err)
	}
	if err := f.installStaged(staging, desc); err != nil {
		return false, fmt.Errorf("failed to install %s: %w", key, err)
	}

	f.logger.Info("Installed prebuilt Dart VM bundle",
		zap.String("lib_name", desc.LibName()),
		zap.String("key", key))
	return true, nil
}

// installStaged moves an unpacked bundle into packages/. The headers move
// first and the library last, so an existing library always has complete
// headers next to it.
func (f *Fetcher) installStaged(staging string, desc sdk.Descriptor) error {
	libName := sdk.StaticLibFileName(desc, f.goos)
	includeName := filepath.Base(f.layout.IncludeDir(desc))

	stagedLib := filepath.Join(staging, "lib", libName)
	stagedInclude := filepath.Join(staging, "include", includeName)
	if !fileExists(stagedLib) {
		return fmt.Errorf("bundle has no lib/%s", libName)
	}
	if info, err := os.Stat(stagedInclude); err != nil || !info.IsDir() {
		return fmt.Errorf("bundle has no include/%s", includeName)
	}

	includeDir := f.layout.IncludeDir(desc)
	if err := os.MkdirAll(filepath.Dir(includeDir), 0755); err != nil {
		return err
	}
	if err := os.RemoveAll(includeDir); err != nil {
		return err
	}
	if err := os.Rename(stagedInclude, includeDir); err != nil {
		return err
	}

	libPath := f.layout.StaticLibPath(desc, f.goos)
	if err := os.MkdirAll(filepath.Dir(libPath), 0755); err != nil {
		return err
	}
	return os.Rename(stagedLib, libPath)
}

func (f *Fetcher) publishBundle(ctx context.Context, desc sdk.Descriptor) error {
	tmp, err := os.CreateTemp("", "blutter-bundle-*.tar.zst")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	members := []string{
		filepath.ToSlash(filepath.Join("lib", sdk.StaticLibFileName(desc, f.goos))),
		"include/dartvm" + desc.Version.String(),
	}
	if err := packBundle(tmp, f.packagesDir(), members); err != nil {
		return err
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	key := f.BundleKey(desc)
	if err := f.remote.Put(ctx, key, tmp, size); err != nil {
		return err
	}
	f.logger.Info("Published prebuilt Dart VM bundle",
		zap.String("key", key),
		zap.Int64("size", size))
	return nil
}
