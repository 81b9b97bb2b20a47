// Package source reads importer input documents from local files or S3.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/logger"
)

const s3Scheme = "s3://"

// ObjectGetter is the part of the S3 client the loader uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Options configures S3 access. Region and credentials otherwise come from
// the default AWS chain (AWS_REGION, AWS_ACCESS_KEY_ID, ...).
type Options struct {
	Region string
	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint  string
	PathStyle bool
	// Client replaces the S3 client built from the options.
	Client ObjectGetter
	Logger *logger.Logger
}

// Loader reads documents by reference: a local path or s3://bucket/key.
type Loader struct {
	opts Options
	log  *logger.Logger

	once   sync.Once
	client ObjectGetter
	err    error
}

func NewLoader(opts Options) *Loader {
	return &Loader{opts: opts, log: logger.OrNop(opts.Logger)}
}

// ParseS3 splits an s3://bucket/key reference.
func ParseS3(ref string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(ref, s3Scheme)
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Read returns the raw bytes of the referenced document.
func (l *Loader) Read(ctx context.Context, ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, s3Scheme) {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("source: read %s: %w", ref, err)
		}
		return data, nil
	}
	bucket, key, ok := ParseS3(ref)
	if !ok {
		return nil, faults.New(faults.InvalidInput, "malformed S3 reference %q", ref)
	}
	client, err := l.s3(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("source: get %s: %w", ref, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", ref, err)
	}
	l.log.Debug("document fetched", "ref", ref, "bytes", len(data))
	return data, nil
}

// s3 builds the client on first use, so runs with local inputs only never
// touch the AWS configuration.
func (l *Loader) s3(ctx context.Context) (ObjectGetter, error) {
	l.once.Do(func() {
		if l.opts.Client != nil {
			l.client = l.opts.Client
			return
		}
		var loadOpts []func(*awsconfig.LoadOptions) error
		if l.opts.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(l.opts.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			l.err = fmt.Errorf("source: aws config: %w", err)
			return
		}
		l.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = l.opts.PathStyle
			if l.opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(l.opts.Endpoint)
			}
		})
	})
	return l.client, l.err
}

// Decode reads ref and unmarshals it into a T. Malformed JSON is an
// InvalidInput fault.
func Decode[T any](ctx context.Context, l *Loader, ref string) (T, error) {
	var v T
	data, err := l.Read(ctx, ref)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, faults.Wrap(err, faults.InvalidInput, "decode %s", ref)
	}
	return v, nil
}
