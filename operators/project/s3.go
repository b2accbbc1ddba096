package project

import (
	"bytes"
	"context"
	"fmt"
	"io"
	appconfig "quiver-sql-go/config"
	"quiver-sql-go/operators"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type mime string

var (
	MimeCSV     mime = "csv"
	MimeParquet mime = "parquet"
)

// NetworkResource streams one object out of the configured bucket. CSV reads
// the body directly; parquet needs random access so the object is buffered.
type NetworkResource struct {
	client *s3.Client
	bucket string
	key    string

	// raw streaming object for CSV
	stream io.ReadCloser
}

func NewStreamReader(ctx context.Context, key string) (*NetworkResource, error) {
	secrets := appconfig.GetConfig().Secrets

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(secrets.Region),
	}
	if secrets.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(secrets.AccessKey, secrets.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if secrets.EndpointURL != "" {
			o.BaseEndpoint = aws.String(secrets.EndpointURL)
			o.UsePathStyle = true
		}
	})

	obj, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(secrets.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch s3://%s/%s: %w", secrets.BucketName, key, err)
	}

	return &NetworkResource{
		client: client,
		bucket: secrets.BucketName,
		key:    key,
		stream: obj.Body, // CSV reads this directly
	}, nil
}

func (n *NetworkResource) Stream() io.Reader {
	return n.stream
}

// Buffer drains the object into memory so parquet gets the seekable reader it
// needs.
func (n *NetworkResource) Buffer() (*bytes.Reader, error) {
	defer n.stream.Close()
	data, err := io.ReadAll(n.stream)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (n *NetworkResource) Close() error {
	if n.stream != nil {
		return n.stream.Close()
	}
	return nil
}

// MimeFromString maps a user supplied format name to a known mime, falling
// back to CSV.
func MimeFromString(s string) mime {
	if s == string(MimeParquet) {
		return MimeParquet
	}
	return MimeCSV
}

// SourceFor opens the object as the operator matching its format.
func (n *NetworkResource) SourceFor(format mime) (operators.Operator, error) {
	switch format {
	case MimeCSV:
		return NewProjectCSVLeaf(n.Stream())
	case MimeParquet:
		buf, err := n.Buffer()
		if err != nil {
			return nil, err
		}
		return NewParquetSource(buf)
	default:
		return nil, fmt.Errorf("unsupported object format %q", format)
	}
}
