package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultRegion is used when the upload node names none.
const DefaultRegion = "us-east-1"

// S3Config describes an S3-compatible bucket. Credentials come from the
// default AWS chain (environment, shared files, instance roles).
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	KeyPrefix string `yaml:"key_prefix"`
	Region    string `yaml:"region"`
	// Endpoint selects a non-AWS service such as MinIO.
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// S3 puts files into a bucket.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 loads the default AWS configuration and builds a client for c.
func NewS3(ctx context.Context, c S3Config, optFns ...func(*s3.Options)) (*S3, error) {
	region := c.Region
	if region == "" {
		region = DefaultRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	opts := append([]func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = c.PathStyle
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}}, optFns...)
	client := s3.NewFromConfig(awsCfg, opts...)
	return &S3{client: client, bucket: c.Bucket, prefix: c.KeyPrefix}, nil
}

func (u *S3) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	key := objectKey(u.prefix, localPath)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s to s3://%s/%s: %w", localPath, u.bucket, key, err)
	}
	return "s3://" + u.bucket + "/" + key, nil
}

func contentType(localPath string) string {
	switch filepath.Ext(localPath) {
	case ".h5", ".hdf5":
		return "application/x-hdf5"
	case ".sqlite":
		return "application/vnd.sqlite3"
	}
	return "application/octet-stream"
}
