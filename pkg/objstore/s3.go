package objstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
)

// S3Grid stores replicas in an S3 bucket. Immutable blobs live
// content-addressed under blob/<sha256>; each directory is a dir/<ulid>
// prefix whose entries are copies of the linked blobs, so a directory
// entry capability is just its object key.
type S3Grid struct {
	client *s3.Client
	bucket string
}

// NewS3Grid builds a grid over bucket using the ambient AWS
// configuration (environment, shared config, instance role).
func NewS3Grid(ctx context.Context, bucket string) (*S3Grid, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Grid{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// NewS3GridWithClient builds a grid over bucket with an existing client.
func NewS3GridWithClient(client *s3.Client, bucket string) *S3Grid {
	return &S3Grid{client: client, bucket: bucket}
}

func (g *S3Grid) MakeDirectory(ctx context.Context) (string, error) {
	dir := "dir/" + ulid.Make().String()
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(dir + "/.dir"),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return "", fmt.Errorf("make directory: %w", err)
	}
	return dir, nil
}

func (g *S3Grid) Upload(ctx context.Context, data DataProvider) (string, error) {
	r, err := data()
	if err != nil {
		return "", err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	key := "blob/" + hex.EncodeToString(sum[:])

	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return "", fmt.Errorf("upload blob: %w", err)
	}
	return key, nil
}

func (g *S3Grid) Link(ctx context.Context, dir, name, child string) error {
	loc, readOnly := unwrapCap(dir)
	if readOnly {
		return ErrReadOnly
	}
	_, err := g.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(g.bucket),
		CopySource: aws.String(g.bucket + "/" + child),
		Key:        aws.String(loc + "/" + name),
	})
	if err != nil {
		return fmt.Errorf("link %s: %w", name, err)
	}
	return nil
}

func (g *S3Grid) List(ctx context.Context, dir string) (map[string]string, error) {
	loc, _ := unwrapCap(dir)
	prefix := loc + "/"

	entries := make(map[string]string)
	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", loc, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, prefix)
			if name == ".dir" || name == "" {
				continue
			}
			entries[name] = key
		}
	}
	return entries, nil
}

func (g *S3Grid) Unlink(ctx context.Context, dir, name string) error {
	loc, readOnly := unwrapCap(dir)
	if readOnly {
		return ErrReadOnly
	}
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(loc + "/" + name),
	})
	if err != nil {
		return fmt.Errorf("unlink %s: %w", name, err)
	}
	return nil
}

func (g *S3Grid) Download(ctx context.Context, cap string) (io.ReadCloser, error) {
	loc, _ := unwrapCap(cap)
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(loc),
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", loc, err)
	}
	return out.Body, nil
}
