package datastore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dyet92k/morph/internal/models"
	"github.com/dyet92k/morph/pkg/log"
	"github.com/klauspost/compress/zstd"
)

// Archiver keeps a copy of a run's data store after the run.
type Archiver interface {
	Archive(ctx context.Context, run *models.Run, dataPath string) error
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads zstd compressed data stores to a bucket.
type S3Archiver struct {
	bucket string
	api    putObjectAPI
}

// NewS3Archiver creates an S3Archiver with the default AWS credential
// chain. A non-empty endpoint selects an S3 compatible service with
// path style addressing.
func NewS3Archiver(ctx context.Context, bucket, region, endpoint string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}

	endpoint = strings.TrimSpace(endpoint)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{bucket: bucket, api: client}, nil
}

// Key is where the run's data store is archived.
func Key(run *models.Run) string {
	return path.Join(run.Owner, run.Name(), run.ID.String()+".sqlite.zst")
}

// Archive uploads the data store in dataPath. A run that produced
// no data store is skipped.
func (a *S3Archiver) Archive(ctx context.Context, run *models.Run, dataPath string) error {
	src, err := os.Open(Path(dataPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	var buf bytes.Buffer
	if err := Compress(&buf, src); err != nil {
		return fmt.Errorf("compress %s: %w", Path(dataPath), err)
	}

	sum := sha256.Sum256(buf.Bytes())
	key := Key(run)
	size := int64(buf.Len())

	log.Info("archiving data store", "run_id", run.ID, "bucket", a.bucket, "key", key, "size", size)

	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/zstd"),
		Metadata: map[string]string{
			"sha256": hex.EncodeToString(sum[:]),
			"run-id": run.ID.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Compress writes a zstd compressed copy of r to w.
func Compress(w io.Writer, r io.Reader) error {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(encoder, r); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}

// Decompress writes the decompressed contents of r to w.
func Decompress(w io.Writer, r io.Reader) error {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer decoder.Close()

	_, err = io.Copy(w, decoder)
	return err
}
