// Package archive exports tracking documents and their stats to S3 for
// long-term retention.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/pixel-tracker/internal/domain"
	"github.com/ignite/pixel-tracker/internal/pkg/logger"
	"github.com/ignite/pixel-tracker/internal/service/tracking"
)

// Putter is the subset of *s3.Client the exporter uses.
type Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Snapshot is the archived object body.
type Snapshot struct {
	Document   *domain.TrackingDocument `json:"document"`
	Stats      *domain.Stats            `json:"stats"`
	ExportedAt time.Time                `json:"exportedAt"`
}

type Exporter struct {
	repo   tracking.Repository
	client Putter
	bucket string
	prefix string
	now    func() time.Time
}

func NewExporter(repo tracking.Repository, client Putter, bucket, prefix string) *Exporter {
	return &Exporter{repo: repo, client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// ObjectKey is where the snapshot for key is written.
func (e *Exporter) ObjectKey(key string) string {
	return path.Join(e.prefix, url.PathEscape(key)+".json")
}

// Export writes the document for key and its stats to S3 and returns the
// object key. A missing document returns tracking.ErrNotFound.
func (e *Exporter) Export(ctx context.Context, key string) (string, error) {
	doc, err := e.repo.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load tracking document: %w", err)
	}

	snap := Snapshot{
		Document:   doc,
		Stats:      tracking.Summarize(doc),
		ExportedAt: e.now().UTC(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}

	objectKey := e.ObjectKey(key)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3 bucket %s: %w", e.bucket, err)
	}

	logger.Info("tracking document archived", "key", key, "bucket", e.bucket, "object", objectKey, "opens", len(doc.Opens))
	return objectKey, nil
}
