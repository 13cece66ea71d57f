package ipfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArchiveFetcher mirrors content-addressed payloads into an S3 compatible
// bucket. Content behind a CID never changes, so archived objects are served
// without revalidation. data: URIs are passed straight through.
type ArchiveFetcher struct {
	next   Fetcher
	client *minio.Client
	bucket string
}

// NewArchiveClient connects to the object store holding archived payloads.
func NewArchiveClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}
	return client, nil
}

func NewArchiveFetcher(next Fetcher, client *minio.Client, bucket string) *ArchiveFetcher {
	return &ArchiveFetcher{next: next, client: client, bucket: bucket}
}

// EnsureBucket creates the archive bucket when it does not exist yet.
func (a *ArchiveFetcher) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check archive bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create archive bucket: %w", err)
	}
	return nil
}

func (a *ArchiveFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, schemeIPFS) {
		return a.next.Fetch(ctx, uri)
	}
	cid, err := ParseCID(uri)
	if err != nil {
		return nil, err
	}

	key := "ipfs/" + cid
	if body, ok := a.read(ctx, key); ok {
		return body, nil
	}

	body, err := a.next.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	a.write(ctx, key, body)
	return body, nil
}

func (a *ArchiveFetcher) read(ctx context.Context, key string) ([]byte, bool) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		log.Printf("ipfs: archive get %s: %v", key, err)
		return nil, false
	}
	defer obj.Close()

	body, err := io.ReadAll(io.LimitReader(obj, maxPayloadSize+1))
	if err != nil {
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			log.Printf("ipfs: archive read %s: %v", key, err)
		}
		return nil, false
	}
	if len(body) > maxPayloadSize {
		return nil, false
	}
	return body, true
}

func (a *ArchiveFetcher) write(ctx context.Context, key string, body []byte) {
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		log.Printf("ipfs: archive put %s: %v", key, err)
	}
}
