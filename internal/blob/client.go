// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blob fetches report attachments from an S3-compatible object store.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/adrwatch/enricher/internal/models"
)

// DefaultMimeType is used when neither the reference nor the store knows
// the content type.
const DefaultMimeType = "application/octet-stream"

// ErrNotFound is returned by GetBytes when the key does not exist.
var ErrNotFound = errors.New("blob not found")

// ObjectAPI is the subset of the S3 client used here.
type ObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client reads attachment bytes from a single bucket.
type Client struct {
	api    ObjectAPI
	bucket string
}

// NewClient creates a blob client for the given bucket.
func NewClient(api ObjectAPI, bucket string) *Client {
	return &Client{
		api:    api,
		bucket: bucket,
	}
}

// GetBytes returns the object's content. A missing key yields an error
// wrapping ErrNotFound.
func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, error) {
	data, _, err := c.get(ctx, key)
	return data, err
}

// Exists reports whether key is present. Errors are treated as absence.
func (c *Client) Exists(ctx context.Context, key string) bool {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if !isNotFound(err) {
			slog.Warn("blob existence check failed", "key", key, "error", err)
		}
		return false
	}
	return true
}

// GetManyForProcessing resolves each reference to a MediaFile. Missing or
// unreadable objects are logged and omitted; the result holds only the
// references that resolved.
func (c *Client) GetManyForProcessing(ctx context.Context, refs []models.AttachmentRef) []models.MediaFile {
	files := make([]models.MediaFile, 0, len(refs))

	for _, ref := range refs {
		if ref.Key == "" {
			slog.Warn("skipping attachment without key", "filename", ref.Filename)
			continue
		}

		if !c.Exists(ctx, ref.Key) {
			slog.Warn("attachment not found in blob store, skipping", "key", ref.Key)
			continue
		}

		data, storeType, err := c.get(ctx, ref.Key)
		if err != nil {
			slog.Warn("failed to fetch attachment, skipping", "key", ref.Key, "error", err)
			continue
		}

		files = append(files, models.MediaFile{
			Key:      ref.Key,
			Data:     data,
			MimeType: firstNonEmpty(ref.MimeType, storeType, DefaultMimeType),
			Size:     int64(len(data)),
		})
	}

	slog.Debug("attachments resolved", "requested", len(refs), "resolved", len(files))
	return files
}

func (c *Client) get(ctx context.Context, key string) ([]byte, string, error) {
	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", fmt.Errorf("get object %s: %w", key, ErrNotFound)
		}
		return nil, "", fmt.Errorf("get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s: %w", key, err)
	}

	return data, aws.ToString(resp.ContentType), nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
