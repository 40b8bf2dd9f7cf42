// Package attach uploads message attachments to a blob bucket.
package attach

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"golang.org/x/sync/errgroup"
)

const (
	MaxFileSize     = 50 << 20
	maxParallel     = 4
	fallbackMime    = "application/octet-stream"
	sniffPrefixSize = 512
)

// File is an attachment selected for upload. Data, when set, is used
// instead of reading Path.
type File struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Data []byte `json:"-"`
}

// FromPath builds a File for a local path.
func FromPath(p string) File {
	return File{Name: filepath.Base(p), Path: p}
}

// UploadedFile describes a stored object.
type UploadedFile struct {
	Key      string `json:"key"`
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Result pairs a file with its upload outcome.
type Result struct {
	File     File
	Uploaded UploadedFile
	Err      error
}

// Uploader writes files into a bucket under per-user keys.
type Uploader struct {
	bucket     *blob.Bucket
	bucketURL  string
	publicBase string
	logger     *slog.Logger
	now        func() time.Time
}

// Open opens the bucket named by cfg.BucketURL (file://, mem://, s3://).
func Open(ctx context.Context, cfg core.StorageConfig, logger *slog.Logger) (*Uploader, error) {
	if strings.HasPrefix(cfg.BucketURL, "file://") {
		dir := strings.TrimPrefix(cfg.BucketURL, "file://")
		if i := strings.IndexByte(dir, '?'); i >= 0 {
			dir = dir[:i]
		}
		if err := os.MkdirAll(filepath.FromSlash(dir), 0o755); err != nil {
			return nil, fmt.Errorf("ensure bucket dir: %w", err)
		}
	}
	bucket, err := blob.OpenBucket(ctx, cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", cfg.BucketURL, err)
	}
	return New(bucket, cfg.BucketURL, cfg.PublicBaseURL, logger), nil
}

func New(bucket *blob.Bucket, bucketURL, publicBase string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = core.DiscardLogger()
	}
	return &Uploader{
		bucket:     bucket,
		bucketURL:  bucketURL,
		publicBase: publicBase,
		logger:     logger,
		now:        time.Now,
	}
}

func (u *Uploader) Close() error {
	return u.bucket.Close()
}

// Upload stores one file for userID and returns its public location.
func (u *Uploader) Upload(ctx context.Context, userID string, file File) (UploadedFile, error) {
	data := file.Data
	if data == nil {
		info, err := os.Stat(file.Path)
		if err != nil {
			return UploadedFile{}, err
		}
		if info.Size() > MaxFileSize {
			return UploadedFile{}, fmt.Errorf("%s exceeds %d bytes", file.Name, MaxFileSize)
		}
		data, err = os.ReadFile(file.Path)
		if err != nil {
			return UploadedFile{}, err
		}
	}
	if int64(len(data)) > MaxFileSize {
		return UploadedFile{}, fmt.Errorf("%s exceeds %d bytes", file.Name, MaxFileSize)
	}

	name := file.Name
	if name == "" {
		name = filepath.Base(file.Path)
	}
	key := u.objectKey(userID, name)
	mimeType := detectMimeType(name, data)

	if err := u.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: mimeType}); err != nil {
		return UploadedFile{}, fmt.Errorf("upload %s: %w", name, err)
	}
	u.logger.Debug("attachment uploaded", "key", key, "size", len(data))

	return UploadedFile{
		Key:      key,
		URL:      u.publicURL(key),
		Name:     name,
		Size:     int64(len(data)),
		MimeType: mimeType,
	}, nil
}

// UploadAll uploads files in parallel. One failure never cancels the
// others; results keep the input order.
func (u *Uploader) UploadAll(ctx context.Context, userID string, files []File) []Result {
	results := make([]Result, len(files))
	var group errgroup.Group
	group.SetLimit(maxParallel)
	for i, file := range files {
		group.Go(func() error {
			uploaded, err := u.Upload(ctx, userID, file)
			results[i] = Result{File: file, Uploaded: uploaded, Err: err}
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// Exists reports whether key is present in the bucket.
func (u *Uploader) Exists(ctx context.Context, key string) (bool, error) {
	return u.bucket.Exists(ctx, key)
}

func (u *Uploader) objectKey(userID, name string) string {
	ext := strings.ToLower(path.Ext(name))
	return fmt.Sprintf("%s/%d_%s%s", sanitizeSegment(userID), u.now().UnixMilli(), core.ShortID(core.NewID()), sanitizeExt(ext))
}

func (u *Uploader) publicURL(key string) string {
	base := u.publicBase
	if base == "" {
		base = u.bucketURL
		if parsed, err := url.Parse(base); err == nil {
			parsed.RawQuery = ""
			base = parsed.String()
		}
	}
	return strings.TrimRight(base, "/") + "/" + key
}

func detectMimeType(name string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(name))); byExt != "" {
		return byExt
	}
	if len(data) == 0 {
		return fallbackMime
	}
	prefix := data
	if len(prefix) > sniffPrefixSize {
		prefix = prefix[:sniffPrefixSize]
	}
	return http.DetectContentType(prefix)
}

func sanitizeSegment(value string) string {
	var out strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out.WriteRune(r)
		}
	}
	if out.Len() == 0 {
		return "anonymous"
	}
	return out.String()
}

func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	clean := "." + sanitizeSegment(strings.TrimPrefix(ext, "."))
	if clean == ".anonymous" {
		return ""
	}
	return clean
}
