package files

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/parley/internal/storage"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a file id resolves to no stored object.
var ErrNotFound = errors.New("file not found")

// DefaultPresignTTL is how long download URLs stay valid.
const DefaultPresignTTL = 10 * time.Hour

// File is an uploaded object plus a presigned download URL.
type File struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
	URL         string    `json:"url"`
}

// Service stores uploads under a common key prefix and hands out
// presigned URLs for them.
type Service struct {
	store      storage.ObjectStorage
	cache      *URLCache
	prefix     string
	presignTTL time.Duration
	logger     *zap.Logger
}

// NewService wires the upload surface. cache may be nil; presignTTL <= 0
// falls back to DefaultPresignTTL.
func NewService(store storage.ObjectStorage, cache *URLCache, prefix string, presignTTL time.Duration, logger *zap.Logger) *Service {
	if prefix == "" {
		prefix = "uploads"
	}
	if presignTTL <= 0 {
		presignTTL = DefaultPresignTTL
	}
	return &Service{store: store, cache: cache, prefix: prefix, presignTTL: presignTTL, logger: logger}
}

// key builds the object key for a file. The uuid never contains an
// underscore, so the original filename can be split back out.
func (s *Service) key(id, filename string) string {
	return s.prefix + "/" + id + "_" + filename
}

// parseKey inverts key; ok is false for objects that do not follow the
// naming convention.
func (s *Service) parseKey(key string) (id, filename string, ok bool) {
	rest, found := strings.CutPrefix(key, s.prefix+"/")
	if !found {
		return "", "", false
	}
	id, filename, found = strings.Cut(rest, "_")
	if !found || id == "" || filename == "" {
		return "", "", false
	}
	return id, filename, true
}

// Upload stores the payload under a fresh id and returns the file with a
// ready-to-use download URL.
func (s *Service) Upload(ctx context.Context, filename, contentType string, data []byte) (*File, error) {
	id := uuid.New().String()
	key := s.key(id, filename)

	info, err := s.store.Put(ctx, key, data, contentType)
	if err != nil {
		return nil, err
	}
	url, err := s.PresignedURL(ctx, id, filename)
	if err != nil {
		return nil, err
	}

	s.logger.Info("file uploaded",
		zap.String("file_id", id),
		zap.String("filename", filename),
		zap.Int64("size", info.Size))

	return &File{
		ID:          id,
		Filename:    filename,
		ContentType: info.ContentType,
		Size:        info.Size,
		UploadedAt:  info.LastModified,
		URL:         url,
	}, nil
}

// PresignedURL issues a download URL for a stored file. URLs are cached
// when a cache is configured, for less than their validity window.
func (s *Service) PresignedURL(ctx context.Context, fileID, filename string) (string, error) {
	key := s.key(fileID, filename)
	if s.cache != nil {
		if url, ok := s.cache.Get(ctx, key); ok {
			return url, nil
		}
	}
	url, err := s.store.Presign(ctx, key, s.presignTTL)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, url)
	}
	return url, nil
}

// List returns every uploaded file under the service prefix, newest first.
func (s *Service) List(ctx context.Context) ([]*File, error) {
	objs, err := s.store.List(ctx, s.prefix+"/")
	if err != nil {
		return nil, err
	}
	out := make([]*File, 0, len(objs))
	for _, obj := range objs {
		id, filename, ok := s.parseKey(obj.Key)
		if !ok {
			s.logger.Warn("skipping object with unexpected key", zap.String("key", obj.Key))
			continue
		}
		url, err := s.PresignedURL(ctx, id, filename)
		if err != nil {
			return nil, err
		}
		out = append(out, &File{
			ID:          id,
			Filename:    filename,
			ContentType: obj.ContentType,
			Size:        obj.Size,
			UploadedAt:  obj.LastModified,
			URL:         url,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}

// Get resolves a file by id alone; the filename is recovered from the
// stored key.
func (s *Service) Get(ctx context.Context, fileID string) (*File, error) {
	objs, err := s.store.List(ctx, s.prefix+"/"+fileID+"_")
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, ErrNotFound
	}
	obj := objs[0]
	_, filename, ok := s.parseKey(obj.Key)
	if !ok {
		return nil, fmt.Errorf("malformed key %s", obj.Key)
	}
	url, err := s.PresignedURL(ctx, fileID, filename)
	if err != nil {
		return nil, err
	}
	return &File{
		ID:          fileID,
		Filename:    filename,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		UploadedAt:  obj.LastModified,
		URL:         url,
	}, nil
}

// Download reads back a stored file's contents.
func (s *Service) Download(ctx context.Context, fileID string) (*File, []byte, error) {
	f, err := s.Get(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.store.Get(ctx, s.key(f.ID, f.Filename))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return f, data, nil
}

// Delete removes a file; false means the id was unknown.
func (s *Service) Delete(ctx context.Context, fileID string) (bool, error) {
	f, err := s.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	deleted, err := s.store.Delete(ctx, s.key(f.ID, f.Filename))
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("file deleted", zap.String("file_id", fileID))
	}
	return deleted, nil
}
