package filestore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"finreport/internal/logger"
	"finreport/internal/models"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ChunkSize bounds every read and write buffer.
const ChunkSize = 1 << 20

var (
	ErrNotFound = errors.New("file not found")

	metaBucket = []byte("uploads")
)

// Mode selects how Retrieve returns content.
type Mode string

const (
	ModeText  Mode = "text"
	ModeBytes Mode = "bytes"
)

// Store keeps uploads under <base>/uploads/<file_id>/<filename> and indexes
// their metadata in a bbolt file next to them.
type Store struct {
	root  string
	index *bolt.DB
}

func Open(baseDir string) (*Store, error) {
	root := filepath.Join(baseDir, "uploads")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(root, "index.bolt"), 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open upload index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init upload index: %w", err)
	}
	return &Store{root: root, index: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.index == nil {
		return nil
	}
	return s.index.Close()
}

// SanitizeFilename strips directory components from a client supplied name.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.ReplaceAll(name, "\x00", "")
	name = filepath.Base(strings.TrimSpace(name))
	switch name {
	case "", ".", "..", "/":
		return "upload"
	}
	return name
}

func newFileID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate file id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func validFileID(id string) bool {
	if len(id) != 32 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// Save streams r to disk and records its metadata.
func (s *Store) Save(ctx context.Context, filename, contentType string, r io.Reader) (*models.StoredFile, error) {
	fileID, err := newFileID()
	if err != nil {
		return nil, err
	}
	name := SanitizeFilename(filename)
	dir := filepath.Join(s.root, fileID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create file dir: %w", err)
	}
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	size, err := io.CopyBuffer(dst, &ctxReader{ctx: ctx, r: r}, make([]byte, ChunkSize))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write file: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	meta := &models.StoredFile{
		FileID:      fileID,
		Filename:    name,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	enc, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := s.index.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put([]byte(fileID), enc)
	}); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("index file: %w", err)
	}
	logger.FromContext(ctx).Info("file stored",
		zap.String("file_id", fileID), zap.String("filename", name), zap.Int64("size", size))
	return meta, nil
}

// Stat resolves a file id (and optional filename) to its metadata.
func (s *Store) Stat(fileID, filename string) (*models.StoredFile, error) {
	if !validFileID(fileID) {
		return nil, ErrNotFound
	}
	var meta *models.StoredFile
	err := s.index.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get([]byte(fileID))
		if v == nil {
			return nil
		}
		meta = &models.StoredFile{}
		return json.Unmarshal(v, meta)
	})
	if err != nil {
		return nil, fmt.Errorf("read upload index: %w", err)
	}
	if meta == nil {
		// index lost: fall back to whatever sits in the directory
		meta, err = s.scanDir(fileID, filename)
		if err != nil {
			return nil, err
		}
	}
	if filename != "" && SanitizeFilename(filename) != meta.Filename {
		return nil, ErrNotFound
	}
	if _, err := os.Stat(s.path(meta)); err != nil {
		return nil, ErrNotFound
	}
	return meta, nil
}

func (s *Store) scanDir(fileID, filename string) (*models.StoredFile, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, fileID))
	if err != nil {
		return nil, ErrNotFound
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filename != "" && entry.Name() != SanitizeFilename(filename) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		return &models.StoredFile{
			FileID:      fileID,
			Filename:    entry.Name(),
			ContentType: "application/octet-stream",
			Size:        info.Size(),
			CreatedAt:   info.ModTime().UTC(),
		}, nil
	}
	return nil, ErrNotFound
}

func (s *Store) path(meta *models.StoredFile) string {
	return filepath.Join(s.root, meta.FileID, meta.Filename)
}

// LocalPath returns the on-disk path of an upload for loaders that read by URI.
func (s *Store) LocalPath(fileID, filename string) (string, *models.StoredFile, error) {
	meta, err := s.Stat(fileID, filename)
	if err != nil {
		return "", nil, err
	}
	return s.path(meta), meta, nil
}

// OpenFile opens the upload for streaming. Callers copy it in ChunkSize pieces.
func (s *Store) OpenFile(fileID, filename string) (io.ReadCloser, *models.StoredFile, error) {
	p, meta, err := s.LocalPath(fileID, filename)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	return f, meta, nil
}

// Retrieve reads the whole upload. In text mode invalid UTF-8 is replaced so
// the result is safe to embed in a prompt.
func (s *Store) Retrieve(ctx context.Context, fileID, filename string, mode Mode) ([]byte, error) {
	rc, _, err := s.OpenFile(fileID, filename)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.CopyBuffer(&buf, &ctxReader{ctx: ctx, r: rc}, make([]byte, ChunkSize)); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if mode == ModeText && !utf8.Valid(buf.Bytes()) {
		return bytes.ToValidUTF8(buf.Bytes(), []byte("\uFFFD")), nil
	}
	return buf.Bytes(), nil
}

func (s *Store) ReadText(ctx context.Context, fileID, filename string) (string, error) {
	data, err := s.Retrieve(ctx, fileID, filename, ModeText)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ctxReader stops a copy once ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
