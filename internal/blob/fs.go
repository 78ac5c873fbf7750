package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cgem-lab/strainboard/internal/utils"
)

const metaSuffix = ".meta"

// FS implements Store on the local filesystem. Keys map to paths under the
// root; a JSON sidecar (<file>.meta) keeps content type and metadata. Files
// dropped in by hand without a sidecar are served from their stat info.
type FS struct {
	root string
}

// NewFS returns a filesystem store rooted at root, creating it if needed.
func NewFS(root string) (*FS, error) {
	if root == "" {
		root = "./blobdata"
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FS{root: root}, nil
}

func (s *FS) Driver() Driver { return DriverFilesystem }

// Root returns the base directory.
func (s *FS) Root() string { return s.root }

type metaFile struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// sanitizeKey rejects keys that would escape the root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", errors.New("invalid absolute key")
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return "", errors.New("invalid key traversal")
	}
	if strings.HasSuffix(clean, metaSuffix) {
		return "", fmt.Errorf("key may not end in %s", metaSuffix)
	}
	return clean, nil
}

func (s *FS) pathFor(key string) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

func (s *FS) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	if err := utils.EnsureDir(filepath.Dir(dataPath)); err != nil {
		return Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		_ = tmp.Close()
		return Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return Info{}, err
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return Info{}, fmt.Errorf("atomic rename: %w", err)
	}
	mf := metaFile{
		ContentType: opts.ContentType,
		Metadata:    cloneMetadata(opts.Metadata),
		ETag:        hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		UpdatedAt:   time.Now().UTC(),
	}
	b, err := utils.PrettyJSON(mf)
	if err != nil {
		return Info{}, err
	}
	if err := utils.SafeWriteFile(dataPath+metaSuffix, b); err != nil {
		return Info{}, err
	}
	return s.info(key, dataPath)
}

func (s *FS) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, nil, err
	}
	info, err := s.info(key, dataPath)
	if err != nil {
		return Info{}, nil, err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		return Info{}, nil, err
	}
	return info, f, nil
}

func (s *FS) Head(_ context.Context, key string) (Info, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	return s.info(key, dataPath)
}

func (s *FS) Delete(_ context.Context, key string) (bool, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	_ = os.Remove(dataPath + metaSuffix)
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FS) List(_ context.Context, prefix string) ([]Info, error) {
	var out []Info
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, metaSuffix) || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.info(key, p)
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FS) info(key, dataPath string) (Info, error) {
	st, err := os.Stat(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		return Info{}, err
	}
	info := Info{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC()}
	b, err := os.ReadFile(dataPath + metaSuffix)
	if err != nil {
		return info, nil
	}
	var mf metaFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return info, nil
	}
	info.ContentType = mf.ContentType
	info.Metadata = mf.Metadata
	info.ETag = mf.ETag
	return info, nil
}
