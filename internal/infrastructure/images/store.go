// Package images stores product images on disk and hands out opaque handles for them.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
)

const (
	candidatesDir = "candidates"
	maxNameLength = 100

	// hex digits of the content digest appended to candidate names
	digestLength = 12
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	underscores = regexp.MustCompile(`_+`)
)

// Store keeps reference images as <product>_<retailer>.png and storefront crops under candidates/.
// Handles are paths relative to the store directory.
type Store struct {
	dir string
}

// NewStore creates the store, creating dir if needed
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, candidatesDir), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create image directory", goerr.V("dir", dir))
	}
	return &Store{dir: dir}, nil
}

// Sanitize turns text into a file-name fragment of letters, digits and single underscores
func Sanitize(text string) string {
	safe := unsafeChars.ReplaceAllString(text, "_")
	safe = strings.Trim(underscores.ReplaceAllString(safe, "_"), "_")
	if len(safe) > maxNameLength {
		safe = safe[:maxNameLength]
	}
	return safe
}

// FileName is the reference image name for a product at a retailer
func FileName(product, retailer string) string {
	return Sanitize(product) + "_" + Sanitize(retailer) + ".png"
}

// Save writes the reference image of a product as captured at a retailer
func (s *Store) Save(ctx context.Context, product, retailer string, data []byte) (domain.ImageHandle, error) {
	handle := domain.ImageHandle(FileName(product, retailer))
	if err := s.write(handle, data); err != nil {
		return "", err
	}
	logging.From(ctx).Debug("[IMAGES] saved reference", "product", product, "retailer", retailer, "handle", handle)
	return handle, nil
}

// CandidateFileName names a listing crop by label, retailer and content digest, so two tiles
// sharing a label (or a label with no safe characters) never share a file.
func CandidateFileName(retailer, label string, data []byte) string {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])[:digestLength]
	return strings.TrimPrefix(Sanitize(label)+"_"+Sanitize(retailer)+"_"+digest+".png", "_")
}

// SaveCandidate writes a listing crop taken from a retailer's search results
func (s *Store) SaveCandidate(ctx context.Context, retailer, label string, data []byte) (domain.ImageHandle, error) {
	handle := domain.ImageHandle(filepath.ToSlash(filepath.Join(candidatesDir, CandidateFileName(retailer, label, data))))
	if err := s.write(handle, data); err != nil {
		return "", err
	}
	return handle, nil
}

// Lookup returns the handle of a stored reference image
func (s *Store) Lookup(product, retailer string) (domain.ImageHandle, bool) {
	handle := domain.ImageHandle(FileName(product, retailer))
	if _, err := os.Stat(filepath.Join(s.dir, string(handle))); err != nil {
		return "", false
	}
	return handle, true
}

// Load reads the image behind a handle
func (s *Store) Load(handle domain.ImageHandle) ([]byte, error) {
	path, err := s.resolve(handle)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, goerr.Wrap(domain.ErrImageNotFound, "no image for handle", goerr.V("handle", handle))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read image", goerr.V("handle", handle))
	}
	return data, nil
}

func (s *Store) write(handle domain.ImageHandle, data []byte) error {
	path, err := s.resolve(handle)
	if err != nil {
		return err
	}

	// write then rename so a concurrent Load never sees a partial file
	tmp, err := os.CreateTemp(filepath.Dir(path), ".image-*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create image file", goerr.V("handle", handle))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write image", goerr.V("handle", handle))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to write image", goerr.V("handle", handle))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return goerr.Wrap(err, "failed to store image", goerr.V("handle", handle))
	}
	return nil
}

// resolve maps a handle to a path inside the store, refusing anything that escapes it
func (s *Store) resolve(handle domain.ImageHandle) (string, error) {
	rel := filepath.FromSlash(string(handle))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", goerr.Wrap(domain.ErrImageNotFound, "invalid image handle", goerr.V("handle", handle))
	}
	return filepath.Join(s.dir, rel), nil
}
