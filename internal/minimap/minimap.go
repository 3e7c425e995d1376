// Package minimap persists the base64-encoded minimap PNG embedded in a
// parser result to a local directory, an object-store bucket, or both
// (spec.md §4.C).
package minimap

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/lichifeng/mgxmonitor/internal/objectstore"
)

// Status values reported back to the Record Processor.
const (
	StatusSaved  = "saved"
	StatusNotSet = "not-set"
	StatusError  = "error"
)

type Saver struct {
	LocalDir  string // empty disables local save
	S3Prefix  string // empty disables object-store save
	ObjStore  *objectstore.Client
	log       *logrus.Entry
}

func New(localDir, s3Prefix string, obj *objectstore.Client, log *logrus.Entry) *Saver {
	return &Saver{LocalDir: localDir, S3Prefix: s3Prefix, ObjStore: obj, log: log}
}

// SaveLocal writes the decoded PNG under LocalDir/{guid}.png. Returns
// StatusNotSet when base64 is empty or LocalDir is unconfigured.
func (s *Saver) SaveLocal(guid, base64PNG string) string {
	if base64PNG == "" || s.LocalDir == "" {
		return StatusNotSet
	}
	data, err := base64.StdEncoding.DecodeString(base64PNG)
	if err != nil {
		if s.log != nil {
			s.log.WithField("guid", guid).WithError(err).Warn("minimap: bad base64")
		}
		return StatusError
	}
	if err := os.MkdirAll(s.LocalDir, 0o755); err != nil {
		return StatusError
	}
	path := filepath.Join(s.LocalDir, guid+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		if s.log != nil {
			s.log.WithField("path", path).WithError(err).Warn("minimap: local write failed")
		}
		return StatusError
	}
	return StatusSaved
}

// SaveRemote uploads the decoded PNG to the object store under
// {S3Prefix}/{guid}.png. Returns StatusNotSet when base64 is empty or
// S3Prefix/ObjStore is unconfigured.
func (s *Saver) SaveRemote(ctx context.Context, guid, base64PNG string) string {
	if base64PNG == "" || s.S3Prefix == "" || s.ObjStore == nil {
		return StatusNotSet
	}
	data, err := base64.StdEncoding.DecodeString(base64PNG)
	if err != nil {
		return StatusError
	}
	key := objectstore.MinimapKey(s.S3Prefix, guid)
	if err := s.ObjStore.Put(ctx, key, data, "image/png", map[string]string{"guid": guid}); err != nil {
		if s.log != nil {
			s.log.WithField("key", key).WithError(err).Warn("minimap: remote upload failed")
		}
		return StatusError
	}
	return StatusSaved
}

func (s *Saver) String() string {
	return fmt.Sprintf("minimap.Saver{local=%q s3prefix=%q}", s.LocalDir, s.S3Prefix)
}
