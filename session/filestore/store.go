// Package filestore persists session records as JSON files, one per record name.
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrsteele09/go-elearn-client/session"
	"github.com/pkg/errors"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// Repo stores each record in <dir>/<name>.json.
type Repo struct {
	dir string
}

var _ session.Repo = (*Repo)(nil)

func New(dir string) (*Repo, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("[filestore.New] directory is required")
	}
	return &Repo{dir: dir}, nil
}

// Path returns the file a record name maps to.
func (r *Repo) Path(name string) string {
	return filepath.Join(r.dir, filepath.Base(name)+".json")
}

func (r *Repo) Load(_ context.Context, name string) (*session.Record, error) {
	raw, err := os.ReadFile(r.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, session.ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[filestore.Load] os.ReadFile")
	}

	record := &session.Record{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, errors.Wrapf(err, "[filestore.Load] corrupt record %s", name)
	}
	return record, nil
}

// Save writes to a temporary file then renames it over the old record, so a
// crash mid-write never leaves a truncated record behind.
func (r *Repo) Save(_ context.Context, name string, record *session.Record) error {
	if record == nil {
		return errors.New("[filestore.Save] record cannot be nil")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "[filestore.Save] json.Marshal")
	}
	if err := os.MkdirAll(r.dir, dirPerm); err != nil {
		return errors.Wrap(err, "[filestore.Save] os.MkdirAll")
	}

	tmp, err := os.CreateTemp(r.dir, filepath.Base(name)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "[filestore.Save] os.CreateTemp")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[filestore.Save] Chmod")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[filestore.Save] Write")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[filestore.Save] Close")
	}
	if err := os.Rename(tmpName, r.Path(name)); err != nil {
		return errors.Wrap(err, "[filestore.Save] os.Rename")
	}
	return nil
}

func (r *Repo) Delete(_ context.Context, name string) error {
	err := os.Remove(r.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "[filestore.Delete] os.Remove")
	}
	return nil
}
