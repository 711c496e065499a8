package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/model"
)

const (
	artifactsDir = "artifacts"
	draftsDir    = "_drafts"
	variablesDoc = "variables.json"
	metaDoc      = "meta.json"
)

// FileStore keeps drafts, published variables and municipality metadata as
// JSON documents under <data_dir>/artifacts.
type FileStore struct {
	root   string
	counts *CountCache
}

// NewFileStore creates a FileStore rooted at dataDir. counts may be nil.
func NewFileStore(dataDir string, counts *CountCache) *FileStore {
	return &FileStore{root: filepath.Join(dataDir, artifactsDir), counts: counts}
}

// Root returns the artifacts directory.
func (s *FileStore) Root() string { return s.root }

func checkID(kind, id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return eris.Errorf("store: invalid %s id %q", kind, id)
	}
	return nil
}

func (s *FileStore) draftPath(muni, service string) (string, error) {
	if err := checkID("municipality", muni); err != nil {
		return "", err
	}
	if err := checkID("service", service); err != nil {
		return "", err
	}
	return filepath.Join(s.root, draftsDir, muni, service+".json"), nil
}

func (s *FileStore) muniPath(muni, doc string) (string, error) {
	if err := checkID("municipality", muni); err != nil {
		return "", err
	}
	if muni == draftsDir {
		return "", eris.Errorf("store: reserved municipality id %q", muni)
	}
	return filepath.Join(s.root, muni, doc), nil
}

// SaveDraft writes a draft to <muni>/<service>.json.
func (s *FileStore) SaveDraft(d *model.Draft) error {
	p, err := s.draftPath(d.MunicipalityID, d.Service)
	if err != nil {
		return err
	}
	return eris.Wrapf(writeJSON(p, d), "store: save draft %s", d.ID)
}

// GetDraft returns nil when no draft exists.
func (s *FileStore) GetDraft(muni, service string) (*model.Draft, error) {
	p, err := s.draftPath(muni, service)
	if err != nil {
		return nil, err
	}
	var d model.Draft
	ok, err := readJSON(p, &d)
	if err != nil || !ok {
		return nil, eris.Wrapf(err, "store: get draft %s/%s", muni, service)
	}
	return &d, nil
}

// ListDrafts reads every draft. Unreadable documents are skipped.
func (s *FileStore) ListDrafts() ([]model.Draft, error) {
	base := filepath.Join(s.root, draftsDir)
	munis, err := os.ReadDir(base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: list drafts")
	}

	var out []model.Draft
	for _, m := range munis {
		if !m.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(base, m.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "store: list drafts for %s", m.Name())
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			var d model.Draft
			p := filepath.Join(base, m.Name(), f.Name())
			if _, err := readJSON(p, &d); err != nil {
				zap.L().Warn("store: skipping unreadable draft", zap.String("path", p), zap.Error(err))
				continue
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// DeleteDraft reports whether a draft was removed.
func (s *FileStore) DeleteDraft(muni, service string) (bool, error) {
	p, err := s.draftPath(muni, service)
	if err != nil {
		return false, err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "store: delete draft %s/%s", muni, service)
	}
	return true, nil
}

// LoadVariables returns an empty store when the municipality has none yet.
func (s *FileStore) LoadVariables(muni string) (model.VariableStore, error) {
	p, err := s.muniPath(muni, variablesDoc)
	if err != nil {
		return nil, err
	}
	vs := model.VariableStore{}
	if _, err := readJSON(p, &vs); err != nil {
		return nil, eris.Wrapf(err, "store: load variables %s", muni)
	}
	return vs, nil
}

// SaveVariables replaces the published variable store and drops its cached counts.
func (s *FileStore) SaveVariables(muni string, vs model.VariableStore) error {
	p, err := s.muniPath(muni, variablesDoc)
	if err != nil {
		return err
	}
	if err := writeJSON(p, vs); err != nil {
		return eris.Wrapf(err, "store: save variables %s", muni)
	}
	if s.counts != nil {
		s.counts.Invalidate(muni)
	}
	return nil
}

// LoadMeta returns nil when the municipality does not exist.
func (s *FileStore) LoadMeta(muni string) (*model.MunicipalityMeta, error) {
	p, err := s.muniPath(muni, metaDoc)
	if err != nil {
		return nil, err
	}
	var m model.MunicipalityMeta
	ok, err := readJSON(p, &m)
	if err != nil || !ok {
		return nil, eris.Wrapf(err, "store: load meta %s", muni)
	}
	return &m, nil
}

func (s *FileStore) SaveMeta(m *model.MunicipalityMeta) error {
	p, err := s.muniPath(m.ID, metaDoc)
	if err != nil {
		return err
	}
	return eris.Wrapf(writeJSON(p, m), "store: save meta %s", m.ID)
}

// ListMunicipalities returns every municipality with a meta document, by id.
func (s *FileStore) ListMunicipalities() ([]model.MunicipalityMeta, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: list municipalities")
	}
	var out []model.MunicipalityMeta
	for _, e := range entries {
		if !e.IsDir() || e.Name() == draftsDir {
			continue
		}
		m, err := s.LoadMeta(e.Name())
		if err != nil {
			zap.L().Warn("store: skipping unreadable meta", zap.String("municipality", e.Name()), zap.Error(err))
			continue
		}
		if m != nil {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Counts returns filled/total published variables, cached when a CountCache is set.
func (s *FileStore) Counts(muni string) (VariableCount, error) {
	load := func() (VariableCount, error) {
		vs, err := s.LoadVariables(muni)
		if err != nil {
			return VariableCount{}, err
		}
		return VariableCount{Filled: vs.Filled(), Total: len(vs)}, nil
	}
	if s.counts == nil {
		return load()
	}
	return s.counts.Get(muni, load)
}

// readJSON reports false when the file does not exist.
func readJSON(path string, v any) (bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, eris.Wrapf(err, "decode %s", filepath.Base(path))
	}
	return true, nil
}

// writeJSON replaces path atomically via a temp file in the same directory.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "mkdir")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrap(err, "create temp")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "write temp")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "sync temp")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp")
	}
	return eris.Wrap(os.Rename(tmp.Name(), path), "rename")
}
