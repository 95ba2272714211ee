// Package listfile resolves numeric file data ids to canonical asset paths
// using community listfile manifests.
package listfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Listfile errors.
var (
	ErrNotFound     = errors.New("not found in storage")
	ErrManifestLoad = errors.New("loading manifest")
)

// DefaultMappingsDirectory is used when no mappings directory is configured.
const DefaultMappingsDirectory = "mappings"

// Record is a single manifest entry.
type Record struct {
	FileID uint32
	Path   string
}

// Storage is an immutable index over one manifest load.
type Storage struct {
	dir       string
	byID      map[uint32]*Record
	byPath    map[string]*Record
	order     []*Record
	maxFileID uint32
}

func newStorage(dir string) *Storage {
	return &Storage{
		dir:    dir,
		byID:   make(map[uint32]*Record),
		byPath: make(map[string]*Record),
	}
}

// LoadDir parses every .csv and .txt manifest in dir, in file name order.
// Files that cannot be parsed are logged and skipped.
func LoadDir(dir string, log *zap.Logger) (*Storage, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir == "" {
		dir = DefaultMappingsDirectory
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: mappings directory %q: %w", ErrManifestLoad, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrManifestLoad, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %w", ErrManifestLoad, dir, err)
	}

	log.Info("loading mappings", zap.String("dir", dir))

	s := newStorage(dir)
	for _, e := range entries {
		if e.IsDir() || !isManifestFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		log.Info("loading mapping", zap.String("file", e.Name()))
		if err := s.parseFile(path, log); err != nil {
			log.Error("failed to parse mapping file", zap.String("file", e.Name()), zap.Error(err))
		}
	}

	log.Info("loaded mapping entries", zap.Int("count", s.Len()))
	return s, nil
}

// Parse builds a Storage from a single manifest stream.
func Parse(r io.Reader, log *zap.Logger) (*Storage, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := newStorage("")
	if err := s.parse(r, log); err != nil {
		return nil, err
	}
	return s, nil
}

func isManifestFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".csv" || ext == ".txt"
}

func (s *Storage) parseFile(path string, log *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.parse(f, log)
}

// parse reads "id;path" lines. Input is UTF-8; a UTF-8 or UTF-16 byte
// order mark is honoured and stripped.
func (s *Storage) parse(r io.Reader, log *zap.Logger) error {
	r = transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 128), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}

		sep := strings.IndexByte(line, ';')
		if sep < 0 {
			continue
		}

		id, err := strconv.ParseUint(line[:sep], 10, 32)
		if err != nil {
			continue
		}

		name := line[sep+1:]
		if name == "" {
			continue
		}

		s.add(uint32(id), name, log)
	}

	return scanner.Err()
}

func (s *Storage) add(id uint32, name string, log *zap.Logger) {
	if prev, ok := s.byID[id]; ok {
		log.Warn("duplicate file storage entry, skipping",
			zap.Uint32("id", id), zap.String("path", name),
			zap.Uint32("used_id", prev.FileID), zap.String("used_path", prev.Path))
		return
	}

	rec := &Record{FileID: id, Path: NormalizePath(name)}
	if prev, ok := s.byPath[rec.Path]; ok {
		log.Warn("duplicate file storage entry, skipping",
			zap.Uint32("id", id), zap.String("path", name),
			zap.Uint32("used_id", prev.FileID), zap.String("used_path", prev.Path))
		return
	}

	s.byID[id] = rec
	s.byPath[rec.Path] = rec
	s.order = append(s.order, rec)
	if id > s.maxFileID {
		s.maxFileID = id
	}
}

// Dir returns the directory the storage was loaded from.
func (s *Storage) Dir() string {
	return s.dir
}

// Len returns the number of records.
func (s *Storage) Len() int {
	return len(s.order)
}

// MaxFileID returns the highest file data id seen.
func (s *Storage) MaxFileID() uint32 {
	return s.maxFileID
}

// Records returns all records in manifest order.
func (s *Storage) Records() []Record {
	out := make([]Record, len(s.order))
	for i, r := range s.order {
		out[i] = *r
	}
	return out
}

// ByID looks up a record by file data id.
func (s *Storage) ByID(id uint32) (*Record, error) {
	rec, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("file data id %d: %w", id, ErrNotFound)
	}
	return rec, nil
}

// ByPath looks up a record by its full path.
func (s *Storage) ByPath(path string) (*Record, error) {
	rec, ok := s.byPath[NormalizePath(path)]
	if !ok {
		return nil, fmt.Errorf("path %q: %w", path, ErrNotFound)
	}
	return rec, nil
}

// ByPartialPath returns the first record, in manifest order, whose path
// contains fragment. Manifest order is file name order, then line order.
func (s *Storage) ByPartialPath(fragment string) (*Record, error) {
	needle := NormalizePath(fragment)
	if needle == "" {
		return nil, fmt.Errorf("empty path fragment: %w", ErrNotFound)
	}
	for _, rec := range s.order {
		if strings.Contains(rec.Path, needle) {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("path fragment %q: %w", fragment, ErrNotFound)
}

// Search returns up to limit records whose path contains fragment.
// A limit of 0 returns every match.
func (s *Storage) Search(fragment string, limit int) []Record {
	needle := NormalizePath(fragment)
	var out []Record
	for _, rec := range s.order {
		if !strings.Contains(rec.Path, needle) {
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// PathInfo returns a printable path for id.
func (s *Storage) PathInfo(id uint32) string {
	if id == 0 {
		return "<none>"
	}
	rec, ok := s.byID[id]
	if !ok {
		return "<not found in listfile>"
	}
	return rec.Path
}

// ExtensionStat is a count of records sharing an extension.
type ExtensionStat struct {
	Ext   string
	Count int
}

// ExtensionCounts groups records by extension, most common first.
func (s *Storage) ExtensionCounts() []ExtensionStat {
	counts := make(map[string]int)
	for _, rec := range s.order {
		ext := filepath.Ext(rec.Path)
		if ext == "" {
			ext = "(no ext)"
		}
		counts[ext]++
	}

	stats := make([]ExtensionStat, 0, len(counts))
	for ext, n := range counts {
		stats = append(stats, ExtensionStat{Ext: ext, Count: n})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Ext < stats[j].Ext
	})
	return stats
}

// NormalizePath converts backslashes to slashes and folds case.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return cases.Fold().String(path)
}

// DetectWorkingDirectory strips relativePath from the end of fullPath and
// returns the remaining root. It returns "" if the trailing segments of
// fullPath do not match relativePath.
func DetectWorkingDirectory(fullPath, relativePath string) string {
	full := filepath.Clean(filepath.FromSlash(strings.ReplaceAll(fullPath, "\\", "/")))
	rel := filepath.FromSlash(strings.ReplaceAll(relativePath, "\\", "/"))
	rel = strings.Trim(rel, string(filepath.Separator))

	for rel != "" && rel != "." {
		if !strings.EqualFold(filepath.Base(rel), filepath.Base(full)) {
			return ""
		}
		rel = filepath.Dir(rel)
		full = filepath.Dir(full)
	}
	return full
}
