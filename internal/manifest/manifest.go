// Package manifest reads and stamps bundle manifests.
//
// A manifest is the small JSON document the bundle builder writes last,
// announcing that a build has finished. rekindle watches the manifest file;
// a stamp (a bumped build counter and a fresh build time) is the external
// "bundle reloaded" notification.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultName is the manifest file name inside a bundle directory.
const DefaultName = "bundle.json"

// SchemaVersion is the manifest schema this package reads and writes.
const SchemaVersion = 1

// DefaultEntry is the bundle entry chunk when the manifest names none.
const DefaultEntry = "init.lua"

// Common errors returned by manifest operations.
var (
	// ErrMalformed is returned when the document is not valid JSON or is
	// missing required fields.
	ErrMalformed = errors.New("manifest: malformed document")

	// ErrSchema is returned when the document's schema version is not
	// supported.
	ErrSchema = errors.New("manifest: unsupported schema version")
)

// Manifest describes one finished bundle build.
type Manifest struct {
	// Schema is the manifest schema version.
	Schema int

	// Bundle is the bundle name (informational).
	Bundle string

	// Build is the monotonically increasing build counter. The builder bumps
	// it on every stamp; watchers treat any change as a new build.
	Build uint64

	// BuiltAt is when the builder stamped the manifest.
	BuiltAt time.Time

	// Entry is the bundle entry chunk, relative to the bundle directory.
	Entry string

	// Files maps bundle-relative file names to their sha256 checksums.
	Files map[string]string
}

// Parse decodes a manifest document.
func Parse(data []byte) (Manifest, error) {
	if !gjson.ValidBytes(data) {
		return Manifest{}, ErrMalformed
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Manifest{}, ErrMalformed
	}

	schema := root.Get("schema")
	if !schema.Exists() {
		return Manifest{}, fmt.Errorf("%w: missing schema", ErrMalformed)
	}
	if schema.Int() != SchemaVersion {
		return Manifest{}, fmt.Errorf("%w: %d", ErrSchema, schema.Int())
	}

	m := Manifest{
		Schema: int(schema.Int()),
		Bundle: root.Get("bundle").String(),
		Build:  root.Get("build").Uint(),
		Entry:  root.Get("entry").String(),
	}
	if m.Entry == "" {
		m.Entry = DefaultEntry
	}

	if at := root.Get("built_at"); at.Exists() {
		t, err := time.Parse(time.RFC3339, at.String())
		if err != nil {
			return Manifest{}, fmt.Errorf("%w: built_at: %v", ErrMalformed, err)
		}
		m.BuiltAt = t
	}

	if files := root.Get("files"); files.IsObject() {
		m.Files = make(map[string]string)
		files.ForEach(func(key, value gjson.Result) bool {
			m.Files[key.String()] = value.String()
			return true
		})
	}

	return m, nil
}

// Load reads and decodes the manifest at path.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: reading %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w (%s)", err, path)
	}
	return m, nil
}

// Encode renders the manifest as JSON.
func (m Manifest) Encode() ([]byte, error) {
	out := []byte("{}")
	var err error

	set := func(path string, value any) {
		if err != nil {
			return
		}
		out, err = sjson.SetBytes(out, path, value)
	}

	set("schema", m.Schema)
	set("bundle", m.Bundle)
	set("build", m.Build)
	if !m.BuiltAt.IsZero() {
		set("built_at", m.BuiltAt.UTC().Format(time.RFC3339))
	}
	set("entry", m.Entry)

	// Keys are sorted so repeated encodes of the same manifest are
	// byte-identical.
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		set("files."+escapePath(name), m.Files[name])
	}

	if err != nil {
		return nil, fmt.Errorf("manifest: encoding: %w", err)
	}
	return out, nil
}

// Stamp bumps the manifest at path and rewrites it, creating the file when
// it does not exist. It returns the manifest as written.
func Stamp(path, bundle string, files map[string]string) (Manifest, error) {
	m := Manifest{
		Schema: SchemaVersion,
		Bundle: bundle,
		Entry:  DefaultEntry,
	}

	// A missing or malformed manifest starts the counter over; the stamp is
	// the authoritative write.
	if prev, err := Load(path); err == nil {
		m = prev
		if bundle != "" {
			m.Bundle = bundle
		}
	}

	m.Schema = SchemaVersion
	m.Build++
	m.BuiltAt = time.Now().UTC()
	if files != nil {
		m.Files = files
	}
	if m.Entry == "" {
		m.Entry = DefaultEntry
	}

	data, err := m.Encode()
	if err != nil {
		return Manifest{}, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Manifest{}, fmt.Errorf("manifest: writing %s: %w", path, err)
	}
	return m, nil
}

// HashFiles computes sha256 checksums for every regular file under dir that
// matches pattern (filepath.Match, applied to the base name). Keys are
// paths relative to dir using forward slashes.
func HashFiles(dir, pattern string) (map[string]string, error) {
	sums := make(map[string]string)

	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		sums[filepath.ToSlash(rel)] = hex.EncodeToString(sum[:])
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: hashing %s: %w", dir, err)
	}
	return sums, nil
}

// escapePath escapes a file name for use as a single sjson path component.
// Dots and wildcards would otherwise be interpreted as path syntax.
func escapePath(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '\\', '|':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
