package main

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var schemaFiles embed.FS

// migrationNamePattern is the required filename shape:
// a three-digit sequence, a snake_case name, and a direction.
var migrationNamePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// MigrationSet wraps a filesystem of SQL migrations and validates it
// before any of them run: well-formed names, complete up/down pairs, a
// contiguous sequence, and content checksums pinned on first validation.
type MigrationSet struct {
	fsys      fs.FS
	checksums map[string]string
}

// migrationFile is one parsed migration filename.
type migrationFile struct {
	sequence  int
	name      string
	direction string
}

// NewMigrationSet wraps fsys, defaulting to the migrations embedded in
// the binary when fsys is nil.
func NewMigrationSet(fsys fs.FS) *MigrationSet {
	if fsys == nil {
		fsys = schemaFiles
	}

	return &MigrationSet{
		fsys:      fsys,
		checksums: make(map[string]string),
	}
}

// FS exposes the underlying filesystem for the migrate source driver.
func (s *MigrationSet) FS() fs.FS {
	return s.fsys
}

// Files lists every .sql file in the set in lexicographic order, which
// with the naming convention is also sequence order.
func (s *MigrationSet) Files() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}

		files = append(files, entry.Name())
	}

	sort.Strings(files)

	return files, nil
}

// ReadFile returns the content of one migration file.
func (s *MigrationSet) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(s.fsys, name)
}

// Validate checks the whole set: at least one migration, every name
// well-formed, every up paired with a down, sequence numbers starting at
// 001 with no gaps or duplicates, and contents unchanged since the
// previous validation.
func (s *MigrationSet) Validate() error {
	files, err := s.Files()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no migration files embedded")
	}

	parsed := make([]migrationFile, 0, len(files))

	for _, file := range files {
		mf, err := parseMigrationName(file)
		if err != nil {
			return err
		}

		parsed = append(parsed, mf)
	}

	if err := validatePairs(parsed); err != nil {
		return err
	}

	if err := validateSequence(parsed); err != nil {
		return err
	}

	return s.pinChecksums(files)
}

// MaxVersion returns the highest sequence number in the set, or zero
// when the set is empty or unreadable.
func (s *MigrationSet) MaxVersion() int {
	files, err := s.Files()
	if err != nil {
		return 0
	}

	highest := 0

	for _, file := range files {
		if mf, err := parseMigrationName(file); err == nil && mf.sequence > highest {
			highest = mf.sequence
		}
	}

	return highest
}

// pinChecksums compares file contents against the checksums recorded by
// an earlier validation, then records the current ones.
func (s *MigrationSet) pinChecksums(files []string) error {
	current := make(map[string]string, len(files))

	for _, file := range files {
		content, err := s.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}

		sum := sha256.Sum256(content)
		current[file] = hex.EncodeToString(sum[:])
	}

	for file, sum := range current {
		if pinned, ok := s.checksums[file]; ok && pinned != sum {
			return fmt.Errorf("migration %s changed since it was validated", file)
		}
	}

	s.checksums = current

	return nil
}

func parseMigrationName(filename string) (migrationFile, error) {
	matches := migrationNamePattern.FindStringSubmatch(filename)
	if matches == nil {
		return migrationFile{}, fmt.Errorf(
			"migration %s does not match NNN_name.(up|down).sql", filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return migrationFile{}, fmt.Errorf(
			"migration %s has a bad sequence number: %w", filename, err)
	}

	return migrationFile{
		sequence:  sequence,
		name:      matches[2],
		direction: matches[3],
	}, nil
}

// validatePairs ensures every sequence has both an up and a down file.
func validatePairs(parsed []migrationFile) error {
	type pairKey struct {
		sequence int
		name     string
	}

	type pair struct {
		up   bool
		down bool
	}

	pairs := make(map[pairKey]*pair)

	for _, mf := range parsed {
		key := pairKey{sequence: mf.sequence, name: mf.name}

		p := pairs[key]
		if p == nil {
			p = &pair{}
			pairs[key] = p
		}

		if mf.direction == "up" {
			p.up = true
		} else {
			p.down = true
		}
	}

	for key, p := range pairs {
		if !p.up {
			return fmt.Errorf("migration %03d_%s has a down file but no up file",
				key.sequence, key.name)
		}

		if !p.down {
			return fmt.Errorf("migration %03d_%s has an up file but no down file",
				key.sequence, key.name)
		}
	}

	return nil
}

// validateSequence ensures sequence numbers start at 001 and climb in
// steps of one, with no number shared between differently named files.
func validateSequence(parsed []migrationFile) error {
	bySequence := make(map[int]string)

	for _, mf := range parsed {
		if prev, ok := bySequence[mf.sequence]; ok && prev != mf.name {
			return fmt.Errorf("sequence %03d is used by both %s and %s",
				mf.sequence, prev, mf.name)
		}

		bySequence[mf.sequence] = mf.name
	}

	sequences := make([]int, 0, len(bySequence))
	for seq := range bySequence {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence starts at %03d, want 001", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf("migration sequence jumps from %03d to %03d",
				sequences[i-1], sequences[i])
		}
	}

	return nil
}
