// Package negmem is the negative memory: a persisted record of patches that
// were applied, failed validation, and could not be repaired. Proposals are
// filtered against it before applying: confirmed dead ends are never
// attempted twice in a session, and reruns inherit the lessons because the
// store survives both rollback and process restarts.
package negmem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/forgeloop/forgeloop/pkg/config"
	"github.com/forgeloop/forgeloop/pkg/utils"
)

const sampleCap = 4000

// Entry is one confirmed dead end.
type Entry struct {
	Hash      string    `json:"content_hash"`
	Path      string    `json:"path"`
	Signature string    `json:"error_signature"`
	Timestamp time.Time `json:"timestamp"`
	Sample    string    `json:"content_sample"`
}

// Store holds the session's dead ends, persisted as a JSON array.
type Store struct {
	path          string
	entries       []Entry
	byHash        map[string]bool
	samePathRatio float64
	crossRatio    float64
}

// Load reads the store from the project bookkeeping directory, creating an
// empty one when none exists.
func Load(root string, cfg *config.Config) (*Store, error) {
	s := &Store{
		path:          filepath.Join(root, config.BookkeepingDir, "negative.json"),
		byHash:        make(map[string]bool),
		samePathRatio: cfg.SameFileSimilarity,
		crossRatio:    cfg.CrossFileSimilarity,
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("could not read negative memory: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("could not parse negative memory: %w", err)
	}
	for _, e := range s.entries {
		s.byHash[e.Hash] = true
	}
	return s, nil
}

// Record stores a confirmed dead end, deduplicated by hash, and flushes to
// disk immediately.
func (s *Store) Record(path, content, signature string) error {
	hash := utils.ChangeHash(path, normalize(content))
	if s.byHash[hash] {
		return nil
	}
	sample := normalize(content)
	if len(sample) > sampleCap {
		sample = sample[:sampleCap]
	}
	s.entries = append(s.entries, Entry{
		Hash:      hash,
		Path:      path,
		Signature: signature,
		Timestamp: time.Now(),
		Sample:    sample,
	})
	s.byHash[hash] = true
	return s.flush()
}

// Rejects reports whether a proposal matches a known dead end, and why.
// Exact hash matches reject outright; a high similarity ratio against a
// stored failing sample for the same path rejects too, and a stricter
// threshold guards against repeating a failing idiom under another path.
func (s *Store) Rejects(path, content string) (bool, string) {
	norm := normalize(content)
	if s.byHash[utils.ChangeHash(path, norm)] {
		return true, "identical to a previously failed patch"
	}
	probe := norm
	if len(probe) > sampleCap {
		probe = probe[:sampleCap]
	}
	for _, e := range s.entries {
		ratio := similarity(probe, e.Sample)
		if e.Path == path && ratio >= s.samePathRatio {
			return true, fmt.Sprintf("%.0f%% similar to a previously failed patch for %s", ratio*100, e.Path)
		}
		if e.Path != path && ratio >= s.crossRatio {
			return true, fmt.Sprintf("%.0f%% similar to a previously failed patch for %s", ratio*100, e.Path)
		}
	}
	return false, ""
}

// Len returns the number of recorded dead ends.
func (s *Store) Len() int {
	return len(s.entries)
}

func (s *Store) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("could not create bookkeeping directory: %w", err)
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

func normalize(content string) string {
	return strings.TrimRight(content, " \t\r\n") + "\n"
}

// similarity computes a quick edit-distance ratio in [0, 1] between two
// texts: 1 means identical.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	dmp := diffmatchpatch.New()
	distance := dmp.DiffLevenshtein(dmp.DiffMain(a, b, false))
	return 1 - float64(distance)/float64(longest)
}
