// Package snapshot manages labeled full-tree archives used for rollback.
// Bookkeeping (and with it the negative memory) is excluded from both the
// archives and the restore overwrite: lessons learned survive state
// reversion.
package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/forgeloop/forgeloop/pkg/config"
	"github.com/forgeloop/forgeloop/pkg/safety"
	"github.com/forgeloop/forgeloop/pkg/workspace"
)

// Manager creates, prunes and restores snapshots of one project tree.
type Manager struct {
	Root      string
	Retention int
}

var labelSanitizer = regexp.MustCompile(`[^A-Za-z0-9-]+`)
var titleCaser = cases.Title(language.English)

func (m *Manager) dir() string {
	return filepath.Join(m.Root, config.BookkeepingDir, "snapshots")
}

// Create archives the current tree under a timestamped, labeled name and
// prunes beyond the retention cap. It returns the archive path.
func (m *Manager) Create(label string) (string, error) {
	if err := os.MkdirAll(m.dir(), 0755); err != nil {
		return "", fmt.Errorf("could not create snapshot directory: %w", err)
	}

	name := fmt.Sprintf("%d_%s.tar.gz", time.Now().UnixNano(), sanitizeLabel(label))
	path := filepath.Join(m.dir(), name)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("could not create snapshot archive: %w", err)
	}
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	files, err := workspace.ListFiles(m.Root)
	if err != nil {
		tw.Close()
		gw.Close()
		out.Close()
		return "", err
	}
	for _, rel := range files {
		if err := addFile(tw, m.Root, rel); err != nil {
			tw.Close()
			gw.Close()
			out.Close()
			os.Remove(path)
			return "", fmt.Errorf("could not archive %s: %w", rel, err)
		}
	}

	if err := tw.Close(); err != nil {
		gw.Close()
		out.Close()
		return "", err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	if err := m.prune(); err != nil {
		return "", err
	}
	return path, nil
}

// Latest returns the path of the most recent archive, or "" when none exist.
func (m *Manager) Latest() (string, error) {
	archives, err := m.list()
	if err != nil || len(archives) == 0 {
		return "", err
	}
	return archives[len(archives)-1], nil
}

// RestoreLatest replaces the working tree with the most recent archive's
// contents, leaving bookkeeping untouched.
func (m *Manager) RestoreLatest() error {
	latest, err := m.Latest()
	if err != nil {
		return err
	}
	if latest == "" {
		return fmt.Errorf("no snapshot available to restore")
	}

	// Clear everything except bookkeeping before unpacking so files created
	// after the snapshot do not linger.
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == config.BookkeepingDir {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.Root, e.Name())); err != nil {
			return fmt.Errorf("could not clear %s before restore: %w", e.Name(), err)
		}
	}

	return m.unpack(latest)
}

func (m *Manager) unpack(archive string) error {
	in, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer in.Close()
	gr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("could not read snapshot archive: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt snapshot archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if safety.IsOutsideRoot(m.Root, hdr.Name) {
			continue
		}
		target := filepath.Join(m.Root, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}

// list returns archive paths ordered oldest first by modification time.
func (m *Manager) list() ([]string, error) {
	entries, err := os.ReadDir(m.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type stamped struct {
		path string
		mod  time.Time
	}
	var archives []stamped
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, stamped{path: filepath.Join(m.dir(), e.Name()), mod: info.ModTime()})
	}
	sort.Slice(archives, func(i, j int) bool {
		if archives[i].mod.Equal(archives[j].mod) {
			return archives[i].path < archives[j].path
		}
		return archives[i].mod.Before(archives[j].mod)
	})
	paths := make([]string, len(archives))
	for i, a := range archives {
		paths[i] = a.path
	}
	return paths, nil
}

func (m *Manager) prune() error {
	if m.Retention <= 0 {
		return nil
	}
	archives, err := m.list()
	if err != nil {
		return err
	}
	for len(archives) > m.Retention {
		if err := os.Remove(archives[0]); err != nil {
			return fmt.Errorf("could not prune snapshot %s: %w", archives[0], err)
		}
		archives = archives[1:]
	}
	return nil
}

func addFile(tw *tar.Writer, root, rel string) error {
	full := filepath.Join(root, rel)
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    filepath.ToSlash(rel),
		Mode:    int64(info.Mode().Perm()),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	in, err := os.Open(full)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(tw, in)
	return err
}

func sanitizeLabel(label string) string {
	titled := titleCaser.String(strings.TrimSpace(label))
	cleaned := labelSanitizer.ReplaceAllString(titled, "-")
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		cleaned = "Snapshot"
	}
	if len(cleaned) > 60 {
		cleaned = cleaned[:60]
	}
	return cleaned
}
