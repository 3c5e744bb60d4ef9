// Package bundle packs a spec document together with the file sources
// it references into one gzipped tar, so a spec authored on a
// workstation can be shipped to the host it describes.
package bundle

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/converge-sh/converge/internal/spec"
)

// SpecEntry is the archive name of the spec document.
const SpecEntry = "converge.yaml"

// Create validates the spec at specPath and writes it, plus every
// file source it references, as a gzipped tar to w. Sources are stored
// relative to the spec's directory; a source outside that directory
// cannot be bundled.
func Create(w io.Writer, specPath string) error {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("reading spec: %w", err)
	}
	// Validate without resolving sources so they are archived as written.
	s, err := spec.Load(data, "")
	if err != nil {
		return err
	}

	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	if err := writeEntry(tw, SpecEntry, data, 0644); err != nil {
		return err
	}

	baseDir := filepath.Dir(specPath)
	seen := map[string]bool{}
	for _, name := range s.Names() {
		u := s.Units[name]
		if u.Kind != spec.KindFile || u.Source == "" {
			continue
		}
		rel := u.Source
		if filepath.IsAbs(rel) {
			if rel, err = filepath.Rel(baseDir, rel); err != nil {
				return fmt.Errorf("unit %s: %w", name, err)
			}
		}
		rel = filepath.ToSlash(filepath.Clean(rel))
		if rel == ".." || strings.HasPrefix(rel, "../") {
			return fmt.Errorf("unit %s: source %q lies outside the spec directory", name, u.Source)
		}
		if seen[rel] {
			continue
		}
		seen[rel] = true
		if err := addFile(tw, filepath.Join(baseDir, filepath.FromSlash(rel)), rel); err != nil {
			return fmt.Errorf("unit %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

// Extract unpacks a bundle into destDir and returns the path of the
// spec document inside it. Entry names escaping destDir are rejected.
func Extract(r io.Reader, destDir string) (string, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("gzip: %w", err)
	}
	defer gr.Close()

	specSeen := false
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("tar: %w", err)
		}
		name := path.Clean(hdr.Name)
		if name == "." || path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return "", fmt.Errorf("bundle entry %q escapes the extraction directory", hdr.Name)
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", err
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return "", err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return "", err
			}
			f.Close()
			if name == SpecEntry {
				specSeen = true
			}
		}
	}
	if !specSeen {
		return "", fmt.Errorf("bundle has no %s", SpecEntry)
	}
	return filepath.Join(destDir, SpecEntry), nil
}

func addFile(tw *tar.Writer, srcPath, archivePath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:     archivePath,
		Mode:     int64(info.Mode().Perm()),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func writeEntry(tw *tar.Writer, name string, data []byte, mode int64) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     mode,
		Size:     int64(len(data)),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
