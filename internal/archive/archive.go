// Package archive streams a simulation's record and storage directory as tar.gz.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"simtracker/internal/simulation"
)

// RecordFile is the archive entry holding the simulation's status record.
const RecordFile = "simulation.json"

// Write streams a tar.gz to w. Entries live under a directory named after the
// simulation id: the status record first, then the storage directory's
// contents. A missing or empty dir yields an archive with only the record.
func Write(w io.Writer, info simulation.Info, dir string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	root := info.ID.String()

	if err := writeRecord(tw, root, info); err != nil {
		return err
	}
	if dir != "" {
		if err := writeDir(tw, root, dir); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

func writeRecord(tw *tar.Writer, root string, info simulation.Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	header := &tar.Header{
		Name:    path.Join(root, RecordFile),
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now().UTC(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	_, err = tw.Write(data)
	return err
}

func writeDir(tw *tar.Writer, root, dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		// Symlinks could point outside the storage directory.
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to create tar header: %w", err)
		}
		header.Name = path.Join(root, filepath.ToSlash(rel))
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		if _, err := io.CopyN(tw, f, header.Size); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
		return nil
	})
}
