package storage

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ArchiveDir zips every file under srcDir into dest. Paths inside the archive
// are relative to srcDir and use forward slashes. dest itself is skipped when
// it lives inside srcDir.
func ArchiveDir(srcDir, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("prepare archive directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	destAbs, _ := filepath.Abs(dest)

	zw := zip.NewWriter(out)
	walkErr := filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == destAbs {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		return addFile(zw, path, filepath.ToSlash(rel))
	})
	closeErr := zw.Close()
	fileErr := out.Close()
	switch {
	case walkErr != nil:
		return fmt.Errorf("archive %s: %w", srcDir, walkErr)
	case closeErr != nil:
		return fmt.Errorf("finalize archive: %w", closeErr)
	case fileErr != nil:
		return fmt.Errorf("close archive: %w", fileErr)
	}
	return nil
}

func addFile(zw *zip.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
