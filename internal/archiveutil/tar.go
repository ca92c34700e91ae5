// Package archiveutil builds the tar streams the CLI uploads to a
// sandbox's POST /sandboxes/{id}/files endpoint.
package archiveutil

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteTar walks srcDir and writes every entry under it, except .git
// directories and their contents, to w as an uncompressed tar stream with
// paths relative to srcDir, matching what the
// sandbox's in-namespace `tar -xf -` receiver expects.
func WriteTar(w io.Writer, srcDir string) error {
	tw := tar.NewWriter(w)

	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = relPath

		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			header.Linkname = link
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("archiveutil: walking %s: %w", srcDir, err)
	}
	return tw.Close()
}
