// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package toolchain

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	slashpath "path"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
)

// extractTar unpacks the possibly compressed tar stream src into the directory dst.
// The compression format is detected from the stream's magic number.
func extractTar(dst string, src io.Reader) error {
	br := bufio.NewReader(src)
	header, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return err
	}
	var r io.Reader
	switch {
	case bytes.HasPrefix(header, []byte{0x1f, 0x8b}):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	case bytes.HasPrefix(header, []byte("BZh")):
		zr, err := bzip2.NewReader(br, nil)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	default:
		r = br
	}

	if err := os.MkdirAll(dst, 0o777); err != nil {
		return err
	}
	root, err := os.OpenRoot(dst)
	if err != nil {
		return err
	}
	defer root.Close()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		name, err := filepath.Localize(slashpath.Clean(hdr.Name))
		if err != nil {
			return fmt.Errorf("%s: %v", hdr.Name, err)
		}
		if name == "." {
			continue
		}
		if err := mkdirAllInRoot(root, filepath.Dir(name)); err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeXGlobalHeader:
		case tar.TypeDir:
			if err := root.Mkdir(name, 0o777); err != nil && !os.IsExist(err) {
				return err
			}
		case tar.TypeReg:
			if err := extractRegular(root, name, hdr.FileInfo().Mode(), tr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			// *os.Root has no Symlink method until Go 1.25.
			if !filepath.IsLocal(filepath.Join(filepath.Dir(name), hdr.Linkname)) {
				return fmt.Errorf("%s: symlink %s points outside archive", hdr.Name, hdr.Linkname)
			}
			if err := os.Symlink(hdr.Linkname, filepath.Join(dst, name)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s: unsupported tar entry type %q", hdr.Name, hdr.Typeflag)
		}
	}
}

func extractRegular(root *os.Root, name string, mode fs.FileMode, r io.Reader) error {
	perm := os.FileMode(0o666)
	if mode&0o111 != 0 {
		perm |= 0o111
	}
	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err1 := io.Copy(f, r)
	err2 := f.Close()
	if err1 != nil {
		return fmt.Errorf("write %s: %v", name, err1)
	}
	if err2 != nil {
		return fmt.Errorf("write %s: %v", name, err2)
	}
	return nil
}

func mkdirAllInRoot(root *os.Root, dir string) error {
	if dir == "." {
		return nil
	}
	if info, err := root.Stat(dir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("mkdir %s: not a directory", dir)
		}
		return nil
	}
	if err := mkdirAllInRoot(root, filepath.Dir(dir)); err != nil {
		return err
	}
	if err := root.Mkdir(dir, 0o777); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}
