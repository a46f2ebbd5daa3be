// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package toolchain

import (
	"fmt"
	"runtime"
	"strings"

	"zombiezen.com/go/nix"
)

// ArchiveKind determines how an [Archive]'s download URL is formed.
type ArchiveKind string

const (
	// Source archives are downloaded from their URL as-is.
	Source ArchiveKind = "source"
	// Release archives are prebuilt binaries published as release assets.
	// The URL names the repository
	// and the asset is picked for the host platform.
	Release ArchiveKind = "release"
)

// An Archive describes a downloadable toolchain tarball.
type Archive struct {
	Kind ArchiveKind `json:"kind,omitempty"`
	URL  string      `json:"url"`
	// SHA1 is the hex-encoded SHA-1 hash of the downloaded file.
	SHA1 string `json:"sha1"`
	// Name is the release asset name prefix. Required for release archives.
	Name string `json:"name,omitempty"`
	// Tag is the release tag. Required for release archives.
	Tag string `json:"tag,omitempty"`
	// Prefix is the slash-separated directory inside the archive
	// that holds the toolchain's bin directory.
	Prefix string `json:"prefix,omitempty"`
}

// Validate reports whether a has the fields required by its kind.
func (a *Archive) Validate() error {
	if a.URL == "" {
		return fmt.Errorf("archive: missing url")
	}
	if a.SHA1 == "" {
		return fmt.Errorf("archive %s: missing sha1", a.URL)
	}
	switch a.Kind {
	case "", Source:
	case Release:
		if a.Name == "" {
			return fmt.Errorf("archive %s: release archives must have a name", a.URL)
		}
		if a.Tag == "" {
			return fmt.Errorf("archive %s: release archives must have a tag", a.URL)
		}
	default:
		return fmt.Errorf("archive %s: unknown kind %q", a.URL, a.Kind)
	}
	return nil
}

// DownloadURL returns the URL to fetch the archive from.
// For release archives, this is
// "{url}/releases/download/{tag}/{name}-{host triple}.tar.gz".
func (a *Archive) DownloadURL() string {
	if a.Kind != Release {
		return a.URL
	}
	return fmt.Sprintf("%s/releases/download/%s/%s-%s.tar.gz",
		strings.TrimSuffix(a.URL, "/"), a.Tag, a.Name, HostTriple())
}

// Hash returns the hex-encoded SHA-1 hash of the archive's URL and checksum.
// It names the directory that the archive is unpacked into.
func (a *Archive) Hash() string {
	h := nix.NewHasher(nix.SHA1)
	h.WriteString(a.DownloadURL())
	h.WriteString(":")
	h.WriteString(a.SHA1)
	return h.SumHash().RawBase16()
}

// HostTriple returns the target triple of the running platform,
// as used to name prebuilt release assets.
func HostTriple() string {
	return hostTriple(runtime.GOOS, runtime.GOARCH)
}

func hostTriple(goos, goarch string) string {
	arch := goarch
	switch goarch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "i686"
	}
	switch goos {
	case "linux":
		return arch + "-unknown-linux-gnu"
	case "darwin":
		return arch + "-apple-darwin"
	case "windows":
		return arch + "-pc-windows-msvc"
	case "freebsd":
		return arch + "-unknown-freebsd"
	default:
		return arch + "-unknown-" + goos
	}
}
