// Package imagebuild runs the custom image pipeline: customer-uploaded
// build contexts are validated, built through the container runtime,
// scanned, and finally released or failed. Image records are append-only;
// a rebuild creates a new version instead of mutating the old one.
package imagebuild

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

const (
	// maxDockerfileSize bounds how much of the Dockerfile is read during
	// validation.
	maxDockerfileSize = 1 << 20
	// maxArchiveEntries bounds the number of files a build context may hold.
	maxArchiveEntries = 10000
)

var (
	// ErrNoDockerfile is returned when the archive has no root-level Dockerfile.
	ErrNoDockerfile = errors.New("archive contains no Dockerfile")
	// ErrRunsAsRoot is returned when the Dockerfile does not drop root.
	ErrRunsAsRoot = errors.New("image must declare a non-root USER")
	// ErrUnsafeArchive is returned for archives with escaping paths.
	ErrUnsafeArchive = errors.New("archive contains unsafe paths")
)

// ValidateArchive checks that the reader is a gzipped tar build context with
// a safe layout and a root-level Dockerfile, and returns the Dockerfile
// contents for the later scan step.
func ValidateArchive(r io.Reader) (string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("archive is not gzip compressed: %w", err)
	}
	defer gz.Close()

	var dockerfile string
	tr := tar.NewReader(gz)
	entries := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("archive is not a valid tar: %w", err)
		}

		entries++
		if entries > maxArchiveEntries {
			return "", fmt.Errorf("archive has too many entries (limit %d)", maxArchiveEntries)
		}

		name := path.Clean(hdr.Name)
		if path.IsAbs(hdr.Name) || name == ".." || strings.HasPrefix(name, "../") {
			return "", fmt.Errorf("%w: %q", ErrUnsafeArchive, hdr.Name)
		}

		if name == "Dockerfile" && hdr.Typeflag == tar.TypeReg {
			limited := io.LimitReader(tr, maxDockerfileSize+1)
			data, err := io.ReadAll(limited)
			if err != nil {
				return "", fmt.Errorf("failed to read Dockerfile: %w", err)
			}
			if len(data) > maxDockerfileSize {
				return "", fmt.Errorf("Dockerfile exceeds %d bytes", maxDockerfileSize)
			}
			dockerfile = string(data)
		}
	}

	if dockerfile == "" {
		return "", ErrNoDockerfile
	}
	if err := CheckDockerfile(dockerfile); err != nil {
		return "", err
	}
	return dockerfile, nil
}

// CheckDockerfile enforces the baseline policy on a Dockerfile: it must have
// a FROM line, and the last USER directive must not resolve to root.
func CheckDockerfile(content string) error {
	var hasFrom bool
	var lastUser string

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "FROM":
			hasFrom = true
		case "USER":
			lastUser = fields[1]
		}
	}

	if !hasFrom {
		return errors.New("Dockerfile has no FROM instruction")
	}
	if lastUser == "" {
		return ErrRunsAsRoot
	}
	// USER may be "name", "uid", "name:group" or "uid:gid".
	user := strings.SplitN(lastUser, ":", 2)[0]
	if user == "root" || user == "0" {
		return ErrRunsAsRoot
	}
	return nil
}

// BaseImages returns the image references named by FROM lines, for scanners
// that enforce a base image policy. Stage aliases are resolved so
// multi-stage builds only report external bases.
func BaseImages(dockerfile string) []string {
	aliases := make(map[string]bool)
	var bases []string
	for _, raw := range strings.Split(dockerfile, "\n") {
		line := strings.TrimSpace(raw)
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.EqualFold(fields[0], "FROM") {
			continue
		}
		ref := fields[1]
		if aliases[strings.ToLower(ref)] {
			continue
		}
		bases = append(bases, ref)
		if len(fields) >= 4 && strings.EqualFold(fields[2], "AS") {
			aliases[strings.ToLower(fields[3])] = true
		}
	}
	return bases
}
