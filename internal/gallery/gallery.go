// Package gallery manages candidate holding directories and the per-identity image collections.
package gallery

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrBadName is returned for names that cannot be used as a directory.
var ErrBadName = errors.New("invalid gallery name")

// Gallery lays images out as
//
//	<temp>/<candidate>/<candidate>_<attempt>.jpg
//	<dataset>/<Name>/<Name>_<k>.jpg
type Gallery struct {
	TempDir    string
	DatasetDir string
}

func New(tempDir, datasetDir string) *Gallery {
	return &Gallery{TempDir: tempDir, DatasetDir: datasetDir}
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}

// HoldingDir returns the temporary directory of a candidate.
func (g *Gallery) HoldingDir(candidateID string) string {
	return filepath.Join(g.TempDir, candidateID)
}

// IdentityDir returns the durable image directory of an identity.
func (g *Gallery) IdentityDir(name string) string {
	return filepath.Join(g.DatasetDir, name)
}

// SaveCapture writes one captured face for a candidate and returns its path.
func (g *Gallery) SaveCapture(candidateID string, attempt int, data []byte) (string, error) {
	if err := checkName(candidateID); err != nil {
		return "", err
	}
	dir := g.HoldingDir(candidateID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create holding dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d.jpg", candidateID, attempt))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write capture: %w", err)
	}
	return path, nil
}

// Discard removes a candidate's holding directory. Missing directories are fine.
func (g *Gallery) Discard(candidateID string) error {
	if err := checkName(candidateID); err != nil {
		return err
	}
	return os.RemoveAll(g.HoldingDir(candidateID))
}

// Relabel moves every image of a candidate into name's collection, numbering after
// the images already there, and removes the holding directory.
func (g *Gallery) Relabel(candidateID, name string) ([]string, error) {
	if err := checkName(candidateID); err != nil {
		return nil, err
	}
	srcs, err := numbered(g.HoldingDir(candidateID), candidateID)
	if err != nil {
		return nil, err
	}
	moved, err := g.store(name, srcs, moveFile)
	if err != nil {
		return moved, err
	}
	if err := os.RemoveAll(g.HoldingDir(candidateID)); err != nil {
		return moved, fmt.Errorf("remove holding dir: %w", err)
	}
	return moved, nil
}

// AddImages copies external images into name's collection.
func (g *Gallery) AddImages(name string, srcs []string) ([]string, error) {
	return g.store(name, srcs, copyFile)
}

func (g *Gallery) store(name string, srcs []string, transfer func(src, dst string) error) ([]string, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	dir, next, err := g.nextSlot(name)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, src := range srcs {
		dst := filepath.Join(dir, fmt.Sprintf("%s_%d.jpg", name, next))
		if err := transfer(src, dst); err != nil {
			return out, fmt.Errorf("store %s: %w", filepath.Base(src), err)
		}
		out = append(out, dst)
		next++
	}
	return out, nil
}

// SaveImage writes one encoded frame as the next image of name's collection.
func (g *Gallery) SaveImage(name string, data []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	dir, next, err := g.nextSlot(name)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, fmt.Sprintf("%s_%d.jpg", name, next))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return dst, nil
}

// nextSlot creates name's directory and returns the number after its last image.
func (g *Gallery) nextSlot(name string) (string, int, error) {
	dir := g.IdentityDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create identity dir: %w", err)
	}
	existing, err := numbered(dir, name)
	if err != nil {
		return "", 0, err
	}
	if len(existing) == 0 {
		return dir, 1, nil
	}
	return dir, indexOf(existing[len(existing)-1], name) + 1, nil
}

// Identities lists the identity directories of the dataset, sorted by name.
func (g *Gallery) Identities() ([]string, error) {
	return subdirs(g.DatasetDir)
}

// Images lists name's collection in numeric order.
func (g *Gallery) Images(name string) ([]string, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return numbered(g.IdentityDir(name), name)
}

// Pending lists candidate ids that still have a holding directory.
func (g *Gallery) Pending() ([]string, error) {
	return subdirs(g.TempDir)
}

func subdirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Reset removes both trees.
func (g *Gallery) Reset() error {
	for _, dir := range []string{g.TempDir, g.DatasetDir} {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return nil
}

// numbered returns <prefix>_<n>.jpg files in dir sorted by n. A missing dir is empty.
func numbered(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || indexOf(e.Name(), prefix) < 1 {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Slice(files, func(i, j int) bool { return indexOf(files[i], prefix) < indexOf(files[j], prefix) })
	return files, nil
}

// indexOf parses n from ".../<prefix>_<n>.jpg"; 0 if the name does not fit.
func indexOf(path, prefix string) int {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, prefix+"_") || !strings.HasSuffix(strings.ToLower(base), ".jpg") {
		return 0
	}
	n, err := strconv.Atoi(base[len(prefix)+1 : len(base)-4])
	if err != nil || n < 1 {
		return 0
	}
	return n
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-device: fall back to copy and delete.
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
