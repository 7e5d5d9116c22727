// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package file

import (
	"path/filepath"
	"strings"
)

// ============================================================================
// Path Safety
// ============================================================================

// Guard decides which paths a batch may target.
type Guard struct {
	// WorkingDir resolves relative paths. Symlinks already resolved.
	WorkingDir string

	// AllowedPaths are directory roots edits may touch. Empty means WorkingDir only.
	AllowedPaths []string

	// AllowUnknownLanguages lets files with an unrecognized extension through.
	AllowUnknownLanguages bool
}

// NewGuard creates a Guard rooted at workingDir.
//
// workingDir and every allowed path are resolved through symlinks (macOS
// /var -> /private/var) so later prefix checks compare real paths.
func NewGuard(workingDir string, allowed []string, allowUnknown bool) *Guard {
	root := realPath(workingDir)
	g := &Guard{
		WorkingDir:            root,
		AllowUnknownLanguages: allowUnknown,
	}
	for _, p := range allowed {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		g.AllowedPaths = append(g.AllowedPaths, realPath(p))
	}
	if len(g.AllowedPaths) == 0 {
		g.AllowedPaths = []string{root}
	}
	return g
}

// Resolve turns path into a checked absolute path.
//
// # Outputs
//
//   - string: Absolute, symlink-resolved path.
//   - error: *FileError wrapping ErrSensitivePath, ErrPathNotAllowed or
//     ErrUnsupportedLanguage.
func (g *Guard) Resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.WorkingDir, path)
	}
	resolved := resolvePathWithAncestors(filepath.Clean(path))

	if IsSensitivePath(resolved) {
		return "", &FileError{Path: resolved, Err: ErrSensitivePath}
	}
	if !g.IsPathAllowed(resolved) {
		return "", &FileError{
			Path:       resolved,
			Err:        ErrPathNotAllowed,
			Suggestion: "add the directory to allowed_paths",
		}
	}
	if lang := DetectLanguage(resolved); !lang.IsSupported() && !g.AllowUnknownLanguages {
		return "", &FileError{
			Path:       resolved,
			Err:        ErrUnsupportedLanguage,
			Suggestion: "supported extensions: " + ExtensionFilter(),
		}
	}
	return resolved, nil
}

// IsPathAllowed reports whether path lies under one of the allowed roots.
func (g *Guard) IsPathAllowed(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	real := resolvePathWithAncestors(absPath)
	for _, root := range g.AllowedPaths {
		if real == root || strings.HasPrefix(real, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// SensitivePaths lists paths that are never edited. An entry ending in "/"
// matches any path under that directory; any other entry matches a path
// ending in exactly that file.
var SensitivePaths = []string{
	"/etc/passwd",
	"/etc/shadow",
	"/etc/sudoers",
	"/.ssh/",
	"/.gnupg/",
	"/.aws/credentials",
	"/.env",
	"/id_rsa",
	"/id_ed25519",
	"/.git/",
}

// IsSensitivePath reports whether path matches a SensitivePaths entry.
func IsSensitivePath(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, sensitive := range SensitivePaths {
		if strings.HasSuffix(sensitive, "/") {
			if strings.Contains(lower, sensitive) {
				return true
			}
			continue
		}
		if lower == sensitive[1:] || strings.HasSuffix(lower, sensitive) {
			return true
		}
	}
	return false
}

func realPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return resolvePathWithAncestors(abs)
}

// resolvePathWithAncestors resolves symlinks through the nearest existing
// ancestor, so paths that do not exist yet still resolve.
func resolvePathWithAncestors(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}

	current := path
	var missing []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		missing = append(missing, filepath.Base(current))
		if real, err := filepath.EvalSymlinks(parent); err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				real = filepath.Join(real, missing[i])
			}
			return real
		}
		current = parent
	}
}
