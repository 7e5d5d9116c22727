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

// Language is the extension-based classification of a source file.
//
// It only gates eligibility and picks a grammar for the syntax check; it
// has no effect on how edits are applied.
type Language string

const (
	LanguageRust       Language = "rust"
	LanguageC          Language = "c"
	LanguageCpp        Language = "cpp"
	LanguageJava       Language = "java"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
	LanguageGo         Language = "go"
	LanguageUnknown    Language = "unknown"
)

// SupportedLanguages lists every known language in display order.
var SupportedLanguages = []Language{
	LanguageRust,
	LanguageC,
	LanguageCpp,
	LanguageJava,
	LanguageJavaScript,
	LanguageTypeScript,
	LanguagePython,
	LanguageGo,
}

var languageExtensions = map[Language][]string{
	LanguageRust:       {"rs"},
	LanguageC:          {"c", "h"},
	LanguageCpp:        {"cpp", "cc", "cxx", "hpp", "hxx", "hh"},
	LanguageJava:       {"java"},
	LanguageJavaScript: {"js", "mjs", "cjs"},
	LanguageTypeScript: {"ts", "tsx"},
	LanguagePython:     {"py", "pyi"},
	LanguageGo:         {"go"},
}

var languageNames = map[Language]string{
	LanguageRust:       "Rust",
	LanguageC:          "C",
	LanguageCpp:        "C++",
	LanguageJava:       "Java",
	LanguageJavaScript: "JavaScript",
	LanguageTypeScript: "TypeScript",
	LanguagePython:     "Python",
	LanguageGo:         "Go",
}

var extensionIndex = func() map[string]Language {
	idx := make(map[string]Language)
	for lang, exts := range languageExtensions {
		for _, ext := range exts {
			idx[ext] = lang
		}
	}
	return idx
}()

// DetectLanguage classifies path by its extension. Matching is case-sensitive.
func DetectLanguage(path string) Language {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if lang, ok := extensionIndex[ext]; ok {
		return lang
	}
	return LanguageUnknown
}

// Extensions returns the extensions (without dot) of l.
func (l Language) Extensions() []string {
	return languageExtensions[l]
}

// Name returns the display name, e.g. "C++".
func (l Language) Name() string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return "Unknown"
}

// String implements fmt.Stringer with the display name.
func (l Language) String() string {
	return l.Name()
}

// IsSupported reports whether l is a known language.
func (l Language) IsSupported() bool {
	_, ok := languageExtensions[l]
	return ok
}

// ExtensionFilter joins l's extensions with ",".
func (l Language) ExtensionFilter() string {
	return strings.Join(l.Extensions(), ",")
}

// ExtensionFilter joins the extensions of every supported language with ",".
func ExtensionFilter() string {
	var all []string
	for _, lang := range SupportedLanguages {
		all = append(all, lang.Extensions()...)
	}
	return strings.Join(all, ",")
}
