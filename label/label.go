// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package label provides the [Label] type,
// the canonical address of a buildable target.
//
// The canonical text form of a label is
//
//	//path/to/package:name
//
// where the package path is relative to the workspace root.
// The name may be omitted if it equals the last package path component
// (//lib/json is shorthand for //lib/json:json).
// The distinguished label //... refers to every target in the workspace.
package label

import (
	"fmt"
	"path"
	"strings"
)

// Wildcard is the text form of the label that matches every target.
const Wildcard = "//..."

// Label is a parsed target identifier.
// Labels are comparable and the zero value is the empty label.
// A label is either absolute (anchored at the workspace root)
// or relative to the package it was written in.
type Label struct {
	pkg      string
	name     string
	relative bool
	all      bool
}

// All returns the wildcard label.
func All() Label {
	return Label{all: true}
}

// New returns the absolute label for the target name in the given package,
// validating both parts.
func New(pkg, name string) (Label, error) {
	pkg = strings.TrimPrefix(pkg, "//")
	if err := validatePackage(pkg); err != nil {
		return Label{}, &MalformedError{Text: "//" + pkg + ":" + name, Reason: err.Error()}
	}
	if err := validateName(name); err != nil {
		return Label{}, &MalformedError{Text: "//" + pkg + ":" + name, Reason: err.Error()}
	}
	return Label{pkg: pkg, name: name}, nil
}

// Parse parses a label from its text form.
// Parse accepts absolute labels (//pkg, //pkg:name, //:name),
// the wildcard //..., and relative labels (:name, pkg:name, name)
// that must be anchored with [Label.Canonicalize] before use.
func Parse(s string) (Label, error) {
	if s == Wildcard {
		return All(), nil
	}
	if s == "" {
		return Label{}, &MalformedError{Text: s, Reason: "empty"}
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return Label{}, &MalformedError{Text: s, Reason: "contains whitespace"}
	}

	rest, absolute := strings.CutPrefix(s, "//")
	pkg, name, hasName := strings.Cut(rest, ":")
	if hasName && strings.Contains(name, ":") {
		return Label{}, &MalformedError{Text: s, Reason: "more than one ':'"}
	}
	if !absolute && !hasName {
		// A bare word is a target in the current package.
		pkg, name = "", rest
	}
	if strings.HasPrefix(pkg, "/") {
		return Label{}, &MalformedError{Text: s, Reason: "package path must not start with '/' after '//'"}
	}
	if err := validatePackage(pkg); err != nil {
		return Label{}, &MalformedError{Text: s, Reason: err.Error()}
	}
	if !hasName && absolute {
		if pkg == "" {
			return Label{}, &MalformedError{Text: s, Reason: "missing target name"}
		}
		name = path.Base(pkg)
	}
	if err := validateName(name); err != nil {
		return Label{}, &MalformedError{Text: s, Reason: err.Error()}
	}
	return Label{pkg: pkg, name: name, relative: !absolute}, nil
}

// MustParse is like [Parse] but panics if the text is malformed.
func MustParse(s string) Label {
	l, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return l
}

// Canonicalize returns the absolute form of l,
// resolving relative labels against the package path base.
// Absolute labels (including the wildcard) are returned unchanged.
// base may be written with or without a leading "//".
func (l Label) Canonicalize(base string) Label {
	if !l.relative {
		return l
	}
	base = strings.Trim(strings.TrimPrefix(base, "//"), "/")
	pkg := l.pkg
	switch {
	case base == "":
	case pkg == "":
		pkg = base
	default:
		pkg = base + "/" + pkg
	}
	return Label{pkg: path.Clean("/" + pkg)[1:], name: l.name}
}

// IsAll reports whether l is the wildcard label.
func (l Label) IsAll() bool {
	return l.all
}

// IsZero reports whether l is the empty label.
func (l Label) IsZero() bool {
	return l == Label{}
}

// IsAbsolute reports whether l is anchored at the workspace root.
func (l Label) IsAbsolute() bool {
	return !l.relative && !l.IsZero()
}

// Package returns the label's package path without the leading "//".
func (l Label) Package() string {
	return l.pkg
}

// Name returns the label's target name.
func (l Label) Name() string {
	return l.name
}

// String returns the canonical text form of the label.
func (l Label) String() string {
	switch {
	case l.all:
		return Wildcard
	case l.IsZero():
		return ""
	case l.relative && l.pkg == "":
		return ":" + l.name
	case l.relative:
		return l.pkg + ":" + l.name
	default:
		return "//" + l.pkg + ":" + l.name
	}
}

// MarshalText returns the canonical text form of the label.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a label from its text form.
func (l *Label) UnmarshalText(data []byte) error {
	var err error
	*l, err = Parse(string(data))
	return err
}

// Compare returns -1, 0, or 1 depending on whether a sorts before, equal to,
// or after b when compared by text form.
func Compare(a, b Label) int {
	return strings.Compare(a.String(), b.String())
}

func validatePackage(pkg string) error {
	if pkg == "" {
		return nil
	}
	if strings.HasSuffix(pkg, "/") {
		return fmt.Errorf("package path %q ends with '/'", pkg)
	}
	for part := range strings.SplitSeq(pkg, "/") {
		switch part {
		case "":
			return fmt.Errorf("package path %q has an empty component", pkg)
		case ".", "..":
			return fmt.Errorf("package path %q contains %q", pkg, part)
		}
		for _, c := range part {
			if !isPackageChar(c) {
				return fmt.Errorf("package path %q contains %q", pkg, c)
			}
		}
	}
	return nil
}

func validateName(name string) error {
	switch name {
	case "":
		return fmt.Errorf("missing target name")
	case ".", "..", "...":
		return fmt.Errorf("invalid target name %q", name)
	}
	for _, c := range name {
		if !isPackageChar(c) && !strings.ContainsRune("=,@~", c) {
			return fmt.Errorf("target name %q contains %q", name, c)
		}
	}
	return nil
}

func isPackageChar(c rune) bool {
	return 'a' <= c && c <= 'z' ||
		'A' <= c && c <= 'Z' ||
		'0' <= c && c <= '9' ||
		c == '_' || c == '-' || c == '.' || c == '+'
}

// MalformedError is returned by [Parse] and [New]
// for text that is not a valid label.
type MalformedError struct {
	Text   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed label %q: %s", e.Text, e.Reason)
}
