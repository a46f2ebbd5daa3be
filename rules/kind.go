// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package rules

//go:generate go tool stringer -type=Kind -linecomment -output=kind_string.go

// Kind is the variant tag of a [Rule].
// The set of kinds is closed:
// every operation on a rule switches over its kind.
// A kind's String method returns the name used to declare it in BUILD files.
type Kind int

// Rule kinds.
const (
	Noop           Kind = iota // noop
	ErlangLibrary              // erlang_library
	ElixirLibrary              // elixir_library
	GleamLibrary               // gleam_library
	ClojerlLibrary             // clojerl_library
	CaramelLibrary             // caramel_library
	ErlangShell                // erlang_shell
)

type kindInfo struct {
	toolchain string
	tool      string
	ext       string
	library   bool
	runnable  bool
	global    bool
}

var kinds = [...]kindInfo{
	Noop: {},
	ErlangLibrary: {
		toolchain: "erlang",
		tool:      "erlc",
		ext:       ".erl",
		library:   true,
	},
	ElixirLibrary: {
		toolchain: "elixir",
		tool:      "elixirc",
		ext:       ".ex",
		library:   true,
	},
	GleamLibrary: {
		toolchain: "gleam",
		tool:      "gleam",
		ext:       ".gleam",
		library:   true,
	},
	ClojerlLibrary: {
		toolchain: "clojerl",
		tool:      "clojerl",
		ext:       ".clje",
		library:   true,
	},
	CaramelLibrary: {
		toolchain: "caramel",
		tool:      "caramel",
		ext:       ".ml",
		library:   true,
	},
	ErlangShell: {
		toolchain: "erlang",
		tool:      "erl",
		runnable:  true,
		global:    true,
	},
}

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	return 0 <= k && int(k) < len(kinds)
}

// IsLibrary reports whether k is a per-language library kind.
func (k Kind) IsLibrary() bool {
	return k.IsValid() && kinds[k].library
}

// Toolchain returns the name of the toolchain
// that rules of kind k need to build or run,
// or the empty string if the kind needs none.
func (k Kind) Toolchain() string {
	if !k.IsValid() {
		return ""
	}
	return kinds[k].toolchain
}

// SourceExtension returns the file extension of sources for library kinds.
func (k Kind) SourceExtension() string {
	if !k.IsValid() {
		return ""
	}
	return kinds[k].ext
}

// DefaultSources returns the glob used for a library's sources
// when its declaration does not list any.
func (k Kind) DefaultSources() []string {
	if !k.IsLibrary() {
		return nil
	}
	return []string{"*" + kinds[k].ext}
}
