package pkgbuild

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/oshokin/aur-wayback-updater/internal/domain/release"
)

// ErrManifestParse is returned when a present manifest cannot be understood.
var ErrManifestParse = errors.New("malformed package manifest")

// variables holds the top-level assignments of a manifest.
type variables struct {
	scalars map[string]string
	arrays  map[string][]string
}

// Parse reads the published state out of a PKGBUILD.
//
// The manifest is parsed as a shell program and only its top-level
// assignments are evaluated, in order, so references such as ${pkgver}
// resolve the way makepkg resolves them. Nothing is executed: command
// substitutions are rejected.
func Parse(r io.Reader) (*release.PublishedState, error) {
	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(r, ManifestFilename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestParse, err)
	}

	vars, err := collectAssignments(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestParse, err)
	}

	version := vars.scalars["pkgver"]
	if version == "" {
		return nil, fmt.Errorf("%w: pkgver is not set", ErrManifestParse)
	}

	sums := vars.arrays["sha256sums"]
	if len(sums) == 0 {
		return nil, fmt.Errorf("%w: sha256sums is not set", ErrManifestParse)
	}

	sources := vars.arrays["source"]
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: source is not set", ErrManifestParse)
	}

	return &release.PublishedState{
		Version:   version,
		Digest:    strings.ToLower(strings.TrimSpace(sums[0])),
		SourceURL: sourceLocation(sources[0]),
	}, nil
}

// collectAssignments evaluates plain "name=value" and "name=(...)" statements.
func collectAssignments(file *syntax.File) (*variables, error) {
	vars := &variables{
		scalars: make(map[string]string),
		arrays:  make(map[string][]string),
	}

	for _, stmt := range file.Stmts {
		call, ok := stmt.Cmd.(*syntax.CallExpr)
		if !ok || len(call.Args) > 0 {
			continue
		}

		for _, assign := range call.Assigns {
			if err := vars.apply(assign); err != nil {
				return nil, err
			}
		}
	}

	return vars, nil
}

func (v *variables) apply(assign *syntax.Assign) error {
	if assign.Name == nil {
		return nil
	}

	name := assign.Name.Value
	cfg := v.config()

	if assign.Array != nil {
		values := make([]string, 0, len(assign.Array.Elems))

		for _, elem := range assign.Array.Elems {
			if elem.Value == nil {
				continue
			}

			value, err := expand.Literal(cfg, elem.Value)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			values = append(values, value)
		}

		if assign.Append {
			values = append(v.arrays[name], values...)
		}

		v.arrays[name] = values

		return nil
	}

	var value string

	if assign.Value != nil {
		var err error

		value, err = expand.Literal(cfg, assign.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if assign.Append {
		value = v.scalars[name] + value
	}

	v.scalars[name] = value

	return nil
}

// config exposes the scalars assigned so far to word expansion.
func (v *variables) config() *expand.Config {
	pairs := make([]string, 0, len(v.scalars))
	for name, value := range v.scalars {
		pairs = append(pairs, name+"="+value)
	}

	return &expand.Config{Env: expand.ListEnviron(pairs...)}
}

// sourceLocation strips the optional "local-name::" prefix of a source entry.
func sourceLocation(entry string) string {
	if _, location, found := strings.Cut(entry, "::"); found {
		return location
	}

	return entry
}
