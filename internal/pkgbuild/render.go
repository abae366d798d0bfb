package pkgbuild

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/oshokin/aur-wayback-updater/internal/config"
	"github.com/oshokin/aur-wayback-updater/internal/domain/release"
)

const (
	// ManifestFilename is the package build definition.
	ManifestFilename = "PKGBUILD"
	// MetadataFilename is the metadata the AUR reads instead of executing the manifest.
	MetadataFilename = ".SRCINFO"

	// defaultArch marks architecture-independent data packages.
	defaultArch = "any"
)

// errInvalidPackage is returned when a Package cannot be rendered.
var errInvalidPackage = errors.New("invalid package")

// Package is everything the manifest and its metadata are rendered from.
type Package struct {
	// Name is pkgname and pkgbase.
	Name string
	// Description is pkgdesc.
	Description string
	// Homepage is the url field.
	Homepage string
	// Maintainer goes to the header comment.
	Maintainer string
	// Arch defaults to "any".
	Arch []string
	// License is optional.
	License []string
	// Depends lists runtime dependencies.
	Depends []string
	// Version is pkgver, the 14-digit snapshot timestamp.
	Version string
	// SourceURL is the archive URL, the only download source.
	SourceURL string
	// Digest is the sha256 of the downloaded source.
	Digest string
	// InstallSource is the file from srcdir installed by package().
	InstallSource string
	// InstallPath is the destination below pkgdir.
	InstallPath string
}

// NewPackage describes the configured package at the given snapshot.
func NewPackage(cfg *config.Config, version, archivedURL, digest string) *Package {
	return &Package{
		Name:          cfg.PackageName,
		Description:   cfg.PackageDescription,
		Homepage:      cfg.Homepage,
		Maintainer:    cfg.Maintainer,
		Depends:       append([]string(nil), cfg.Depends...),
		Version:       version,
		SourceURL:     archivedURL,
		Digest:        digest,
		InstallSource: cfg.InstallSource,
		InstallPath:   cfg.InstallPath,
	}
}

// Render produces the manifest and its metadata. Equal packages always
// render to byte-identical output.
func Render(pkg *Package) (*release.Artifact, error) {
	if err := pkg.validate(); err != nil {
		return nil, err
	}

	view := pkg.view()

	var manifest, metadata bytes.Buffer

	if err := manifestTemplate.Execute(&manifest, view); err != nil {
		return nil, fmt.Errorf("render %s: %w", ManifestFilename, err)
	}

	if err := metadataTemplate.Execute(&metadata, view); err != nil {
		return nil, fmt.Errorf("render %s: %w", MetadataFilename, err)
	}

	return &release.Artifact{
		Manifest: manifest.Bytes(),
		Metadata: metadata.Bytes(),
	}, nil
}

// Files lays the artifact out as working-copy files. Both are always
// returned together so they cannot drift apart.
func Files(artifact *release.Artifact) []release.File {
	return []release.File{
		{Name: ManifestFilename, Data: artifact.Manifest},
		{Name: MetadataFilename, Data: artifact.Metadata},
	}
}

// SourceFileName is the versioned local name of the downloaded source,
// e.g. keydb_eng-20250707095314.zip for .../export/keydb_eng.zip.
func SourceFileName(sourceURL, version string) string {
	base := path.Base(stripQuery(sourceURL))

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	if stem == "" || stem == "." || stem == "/" {
		stem = "source"
	}

	return stem + "-" + version + ext
}

func (p *Package) validate() error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: nil package", errInvalidPackage)
	case p.Name == "":
		return fmt.Errorf("%w: empty name", errInvalidPackage)
	case !isValidVersion(p.Version):
		return fmt.Errorf("%w: version %q", errInvalidPackage, p.Version)
	case p.SourceURL == "":
		return fmt.Errorf("%w: empty source url", errInvalidPackage)
	case p.Digest == "":
		return fmt.Errorf("%w: empty digest", errInvalidPackage)
	}

	return nil
}

// isValidVersion applies the pkgver character rules.
func isValidVersion(version string) bool {
	if version == "" {
		return false
	}

	return !strings.ContainsAny(version, "-:/ \t\n")
}

// view is the template input with every derived field resolved.
type view struct {
	*Package

	Arch          []string
	Release       int
	FileName      string
	FileTemplate  string
	InstallSource string
	InstallPath   string
}

func (p *Package) view() *view {
	arch := p.Arch
	if len(arch) == 0 {
		arch = []string{defaultArch}
	}

	fileName := SourceFileName(p.SourceURL, p.Version)

	installSource := p.InstallSource
	if installSource == "" {
		installSource = fileName
	}

	installPath := strings.TrimLeft(p.InstallPath, "/")
	if installPath == "" {
		installPath = path.Join("usr/share", p.Name, path.Base(installSource))
	}

	return &view{
		Package:       p,
		Arch:          arch,
		Release:       1,
		FileName:      fileName,
		FileTemplate:  fileTemplate(p.SourceURL),
		InstallSource: installSource,
		InstallPath:   installPath,
	}
}

// fileTemplate is SourceFileName with the version left to the shell as ${pkgver},
// escaped for use inside double quotes.
func fileTemplate(sourceURL string) string {
	const marker = "\x00"

	name := SourceFileName(sourceURL, marker)
	prefix, suffix, _ := strings.Cut(name, marker)

	return escapeDoubleQuoted(prefix) + "${pkgver}" + escapeDoubleQuoted(suffix)
}

func stripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}

	return raw
}
