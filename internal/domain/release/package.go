package release

// PublishedState is what the package repository currently advertises.
type PublishedState struct {
	// Version is the pkgver of the published manifest.
	Version string
	// Digest is the checksum the manifest pins for its source.
	Digest string
	// SourceURL is the download URL the manifest points at.
	SourceURL string
}

// IsStale reports whether a package pinned to digest must be republished.
// A missing state (first publish) is always stale.
func (p *PublishedState) IsStale(digest string) bool {
	return p == nil || p.Digest != digest
}

// Artifact is a freshly rendered manifest together with its derived metadata.
type Artifact struct {
	// Manifest is the package build definition (PKGBUILD).
	Manifest []byte
	// Metadata is the machine-readable projection of Manifest (.SRCINFO).
	Metadata []byte
}

// File is a file written to the root of the working copy.
type File struct {
	// Name is relative to the working copy root.
	Name string
	// Data is the full file content.
	Data []byte
}
