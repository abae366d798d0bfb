// Package pkgbuild renders and reads AUR package manifests.
//
// Render turns a Package into a PKGBUILD and its .SRCINFO, deterministically,
// so republishing an unchanged snapshot produces no diff. Parse reads the
// published version, digest and source back out of an existing PKGBUILD
// without executing it.
package pkgbuild
