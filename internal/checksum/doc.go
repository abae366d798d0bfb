// Package checksum computes the content digests used for change detection
// and for the sha256sums entry of generated packages.
package checksum
