// Package aur manages the local working copy of an AUR package repository.
//
// The Manager brings the working copy to the exact state of the remote
// branch, reads the currently published manifest and commits and pushes
// regenerated files. Git is spoken through go-git; SSH remotes authenticate
// with the configured private key. All filesystem changes stay inside the
// configured working directory.
package aur
