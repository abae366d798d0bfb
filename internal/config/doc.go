// Package config defines the settings of a publishing run and provides
// helpers to load, validate and save them in YAML format.
//
// A Config is constructed once at startup and passed explicitly to every
// component; there is no process-wide configuration state.
package config
