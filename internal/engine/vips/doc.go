// Package vips holds the libvips-backed engine. It is compiled only with the govips build
// tag and cgo enabled; see internal/engine/native for how it is selected.
package vips
