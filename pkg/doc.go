// Package pkg holds the reusable libraries behind tikzserve.
//
// # Overview
//
// tikzserve turns TikZ and TeX snippets into PNG or SVG images. Both the
// batch compiler and the HTTP service share the same render path:
//
//	render.Request
//	     ↓
//	[pipeline] normalize, validate, hash
//	     ↓
//	[cache] content-addressed file store, one compute per key
//	     ↓ (miss)
//	[render] TeX toolchain in a temp dir, bounded by a timeout
//
// Supporting packages:
//
//   - [errors]: coded errors carrying toolchain diagnostics
//   - [observability]: render, cache and HTTP hooks (metrics)
//   - [buildinfo]: version information set at build time
//
// The cache is kept bounded by a [cache.Evictor], which removes entries not
// used within the clean expiry (and, with a size budget, the oldest expired
// entries first).
package pkg
