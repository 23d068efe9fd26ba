// Package csp builds Content-Security-Policy directive strings for sandboxed
// execution documents. Policies are deny-by-default: every fetch directive
// starts at 'none' and sources are added only where the caller allows them.
package csp

import (
	"sort"
	"strings"
)

// Builder assembles a CSP directive string one directive at a time.
type Builder struct {
	directives map[string][]string
	order      []string
}

// NewBuilder returns a builder with the restrictive baseline: all fetch
// directives denied and plugins/frames blocked.
func NewBuilder() *Builder {
	b := &Builder{directives: make(map[string][]string)}
	for _, d := range []string{
		"default-src", "script-src", "style-src", "img-src",
		"connect-src", "frame-src", "object-src",
	} {
		b.set(d, "'none'")
	}
	return b
}

func (b *Builder) set(directive string, sources ...string) {
	if _, ok := b.directives[directive]; !ok {
		b.order = append(b.order, directive)
	}
	b.directives[directive] = sources
}

// Allow replaces the sources for a directive.
func (b *Builder) Allow(directive string, sources ...string) *Builder {
	b.set(directive, sources...)
	return b
}

// AllowInlineStyles permits inline style attributes and <style> blocks.
func (b *Builder) AllowInlineStyles() *Builder {
	return b.Allow("style-src", "'unsafe-inline'")
}

// AllowInlineScripts permits inline <script> blocks and eval. Only the
// script-family languages get this; everything else keeps 'none'.
func (b *Builder) AllowInlineScripts() *Builder {
	return b.Allow("script-src", "'unsafe-inline'", "'unsafe-eval'")
}

// AllowDataImages permits data: URI images (rendered plots, embedded figures).
func (b *Builder) AllowDataImages() *Builder {
	return b.Allow("img-src", "data:", "blob:")
}

// Deny resets a directive back to 'none'.
func (b *Builder) Deny(directive string) *Builder {
	return b.Allow(directive, "'none'")
}

// Build serializes the directives into a single policy string. Output order
// is deterministic: insertion order for the baseline, sorted for extras.
func (b *Builder) Build() string {
	known := b.order
	var extras []string
	for d := range b.directives {
		found := false
		for _, k := range known {
			if k == d {
				found = true
				break
			}
		}
		if !found {
			extras = append(extras, d)
		}
	}
	sort.Strings(extras)

	parts := make([]string, 0, len(b.directives))
	for _, d := range append(append([]string{}, known...), extras...) {
		parts = append(parts, d+" "+strings.Join(b.directives[d], " "))
	}
	return strings.Join(parts, "; ")
}
