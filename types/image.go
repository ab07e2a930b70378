// Package types holds the data model shared across the instance lifecycle
// engine: image manifests and the runtime configuration document.
package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DiskSpec describes one disk image file inside an image directory.
type DiskSpec struct {
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Opts     string `json:"opts"`
}

// DiskSpecFromArray decodes the [filename, format?, opts?] wire shape.
func DiskSpecFromArray(a []any) (DiskSpec, bool) {
	if len(a) == 0 {
		return DiskSpec{}, false
	}
	filename, ok := a[0].(string)
	if !ok || filename == "" {
		return DiskSpec{}, false
	}
	ds := DiskSpec{Filename: filename, Format: "qcow2"}
	if len(a) > 1 {
		if f, ok := a[1].(string); ok && f != "" {
			ds.Format = f
		}
	}
	if len(a) > 2 {
		if o, ok := a[2].(string); ok {
			ds.Opts = o
		}
	}
	return ds, true
}

// ToArray encodes back to the [filename, format, opts] wire shape.
func (d DiskSpec) ToArray() []any {
	return []any{d.Filename, d.Format, d.Opts}
}

// RepoTag is a repo:tag pair identifying an image for humans.
type RepoTag struct {
	Repo string
	Tag  string
}

// ParseRepoTag parses "repo[:tag]", defaulting tag to "latest".
func ParseRepoTag(s string) RepoTag {
	if repo, tag, ok := strings.Cut(s, ":"); ok {
		return RepoTag{Repo: repo, Tag: tag}
	}
	return RepoTag{Repo: s, Tag: "latest"}
}

// String formats as "repo:tag".
func (rt RepoTag) String() string {
	return rt.Repo + ":" + rt.Tag
}

// MatchName reports whether name (bare or repo:tag) identifies rt.
func (rt RepoTag) MatchName(name string) bool {
	if repo, tag, ok := strings.Cut(name, ":"); ok {
		return rt.Repo == repo && rt.Tag == tag
	}
	return rt.Repo == name && rt.Tag == "latest"
}

// ImageManifest is the read-only record associated with one image directory.
type ImageManifest struct {
	ID           string    `json:"id"`
	Architecture string    `json:"architecture"`
	OS           string    `json:"os"`
	Created      time.Time `json:"created"`
	RepoTags     []RepoTag `json:"repo_tags"`
	Disks        []DiskSpec `json:"disks"`
	QemuArgs     []string  `json:"qemu_args"`
	Digest       string    `json:"digest"`
	Comment      string    `json:"comment"`
}

// HasRepoTag reports whether any repo tag in m matches name.
func (m ImageManifest) HasRepoTag(name string) bool {
	for _, rt := range m.RepoTags {
		if rt.MatchName(name) {
			return true
		}
	}
	return false
}

// ShortDigest returns the first twelve hex characters after an "algo:" tag,
// or the first twelve characters of digest itself if untagged.
// Returns "<none>" if digest is empty.
func ShortDigest(digest string) string {
	if digest == "" {
		return "<none>"
	}
	hex := digest
	if _, h, ok := strings.Cut(digest, ":"); ok {
		hex = h
	}
	if len(hex) > 12 {
		return hex[:12]
	}
	return hex
}

// manifestWire is the on-disk JSON shape: repo_tags/disks are loosely typed
// arrays/strings so defensive parsing (per spec §4.1) can skip bad entries
// instead of failing the whole manifest.
type manifestWire struct {
	ID           any   `json:"id"`
	Architecture any   `json:"architecture"`
	OS           any   `json:"os"`
	Created      any   `json:"created"`
	RepoTags     []any `json:"repo_tags"`
	Disks        []any `json:"disks"`
	QemuArgs     []any `json:"qemu_args"`
	Digest       any   `json:"digest"`
	Comment      any   `json:"comment"`
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

// ParseCreated parses a `created` value that may be an RFC-3339 string
// (trailing Z permitted) or an epoch-seconds number. Missing/unparseable
// values yield the Unix epoch, matching the original's defensive default.
func ParseCreated(v any) time.Time {
	switch t := v.(type) {
	case string:
		if t == "" {
			return time.Unix(0, 0).UTC()
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts
		}
		if ts, err := time.Parse("2006-01-02T15:04:05Z0700", t); err == nil {
			return ts
		}
		return time.Unix(0, 0).UTC()
	case float64:
		return time.Unix(int64(t), 0).UTC()
	default:
		return time.Unix(0, 0).UTC()
	}
}

// DecodeManifest decodes a manifest.json payload, ignoring unknown fields
// and skipping malformed entries rather than failing the whole parse.
func DecodeManifest(raw map[string]any) ImageManifest {
	var w manifestWire
	for k, v := range raw {
		switch k {
		case "id":
			w.ID = v
		case "architecture":
			w.Architecture = v
		case "os":
			w.OS = v
		case "created":
			w.Created = v
		case "repo_tags":
			if a, ok := v.([]any); ok {
				w.RepoTags = a
			}
		case "disks":
			if a, ok := v.([]any); ok {
				w.Disks = a
			}
		case "qemu_args":
			if a, ok := v.([]any); ok {
				w.QemuArgs = a
			}
		case "digest":
			w.Digest = v
		case "comment":
			w.Comment = v
		}
	}

	m := ImageManifest{
		ID:           asString(w.ID),
		Architecture: asString(w.Architecture),
		OS:           asString(w.OS),
		Created:      ParseCreated(w.Created),
		Digest:       asString(w.Digest),
		Comment:      asString(w.Comment),
	}

	for _, rt := range w.RepoTags {
		if s, ok := rt.(string); ok {
			m.RepoTags = append(m.RepoTags, ParseRepoTag(s))
		}
	}
	for _, d := range w.Disks {
		if arr, ok := d.([]any); ok {
			if ds, ok := DiskSpecFromArray(arr); ok {
				m.Disks = append(m.Disks, ds)
			}
		}
	}
	for _, a := range w.QemuArgs {
		switch t := a.(type) {
		case string:
			m.QemuArgs = append(m.QemuArgs, t)
		case float64:
			m.QemuArgs = append(m.QemuArgs, strconv.FormatFloat(t, 'f', -1, 64))
		}
	}
	return m
}

// EncodeManifest produces the wire JSON shape for serialization round-trips.
func EncodeManifest(m ImageManifest) map[string]any {
	repoTags := make([]string, 0, len(m.RepoTags))
	for _, rt := range m.RepoTags {
		repoTags = append(repoTags, rt.String())
	}
	disks := make([][]any, 0, len(m.Disks))
	for _, d := range m.Disks {
		disks = append(disks, d.ToArray())
	}
	out := map[string]any{
		"id":           m.ID,
		"architecture": m.Architecture,
		"os":           m.OS,
		"created":      m.Created.Format(time.RFC3339),
		"repo_tags":    repoTags,
		"disks":        disks,
		"qemu_args":    m.QemuArgs,
		"digest":       m.Digest,
	}
	if m.Comment != "" {
		out["comment"] = m.Comment
	}
	return out
}

// Validate checks the invariants spec §3 states for a bootable manifest.
func (m ImageManifest) Validate() error {
	if len(m.Disks) == 0 {
		return fmt.Errorf("image %s: manifest has no disks", m.ID)
	}
	seen := make(map[RepoTag]struct{}, len(m.RepoTags))
	for _, rt := range m.RepoTags {
		if _, dup := seen[rt]; dup {
			return fmt.Errorf("image %s: duplicate repo_tag %s", m.ID, rt)
		}
		seen[rt] = struct{}{}
	}
	return nil
}
