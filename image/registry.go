// Package image implements the Image Registry (spec §4.1): parsing and
// resolving image manifests stored one per subdirectory of image_root.
// Grounded on the teacher's images/cloudimg/image.go registry shape and the
// original qemu_compose/image/__init__.py resolution algorithm.
package image

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/projecteru2/core/log"

	"github.com/zTrix/qemu-compose/qerr"
	"github.com/zTrix/qemu-compose/types"
	"github.com/zTrix/qemu-compose/utils"
)

// List enumerates every subdirectory of imageRoot, parsing manifest.json in
// each. Unparseable entries are skipped silently (spec §4.1).
func List(ctx context.Context, imageRoot string) []types.ImageManifest {
	var out []types.ImageManifest
	for _, id := range utils.ScanSubdirs(imageRoot) {
		m, err := LoadByID(imageRoot, id)
		if err != nil {
			log.WithFunc("image.List").Debugf(ctx, "skip %s: %v", id, err)
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadByID loads the manifest at "<imageRoot>/<id>/manifest.json".
func LoadByID(imageRoot, id string) (types.ImageManifest, error) {
	dir := filepath.Join(imageRoot, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return types.ImageManifest{}, fmt.Errorf("image directory %s: %w", dir, os.ErrNotExist)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json")) //nolint:gosec
	if err != nil {
		return types.ImageManifest{}, fmt.Errorf("read manifest for %s: %w", id, err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return types.ImageManifest{}, fmt.Errorf("parse manifest for %s: %w", id, err)
	}
	m := types.DecodeManifest(obj)
	if m.ID == "" {
		m.ID = id
	}
	return m, nil
}

// LoadByName finds the first manifest (in directory-iteration order) whose
// repo_tags contains name; a bare name matches tag "latest".
func LoadByName(imageRoot, name string) (types.ImageManifest, bool) {
	for _, id := range utils.ScanSubdirs(imageRoot) {
		m, err := LoadByID(imageRoot, id)
		if err != nil {
			continue
		}
		if m.HasRepoTag(name) {
			return m, true
		}
	}
	return types.ImageManifest{}, false
}

// ResolveByPrefix tries an exact id match, then a unique id-prefix match.
// Returns the resolved id (empty if none/ambiguous) and the candidate ids.
func ResolveByPrefix(imageRoot, token string) (string, []string) {
	ids := utils.ScanSubdirs(imageRoot)
	for _, id := range ids {
		if id == token {
			return id, []string{id}
		}
	}
	var matches []string
	for _, id := range ids {
		if len(id) >= len(token) && id[:len(token)] == token {
			matches = append(matches, id)
		}
	}
	if len(matches) == 1 {
		return matches[0], matches
	}
	return "", matches
}

// Resolve implements spec §4.1's three-step resolution: exact name, then
// exact id, then unique id-prefix. Ambiguity (≥2 ids share the prefix, no
// name match) surfaces as a *qerr.Error.
func Resolve(imageRoot, token string) (types.ImageManifest, error) {
	if m, ok := LoadByName(imageRoot, token); ok {
		return m, nil
	}
	id, candidates := ResolveByPrefix(imageRoot, token)
	if id == "" {
		if len(candidates) == 0 {
			return types.ImageManifest{}, qerr.ImageNotFound(token)
		}
		return types.ImageManifest{}, qerr.Ambiguous("image", token, candidates)
	}
	return LoadByID(imageRoot, id)
}

// ShortDigestHash uses go-containerregistry's v1.Hash to parse the
// "algo:hex" digest shape and derive the short id; falls back to
// types.ShortDigest's plain string-split behavior if the digest doesn't
// parse as a v1.Hash (e.g. a bare hex string with no algorithm tag).
func ShortDigestHash(digest string) string {
	h, err := v1.NewHash(digest)
	if err != nil {
		return types.ShortDigest(digest)
	}
	hex := h.Hex
	if len(hex) > 12 {
		return hex[:12]
	}
	return hex
}
