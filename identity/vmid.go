// Package identity implements the Identity Allocator (spec §4.2): vmid
// generation, guest-CID reservation over the host vsock device, hostname
// derivation, and unique-name assertion. Grounded on the original
// qemu_compose/instance/__init__.py and utils/{vsock,hostnames}.py.
package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zTrix/qemu-compose/qerr"
)

// vmidAlphabet excludes visually ambiguous characters (0/O, 1/l/I) per
// spec §4.2.
const vmidAlphabet = "23456789abcdefghjkmnpqrstuvwxyzABCDEFGHJKMNPQRSTUVWXYZ"

const vmidLength = 12

// NewVMID draws a vmidLength-character string uniformly from vmidAlphabet,
// rejecting and redrawing if "<instanceRoot>/<vmid>" already exists.
func NewVMID(instanceRoot string) (string, error) {
	alphabetLen := big.NewInt(int64(len(vmidAlphabet)))
	for {
		var b strings.Builder
		b.Grow(vmidLength)
		for range vmidLength {
			n, err := rand.Int(rand.Reader, alphabetLen)
			if err != nil {
				return "", fmt.Errorf("generate vmid: %w", err)
			}
			b.WriteByte(vmidAlphabet[n.Int64()])
		}
		vmid := b.String()
		if _, err := os.Stat(filepath.Join(instanceRoot, vmid)); os.IsNotExist(err) {
			return vmid, nil
		}
	}
}

var hostnameInvalid = regexp.MustCompile(`[^a-z0-9-]+`)
var hostnameDashes = regexp.MustCompile(`-+`)

// ToHostname translates an arbitrary VM name into a valid Linux hostname
// label (spec §4.2): lowercase, collapse non-[a-z0-9-] runs to '-', trim
// leading/trailing '-', truncate to 63 chars, empty result becomes "vm".
// Idempotent: ToHostname(ToHostname(s)) == ToHostname(s).
func ToHostname(name string) string {
	s := strings.ToLower(name)
	s = hostnameInvalid.ReplaceAllString(s, "-")
	s = hostnameDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 63 {
		s = strings.TrimRight(s[:63], "-")
	}
	if s == "" {
		s = "vm"
	}
	return s
}

// NameGenerator produces a human-friendly unique name when the caller did
// not request one explicitly. Random adjective+noun generation is an
// out-of-scope external collaborator per spec §1; callers in cmd/ supply a
// real implementation, engine code only depends on this interface.
type NameGenerator interface {
	Generate(existing map[string]struct{}) string
}

// AssertUniqueName builds the name→vmid index from every
// "<instanceRoot>/*/name" file and either validates the caller's requested
// name is free, or (if none was requested) asks gen for one (spec §4.2).
func AssertUniqueName(instanceRoot, requested string, gen NameGenerator) (string, error) {
	existing, owners, err := existingNames(instanceRoot)
	if err != nil {
		return "", err
	}
	if requested != "" {
		if owner, taken := owners[requested]; taken {
			return "", qerr.NameInUse(requested, owner)
		}
		return requested, nil
	}
	if gen == nil {
		return "", fmt.Errorf("no name requested and no name generator configured")
	}
	return gen.Generate(existing), nil
}

func existingNames(instanceRoot string) (map[string]struct{}, map[string]string, error) {
	existing := map[string]struct{}{}
	owners := map[string]string{}
	entries, err := os.ReadDir(instanceRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return existing, owners, nil
		}
		return nil, nil, fmt.Errorf("list instance root %s: %w", instanceRoot, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(instanceRoot, e.Name(), "name"))
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(raw))
		if name == "" {
			continue
		}
		existing[name] = struct{}{}
		owners[name] = e.Name()
	}
	return existing, owners, nil
}
