// Package discovery enumerates candidate constructs across the four source
// tiers and groups them by logical name. It never deduplicates; resolving
// same-name candidates is the resolver's job.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// SourceTier is the trust origin of a construct's files. It is distinct
// from the license tier: SourceTier is where a construct came from, the
// license tier is what license class it holds.
type SourceTier string

const (
	SourceLocal    SourceTier = "local"
	SourceOverride SourceTier = "override"
	SourceRegistry SourceTier = "registry"
	SourcePack     SourceTier = "pack"
)

// TierOrder is the fixed loading priority, highest trust first. The tier
// set is closed; there is no plugin mechanism for new tiers.
var TierOrder = []SourceTier{SourceLocal, SourceOverride, SourceRegistry, SourcePack}

// Priority returns the tier's position in the loading order; lower wins.
func (s SourceTier) Priority() int {
	for i, t := range TierOrder {
		if s == t {
			return i
		}
	}
	return len(TierOrder)
}

// Trusted reports whether constructs from this tier are trusted by
// construction and exempt from license validation.
func (s SourceTier) Trusted() bool {
	return s == SourceLocal || s == SourceOverride
}

// manifestName is the per-construct manifest file.
const manifestName = "construct.yml"

// defaultTokenFile is read when the manifest names no license file.
const defaultTokenFile = "license.jwt"

// Component is a discovered construct candidate. LicenseToken is the raw
// signed token and is populated only for registry- and pack-sourced
// candidates; local and override candidates never carry one, even when a
// token file sits next to them on disk.
type Component struct {
	LogicalName  string     `json:"logical_name"`
	Source       SourceTier `json:"source"`
	Path         string     `json:"path"`
	LicenseToken string     `json:"-"`
}

// manifest is the construct.yml schema.
type manifest struct {
	Name    string `yaml:"name"`
	License string `yaml:"license,omitempty"`
}

// Roots holds the four fixed source root directories. Empty or missing
// roots are skipped.
type Roots struct {
	Local    string
	Override string
	Registry string
	Pack     string
}

// dir returns the root directory for a tier.
func (r Roots) dir(tier SourceTier) string {
	switch tier {
	case SourceLocal:
		return r.Local
	case SourceOverride:
		return r.Override
	case SourceRegistry:
		return r.Registry
	default:
		return r.Pack
	}
}

// Discoverer enumerates constructs fresh on every call. Results are never
// cached across invocations; re-discovery is cheap and avoids stale
// admissions.
type Discoverer struct {
	roots  Roots
	logger zerolog.Logger
}

// New creates a Discoverer over the given source roots.
func New(roots Roots, logger zerolog.Logger) *Discoverer {
	return &Discoverer{
		roots:  roots,
		logger: logger.With().Str("component", "discovery").Logger(),
	}
}

// Discover walks the four source roots in fixed order and returns
// candidates grouped by logical name. Within each group, candidates are
// ordered by tier priority, then by path, so the grouping is deterministic.
func (d *Discoverer) Discover() (map[string][]Component, error) {
	groups := make(map[string][]Component)

	for _, tier := range TierOrder {
		root := d.roots.dir(tier)
		if root == "" {
			continue
		}

		components, err := d.scanRoot(root, tier)
		if err != nil {
			return nil, fmt.Errorf("scan %s root: %w", tier, err)
		}

		for _, comp := range components {
			groups[comp.LogicalName] = append(groups[comp.LogicalName], comp)
		}
	}

	for name := range groups {
		sortCandidates(groups[name])
	}

	return groups, nil
}

// scanRoot enumerates the immediate subdirectories of a source root, each
// one a construct candidate.
func (d *Discoverer) scanRoot(root string, tier SourceTier) ([]Component, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Debug().Str("root", root).Str("tier", string(tier)).Msg("source root absent, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("read directory %s: %w", root, err)
	}

	var components []Component
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}

		path := filepath.Join(root, de.Name())
		comp, err := d.readComponent(path, de.Name(), tier)
		if err != nil {
			d.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable construct")
			continue
		}

		components = append(components, comp)
	}

	d.logger.Debug().Str("tier", string(tier)).Int("count", len(components)).Msg("source root scanned")
	return components, nil
}

// readComponent builds a Component for one construct directory.
func (d *Discoverer) readComponent(path, dirName string, tier SourceTier) (Component, error) {
	comp := Component{
		LogicalName: dirName,
		Source:      tier,
		Path:        path,
	}

	m, err := readManifest(filepath.Join(path, manifestName))
	if err != nil {
		return Component{}, err
	}
	if m != nil && m.Name != "" {
		comp.LogicalName = m.Name
	}

	// Local and override constructs are trusted by construction. Any
	// token file physically present is deliberately ignored; the resolver
	// must never see one for these tiers.
	if tier.Trusted() {
		return comp, nil
	}

	tokenFile := defaultTokenFile
	if m != nil && m.License != "" {
		tokenFile = m.License
	}

	token, err := os.ReadFile(filepath.Join(path, tokenFile))
	if err != nil {
		if os.IsNotExist(err) {
			return comp, nil
		}
		return Component{}, fmt.Errorf("read license token: %w", err)
	}
	comp.LicenseToken = strings.TrimSpace(string(token))

	return comp, nil
}

// readManifest parses construct.yml; a missing file returns nil.
func readManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	return &m, nil
}

// sortCandidates orders a candidate group by tier priority, then path.
func sortCandidates(candidates []Component) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Source.Priority() != candidates[j].Source.Priority() {
			return candidates[i].Source.Priority() < candidates[j].Source.Priority()
		}
		return candidates[i].Path < candidates[j].Path
	})
}
