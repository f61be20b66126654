// File: internal/catalog/mapper.go
package catalog

import (
	"strings"

	"github.com/homehub-io/catalog-sync/internal/models"
)

// Mapper transforms raw upstream manifests into canonical catalog entries.
// Map is a pure function: no I/O, no clock, no randomness.
type Mapper struct {
	fallbackIcon        string
	fallbackDescription string
}

// NewMapper creates a new manifest mapper with the given placeholders for
// absent icon and description values. Stable placeholders keep hashing and
// diffing free of missing-vs-present ambiguity.
func NewMapper(fallbackIcon, fallbackDescription string) *Mapper {
	return &Mapper{
		fallbackIcon:        fallbackIcon,
		fallbackDescription: fallbackDescription,
	}
}

// Map converts a manifest into a canonical CatalogEntry. A nil manifest
// yields a minimal fallback entry for the given domain. Manifests that omit
// the domain field inherit the directory name used to fetch them.
func (m *Mapper) Map(manifest *models.Manifest, domain string) models.CatalogEntry {
	if manifest == nil {
		manifest = &models.Manifest{}
	}

	entryDomain := manifest.Domain
	if entryDomain == "" {
		entryDomain = domain
	}

	name := manifest.Name
	if name == "" {
		name = displayName(entryDomain)
	}

	description := manifest.Description
	if description == "" {
		description = m.fallbackDescription
	}

	icon := manifest.Icon
	if icon == "" {
		icon = m.fallbackIcon
	}

	flowType := manifest.FlowType
	if flowType == "" {
		if manifest.ConfigFlow {
			flowType = "config_flow"
		} else {
			flowType = "manual"
		}
	}

	entry := models.CatalogEntry{
		Domain:          entryDomain,
		Name:            name,
		Description:     &description,
		Icon:            &icon,
		SupportsDevices: supportsDevices(manifest.IntegrationType),
		IsCloud:         strings.HasPrefix(manifest.IoTClass, "cloud"),
		FlowType:        flowType,
		FlowConfig:      manifest.FlowConfig,
		SyncStatus:      models.SyncStatusPending,
	}

	if manifest.Documentation != "" {
		doc := manifest.Documentation
		entry.DocumentationURL = &doc
	}
	if manifest.Handler != "" {
		handler := manifest.Handler
		entry.HandlerClass = &handler
	}
	entry.Metadata = buildMetadata(manifest)

	return entry
}

// displayName derives a best-effort display name from a domain token,
// e.g. "light_bulb_x" becomes "Light Bulb X".
func displayName(domain string) string {
	parts := strings.Split(domain, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

// supportsDevices reports whether an integration type exposes devices.
// Unknown or unspecified types are assumed device-capable.
func supportsDevices(integrationType string) bool {
	switch integrationType {
	case "service", "helper", "system", "entity":
		return false
	default:
		return true
	}
}

// buildMetadata collects the informational manifest fields that do not map
// to first-class entry columns. Returns nil when nothing is present.
func buildMetadata(manifest *models.Manifest) map[string]interface{} {
	metadata := make(map[string]interface{})

	if manifest.IoTClass != "" {
		metadata["iot_class"] = manifest.IoTClass
	}
	if manifest.IntegrationType != "" {
		metadata["integration_type"] = manifest.IntegrationType
	}
	if manifest.QualityScale != "" {
		metadata["quality_scale"] = manifest.QualityScale
	}
	if manifest.Version != "" {
		metadata["version"] = manifest.Version
	}
	if len(manifest.Requirements) > 0 {
		metadata["requirements"] = manifest.Requirements
	}
	if len(manifest.Dependencies) > 0 {
		metadata["dependencies"] = manifest.Dependencies
	}
	if len(manifest.Codeowners) > 0 {
		metadata["codeowners"] = manifest.Codeowners
	}

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}
