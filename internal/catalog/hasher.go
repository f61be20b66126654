// File: internal/catalog/hasher.go
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/homehub-io/catalog-sync/internal/models"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// hashedFields is the fixed set of entry fields covered by the version
// hash, in canonical (lexicographic) order. Changing this set invalidates
// every stored hash, so additions require a full resync.
var hashedFields = []string{
	"brand_image_url",
	"description",
	"documentation_url",
	"flow_config",
	"flow_type",
	"handler_class",
	"icon",
	"is_cloud",
	"metadata",
	"name",
	"supports_devices",
}

// Hash computes the deterministic content hash of an entry's significant
// fields. The same logical entry always yields the same hash regardless of
// how its in-memory representation was constructed: fields are serialized
// as a JSON object, whose keys (and all nested map keys) are sorted before
// serialization.
func Hash(entry *models.CatalogEntry) (string, error) {
	canonical, err := json.Marshal(hashableFields(entry))
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Failed to serialize entry for hashing", err.Error())
	}

	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}

// DiffFields returns the names of hashed fields whose values differ between
// the two entries. When the hashes are equal the result is empty without
// any field comparison; otherwise fields are compared pairwise by their
// canonical serialization, in canonical order.
func DiffFields(oldHash, newHash string, oldEntry, newEntry *models.CatalogEntry) []string {
	if oldHash == newHash {
		return []string{}
	}

	oldValues := hashableFields(oldEntry)
	newValues := hashableFields(newEntry)

	changed := []string{}
	for _, field := range hashedFields {
		if !canonicalEqual(oldValues[field], newValues[field]) {
			changed = append(changed, field)
		}
	}
	return changed
}

// hashableFields extracts the hashed field values of an entry. Nil pointers
// serialize as JSON null so absence is stable.
func hashableFields(entry *models.CatalogEntry) map[string]interface{} {
	return map[string]interface{}{
		"brand_image_url":   entry.BrandImageURL,
		"description":       entry.Description,
		"documentation_url": entry.DocumentationURL,
		"flow_config":       entry.FlowConfig,
		"flow_type":         entry.FlowType,
		"handler_class":     entry.HandlerClass,
		"icon":              entry.Icon,
		"is_cloud":          entry.IsCloud,
		"metadata":          entry.Metadata,
		"name":              entry.Name,
		"supports_devices":  entry.SupportsDevices,
	}
}

// canonicalEqual compares two field values by canonical serialization, so
// structured documents compare by content rather than pointer identity.
func canonicalEqual(a, b interface{}) bool {
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aJSON) == string(bJSON)
}
