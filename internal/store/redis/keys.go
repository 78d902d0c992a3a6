package redis

import "fmt"

const (
	// KeyPrefixSite is the prefix for site record keys
	KeyPrefixSite = "sitewatch:site:"
	// KeySiteOrder is the sorted set of site IDs, scored by registration order
	KeySiteOrder = "sitewatch:sites:order"
	// KeySnapshotMeta is the hash holding the mirrored snapshot's seq and time
	KeySnapshotMeta = "sitewatch:snapshot:meta"
	// KeySitesRemoved is the set of site IDs unregistered locally
	KeySitesRemoved = "sitewatch:sites:removed"
)

// SiteKey returns the Redis key for a site by ID
func SiteKey(id string) string {
	return KeyPrefixSite + id
}

// SiteOrderKey returns the key for the ordered set of site IDs
func SiteOrderKey() string {
	return KeySiteOrder
}

// RemovedSitesKey returns the key for the set of unregistered site IDs
func RemovedSitesKey() string {
	return KeySitesRemoved
}

// SnapshotMetaKey returns the key for the snapshot metadata hash
func SnapshotMetaKey() string {
	return KeySnapshotMeta
}

// ExtractSiteID extracts the site ID from a Redis key
func ExtractSiteID(key string) (string, error) {
	if len(key) <= len(KeyPrefixSite) || key[:len(KeyPrefixSite)] != KeyPrefixSite {
		return "", fmt.Errorf("invalid site key: %s", key)
	}
	return key[len(KeyPrefixSite):], nil
}
