package oui

import (
	_ "embed"
	"encoding/json"
	"strconv"
	"strings"
)

const Unknown = "Unknown"

//go:embed data/oui.json
var embeddedDB []byte

type DB struct {
	vendors map[string]string
}

func LoadEmbedded() (*DB, error) {
	return Load(embeddedDB)
}

func Load(data []byte) (*DB, error) {
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	normalized := make(map[string]string, len(m))
	for k, v := range m {
		normalized[normalizePrefix(k)] = strings.TrimSpace(v)
	}
	return &DB{vendors: normalized}, nil
}

// Lookup returns the vendor registered for the address prefix. Locally
// administered (randomized) addresses have no vendor.
func (db *DB) Lookup(mac string) string {
	if db == nil || Randomized(mac) {
		return Unknown
	}
	prefix := normalizePrefix(mac)
	if vendor, ok := db.vendors[prefix]; ok && vendor != "" {
		return vendor
	}
	return Unknown
}

// Randomized reports whether the locally administered bit is set in the
// first octet.
func Randomized(mac string) bool {
	prefix := normalizePrefix(mac)
	if len(prefix) < 2 {
		return false
	}
	first, err := strconv.ParseUint(prefix[:2], 16, 8)
	if err != nil {
		return false
	}
	return first&0x02 != 0
}

// GeneratedName builds a display name from the vendor and the last four hex
// digits of the address.
func GeneratedName(mac, vendor string) string {
	suffix := strings.NewReplacer(":", "", "-", "").Replace(strings.ToUpper(mac))
	if len(suffix) >= 4 {
		suffix = suffix[len(suffix)-4:]
	}
	if vendor == "" || vendor == Unknown {
		return "Device-" + suffix
	}
	return vendor + "-" + suffix
}

func normalizePrefix(v string) string {
	replacer := strings.NewReplacer(":", "", "-", "", ".", "")
	v = strings.ToUpper(strings.TrimSpace(replacer.Replace(v)))
	if len(v) >= 6 {
		return v[:6]
	}
	return v
}
