package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/micro-ha/follower-watch/internal/model"
)

const payloadPrefixEnd = 8

// Fingerprint derives a rotation-stable key from advertising fields that do
// not change with the MAC address. It returns false when the observation has
// neither a manufacturer company code nor service identifiers.
func Fingerprint(obs model.Observation) (string, bool) {
	companyID, hasCompany := obs.CompanyID()
	if !hasCompany && len(obs.ServiceUUIDs) == 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString(string(obs.RadioType))
	b.WriteByte('|')
	if hasCompany {
		fmt.Fprintf(&b, "mfr:%d|", companyID)
		if len(obs.ManufacturerData) > 2 {
			end := min(len(obs.ManufacturerData), payloadPrefixEnd)
			b.WriteString("pfx:")
			b.WriteString(hex.EncodeToString(obs.ManufacturerData[2:end]))
			b.WriteByte('|')
		}
	}
	if len(obs.ServiceUUIDs) > 0 {
		services := make([]string, len(obs.ServiceUUIDs))
		copy(services, obs.ServiceUUIDs)
		sort.Strings(services)
		b.WriteString("svc:")
		b.WriteString(strings.Join(services, ","))
		b.WriteByte('|')
	}
	if obs.TxPower != nil {
		fmt.Fprintf(&b, "tx:%d", *obs.TxPower)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16]), true
}
