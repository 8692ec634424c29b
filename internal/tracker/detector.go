// Package tracker recognizes commercial item trackers from BLE advertising data.
package tracker

import (
	"strings"

	"github.com/micro-ha/follower-watch/internal/model"
)

// Bluetooth SIG company codes.
const (
	CompanyApple   = 0x004C
	CompanyTile    = 0x03E0
	CompanySamsung = 0x0075
	CompanyChipolo = 0x02FF
)

const (
	appleAirTagType          = 0x12
	appleFindMyAccessoryType = 0x07
	findMySeparatedBit       = 0x10
	findMyMinPayload         = 29

	tileServicePrefix     = "0000feed"
	smartTagServicePrefix = "0000fd5a"
)

// Match describes a recognized tracker signature.
type Match struct {
	Kind        model.TrackerKind `json:"kind"`
	Confidence  float64           `json:"confidence"`
	Description string            `json:"description"`
}

// Detector is stateless; the zero value is ready to use.
type Detector struct{}

func New() Detector {
	return Detector{}
}

// Detect checks manufacturer data first, then advertised service identifiers.
func (Detector) Detect(obs model.Observation) (Match, bool) {
	if m, ok := matchManufacturer(obs); ok {
		return m, true
	}
	return matchServices(obs.ServiceUUIDs)
}

func matchManufacturer(obs model.Observation) (Match, bool) {
	company, ok := obs.CompanyID()
	if !ok {
		return Match{}, false
	}
	data := obs.ManufacturerData
	switch company {
	case CompanyApple:
		return matchApple(data)
	case CompanyTile:
		return Match{Kind: model.TrackerTile, Confidence: 0.9, Description: "Tile Bluetooth tracker"}, true
	case CompanySamsung:
		if len(data) >= 6 && data[2] == 0x01 {
			return Match{Kind: model.TrackerSmartTag, Confidence: 0.8, Description: "Samsung SmartTag"}, true
		}
	case CompanyChipolo:
		return Match{Kind: model.TrackerChipolo, Confidence: 0.85, Description: "Chipolo Bluetooth tracker"}, true
	}
	return Match{}, false
}

func matchApple(data []byte) (Match, bool) {
	if len(data) < 3 {
		return Match{}, false
	}
	switch data[2] {
	case appleAirTagType:
		return Match{Kind: model.TrackerAirTag, Confidence: 0.95, Description: "Apple AirTag"}, true
	case appleFindMyAccessoryType:
		return Match{Kind: model.TrackerFindMyAccessory, Confidence: 0.85, Description: "Apple Find My network accessory"}, true
	}
	// Separated Find My devices carry a long rotating-key payload with the status bit set.
	if len(data) >= findMyMinPayload && data[3]&findMySeparatedBit != 0 {
		return Match{Kind: model.TrackerFindMyDevice, Confidence: 0.6, Description: "Possible Apple Find My network device"}, true
	}
	return Match{}, false
}

func matchServices(uuids []string) (Match, bool) {
	for _, id := range uuids {
		lower := strings.ToLower(strings.TrimSpace(id))
		switch {
		case strings.HasPrefix(lower, tileServicePrefix):
			return Match{Kind: model.TrackerTile, Confidence: 0.9, Description: "Tile tracker (service UUID)"}, true
		case strings.HasPrefix(lower, smartTagServicePrefix):
			return Match{Kind: model.TrackerSmartTag, Confidence: 0.85, Description: "Samsung SmartTag (service UUID)"}, true
		}
	}
	return Match{}, false
}
