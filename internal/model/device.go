package model

import "time"

// RadioType identifies the radio a device was observed on.
type RadioType string

const (
	RadioBTClassic RadioType = "BT_CLASSIC"
	RadioBLE       RadioType = "BLE"
	RadioWiFiAP    RadioType = "WIFI_AP"
	RadioWiFiProbe RadioType = "WIFI_PROBE"
)

func (r RadioType) Valid() bool {
	switch r {
	case RadioBTClassic, RadioBLE, RadioWiFiAP, RadioWiFiProbe:
		return true
	}
	return false
}

type ThreatLevel string

const (
	ThreatLevelLow    ThreatLevel = "LOW"
	ThreatLevelMedium ThreatLevel = "MEDIUM"
	ThreatLevelHigh   ThreatLevel = "HIGH"
)

// Position is a user location fix in decimal degrees with accuracy in meters.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Observation is one advertisement or frame reported by a scan source.
type Observation struct {
	Identifier string    `json:"identifier"`
	RadioType  RadioType `json:"radio_type"`
	Timestamp  time.Time `json:"timestamp"`
	RSSI       int       `json:"rssi"`
	Name       string    `json:"name,omitempty"`
	Position   Position  `json:"position"`

	// BLE advertising data. ManufacturerData starts with the little-endian company code.
	ManufacturerData []byte   `json:"manufacturer_data,omitempty"`
	ServiceUUIDs     []string `json:"service_uuids,omitempty"`
	TxPower          *int     `json:"tx_power,omitempty"`

	// Wi-Fi frame fields.
	ProbedSSID string `json:"probed_ssid,omitempty"`
	APSSID     string `json:"ap_ssid,omitempty"`
	Channel    int    `json:"channel,omitempty"`
	Frequency  int    `json:"frequency,omitempty"`
}

// CompanyID reads the little-endian Bluetooth SIG company code that prefixes
// the manufacturer-specific data.
func (o Observation) CompanyID() (int, bool) {
	if len(o.ManufacturerData) < 2 {
		return 0, false
	}
	return int(o.ManufacturerData[0]) | int(o.ManufacturerData[1])<<8, true
}

// Device is the persisted record for one stable identity.
type Device struct {
	ID             string      `json:"id"`
	RadioType      RadioType   `json:"radio_type"`
	Name           string      `json:"name,omitempty"`
	Vendor         string      `json:"vendor,omitempty"`
	FirstSeen      time.Time   `json:"first_seen"`
	LastSeen       time.Time   `json:"last_seen"`
	DetectionCount int         `json:"detection_count"`
	LocationCount  int         `json:"location_count"`
	Score          int         `json:"score"`
	ThreatLevel    ThreatLevel `json:"threat_level"`
	LastRSSI       int         `json:"last_rssi"`
	ProbedSSIDs    []string    `json:"probed_ssids,omitempty"`
	TrackerKind    TrackerKind `json:"tracker_kind,omitempty"`
	Whitelisted    bool        `json:"whitelisted"`
	Flagged        bool        `json:"flagged"`
}

// Sighting is one persisted observation of a device at the user's position.
type Sighting struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	Position   Position  `json:"position"`
	RSSI       int       `json:"rssi"`
	RadioType  RadioType `json:"radio_type"`
	ProbedSSID string    `json:"probed_ssid,omitempty"`
	APSSID     string    `json:"ap_ssid,omitempty"`
	Channel    int       `json:"channel,omitempty"`
	Frequency  int       `json:"frequency,omitempty"`
}

// LocationCluster buckets the places the user has been across sessions.
type LocationCluster struct {
	ID           int64     `json:"id"`
	Center       Position  `json:"center"`
	RadiusMeters float64   `json:"radius_meters"`
	VisitCount   int       `json:"visit_count"`
	FirstVisit   time.Time `json:"first_visit"`
	LastVisit    time.Time `json:"last_visit"`
	Label        string    `json:"label,omitempty"`
}

// TrackerKind names a recognized commercial tracker family.
type TrackerKind string

const (
	TrackerAirTag          TrackerKind = "AIRTAG"
	TrackerFindMyAccessory TrackerKind = "FIND_MY_ACCESSORY"
	TrackerFindMyDevice    TrackerKind = "FIND_MY_DEVICE"
	TrackerTile            TrackerKind = "TILE"
	TrackerSmartTag        TrackerKind = "SMARTTAG"
	TrackerChipolo         TrackerKind = "CHIPOLO"
)
