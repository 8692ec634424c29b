package model

import (
	"testing"
	"time"
)

func TestSettingsNormalize(t *testing.T) {
	t.Helper()

	tests := []struct {
		name string
		in   Settings
		want Settings
	}{
		{
			name: "zero value becomes defaults",
			in:   Settings{},
			want: DefaultSettings(),
		},
		{
			name: "high below low is lifted",
			in:   Settings{LowThreshold: 40, HighThreshold: 35},
			want: func() Settings {
				s := DefaultSettings()
				s.LowThreshold = 40
				s.HighThreshold = 50
				return s
			}(),
		},
		{
			name: "high is capped at 100",
			in:   Settings{LowThreshold: 95, HighThreshold: 90},
			want: func() Settings {
				s := DefaultSettings()
				s.LowThreshold = 95
				s.HighThreshold = 100
				return s
			}(),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Helper()
			got := tt.in.Normalize()
			if got != tt.want {
				t.Fatalf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSettingsDurations(t *testing.T) {
	s := DefaultSettings()
	if got := s.StreakGap(); got != 10*time.Minute {
		t.Fatalf("expected 10m streak gap, got %v", got)
	}
	if got := s.CorrelationWindow(); got != 5*time.Minute {
		t.Fatalf("expected 5m correlation window, got %v", got)
	}
	if got := s.ScanThrottle(); got != 5*time.Second {
		t.Fatalf("expected 5s scan throttle, got %v", got)
	}
	if got := s.ScoreThrottle(); got != time.Minute {
		t.Fatalf("expected 1m score throttle, got %v", got)
	}
}

func TestDecodeObservations(t *testing.T) {
	one, err := DecodeObservations([]byte(`{"identifier":"aa","radio_type":"BLE","rssi":-70}`))
	if err != nil || len(one) != 1 || one[0].RSSI != -70 || one[0].RadioType != RadioBLE {
		t.Fatalf("unexpected single decode %+v, %v", one, err)
	}
	many, err := DecodeObservations([]byte(" [{\"identifier\":\"a\"},{\"identifier\":\"b\"}]\n"))
	if err != nil || len(many) != 2 {
		t.Fatalf("unexpected array decode %+v, %v", many, err)
	}
	if _, err := DecodeObservations([]byte("  ")); err == nil {
		t.Fatalf("expected empty payload error")
	}
	if _, err := DecodeObservations([]byte("{nope")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestRadioTypes(t *testing.T) {
	for _, r := range []RadioType{RadioBTClassic, RadioBLE, RadioWiFiAP, RadioWiFiProbe} {
		if !r.Valid() {
			t.Fatalf("expected %s to be valid", r)
		}
	}
	for _, r := range []RadioType{"", "WIFI", "BLUETOOTH_CLASSIC"} {
		if r.Valid() {
			t.Fatalf("expected %q to be invalid", r)
		}
	}
}
