package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/micro-ha/follower-watch/internal/domain/detection"
	"github.com/micro-ha/follower-watch/internal/model"
)

// Ingester accepts observation batches.
type Ingester interface {
	Ingest(ctx context.Context, observations []model.Observation) (detection.IngestResult, error)
}

// EnhancedSetter toggles the enhanced capture tier on the pipeline.
type EnhancedSetter interface {
	SetEnhanced(bool)
}

// PcapSource replays a radiotap 802.11 capture and feeds probe requests and
// beacons into the detection service.
type PcapSource struct {
	path     string
	sink     Ingester
	enhanced EnhancedSetter
	logger   *slog.Logger
}

func NewPcapSource(path string, sink Ingester, enhanced EnhancedSetter, logger *slog.Logger) *PcapSource {
	return &PcapSource{path: path, sink: sink, enhanced: enhanced, logger: logger}
}

// Run reads the capture until EOF or ctx cancellation. The enhanced tier is
// active for the duration of the read.
func (s *PcapSource) Run(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open capture %s: %w", s.path, err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("read capture header: %w", err)
	}
	if lt := reader.LinkType(); lt != layers.LinkTypeIEEE80211Radio {
		return fmt.Errorf("unsupported capture link type %s", lt)
	}

	if s.enhanced != nil {
		s.enhanced.SetEnhanced(true)
		defer s.enhanced.SetEnhanced(false)
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.NoCopy = true
	packets, frames := 0, 0
	started := time.Now()
	s.logger.Info("capture replay started", "path", s.path)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("capture replay stopped", "packets", packets, "frames", frames)
			return ctx.Err()
		case packet, ok := <-source.Packets():
			if !ok || packet == nil {
				s.logger.Info("capture replay complete", "packets", packets, "frames", frames, "elapsed", time.Since(started))
				return nil
			}
			packets++
			obs, ok := ObservationFromPacket(packet)
			if !ok {
				continue
			}
			frames++
			if _, err := s.sink.Ingest(ctx, []model.Observation{obs}); err != nil {
				s.logger.Warn("capture observation rejected", "identifier", obs.Identifier, "err", err)
			}
		}
	}
}

// ObservationFromPacket extracts a Wi-Fi observation from a decoded
// radiotap packet. Only probe requests and beacons are reported.
func ObservationFromPacket(packet gopacket.Packet) (model.Observation, bool) {
	dot11, ok := packet.Layer(layers.LayerTypeDot11).(*layers.Dot11)
	if !ok {
		return model.Observation{}, false
	}
	radio, _ := packet.Layer(layers.LayerTypeRadioTap).(*layers.RadioTap)

	var elements []*layers.Dot11InformationElement
	for _, layer := range packet.Layers() {
		if ie, ok := layer.(*layers.Dot11InformationElement); ok {
			elements = append(elements, ie)
		}
	}
	return frameObservation(radio, dot11, elements, packet.Metadata().Timestamp)
}

func frameObservation(radio *layers.RadioTap, dot11 *layers.Dot11, elements []*layers.Dot11InformationElement, ts time.Time) (model.Observation, bool) {
	if dot11 == nil {
		return model.Observation{}, false
	}
	if dot11.Type != layers.Dot11TypeMgmtProbeReq && dot11.Type != layers.Dot11TypeMgmtBeacon {
		return model.Observation{}, false
	}
	transmitter := macString(dot11.Address2)
	if transmitter == "" {
		return model.Observation{}, false
	}

	obs := model.Observation{
		Identifier: transmitter,
		RadioType:  model.RadioWiFiProbe,
		Timestamp:  ts.UTC(),
	}
	if dot11.Type == layers.Dot11TypeMgmtBeacon {
		obs.RadioType = model.RadioWiFiAP
	}
	if radio != nil {
		if radio.Present.DBMAntennaSignal() {
			obs.RSSI = int(radio.DBMAntennaSignal)
		}
		if radio.Present.Channel() && radio.ChannelFrequency > 0 {
			obs.Frequency = int(radio.ChannelFrequency)
			obs.Channel = FrequencyToChannel(obs.Frequency)
		}
	}

	for _, ie := range elements {
		switch ie.ID {
		case layers.Dot11InformationElementIDSSID:
			ssid := strings.TrimSpace(string(ie.Info))
			if ssid == "" {
				continue
			}
			if obs.RadioType == model.RadioWiFiProbe {
				obs.ProbedSSID = ssid
			} else {
				obs.APSSID = ssid
				obs.Name = ssid
			}
		case layers.Dot11InformationElementIDDSSet:
			if obs.Channel == 0 && len(ie.Info) == 1 {
				obs.Channel = int(ie.Info[0])
			}
		}
	}
	return obs, true
}

func macString(addr net.HardwareAddr) string {
	if len(addr) != 6 {
		return ""
	}
	return strings.ToUpper(addr.String())
}
