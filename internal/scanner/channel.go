// Package scanner turns capture sources into observations for the
// detection service.
package scanner

// FrequencyToChannel maps a Wi-Fi center frequency in MHz to its channel
// number across the 2.4, 5 and 6 GHz bands. Unknown frequencies map to 0.
func FrequencyToChannel(freqMHz int) int {
	switch {
	case freqMHz == 2484:
		return 14
	case freqMHz >= 2412 && freqMHz < 2484:
		return (freqMHz-2412)/5 + 1
	case freqMHz >= 5170 && freqMHz <= 5825:
		return (freqMHz-5170)/5 + 34
	case freqMHz >= 5955 && freqMHz <= 7115:
		return (freqMHz-5955)/5 + 1
	default:
		return 0
	}
}
