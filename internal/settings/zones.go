package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// HRZone is one derived heart rate band in absolute BPM. Derived zones
// are recomputed from the current settings on every read and are never
// persisted - the settings record stays the single source of truth.
type HRZone struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// PaceZone is one derived pace band in min/km. Slower is the numerically
// larger bound; zone 1 has no slow bound and carries +Inf, which
// serializes as JSON null.
type PaceZone struct {
	Slower float64 `json:"slower"`
	Faster float64 `json:"faster"`
}

func (z PaceZone) MarshalJSON() ([]byte, error) {
	out := struct {
		Slower *float64 `json:"slower"`
		Faster float64  `json:"faster"`
	}{
		Faster: z.Faster,
	}
	if !math.IsInf(z.Slower, 1) {
		out.Slower = &z.Slower
	}
	return json.Marshal(out)
}

var defaultZonesTable = map[ZoneModel]struct {
	hr   []float64
	pace []float64
}{
	ZoneModel3: {
		hr:   []float64{70, 85, 100},
		pace: []float64{6.5, 5.5, 4.5},
	},
	ZoneModel5: {
		hr:   []float64{60, 70, 80, 90, 100},
		pace: []float64{7.0, 6.0, 5.0, 4.5, 4.0},
	},
	ZoneModel7: {
		hr:   []float64{55, 65, 75, 82, 89, 94, 100},
		pace: []float64{7.5, 6.5, 5.5, 5.0, 4.5, 4.0, 3.5},
	},
}

// DefaultZones returns the starting HR percentage and pace threshold
// arrays for the given zone model. These are fixed tables, not derived
// from athlete physiology - just a sane starting point after a model
// switch or an explicit reset. Unknown models fall back to 5-zone.
func DefaultZones(zm ZoneModel) (hrZones, paceZones []float64) {
	d, ok := defaultZonesTable[zm]
	if !ok {
		d = defaultZonesTable[ZoneModel5]
	}
	hrZones = make([]float64, len(d.hr))
	paceZones = make([]float64, len(d.pace))
	copy(hrZones, d.hr)
	copy(paceZones, d.pace)
	return hrZones, paceZones
}

// ComputeHRZones derives the absolute BPM bands from the HR percentage
// thresholds. The bands are contiguous: zone 1 starts at the rest heart
// rate and the last zone ends at the max heart rate (the last threshold
// is always 100 for valid settings). No error path - on invalid settings
// the result is merely inconsistent.
func ComputeHRZones(s UserSettings) []HRZone {
	if len(s.HRZones) == 0 {
		return nil
	}

	zones := make([]HRZone, 0, len(s.HRZones))
	previousMax := s.RestHeartRate
	for _, percent := range s.HRZones {
		zoneMax := int(math.Round(float64(s.MaxHeartRate) * percent / 100))
		zones = append(zones, HRZone{Min: previousMax, Max: zoneMax})
		previousMax = zoneMax
	}
	return zones
}

// ComputePaceZones derives the pace bands from the pace thresholds.
// Zone 1 is open on the slow end (+Inf); each following zone is bounded
// by the previous threshold.
func ComputePaceZones(s UserSettings) []PaceZone {
	if len(s.PaceZones) == 0 {
		return nil
	}

	zones := make([]PaceZone, 0, len(s.PaceZones))
	previousSlower := math.Inf(1)
	for _, threshold := range s.PaceZones {
		zones = append(zones, PaceZone{Slower: previousSlower, Faster: threshold})
		previousSlower = threshold
	}
	return zones
}

// HRZoneIndex classifies a heart rate into its 1-based zone index.
// Returns 0 for heart rates below the rest heart rate ("unzoned"),
// and clamps to the highest zone for values above max.
func HRZoneIndex(heartRate int, s UserSettings) int {
	if heartRate < s.RestHeartRate {
		return 0
	}

	zones := ComputeHRZones(s)
	for i, z := range zones {
		if z.Min <= heartRate && heartRate <= z.Max {
			return i + 1
		}
	}
	return len(zones)
}

// PaceZoneIndex classifies a pace (min/km, higher is slower) into its
// 1-based zone index. Paces faster than the fastest threshold fall into
// the last zone; non-finite input is unzoned (0).
func PaceZoneIndex(pace float64, s UserSettings) int {
	if len(s.PaceZones) == 0 {
		return 0
	}

	zones := ComputePaceZones(s)
	for i, z := range zones {
		if z.Faster <= pace && pace <= z.Slower {
			return i + 1
		}
	}

	if pace < s.PaceZones[len(s.PaceZones)-1] {
		return len(zones)
	}
	return 0
}

var zoneNamesTable = map[ZoneModel][]string{
	ZoneModel3: {"Easy", "Moderate", "Hard"},
	ZoneModel5: {"Recovery", "Aerobic", "Tempo", "Threshold", "Max"},
	ZoneModel7: {"Recovery", "Easy", "Aerobic", "Tempo", "Threshold", "VO2 Max", "Sprint"},
}

// ZoneNames returns the human readable zone labels for the model.
// Unknown models get the 5-zone labels.
func ZoneNames(zm ZoneModel) []string {
	names, ok := zoneNamesTable[zm]
	if !ok {
		names = zoneNamesTable[ZoneModel5]
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// ZoneColors returns the display colors for up to 7 zones; the first
// N are used for smaller models.
func ZoneColors() []string {
	return []string{
		"#9CA3AF", // zone 1, gray
		"#60A5FA", // blue
		"#34D399", // green
		"#FBBF24", // yellow
		"#FB923C", // orange
		"#F87171", // red
		"#DC2626", // zone 7, dark red
	}
}

// FormatPace converts seconds per km to a "M:SS" display string.
// Non-positive input yields "0:00".
func FormatPace(secondsPerKm float64) string {
	if secondsPerKm <= 0 || math.IsNaN(secondsPerKm) || math.IsInf(secondsPerKm, 0) {
		return "0:00"
	}
	minutes := int(secondsPerKm) / 60
	seconds := int(secondsPerKm) % 60
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// ParsePace parses a "M:SS" pace string back into seconds per km.
// Invalid input yields 0.
func ParsePace(pace string) float64 {
	parts := strings.Split(strings.TrimSpace(pace), ":")
	if len(parts) != 2 {
		return 0
	}
	minutes, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	seconds, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return float64(minutes*60 + seconds)
}
