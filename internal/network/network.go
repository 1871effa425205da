package network

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// Network is the loaded station topology. All queries are side-effect free
// and safe for concurrent use; the network never mutates after Load.
type Network struct {
	stations  map[string]*Station
	sequences map[Key][]*Station
	// distances holds inter-station distances in km, keyed both ways.
	distances map[[2]string]float64
}

// topologyFile is the on-disk JSON shape for a network definition.
type topologyFile struct {
	Stations []struct {
		ID      string  `json:"id"`
		Name    string  `json:"name"`
		Highway string  `json:"highway"`
		Dir     string  `json:"direction"`
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
		MileKM  float64 `json:"mile_km"`
	} `json:"stations"`
	Distances []struct {
		From string  `json:"from"`
		To   string  `json:"to"`
		KM   float64 `json:"km"`
	} `json:"distances"`
}

// Load reads a topology JSON file and builds the network.
func Load(path string) (*Network, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}

	var tf topologyFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}

	stations := make([]*Station, 0, len(tf.Stations))
	for _, s := range tf.Stations {
		stations = append(stations, &Station{
			ID:      s.ID,
			Name:    s.Name,
			Highway: s.Highway,
			Dir:     Direction(s.Dir),
			Lat:     s.Lat,
			Lng:     s.Lng,
			MileKM:  s.MileKM,
		})
	}

	n, err := New(stations)
	if err != nil {
		return nil, err
	}
	for _, d := range tf.Distances {
		n.setDistance(d.From, d.To, d.KM)
	}
	return n, nil
}

// New builds a network from station records. Stations are grouped per
// highway/direction and ordered by milepost; ordinals are assigned from the
// sorted order. Distances default to milepost deltas until overridden by a
// distance table.
func New(stations []*Station) (*Network, error) {
	if len(stations) == 0 {
		return nil, ErrNoStations
	}

	n := &Network{
		stations:  make(map[string]*Station, len(stations)),
		sequences: make(map[Key][]*Station),
		distances: make(map[[2]string]float64),
	}

	for _, s := range stations {
		if _, dup := n.stations[s.ID]; dup {
			return nil, fmt.Errorf("duplicate station %q", s.ID)
		}
		n.stations[s.ID] = s
		key := Key{Highway: s.Highway, Dir: s.Dir}
		n.sequences[key] = append(n.sequences[key], s)
	}

	for _, seq := range n.sequences {
		sort.Slice(seq, func(i, j int) bool { return seq[i].MileKM < seq[j].MileKM })
		for i, s := range seq {
			s.Ordinal = i
		}
	}

	return n, nil
}

func (n *Network) setDistance(a, b string, km float64) {
	n.distances[[2]string{a, b}] = km
	n.distances[[2]string{b, a}] = km
}

// StationsFor returns the ordered station sequence for a highway/direction,
// sorted by ordinal position. Fails with ErrUnknownHighway for combinations
// not present in the topology.
func (n *Network) StationsFor(highway string, dir Direction) ([]*Station, error) {
	seq, ok := n.sequences[Key{Highway: highway, Dir: dir}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownHighway, highway, dir)
	}
	out := make([]*Station, len(seq))
	copy(out, seq)
	return out, nil
}

// Partitions returns every highway/direction key in the topology.
func (n *Network) Partitions() []Key {
	keys := make([]Key, 0, len(n.sequences))
	for k := range n.sequences {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Station looks up a station by ID.
func (n *Network) Station(id string) (*Station, error) {
	s, ok := n.stations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStation, id)
	}
	return s, nil
}

// Distance returns the inter-station distance in km. Symmetric and
// non-negative. Falls back to the milepost delta when no explicit distance
// was loaded for the pair.
func (n *Network) Distance(a, b string) (float64, error) {
	sa, err := n.Station(a)
	if err != nil {
		return 0, err
	}
	sb, err := n.Station(b)
	if err != nil {
		return 0, err
	}
	if km, ok := n.distances[[2]string{a, b}]; ok {
		return km, nil
	}
	return math.Abs(sb.MileKM - sa.MileKM), nil
}

// Upstream returns the station immediately upstream of id, in the sense that
// a shockwave at id reaches it next (against the direction of travel).
// Returns nil when id is the first station of its sequence.
func (n *Network) Upstream(id string) (*Station, error) {
	return n.neighbor(id, -1)
}

// Downstream returns the station immediately downstream of id, or nil at the
// end of the sequence.
func (n *Network) Downstream(id string) (*Station, error) {
	return n.neighbor(id, +1)
}

func (n *Network) neighbor(id string, step int) (*Station, error) {
	s, err := n.Station(id)
	if err != nil {
		return nil, err
	}
	seq := n.sequences[Key{Highway: s.Highway, Dir: s.Dir}]
	idx := s.Ordinal + step
	if idx < 0 || idx >= len(seq) {
		return nil, nil
	}
	return seq[idx], nil
}

// NearestStation returns the station closest to the given coordinate and the
// distance to it in km, across the whole network.
func (n *Network) NearestStation(lat, lng float64) (*Station, float64) {
	var best *Station
	bestKM := math.MaxFloat64
	for _, s := range n.stations {
		km := HaversineKM(lat, lng, s.Lat, s.Lng)
		if km < bestKM {
			best, bestKM = s, km
		}
	}
	return best, bestKM
}

// HaversineKM computes the great-circle distance between two coordinates in km.
func HaversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKM = 6371.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKM * c
}
