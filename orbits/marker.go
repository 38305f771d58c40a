package orbits

import (
	"strconv"
	"strings"

	"github.com/svio-coop/go-svio/wire"
)

// Marker is one player's published orbit: enough keplerian elements for a
// remote client to draw the trajectory. The row layout on the wire is
// user,vessel,body,epoch,sma,ecc,inc,lan,argp,meanAnomaly,color,updated.
type Marker struct {
	User        string
	Vessel      string
	Body        string
	Epoch       float64
	SMA         float64
	Ecc         float64
	Inc         float64
	LAN         float64
	ArgPe       float64
	MeanAnomaly float64
	Color       string
	Updated     float64
}

const markerFields = 12

func parseMarker(line string) (Marker, bool) {
	fields, ok := wire.SplitFields(line, ',', markerFields)
	if !ok {
		return Marker{}, false
	}
	var floats [8]float64
	for i, idx := range [8]int{3, 4, 5, 6, 7, 8, 9, 11} {
		v, err := strconv.ParseFloat(fields[idx], 64)
		if err != nil {
			return Marker{}, false
		}
		floats[i] = v
	}
	return Marker{
		User:        fields[0],
		Vessel:      fields[1],
		Body:        fields[2],
		Epoch:       floats[0],
		SMA:         floats[1],
		Ecc:         floats[2],
		Inc:         floats[3],
		LAN:         floats[4],
		ArgPe:       floats[5],
		MeanAnomaly: floats[6],
		Color:       fields[10],
		Updated:     floats[7],
	}, true
}

// encode renders the marker as one wire row. Commas inside names would
// shift every later field, so they are flattened to spaces.
func (m Marker) encode() string {
	fields := []string{
		clean(m.User),
		clean(m.Vessel),
		clean(m.Body),
		formatFloat(m.Epoch),
		formatFloat(m.SMA),
		formatFloat(m.Ecc),
		formatFloat(m.Inc),
		formatFloat(m.LAN),
		formatFloat(m.ArgPe),
		formatFloat(m.MeanAnomaly),
		clean(m.Color),
		formatFloat(m.Updated),
	}
	return strings.Join(fields, ",")
}

func clean(field string) string {
	return strings.TrimSpace(strings.ReplaceAll(field, ",", " "))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
