package orbits

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMarker(t *testing.T) {
	t.Parallel()
	line := "val,Rover One,Duna,12345.5,3200000,0.02,1.5,45,90,0.25,#00ff00,1700000100.25"
	marker, ok := parseMarker(line)
	require.True(t, ok)
	require.Equal(t, Marker{
		User:        "val",
		Vessel:      "Rover One",
		Body:        "Duna",
		Epoch:       12345.5,
		SMA:         3200000,
		Ecc:         0.02,
		Inc:         1.5,
		LAN:         45,
		ArgPe:       90,
		MeanAnomaly: 0.25,
		Color:       "#00ff00",
		Updated:     1700000100.25,
	}, marker)
}

func TestParseMarkerRejects(t *testing.T) {
	t.Parallel()
	tcs := []struct {
		desc string
		line string
	}{
		{
			desc: "too few fields",
			line: "val,Rover,Duna,1,2,3",
		},
		{
			desc: "bad semi major axis",
			line: "val,Rover,Duna,1,not-a-number,3,4,5,6,7,#fff,8",
		},
		{
			desc: "bad publish stamp",
			line: "val,Rover,Duna,1,2,3,4,5,6,7,#fff,soon",
		},
		{
			desc: "empty",
			line: "",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			_, ok := parseMarker(tc.line)
			require.False(t, ok)
		})
	}
}

func TestParseMarkerToleratesExtraFields(t *testing.T) {
	t.Parallel()
	line := "val,Rover,Duna,1,2,3,4,5,6,7,#fff,8,future-field"
	marker, ok := parseMarker(line)
	require.True(t, ok)
	require.Equal(t, "val", marker.User)
	require.Equal(t, 8.0, marker.Updated)
}

func TestMarkerRoundTrip(t *testing.T) {
	t.Parallel()
	in := Marker{
		User:        "val",
		Vessel:      "Rover One",
		Body:        "Duna",
		Epoch:       12345.5,
		SMA:         3200000,
		Ecc:         0.02,
		Inc:         1.5,
		LAN:         45,
		ArgPe:       90,
		MeanAnomaly: 0.25,
		Color:       "#00ff00",
		Updated:     1700000100.25,
	}
	out, ok := parseMarker(in.encode())
	require.True(t, ok)
	require.Equal(t, in, out)
}

func TestEncodeFlattensCommas(t *testing.T) {
	t.Parallel()
	in := Marker{User: "val", Vessel: "a,b", Body: "Laythe", Color: "#fff"}
	row := in.encode()
	require.Equal(t, markerFields, strings.Count(row, ",")+1)

	out, ok := parseMarker(row)
	require.True(t, ok)
	require.Equal(t, "a b", out.Vessel)
}
