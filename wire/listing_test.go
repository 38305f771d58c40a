package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePathListing(t *testing.T) {
	t.Parallel()
	tcs := []struct {
		desc    string
		data    string
		entries []PathEntry
		skipped int
	}{
		{
			desc: "two users",
			data: "kerb/flag1.png;Val/base.png",
			entries: []PathEntry{
				{User: "kerb", Name: "flag1.png"},
				{User: "Val", Name: "base.png"},
			},
		},
		{
			desc:    "entry without separator skipped",
			data:    "kerb/ok.png;broken;val/fine.png",
			skipped: 1,
			entries: []PathEntry{
				{User: "kerb", Name: "ok.png"},
				{User: "val", Name: "fine.png"},
			},
		},
		{
			desc:    "empty name skipped",
			data:    "kerb/;val/x.png",
			skipped: 1,
			entries: []PathEntry{{User: "val", Name: "x.png"}},
		},
		{
			desc: "trailing separator tolerated",
			data: "kerb/x.png;",
			entries: []PathEntry{
				{User: "kerb", Name: "x.png"},
			},
		},
		{
			desc: "empty body",
			data: "",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			entries, skipped := ParsePathListing([]byte(tc.data))
			require.Equal(t, tc.entries, entries)
			require.Equal(t, tc.skipped, skipped)
		})
	}
}

func TestParseNameListing(t *testing.T) {
	t.Parallel()
	tcs := []struct {
		desc    string
		data    string
		entries []NameEntry
		skipped int
	}{
		{
			desc: "two users",
			data: "kerb:Apollo,Gemini;val:Soyuz",
			entries: []NameEntry{
				{User: "kerb", Names: []string{"Apollo", "Gemini"}},
				{User: "val", Names: []string{"Soyuz"}},
			},
		},
		{
			desc: "user without names dropped silently",
			data: "kerb:;val:Soyuz",
			entries: []NameEntry{
				{User: "val", Names: []string{"Soyuz"}},
			},
		},
		{
			desc:    "entry without colon skipped",
			data:    "garbage;val:Soyuz",
			skipped: 1,
			entries: []NameEntry{
				{User: "val", Names: []string{"Soyuz"}},
			},
		},
		{
			desc: "blank names dropped inside list",
			data: "kerb:Apollo,,Gemini,",
			entries: []NameEntry{
				{User: "kerb", Names: []string{"Apollo", "Gemini"}},
			},
		},
		{
			desc: "empty body",
			data: "",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			entries, skipped := ParseNameListing([]byte(tc.data))
			require.Equal(t, tc.entries, entries)
			require.Equal(t, tc.skipped, skipped)
		})
	}
}
