package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNodes(t *testing.T) {
	t.Parallel()
	tcs := []struct {
		desc    string
		data    string
		nodes   []*Node
		skipped int
	}{
		{
			desc: "brace on own line",
			data: "Tech\n{\n\tid = basicRocketry\n\tstate = Available\n\tcost = 5\n}\n",
			nodes: []*Node{
				{Name: "Tech", Fields: []Field{
					{Key: "id", Value: "basicRocketry"},
					{Key: "state", Value: "Available"},
					{Key: "cost", Value: "5"},
				}},
			},
		},
		{
			desc: "brace on name line",
			data: "Science {\n\tid = crewReport@KerbinSrfLanded\n\tsci = 3.5\n\tcap = 5\n}",
			nodes: []*Node{
				{Name: "Science", Fields: []Field{
					{Key: "id", Value: "crewReport@KerbinSrfLanded"},
					{Key: "sci", Value: "3.5"},
					{Key: "cap", Value: "5"},
				}},
			},
		},
		{
			desc: "multiple blocks",
			data: "Tech\n{\n\tid = a\n}\nTech\n{\n\tid = b\n}\n",
			nodes: []*Node{
				{Name: "Tech", Fields: []Field{{Key: "id", Value: "a"}}},
				{Name: "Tech", Fields: []Field{{Key: "id", Value: "b"}}},
			},
		},
		{
			desc: "nested blocks",
			data: "SCENARIO\n{\n\tname = outer\n\tData\n\t{\n\t\tkey = v\n\t}\n}\n",
			nodes: []*Node{
				{
					Name:   "SCENARIO",
					Fields: []Field{{Key: "name", Value: "outer"}},
					Nodes: []*Node{
						{Name: "Data", Fields: []Field{{Key: "key", Value: "v"}}},
					},
				},
			},
		},
		{
			desc:    "junk line between blocks",
			data:    "Tech\n{\n\tid = a\n}\n<<corrupt>>\nTech\n{\n\tid = b\n}\n",
			skipped: 1,
			nodes: []*Node{
				{Name: "Tech", Fields: []Field{{Key: "id", Value: "a"}}},
				{Name: "Tech", Fields: []Field{{Key: "id", Value: "b"}}},
			},
		},
		{
			desc:    "truncated block kept and counted",
			data:    "Tech\n{\n\tid = a\n",
			skipped: 1,
			nodes: []*Node{
				{Name: "Tech", Fields: []Field{{Key: "id", Value: "a"}}},
			},
		},
		{
			desc:    "stray closing brace",
			data:    "}\nTech\n{\n\tid = a\n}\n",
			skipped: 1,
			nodes: []*Node{
				{Name: "Tech", Fields: []Field{{Key: "id", Value: "a"}}},
			},
		},
		{
			desc:    "field outside any block",
			data:    "sci = 42\n",
			skipped: 1,
		},
		{
			desc:    "empty",
			data:    "",
			nodes:   nil,
			skipped: 0,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			nodes, skipped := ParseNodes([]byte(tc.data))
			require.Equal(t, tc.nodes, nodes)
			require.Equal(t, tc.skipped, skipped)
		})
	}
}

func TestRenderRoundTrip(t *testing.T) {
	t.Parallel()
	nodes := []*Node{
		{Name: "Tech", Fields: []Field{
			{Key: "id", Value: "basicRocketry"},
			{Key: "state", Value: "Available"},
			{Key: "cost", Value: "5"},
			{Key: "part", Value: "solidBooster"},
		}},
		{Name: "Tech", Fields: []Field{
			{Key: "id", Value: "survivability"},
			{Key: "state", Value: "Available"},
			{Key: "cost", Value: "15"},
		}},
	}
	parsed, skipped := ParseNodes(RenderNodes(nodes))
	require.Zero(t, skipped)
	require.Equal(t, nodes, parsed)
}

func TestNodeAccessors(t *testing.T) {
	t.Parallel()
	n := &Node{Name: "Science", Fields: []Field{
		{Key: "id", Value: "x"},
		{Key: "sci", Value: "3.5"},
		{Key: "cap", Value: "bogus"},
	}}

	v, ok := n.Value("id")
	require.True(t, ok)
	require.Equal(t, "x", v)
	_, ok = n.Value("missing")
	require.False(t, ok)

	f, ok := n.Float("sci")
	require.True(t, ok)
	require.InDelta(t, 3.5, f, 1e-9)
	_, ok = n.Float("cap")
	require.False(t, ok)
	_, ok = n.Float("missing")
	require.False(t, ok)

	n.Set("sci", "4")
	f, _ = n.Float("sci")
	require.InDelta(t, 4, f, 1e-9)
	n.Set("state", "Available")
	v, ok = n.Value("state")
	require.True(t, ok)
	require.Equal(t, "Available", v)
}

func TestParseKeyFloat(t *testing.T) {
	t.Parallel()
	v, ok := ParseKeyFloat([]byte("sci = 123.25\n"), "sci")
	require.True(t, ok)
	require.InDelta(t, 123.25, v, 1e-9)

	_, ok = ParseKeyFloat([]byte("sci = nan-ish garbage = x\n"), "sci")
	require.False(t, ok)

	_, ok = ParseKeyFloat([]byte("other = 1\n"), "sci")
	require.False(t, ok)

	_, ok = ParseKeyFloat(nil, "sci")
	require.False(t, ok)
}
