package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchAddress(t *testing.T) {
	cases := []struct {
		addr   string
		tokens []string
		match  bool
	}{
		{"123 Main St, Dublin 4", []string{"dublin"}, true},
		{"456 Side St, Cork", []string{"dublin"}, false},
		{"456 Side St, Cork", []string{"dublin", "cork"}, true},
		{"Sandymount Avenue, Sandymount", []string{"SANDYMOUNT"}, true},
		{"", []string{"dublin"}, false},
		{"123 Main St, Dublin 4", nil, false},
		{"123 Main St, Dublin 4", []string{""}, false},
	}

	for _, c := range cases {
		require.Equal(t, c.match, MatchAddress(c.addr, c.tokens), "addr=%q tokens=%v", c.addr, c.tokens)
	}
}

func TestExtractPlaceName(t *testing.T) {
	cases := []struct {
		addr  string
		place string
	}{
		{"12 The Rise, Mount Merrion, Co. Dublin", "mount merrion"},
		{"Apartment 4, Smithfield Square, Smithfield, Dublin 7", "smithfield"},
		{"123 Main St, Dublin 4", ""},
		{"", ""},
	}

	for _, c := range cases {
		require.Equal(t, c.place, ExtractPlaceName(c.addr), "addr=%q", c.addr)
	}
}

func TestParsePrice(t *testing.T) {
	require.Equal(t, 350000, ParsePrice("€350,000"))
	require.Equal(t, 2200, ParsePrice("€2,200 per month"))
	require.Equal(t, 0, ParsePrice("Price on Application"))
	require.Equal(t, 0, ParsePrice(""))
}

func TestCapitalize(t *testing.T) {
	require.Equal(t, "Mount Merrion", Capitalize("mount merrion"))
	require.Equal(t, "", Capitalize(""))
}
