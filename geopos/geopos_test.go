package geopos_test

import (
	"strings"
	"testing"

	"github.com/kb9tek/aloft/geopos"
	"github.com/stretchr/testify/require"
)

func TestUTMKnownPoint(t *testing.T) {
	// MIT, roughly - same fixture the teacher's ll2utm example prints.
	s, err := geopos.UTM(42.662139, -71.365553)
	require.NoError(t, err)
	require.True(t, strings.Contains(s, "zone=19"))
	require.True(t, strings.Contains(s, "N"))
}

func TestMGRSKnownPoint(t *testing.T) {
	s, err := geopos.MGRS(42.662139, -71.365553, 5)
	require.NoError(t, err)
	require.NotEmpty(t, s)
}
