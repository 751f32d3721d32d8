// Package geopos formats geodetic coordinates for log lines, grounded on
// the teacher's src/coordconv.go helpers and cmd/samoyed-ll2utm main.go.
// Nothing in the protocol needs a position fix to function, but a
// gateway binary logging where its last-heard packet came from is a
// natural extra ambient feature in the teacher's own idiom.
package geopos

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/tzneal/coordconv"
)

func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// HemisphereRune renders a coordconv.Hemisphere the way log lines expect
// it: 'N', 'S', or '?'/'!' for anything unexpected.
func HemisphereRune(h coordconv.Hemisphere) rune {
	switch h {
	case coordconv.HemisphereNorth:
		return 'N'
	case coordconv.HemisphereSouth:
		return 'S'
	case coordconv.HemisphereInvalid:
		return '!'
	default:
		return '?'
	}
}

// UTM converts a decimal-degree lat/lon pair to UTM, returning the log
// string the teacher's ll2utm tool prints, e.g.
// "zone=19N easting=327000 northing=4692000".
func UTM(latDegrees, lonDegrees float64) (string, error) {
	var latlng = s2.LatLng{
		Lat: s1.Angle(degreesToRadians(latDegrees)),
		Lng: s1.Angle(degreesToRadians(lonDegrees)),
	}

	coord, err := coordconv.DefaultUTMConverter.ConvertFromGeodetic(latlng, 0)
	if err != nil {
		return "", fmt.Errorf("geopos: convert to UTM: %w", err)
	}

	return fmt.Sprintf("zone=%d%c easting=%.0f northing=%.0f", coord.Zone, HemisphereRune(coord.Hemisphere), coord.Easting, coord.Northing), nil
}

// MGRS converts a decimal-degree lat/lon pair to an MGRS string at the
// given precision (1-5, matching coordconv's digit-pair precision).
func MGRS(latDegrees, lonDegrees float64, precision int) (string, error) {
	var latlng = s2.LatLng{
		Lat: s1.Angle(degreesToRadians(latDegrees)),
		Lng: s1.Angle(degreesToRadians(lonDegrees)),
	}

	coord, err := coordconv.DefaultMGRSConverter.ConvertFromGeodetic(latlng, precision)
	if err != nil {
		return "", fmt.Errorf("geopos: convert to MGRS: %w", err)
	}

	return fmt.Sprintf("%v", coord), nil
}
