package gps

import (
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// Parser accumulates NMEA sentences into a Fix. RMC sentences carry the
// position and complete a fix; GGA adds quality and satellite count.
type Parser struct {
	current Fix
}

// Feed parses one line. It returns the updated fix and true when the line
// was an RMC sentence. Non-NMEA lines and sentences of other types are
// ignored; malformed sentences return the parse error.
func (p *Parser) Feed(line string) (Fix, bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false, err
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		p.current.Time = m.Time.String()
		p.current.Date = m.Date.String()
		p.current.Latitude = m.Latitude
		p.current.Longitude = m.Longitude
		p.current.SpeedKnots = m.Speed
		p.current.CourseDeg = m.Course
		p.current.Validity = m.Validity
		p.current.MagVariation = m.Variation
		return p.current, true, nil

	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		p.current.Quality = m.FixQuality
		p.current.Satellites = m.NumSatellites
	}
	return Fix{}, false, nil
}
