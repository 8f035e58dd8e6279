package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

// File format:
//
//	geofences:
//	  - booking_id: BK-1001
//	    label: Wembley Stadium
//	    center: {lat: 51.5560, lng: -0.2795}
//	    radius_meters: 400
type fenceFile struct {
	Geofences []Fence `yaml:"geofences"`
}

type Fence struct {
	BookingID    string  `yaml:"booking_id"`
	Label        string  `yaml:"label"`
	Center       Center  `yaml:"center"`
	RadiusMeters float64 `yaml:"radius_meters"`
	Active       *bool   `yaml:"active"`
}

type Center struct {
	Lat float64 `yaml:"lat"`
	Lng float64 `yaml:"lng"`
}

func (f Fence) isActive() bool {
	return f.Active == nil || *f.Active
}

var errNoGeofences = errors.New("no geofences in file")

func parseFile(raw []byte) ([]Fence, error) {
	var file fenceFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(file.Geofences) == 0 {
		return nil, errNoGeofences
	}

	seen := map[string]bool{}
	for i := range file.Geofences {
		f := &file.Geofences[i]
		f.BookingID = strings.TrimSpace(f.BookingID)
		switch {
		case f.BookingID == "":
			return nil, fmt.Errorf("entry %d: booking_id is required", i+1)
		case f.Center.Lat < -90 || f.Center.Lat > 90 || f.Center.Lng < -180 || f.Center.Lng > 180:
			return nil, fmt.Errorf("entry %d (%s): center out of range", i+1, f.BookingID)
		case f.RadiusMeters <= 0:
			return nil, fmt.Errorf("entry %d (%s): radius_meters must be positive", i+1, f.BookingID)
		case seen[f.BookingID] && f.isActive():
			return nil, fmt.Errorf("entry %d: duplicate active geofence for %s", i+1, f.BookingID)
		}
		if f.isActive() {
			seen[f.BookingID] = true
		}
	}
	return file.Geofences, nil
}
