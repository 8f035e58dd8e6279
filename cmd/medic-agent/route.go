package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/agent"
	"github.com/goccy/go-yaml"
)

// Route file format:
//
//	interval: 30s
//	loop: true
//	points:
//	  - {lat: 51.5560, lng: -0.2795, accuracy: 8, battery: 91}
//	  - {fail: true}
type routeFile struct {
	Interval string       `yaml:"interval"`
	Loop     bool         `yaml:"loop"`
	Points   []routePoint `yaml:"points"`
}

type routePoint struct {
	Lat      float64  `yaml:"lat"`
	Lng      float64  `yaml:"lng"`
	Accuracy *float64 `yaml:"accuracy"`
	Battery  *float64 `yaml:"battery"`
	Fail     bool     `yaml:"fail"`
}

var (
	errEmptyRoute   = errors.New("route has no points")
	errRouteEnded   = errors.New("route ended")
	errSimulatedGPS = errors.New("simulated position failure")
)

// routeSource replays a recorded route as the device position provider.
type routeSource struct {
	mu     sync.Mutex
	points []routePoint
	loop   bool
	next   int
}

func parseRoute(raw []byte) (*routeSource, time.Duration, error) {
	var rf routeFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, 0, fmt.Errorf("parse route: %w", err)
	}
	if len(rf.Points) == 0 {
		return nil, 0, errEmptyRoute
	}

	var interval time.Duration
	if rf.Interval != "" {
		d, err := time.ParseDuration(rf.Interval)
		if err != nil || d <= 0 {
			return nil, 0, fmt.Errorf("invalid interval %q", rf.Interval)
		}
		interval = d
	}
	return &routeSource{points: rf.Points, loop: rf.Loop}, interval, nil
}

func (r *routeSource) Current(context.Context) (agent.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.points) {
		if !r.loop {
			return agent.Position{}, errRouteEnded
		}
		r.next = 0
	}
	p := r.points[r.next]
	r.next++

	if p.Fail {
		return agent.Position{}, errSimulatedGPS
	}
	return agent.Position{Lat: p.Lat, Lng: p.Lng, Accuracy: p.Accuracy, BatteryLevel: p.Battery}, nil
}

type grantedPermission bool

func (g grantedPermission) LocationPermitted(context.Context) (bool, error) {
	return bool(g), nil
}
