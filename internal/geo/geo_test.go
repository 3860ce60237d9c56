package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var aarhusCenter = Point{Lat: 56.15625426608341, Lng: 10.214135214922244}

func TestHaversine(t *testing.T) {
	assert.InDelta(t, 0, Haversine(aarhusCenter, aarhusCenter), 1e-9)

	// one degree of latitude is ~111.2 km everywhere
	d := Haversine(Point{Lat: 56, Lng: 10}, Point{Lat: 57, Lng: 10})
	assert.InDelta(t, 111195, d, 50)

	a := Point{Lat: 56.161147, Lng: 10.13455}
	assert.InDelta(t, Haversine(a, aarhusCenter), Haversine(aarhusCenter, a), 1e-9)
}

func TestZoneIndexWithin(t *testing.T) {
	points := []Point{
		{Lat: 56.161147, Lng: 10.13455}, // depot, ~5 km west
		aarhusCenter,
		{Lat: 56.1563, Lng: 10.2420},  // ~1.7 km east
		{Lat: 56.1563, Lng: 10.2500},  // ~2.2 km east
		{Lat: 56.1730, Lng: 10.2141},  // ~1.9 km north
		{Lat: 56.2000, Lng: 10.2141},  // ~4.9 km north
	}
	z := NewZoneIndex(points)

	got := z.Within(aarhusCenter, 2000)
	assert.Equal(t, []int{1, 2, 4}, got)

	for _, i := range got {
		assert.Less(t, Haversine(aarhusCenter, points[i]), 2000.0)
	}
}

func TestZoneIndexWithinEastWestAtHighLatitude(t *testing.T) {
	// 1.8 km due east at 56N is ~0.029 deg of longitude, more than the
	// 0.018 deg latitude half-width of a 2 km box
	east := Point{Lat: aarhusCenter.Lat, Lng: aarhusCenter.Lng + 0.029}
	require.Less(t, Haversine(aarhusCenter, east), 2000.0)

	z := NewZoneIndex([]Point{east})
	assert.Equal(t, []int{0}, z.Within(aarhusCenter, 2000))
}

func TestZoneIndexNonPositiveRadius(t *testing.T) {
	z := NewZoneIndex([]Point{aarhusCenter})
	assert.Empty(t, z.Within(aarhusCenter, 0))
	assert.Empty(t, z.Within(aarhusCenter, -5))
}

func TestZoneIndexConcurrentReaders(t *testing.T) {
	z := NewZoneIndex([]Point{aarhusCenter, {Lat: 56.2000, Lng: 10.2141}})
	done := make(chan []int, 8)
	for i := 0; i < 8; i++ {
		go func() { done <- z.Within(aarhusCenter, 2000) }()
	}
	for i := 0; i < 8; i++ {
		assert.Equal(t, []int{0}, <-done)
	}
}
