package world_test

import (
	"testing"

	"github.com/MrWong99/murmur/internal/world"
)

func TestPhaseOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tick int64
		want world.TimeOfDay
	}{
		{0, world.Night},
		{5, world.Night},
		{6, world.Morning},
		{11, world.Morning},
		{12, world.Afternoon},
		{17, world.Afternoon},
		{18, world.Evening},
		{23, world.Evening},
		{24, world.Night},
		{30, world.Morning},
	}
	for _, tt := range tests {
		if got := world.PhaseOf(tt.tick); got != tt.want {
			t.Errorf("PhaseOf(%d) = %s, want %s", tt.tick, got, tt.want)
		}
	}
}

func TestWeatherOn_StableWithinDay(t *testing.T) {
	t.Parallel()
	valid := map[string]bool{"Sunny": true, "Cloudy": true, "Rainy": true, "Windy": true, "Foggy": true}

	for day := int64(0); day < 10; day++ {
		first := world.WeatherOn(day * 24)
		if !valid[first] {
			t.Fatalf("day %d: unexpected weather %q", day, first)
		}
		for hour := int64(1); hour < 24; hour++ {
			if got := world.WeatherOn(day*24 + hour); got != first {
				t.Errorf("day %d hour %d: weather %q, want %q", day, hour, got, first)
			}
		}
	}
}

func TestAdvanceClock(t *testing.T) {
	t.Parallel()
	st := newWorld(t)

	for i := 0; i < 30; i++ {
		prev := st.Tick
		st.AdvanceClock()
		if st.Tick != prev+1 {
			t.Fatalf("Tick = %d after %d", st.Tick, prev)
		}
		if st.TimeOfDay != world.PhaseOf(st.Tick) || st.Weather != world.WeatherOn(st.Tick) {
			t.Errorf("tick %d: derived fields out of sync", st.Tick)
		}
		if st.Location != "Town Square" {
			t.Errorf("Location = %q", st.Location)
		}
	}
}
