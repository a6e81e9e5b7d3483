package world

import "math/rand/v2"

// HoursPerDay is the length of a simulated day in ticks.
const HoursPerDay = 24

// DefaultLocation is the location the clock reports until NPC schedules exist.
const DefaultLocation = "Town Square"

var weathers = []string{"Sunny", "Cloudy", "Rainy", "Windy", "Foggy"}

// weatherSeed mixes the day number so adjacent days do not correlate.
const weatherSeed = 0x6d75726d7572

// PhaseOf returns the day phase of tick.
func PhaseOf(tick int64) TimeOfDay {
	switch hour := tick % HoursPerDay; {
	case hour < 6:
		return Night
	case hour < 12:
		return Morning
	case hour < 18:
		return Afternoon
	default:
		return Evening
	}
}

// WeatherOn returns the weather of the day containing tick. The choice is
// deterministic per day.
func WeatherOn(tick int64) string {
	day := uint64(tick / HoursPerDay)
	r := rand.New(rand.NewPCG(day, weatherSeed))
	return weathers[r.IntN(len(weathers))]
}

// AdvanceClock moves the world one tick forward and recomputes the derived
// fields. It is the only place Tick changes.
func (s *State) AdvanceClock() {
	s.Tick++
	s.syncClock()
}

func (s *State) syncClock() {
	s.TimeOfDay = PhaseOf(s.Tick)
	s.Weather = WeatherOn(s.Tick)
	s.Location = DefaultLocation
}
