package world

// StartLocation is where a fresh player begins.
const StartLocation = "Market Plaza"

// StartGold is the purse of a fresh player.
const StartGold = 50

// CharacterSeed describes a character of a fresh world.
type CharacterSeed struct {
	ID          string   `yaml:"id"          json:"id"`
	Personality string   `yaml:"personality" json:"personality"`
	Inventory   []string `yaml:"inventory"   json:"inventory"`
}

// DefaultRoster is used when the configuration names no characters.
var DefaultRoster = []CharacterSeed{
	{ID: "malrik_merchant", Personality: "sharp-eyed merchant", Inventory: []string{"spice_pouch"}},
	{ID: "helena_guard", Personality: "steadfast town guard", Inventory: []string{"spear", "shield"}},
	{ID: "rowan_bard", Personality: "traveling bard", Inventory: []string{"lute", "scroll"}},
}

// DefaultChunks are the locations of a fresh world.
func DefaultChunks() map[string]Chunk {
	return map[string]Chunk{
		"Market Plaza": {Neighbors: []string{"Town Square"}},
		"Town Square":  {Neighbors: []string{"Market Plaza", "City Gate"}},
		"City Gate":    {Neighbors: []string{"Town Square"}},
	}
}

// New builds a fresh world populated from seeds (DefaultRoster when empty).
// Characters start without a memory store; the caller attaches one.
func New(seeds []CharacterSeed) (*State, error) {
	if len(seeds) == 0 {
		seeds = DefaultRoster
	}
	s := &State{
		PlayerLocation:  StartLocation,
		PlayerInventory: []string{},
		PlayerStats:     PlayerStats{Gold: StartGold},
		WorldChunks:     DefaultChunks(),
		Characters:      make(map[string]*Character, len(seeds)),
		ActiveQuests:    []string{},
		CompletedQuests: []string{},
		QuestHistory:    []string{},
	}
	for _, seed := range seeds {
		c := &Character{
			ID:          seed.ID,
			Personality: seed.Personality,
			Emotion:     EmotionNeutral,
			Inventory:   append([]string(nil), seed.Inventory...),
			MemoryLog:   []string{},
		}
		if err := s.AddCharacter(c); err != nil {
			return nil, err
		}
	}
	s.syncClock()
	return s, nil
}
