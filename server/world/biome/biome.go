// Package biome holds the biomes a chunk may store, along with the climate
// values the generator uses to pick between them.
package biome

// Biome is a single biome stored per 4x4x4 cell of a chunk.
type Biome uint8

const (
	Plains Biome = iota
	Desert
	Ocean
	Forest
	Taiga
	SnowyPlains
	Swamp
	River
	NetherWastes
	TheEnd

	count
)

type climate struct {
	name        string
	temperature float64
	rainfall    float64
}

var climates = [count]climate{
	Plains:       {"minecraft:plains", 0.8, 0.4},
	Desert:       {"minecraft:desert", 2.0, 0.0},
	Ocean:        {"minecraft:ocean", 0.5, 0.5},
	Forest:       {"minecraft:forest", 0.7, 0.8},
	Taiga:        {"minecraft:taiga", 0.25, 0.8},
	SnowyPlains:  {"minecraft:snowy_plains", 0.0, 0.5},
	Swamp:        {"minecraft:swamp", 0.8, 0.9},
	River:        {"minecraft:river", 0.5, 0.5},
	NetherWastes: {"minecraft:nether_wastes", 2.0, 0.0},
	TheEnd:       {"minecraft:the_end", 0.5, 0.5},
}

var byName = func() map[string]Biome {
	m := make(map[string]Biome, len(climates))
	for b, c := range climates {
		m[c.name] = Biome(b)
	}
	return m
}()

// String returns the vanilla name of the biome, such as minecraft:plains.
func (b Biome) String() string {
	if b >= count {
		return climates[Plains].name
	}
	return climates[b].name
}

// Temperature returns the temperature of the biome.
func (b Biome) Temperature() float64 {
	if b >= count {
		return climates[Plains].temperature
	}
	return climates[b].temperature
}

// Rainfall returns the rainfall of the biome.
func (b Biome) Rainfall() float64 {
	if b >= count {
		return climates[Plains].rainfall
	}
	return climates[b].rainfall
}

// ByName looks up a biome by its vanilla name.
func ByName(name string) (Biome, bool) {
	b, ok := byName[name]
	return b, ok
}

// Select picks a land biome from a temperature and rainfall pair, both in the
// range 0-1.
func Select(temperature, rainfall float64) Biome {
	switch {
	case temperature < 0.2:
		return SnowyPlains
	case temperature < 0.4:
		return Taiga
	case temperature > 0.85 && rainfall < 0.35:
		return Desert
	case rainfall > 0.8:
		return Swamp
	case rainfall > 0.55:
		return Forest
	}
	return Plains
}
