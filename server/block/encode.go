package block

import "strconv"

var names = [kindCount]string{
	Air:           "minecraft:air",
	Stone:         "minecraft:stone",
	Dirt:          "minecraft:dirt",
	Grass:         "minecraft:grass_block",
	Bedrock:       "minecraft:bedrock",
	Sand:          "minecraft:sand",
	Gravel:        "minecraft:gravel",
	Water:         "minecraft:water",
	Lava:          "minecraft:lava",
	Log:           "minecraft:oak_log",
	Leaves:        "minecraft:oak_leaves",
	Glass:         "minecraft:glass",
	Netherrack:    "minecraft:netherrack",
	EndStone:      "minecraft:end_stone",
	Obsidian:      "minecraft:obsidian",
	Snow:          "minecraft:snow",
	RedstoneWire:  "minecraft:redstone_wire",
	RedstoneBlock: "minecraft:redstone_block",
	Lever:         "minecraft:lever",
	RedstoneLamp:  "minecraft:redstone_lamp",
}

var kinds = func() map[string]Kind {
	m := make(map[string]Kind, len(names))
	for k, name := range names {
		m[name] = Kind(k)
	}
	m["minecraft:cave_air"] = Air
	m["minecraft:void_air"] = Air
	return m
}()

// Name returns the vanilla name of the Kind.
func (k Kind) Name() string {
	if k >= kindCount {
		return names[Air]
	}
	return names[k]
}

// Encode returns the vanilla name and the properties of the State, as used in
// block state palettes.
func (s State) Encode() (string, map[string]string) {
	k := s.Kind()
	switch k {
	case Water, Lava:
		return k.Name(), map[string]string{"level": strconv.Itoa(int(s.Data()))}
	case RedstoneWire:
		return k.Name(), map[string]string{"power": strconv.Itoa(int(s.Data()))}
	case Lever:
		return k.Name(), map[string]string{"powered": strconv.FormatBool(s.Data() != 0), "face": "floor", "facing": "north"}
	case RedstoneLamp:
		return k.Name(), map[string]string{"lit": strconv.FormatBool(s.Data() != 0)}
	case Log:
		return k.Name(), map[string]string{"axis": "y"}
	case Leaves:
		return k.Name(), map[string]string{"persistent": "false", "distance": "1"}
	}
	return k.Name(), nil
}

// Decode returns the State for a vanilla name and properties. Unknown names
// decode to AirState and ok is false.
func Decode(name string, props map[string]string) (s State, ok bool) {
	k, ok := kinds[name]
	if !ok {
		return AirState, false
	}
	switch k {
	case Water, Lava:
		return New(k, uint8(intProp(props, "level"))), true
	case RedstoneWire:
		return RedstoneWireState(uint8(intProp(props, "power"))), true
	case Lever:
		return LeverState(props["powered"] == "true"), true
	case RedstoneLamp:
		return RedstoneLampState(props["lit"] == "true"), true
	}
	return New(k, 0), true
}

func intProp(props map[string]string, key string) int {
	v, err := strconv.Atoi(props[key])
	if err != nil || v < 0 || v > 15 {
		return 0
	}
	return v
}
