package chunk

// Status is the generation status of a chunk.
type Status uint8

const (
	// StatusEmpty is the status of a chunk that has not run through a
	// generator yet.
	StatusEmpty Status = iota
	// StatusGenerated is the status of a chunk whose own terrain is
	// generated, but whose neighbour dependent features are not.
	StatusGenerated
	// StatusPopulated is the status of a chunk that went through the
	// population pass after all its neighbours were generated.
	StatusPopulated
)

// String returns the vanilla name used for the status on disk.
func (s Status) String() string {
	switch s {
	case StatusGenerated:
		return "minecraft:noise"
	case StatusPopulated:
		return "minecraft:full"
	}
	return "minecraft:empty"
}

func parseStatus(s string) Status {
	switch s {
	case "minecraft:empty", "empty", "":
		return StatusEmpty
	case "minecraft:full", "full":
		return StatusPopulated
	}
	return StatusGenerated
}
