package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/biome"
)

const (
	// DataVersion is the vanilla data version written into every encoded
	// chunk.
	DataVersion = 3955
	// minDataVersion is the oldest data version using the section layout
	// that Decode understands.
	minDataVersion = 2860
)

// ErrInvalid is returned by Decode for payloads that are not a valid chunk
// for the requested position and range.
var ErrInvalid = errors.New("invalid chunk data")

// Encode encodes a Column into big endian NBT laid out the same way vanilla
// lays out chunks in region files. Encoding the same Column twice produces
// identical bytes.
func Encode(col *Column) ([]byte, error) {
	c := col.Chunk
	sections := make([]any, c.Sections())
	for s := range sections {
		sections[s] = c.encodeSection(s)
	}
	m := map[string]any{
		"DataVersion": int32(DataVersion),
		"xPos":        c.pos[0],
		"yPos":        int32(c.r[0] >> 4),
		"zPos":        c.pos[1],
		"Status":      c.status.String(),
		"LastUpdate":  col.LastUpdate,
		"sections":    sections,
	}
	if len(col.BlockTicks) > 0 {
		m["block_ticks"] = encodeTicks(col.BlockTicks)
	}
	if len(col.FluidTicks) > 0 {
		m["fluid_ticks"] = encodeTicks(col.FluidTicks)
	}
	if len(col.Entities) > 0 {
		entities := make([]any, len(col.Entities))
		for i, e := range col.Entities {
			data := maps.Clone(e.Data)
			if data == nil {
				data = make(map[string]any, 2)
			}
			data["id"] = e.Type
			data["UUID"] = encodeUUID(e.ID)
			entities[i] = data
		}
		m["Entities"] = entities
	}
	b, err := nbt.MarshalEncoding(ordered(m), nbt.BigEndian)
	if err != nil {
		return nil, fmt.Errorf("encode chunk %v: %w", c.pos, err)
	}
	return b, nil
}

func (c *Chunk) encodeSection(s int) map[string]any {
	blocks := c.blocks[s*4096 : (s+1)*4096]
	states, indices := buildPalette(blocks)
	palette := make([]any, len(states))
	for i, st := range states {
		name, props := block.State(st).Encode()
		entry := map[string]any{"Name": name}
		if len(props) > 0 {
			p := make(map[string]any, len(props))
			for k, v := range props {
				p[k] = v
			}
			entry["Properties"] = p
		}
		palette[i] = entry
	}
	blockStates := map[string]any{"palette": palette}
	if b := bitsPerIndex(len(states), 4); b > 0 {
		blockStates["data"] = longArray(packIndices(indices, b))
	}

	biomeIDs := make([]uint32, 64)
	for i, b := range c.biomes[s*64 : (s+1)*64] {
		biomeIDs[i] = uint32(b)
	}
	biomeVals, biomeIndices := buildPalette(biomeIDs)
	biomePalette := make([]any, len(biomeVals))
	for i, b := range biomeVals {
		biomePalette[i] = biome.Biome(b).String()
	}
	biomes := map[string]any{"palette": biomePalette}
	if b := bitsPerIndex(len(biomeVals), 1); b > 0 {
		biomes["data"] = longArray(packIndices(biomeIndices, b))
	}

	var blockLight, skyLight [2048]byte
	copy(blockLight[:], c.blockLight[s*2048:])
	copy(skyLight[:], c.skyLight[s*2048:])
	return map[string]any{
		"Y":            uint8(int8((c.r[0] >> 4) + s)),
		"block_states": blockStates,
		"biomes":       biomes,
		"BlockLight":   blockLight,
		"SkyLight":     skyLight,
	}
}

// buildPalette returns the distinct values in the order they first appear
// and the index of every value into that palette.
func buildPalette(values []uint32) (palette []uint32, indices []uint16) {
	lookup := make(map[uint32]uint16, 8)
	indices = make([]uint16, len(values))
	for i, v := range values {
		idx, ok := lookup[v]
		if !ok {
			idx = uint16(len(palette))
			lookup[v] = idx
			palette = append(palette, v)
		}
		indices[i] = idx
	}
	return palette, indices
}

func encodeTicks(ticks []ScheduledUpdate) []any {
	l := make([]any, len(ticks))
	for i, t := range ticks {
		l[i] = map[string]any{
			"i": t.Block,
			"x": int32(t.Pos[0]),
			"y": int32(t.Pos[1]),
			"z": int32(t.Pos[2]),
			"t": int32(t.Delay),
			"p": t.Priority,
		}
	}
	return l
}

func encodeUUID(id uuid.UUID) [4]int32 {
	var v [4]int32
	for i := range v {
		v[i] = int32(binary.BigEndian.Uint32(id[i*4:]))
	}
	return v
}

// Decode decodes a Column encoded with Encode, or by vanilla. The payload is
// validated against the position and height range expected by the caller:
// any mismatch results in an error wrapping ErrInvalid.
func Decode(data []byte, want Pos, r cube.Range) (*Column, error) {
	var m map[string]any
	if err := nbt.UnmarshalEncoding(data, &m, nbt.BigEndian); err != nil {
		return nil, fmt.Errorf("%w: decode nbt: %v", ErrInvalid, err)
	}
	longs, err := longArrays(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode nbt: %v", ErrInvalid, err)
	}
	restoreLongs(m, "", longs)
	version, ok := intTag(m, "DataVersion")
	if !ok {
		return nil, fmt.Errorf("%w: missing DataVersion", ErrInvalid)
	}
	if version > DataVersion || version < minDataVersion {
		return nil, fmt.Errorf("%w: unsupported data version %v", ErrInvalid, version)
	}
	x, okX := intTag(m, "xPos")
	z, okZ := intTag(m, "zPos")
	if !okX || !okZ || (Pos{int32(x), int32(z)}) != want {
		return nil, fmt.Errorf("%w: chunk at (%v, %v) stored in slot of %v", ErrInvalid, x, z, want)
	}
	if y, ok := intTag(m, "yPos"); ok && int(y) != r[0]>>4 {
		return nil, fmt.Errorf("%w: chunk starts at section %v, world at %v", ErrInvalid, y, r[0]>>4)
	}

	c := New(want, r)
	status, _ := m["Status"].(string)
	c.status = parseStatus(status)
	col := &Column{Chunk: c}
	col.LastUpdate, _ = m["LastUpdate"].(int64)

	sections, _ := m["sections"].([]any)
	for _, s := range sections {
		sub, ok := s.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: section is not a compound", ErrInvalid)
		}
		if err := c.decodeSection(sub); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if col.BlockTicks, err = decodeTicks(m["block_ticks"]); err != nil {
		return nil, fmt.Errorf("%w: block ticks: %v", ErrInvalid, err)
	}
	if col.FluidTicks, err = decodeTicks(m["fluid_ticks"]); err != nil {
		return nil, fmt.Errorf("%w: fluid ticks: %v", ErrInvalid, err)
	}
	entities, _ := m["Entities"].([]any)
	for _, e := range entities {
		data, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: entity is not a compound", ErrInvalid)
		}
		id, ok := decodeUUID(data["UUID"])
		if !ok {
			return nil, fmt.Errorf("%w: entity without valid UUID", ErrInvalid)
		}
		typ, _ := data["id"].(string)
		delete(data, "UUID")
		delete(data, "id")
		col.Entities = append(col.Entities, EntityData{ID: id, Type: typ, Data: data})
	}
	c.dirty = false
	return col, nil
}

func (c *Chunk) decodeSection(m map[string]any) error {
	y, ok := m["Y"].(uint8)
	if !ok {
		return fmt.Errorf("section without Y")
	}
	s := int(int8(y)) - c.r[0]>>4
	if s < 0 || s >= c.Sections() {
		// Vanilla stores light-only sections just outside the height range.
		return nil
	}
	if bs, ok := m["block_states"].(map[string]any); ok {
		palette, _ := bs["palette"].([]any)
		if len(palette) == 0 {
			return fmt.Errorf("section %v: empty block palette", y)
		}
		states := make([]block.State, len(palette))
		for i, e := range palette {
			entry, _ := e.(map[string]any)
			name, _ := entry["Name"].(string)
			props := make(map[string]string)
			if p, ok := entry["Properties"].(map[string]any); ok {
				for k, v := range p {
					props[k], _ = v.(string)
				}
			}
			states[i], _ = block.Decode(name, props)
		}
		longs, _ := int64s(bs["data"])
		indices, err := unpackIndices(longs, 4096, len(states), 4)
		if err != nil {
			return fmt.Errorf("section %v: block states: %w", y, err)
		}
		base := s * 4096
		for i, idx := range indices {
			c.blocks[base+i] = uint32(states[idx])
		}
	}
	if bm, ok := m["biomes"].(map[string]any); ok {
		palette, _ := bm["palette"].([]any)
		if len(palette) == 0 {
			return fmt.Errorf("section %v: empty biome palette", y)
		}
		biomes := make([]biome.Biome, len(palette))
		for i, e := range palette {
			name, _ := e.(string)
			biomes[i], _ = biome.ByName(name)
		}
		longs, _ := int64s(bm["data"])
		indices, err := unpackIndices(longs, 64, len(biomes), 1)
		if err != nil {
			return fmt.Errorf("section %v: biomes: %w", y, err)
		}
		for i, idx := range indices {
			c.biomes[s*64+i] = biomes[idx]
		}
	}
	for key, dst := range map[string][]uint8{"BlockLight": c.blockLight, "SkyLight": c.skyLight} {
		v, ok := m[key]
		if !ok {
			continue
		}
		light, ok := byteArray(v)
		if !ok || len(light) != 2048 {
			return fmt.Errorf("section %v: %v must hold 2048 bytes", y, key)
		}
		copy(dst[s*2048:], light)
	}
	return nil
}

func decodeTicks(v any) ([]ScheduledUpdate, error) {
	if v == nil {
		return nil, nil
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("not a list")
	}
	ticks := make([]ScheduledUpdate, 0, len(l))
	for _, e := range l {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entry is not a compound")
		}
		x, okX := intTag(m, "x")
		y, okY := intTag(m, "y")
		z, okZ := intTag(m, "z")
		if !okX || !okY || !okZ {
			return nil, fmt.Errorf("entry without position")
		}
		delay, _ := intTag(m, "t")
		priority, _ := intTag(m, "p")
		name, _ := m["i"].(string)
		ticks = append(ticks, ScheduledUpdate{Pos: cube.Pos{int(x), int(y), int(z)}, Block: name, Delay: delay, Priority: int32(priority)})
	}
	return ticks, nil
}

func decodeUUID(v any) (uuid.UUID, bool) {
	var id uuid.UUID
	arr, ok := v.([4]int32)
	if !ok {
		return id, false
	}
	for i, part := range arr {
		binary.BigEndian.PutUint32(id[i*4:], uint32(part))
	}
	return id, true
}

// intTag reads an integer tag of any width from a compound.
func intTag(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case uint8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

var int64Type = reflect.TypeOf(int64(0))

// longArray turns a slice into a fixed size array so that it is encoded as
// TAG_Long_Array rather than a TAG_List.
func longArray(v []int64) any {
	arr := reflect.New(reflect.ArrayOf(len(v), int64Type)).Elem()
	reflect.Copy(arr, reflect.ValueOf(v))
	return arr.Interface()
}

// int64s reads back a long array decoded into an interface value.
func int64s(v any) ([]int64, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Array && rv.Kind() != reflect.Slice) || rv.Type().Elem().Kind() != reflect.Int64 {
		return nil, false
	}
	out := make([]int64, rv.Len())
	reflect.Copy(reflect.ValueOf(out), rv)
	return out, true
}

// restoreLongs replaces every long array in v with the values read by
// longArrays, matched by path.
func restoreLongs(v any, path string, longs map[string][]int64) {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			p := path + "/" + k
			if l, ok := longs[p]; ok {
				v[k] = longArray(l)
				continue
			}
			restoreLongs(e, p, longs)
		}
	case []any:
		for i, e := range v {
			p := path + "/" + strconv.Itoa(i)
			if l, ok := longs[p]; ok {
				v[i] = longArray(l)
				continue
			}
			restoreLongs(e, p, longs)
		}
	}
}

func byteArray(v any) ([]byte, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Array && rv.Kind() != reflect.Slice) || rv.Type().Elem().Kind() != reflect.Uint8 {
		return nil, false
	}
	out := make([]byte, rv.Len())
	reflect.Copy(reflect.ValueOf(out), rv)
	return out, true
}

// ordered converts every compound held in v into a struct with its fields
// sorted by name. Go maps have no order, structs are encoded field by field,
// so this keeps encoding deterministic.
func ordered(v any) any {
	switch v := v.(type) {
	case map[string]any:
		keys := slices.Sorted(maps.Keys(v))
		fields := make([]reflect.StructField, 0, len(keys))
		values := make([]reflect.Value, 0, len(keys))
		for _, k := range keys {
			if v[k] == nil {
				continue
			}
			val := reflect.ValueOf(ordered(v[k]))
			fields = append(fields, reflect.StructField{
				Name: "F" + strconv.Itoa(len(fields)),
				Type: val.Type(),
				Tag:  reflect.StructTag(`nbt:"` + k + `"`),
			})
			values = append(values, val)
		}
		s := reflect.New(reflect.StructOf(fields)).Elem()
		for i, val := range values {
			s.Field(i).Set(val)
		}
		return s.Interface()
	case []any:
		l := make([]any, len(v))
		for i, e := range v {
			l[i] = ordered(e)
		}
		return l
	case []map[string]any:
		l := make([]any, len(v))
		for i, e := range v {
			l[i] = ordered(e)
		}
		return l
	}
	return v
}
