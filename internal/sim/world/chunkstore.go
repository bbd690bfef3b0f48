package world

import (
	"sort"

	"dynlight.ai/internal/lighting/model"
)

const chunkSize = 16

type ChunkKey struct {
	CX int
	CZ int
}

// Chunk is a 16x16 column of Height blocks. Index order is x fastest, then z, then y.
type Chunk struct {
	CX, CZ int
	Height int
	Blocks []uint16
}

func (c *Chunk) index(x, y, z int) int {
	return x + z*chunkSize + y*chunkSize*chunkSize
}

func (c *Chunk) Get(x, y, z int) uint16 { return c.Blocks[c.index(x, y, z)] }

func (c *Chunk) Set(x, y, z int, b uint16) { c.Blocks[c.index(x, y, z)] = b }

type WorldGen struct {
	Seed      int64
	Height    int
	GroundY   int
	BoundaryR int

	Air   uint16
	Stone uint16
	Dirt  uint16
	Grass uint16
}

// ChunkStore holds generated and edited chunks. Accessed only from the world loop
// goroutine.
type ChunkStore struct {
	gen    WorldGen
	chunks map[ChunkKey]*Chunk
	// Light levels for LIGHT blocks.
	levels map[model.Vec3i]int
}

func NewChunkStore(gen WorldGen) *ChunkStore {
	return &ChunkStore{
		gen:    gen,
		chunks: map[ChunkKey]*Chunk{},
		levels: map[model.Vec3i]int{},
	}
}

func (s *ChunkStore) InBounds(pos model.Vec3i) bool {
	if pos.Y < 0 || pos.Y >= s.gen.Height {
		return false
	}
	if s.gen.BoundaryR > 0 {
		r := s.gen.BoundaryR
		if pos.X < -r || pos.X > r || pos.Z < -r || pos.Z > r {
			return false
		}
	}
	return true
}

func (s *ChunkStore) GetBlock(pos model.Vec3i) uint16 {
	if !s.InBounds(pos) {
		return s.gen.Air
	}
	ch := s.getOrGenChunk(floorDiv(pos.X, chunkSize), floorDiv(pos.Z, chunkSize))
	return ch.Get(mod(pos.X, chunkSize), pos.Y, mod(pos.Z, chunkSize))
}

func (s *ChunkStore) SetBlock(pos model.Vec3i, b uint16) {
	if !s.InBounds(pos) {
		return
	}
	ch := s.getOrGenChunk(floorDiv(pos.X, chunkSize), floorDiv(pos.Z, chunkSize))
	ch.Set(mod(pos.X, chunkSize), pos.Y, mod(pos.Z, chunkSize), b)
}

func (s *ChunkStore) LightLevel(pos model.Vec3i) int { return s.levels[pos] }

func (s *ChunkStore) SetLightLevel(pos model.Vec3i, level int) {
	if level <= 0 {
		delete(s.levels, pos)
		return
	}
	s.levels[pos] = level
}

// LightPositions returns every position with a stored light level, ordered.
func (s *ChunkStore) LightPositions() []model.Vec3i {
	out := make([]model.Vec3i, 0, len(s.levels))
	for p := range s.levels {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return model.Less(out[i], out[j]) })
	return out
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

func (s *ChunkStore) Chunk(k ChunkKey) (*Chunk, bool) {
	ch, ok := s.chunks[k]
	return ch, ok
}

// PutChunk installs a chunk loaded from a snapshot.
func (s *ChunkStore) PutChunk(ch *Chunk) {
	s.chunks[ChunkKey{CX: ch.CX, CZ: ch.CZ}] = ch
}

func (s *ChunkStore) getOrGenChunk(cx, cz int) *Chunk {
	k := ChunkKey{CX: cx, CZ: cz}
	if ch, ok := s.chunks[k]; ok {
		return ch
	}
	ch := &Chunk{
		CX:     cx,
		CZ:     cz,
		Height: s.gen.Height,
		Blocks: make([]uint16, chunkSize*chunkSize*s.gen.Height),
	}
	s.generate(ch)
	s.chunks[k] = ch
	return ch
}

// generate fills a flat column: stone below, three layers of dirt, grass on top at
// GroundY-1. Everything above is air.
func (s *ChunkStore) generate(ch *Chunk) {
	g := s.gen
	top := g.GroundY - 1
	for y := 0; y < ch.Height; y++ {
		var b uint16
		switch {
		case y > top:
			b = g.Air
		case y == top:
			b = g.Grass
		case y >= top-3:
			b = g.Dirt
		default:
			b = g.Stone
		}
		for z := 0; z < chunkSize; z++ {
			for x := 0; x < chunkSize; x++ {
				ch.Set(x, y, z, b)
			}
		}
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
