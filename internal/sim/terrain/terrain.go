// Package terrain is an in-memory block world used by tests and by the
// standalone server mode.
package terrain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"territorybeacons.dev/internal/sim/territory"
)

type Block uint8

const (
	Air Block = iota
	Solid
	Liquid
	Marker
	Beacon
	Container
)

func (b Block) String() string {
	switch b {
	case Air:
		return "AIR"
	case Solid:
		return "SOLID"
	case Liquid:
		return "LIQUID"
	case Marker:
		return "MARKER"
	case Beacon:
		return "BEACON"
	case Container:
		return "CONTAINER"
	}
	return fmt.Sprintf("BLOCK(%d)", uint8(b))
}

const ChunkSize = 16

var ErrNoColumn = errors.New("terrain: column not loaded")

type chunkKey struct {
	World  string
	CX, CZ int
}

type chunk struct {
	cols [ChunkSize][ChunkSize]map[int]Block
}

type colKey struct {
	World string
	X, Z  int
}

type Drop struct {
	At   territory.Location
	Item string
}

// Store holds blocks in 16x16 column chunks. With a ground level set, chunks
// missing for that world are generated flat on first access; otherwise a
// missing column is an error.
type Store struct {
	mu     sync.RWMutex
	chunks map[chunkKey]*chunk
	ground map[string]int
	fail   map[colKey]error
	drops  []Drop
}

func New() *Store {
	return &Store{
		chunks: map[chunkKey]*chunk{},
		ground: map[string]int{},
		fail:   map[colKey]error{},
	}
}

// NewFlat returns a store that generates flat ground at groundY in the
// given worlds.
func NewFlat(groundY int, worlds ...string) *Store {
	s := New()
	for _, w := range worlds {
		s.ground[w] = groundY
	}
	return s
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func (s *Store) columnLocked(world string, x, z int, create bool) map[int]Block {
	k := chunkKey{World: world, CX: floorDiv(x, ChunkSize), CZ: floorDiv(z, ChunkSize)}
	c := s.chunks[k]
	if c == nil {
		g, flat := s.ground[world]
		if !create && !flat {
			return nil
		}
		c = &chunk{}
		if flat {
			for lx := 0; lx < ChunkSize; lx++ {
				for lz := 0; lz < ChunkSize; lz++ {
					c.cols[lx][lz] = map[int]Block{g: Solid, g - 1: Solid, g - 2: Solid}
				}
			}
		}
		s.chunks[k] = c
	}
	lx, lz := floorMod(x, ChunkSize), floorMod(z, ChunkSize)
	col := c.cols[lx][lz]
	if col == nil {
		if !create {
			return nil
		}
		col = map[int]Block{}
		c.cols[lx][lz] = col
	}
	return col
}

func (s *Store) Set(l territory.Location, b Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.columnLocked(l.World, l.X, l.Z, true)
	if b == Air {
		delete(col, l.Y)
		return
	}
	col[l.Y] = b
}

func (s *Store) Get(l territory.Location) Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.columnLocked(l.World, l.X, l.Z, false)
	if col == nil {
		return Air
	}
	return col[l.Y]
}

// FailColumn makes every query on the column return err until cleared with
// a nil err.
func (s *Store) FailColumn(world string, x, z int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := colKey{World: world, X: x, Z: z}
	if err == nil {
		delete(s.fail, k)
		return
	}
	s.fail[k] = err
}

func (s *Store) Drops() []Drop {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Drop(nil), s.drops...)
}

// Count returns how many cells hold b.
func (s *Store) Count(b Block) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.chunks {
		for lx := range c.cols {
			for lz := range c.cols[lx] {
				for _, v := range c.cols[lx][lz] {
					if v == b {
						n++
					}
				}
			}
		}
	}
	return n
}

func (s *Store) failed(world string, x, z int) error {
	return s.fail[colKey{World: world, X: x, Z: z}]
}

func (s *Store) TopmostSurface(ctx context.Context, world string, x, z int) (territory.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(world, x, z); err != nil {
		return territory.Location{}, err
	}
	col := s.columnLocked(world, x, z, false)
	if len(col) == 0 {
		return territory.Location{}, fmt.Errorf("%w: %s %d,%d", ErrNoColumn, world, x, z)
	}
	top, first := 0, true
	for y := range col {
		if first || y > top {
			top, first = y, false
		}
	}
	return territory.Location{World: world, X: x, Y: top, Z: z}, nil
}

func (s *Store) IsSolidSupport(ctx context.Context, l territory.Location) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(l.World, l.X, l.Z); err != nil {
		return false, err
	}
	col := s.columnLocked(l.World, l.X, l.Z, false)
	if col == nil {
		return false, ErrNoColumn
	}
	switch col[l.Y] {
	case Solid, Beacon, Container:
		return true, nil
	}
	return false, nil
}

func (s *Store) IsEmpty(ctx context.Context, l territory.Location) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(l.World, l.X, l.Z); err != nil {
		return false, err
	}
	col := s.columnLocked(l.World, l.X, l.Z, false)
	if col == nil {
		return false, ErrNoColumn
	}
	return col[l.Y] == Air, nil
}

func (s *Store) PlaceMarker(ctx context.Context, l territory.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(l.World, l.X, l.Z); err != nil {
		return err
	}
	s.columnLocked(l.World, l.X, l.Z, true)[l.Y] = Marker
	return nil
}

func (s *Store) ClearMarker(ctx context.Context, l territory.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(l.World, l.X, l.Z); err != nil {
		return err
	}
	col := s.columnLocked(l.World, l.X, l.Z, false)
	if col != nil && col[l.Y] == Marker {
		delete(col, l.Y)
	}
	return nil
}

func (s *Store) RemoveBlock(ctx context.Context, l territory.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(l.World, l.X, l.Z); err != nil {
		return err
	}
	if col := s.columnLocked(l.World, l.X, l.Z, false); col != nil {
		delete(col, l.Y)
	}
	return nil
}

func (s *Store) DropItem(ctx context.Context, l territory.Location, item string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops = append(s.drops, Drop{At: l, Item: item})
	return nil
}
