package core

import "fmt"

// IdentifierPool hands out dense slot ids and reuses freed ones. Each slot
// carries a generation that advances on release so stale ids can be spotted.
type IdentifierPool struct {
	owners      []interface{}
	generations []uint8
}

func NewIdentifierPool(capacity int) *IdentifierPool {
	return &IdentifierPool{
		owners:      make([]interface{}, 0, capacity),
		generations: make([]uint8, 0, capacity),
	}
}

// Acquire returns the slot id and its current generation.
func (p *IdentifierPool) Acquire(owner interface{}) (uint32, uint8) {
	length := uint32(len(p.owners))
	for i := uint32(0); i < length; i++ {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return i, p.generations[i]
		}
	}

	// No existing free slots, push one.
	p.owners = append(p.owners, owner)
	p.generations = append(p.generations, 0)
	return length, 0
}

func (p *IdentifierPool) Release(id uint32) error {
	if id >= uint32(len(p.owners)) {
		return fmt.Errorf("identifier pool: id '%d' out of range (max=%d). Nothing was done", id, len(p.owners))
	}
	if p.owners[id] == nil {
		return fmt.Errorf("identifier pool: id '%d' already released", id)
	}
	p.owners[id] = nil
	p.generations[id]++
	return nil
}

// Owner returns nil when the generation does not match the slot.
func (p *IdentifierPool) Owner(id uint32, generation uint8) interface{} {
	if id >= uint32(len(p.owners)) || p.generations[id] != generation {
		return nil
	}
	return p.owners[id]
}

func (p *IdentifierPool) Count() int {
	count := 0
	for _, o := range p.owners {
		if o != nil {
			count++
		}
	}
	return count
}
