package testbed

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumerender/engine/core"
)

// nextHandle numbers the fake native handles of every null object in the
// process. The values are plain integers outside the Go heap, so the garbage
// collector and reflection never treat them as Go pointers.
var nextHandle atomic.Uint64

func newNullHandle() unsafe.Pointer {
	v := uintptr(nextHandle.Add(1))
	return *(*unsafe.Pointer)(unsafe.Pointer(&v))
}

type nullPool struct {
	maxSets   uint32
	allocated uint32
	remaining map[vk.DescriptorType]uint32
	sets      []vk.DescriptorSet
	destroyed bool
}

type nullLayout struct {
	bindings  []vk.DescriptorSetLayoutBinding
	destroyed bool
}

type nullSet struct {
	pool      vk.DescriptorPool
	layout    vk.DescriptorSetLayout
	writes    []vk.WriteDescriptorSet
	lastBound uint64
	bound     bool
}

/**
 * @brief Host memory stand-in for a Vulkan logical device. Tracks pools,
 * layouts and sets and reports GPU lifetime violations: a set written or a
 * pool destroyed while a frame that used it may still be executing.
 */
type NullDescriptorDevice struct {
	mu             sync.Mutex
	bufferingCount uint32
	frame          uint64

	pools   map[vk.DescriptorPool]*nullPool
	layouts map[vk.DescriptorSetLayout]*nullLayout
	sets    map[vk.DescriptorSet]*nullSet

	writeCount int
	violations []string
}

func NewNullDescriptorDevice(bufferingCount uint32) *NullDescriptorDevice {
	return &NullDescriptorDevice{
		bufferingCount: bufferingCount,
		pools:          make(map[vk.DescriptorPool]*nullPool),
		layouts:        make(map[vk.DescriptorSetLayout]*nullLayout),
		sets:           make(map[vk.DescriptorSet]*nullSet),
	}
}

func (d *NullDescriptorDevice) FrameCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame
}

func (d *NullDescriptorDevice) CommandBufferingCount() uint32 {
	return d.bufferingCount
}

func (d *NullDescriptorDevice) EndFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame++
	return nil
}

func (d *NullDescriptorDevice) violate(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	core.LogError("null device: %s", msg)
	d.violations = append(d.violations, msg)
}

// inFlight is true when a frame that bound the set may still run on the GPU.
func (d *NullDescriptorDevice) inFlight(s *nullSet) bool {
	return s.bound && d.frame-s.lastBound < uint64(d.bufferingCount)
}

// WaitIdle retires every recorded frame, nothing is in flight afterwards.
func (d *NullDescriptorDevice) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sets {
		s.bound = false
	}
	return nil
}

func (d *NullDescriptorDevice) CreateDescriptorPool(info *vk.DescriptorPoolCreateInfo) (vk.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.MaxSets == 0 {
		return nil, fmt.Errorf("vkCreateDescriptorPool: maxSets is 0: %w", core.ErrDeviceCall)
	}
	p := &nullPool{
		maxSets:   info.MaxSets,
		remaining: make(map[vk.DescriptorType]uint32, len(info.PPoolSizes)),
	}
	for _, size := range info.PPoolSizes {
		p.remaining[size.Type] += size.DescriptorCount
	}
	handle := vk.DescriptorPool(newNullHandle())
	d.pools[handle] = p
	return handle, nil
}

func (d *NullDescriptorDevice) DestroyDescriptorPool(pool vk.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok || p.destroyed {
		d.violate("destroy of unknown or destroyed pool")
		return
	}
	for _, set := range p.sets {
		if d.inFlight(d.sets[set]) {
			d.violate("pool destroyed in frame %d while a set bound in frame %d may be in flight",
				d.frame, d.sets[set].lastBound)
			break
		}
	}
	p.destroyed = true
}

func (d *NullDescriptorDevice) CreateDescriptorSetLayout(info *vk.DescriptorSetLayoutCreateInfo) (vk.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &nullLayout{
		bindings: append([]vk.DescriptorSetLayoutBinding(nil), info.PBindings...),
	}
	handle := vk.DescriptorSetLayout(newNullHandle())
	d.layouts[handle] = l
	return handle, nil
}

func (d *NullDescriptorDevice) DestroyDescriptorSetLayout(layout vk.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.layouts[layout]
	if !ok || l.destroyed {
		d.violate("destroy of unknown or destroyed layout")
		return
	}
	l.destroyed = true
}

func (d *NullDescriptorDevice) AllocateDescriptorSet(pool vk.DescriptorPool, layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok || p.destroyed {
		return nil, fmt.Errorf("vkAllocateDescriptorSets: invalid pool: %w", core.ErrDeviceCall)
	}
	l, ok := d.layouts[layout]
	if !ok || l.destroyed {
		return nil, fmt.Errorf("vkAllocateDescriptorSets: invalid layout: %w", core.ErrDeviceCall)
	}
	if p.allocated >= p.maxSets {
		return nil, fmt.Errorf("vkAllocateDescriptorSets: pool exhausted after %d sets: %w", p.maxSets, core.ErrDeviceCall)
	}
	for _, b := range l.bindings {
		if p.remaining[b.DescriptorType] < b.DescriptorCount {
			return nil, fmt.Errorf("vkAllocateDescriptorSets: out of pool memory for type %d: %w", b.DescriptorType, core.ErrDeviceCall)
		}
	}
	for _, b := range l.bindings {
		p.remaining[b.DescriptorType] -= b.DescriptorCount
	}
	p.allocated++

	s := &nullSet{pool: pool, layout: layout}
	handle := vk.DescriptorSet(newNullHandle())
	d.sets[handle] = s
	p.sets = append(p.sets, handle)
	return handle, nil
}

func (d *NullDescriptorDevice) UpdateDescriptorSets(writes []vk.WriteDescriptorSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		s, ok := d.sets[w.DstSet]
		if !ok {
			d.violate("write to unknown set")
			continue
		}
		if d.pools[s.pool].destroyed {
			d.violate("write to a set of a destroyed pool")
			continue
		}
		if d.inFlight(s) {
			d.violate("write in frame %d to a set bound in frame %d", d.frame, s.lastBound)
		}
		s.writes = append(s.writes, w)
		d.writeCount++
	}
}

// MarkBound records that the set is used by the frame being recorded.
func (d *NullDescriptorDevice) MarkBound(set vk.DescriptorSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sets[set]
	if !ok {
		d.violate("bind of unknown set")
		return
	}
	if d.pools[s.pool].destroyed {
		d.violate("bind of a set of a destroyed pool")
	}
	if l := d.layouts[s.layout]; l != nil && l.destroyed {
		d.violate("bind of a set whose layout was destroyed")
	}
	s.bound = true
	s.lastBound = d.frame
}

func (d *NullDescriptorDevice) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

func (d *NullDescriptorDevice) WriteCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCount
}

func (d *NullDescriptorDevice) LivePoolCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.pools {
		if !p.destroyed {
			n++
		}
	}
	return n
}

func (d *NullDescriptorDevice) LiveLayoutCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, l := range d.layouts {
		if !l.destroyed {
			n++
		}
	}
	return n
}

func (d *NullDescriptorDevice) IsPoolDestroyed(pool vk.DescriptorPool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	return !ok || p.destroyed
}

// PoolOf returns the pool a set was allocated from.
func (d *NullDescriptorDevice) PoolOf(set vk.DescriptorSet) vk.DescriptorPool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sets[set]; ok {
		return s.pool
	}
	return nil
}

// PoolMaxSets returns the maxSets a pool was created with.
func (d *NullDescriptorDevice) PoolMaxSets(pool vk.DescriptorPool) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pools[pool]; ok {
		return p.maxSets
	}
	return 0
}

// LayoutOf returns the bindings of the layout the set was allocated with.
func (d *NullDescriptorDevice) LayoutOf(set vk.DescriptorSet) []vk.DescriptorSetLayoutBinding {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sets[set]
	if !ok {
		return nil
	}
	if l, ok := d.layouts[s.layout]; ok {
		return l.bindings
	}
	return nil
}

// SetWrites returns every write that targeted the set, oldest first.
func (d *NullDescriptorDevice) SetWrites(set vk.DescriptorSet) []vk.WriteDescriptorSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sets[set]; ok {
		return append([]vk.WriteDescriptorSet(nil), s.writes...)
	}
	return nil
}
