package testbed

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

type OpType int

const (
	OpBeginRenderPass OpType = iota
	OpEndRenderPass
	OpBindPipeline
	OpBindDescriptorSets
	OpSetViewport
	OpSetScissor
	OpPushConstants
	OpDraw
	OpDispatch
	OpDispatchIndirect
)

// Op is one recorded native command.
type Op struct {
	Type           OpType
	Pso            metadata.RenderHandle
	RenderPass     metadata.RenderPassDesc
	FirstSet       uint32
	Sets           []vk.DescriptorSet
	DynamicOffsets []uint32
	PushData       []byte
	Args           [4]uint32
	Buffer         metadata.RenderHandle
}

/**
 * @brief Command recorder that keeps every command in memory. Bound sets are
 * reported to the null device so it can track their GPU lifetime.
 */
type RecordingRecorder struct {
	mu        sync.Mutex
	device    *NullDescriptorDevice
	recording bool
	frames    int
	ops       []Op
}

func NewRecordingRecorder(device *NullDescriptorDevice) *RecordingRecorder {
	return &RecordingRecorder{device: device}
}

// Begin starts a new frame, the ops of the previous frame are dropped.
func (r *RecordingRecorder) Begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return fmt.Errorf("recorder: begin while recording: %w", core.ErrDeviceCall)
	}
	r.recording = true
	r.ops = r.ops[:0]
	return nil
}

func (r *RecordingRecorder) End() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return fmt.Errorf("recorder: end without begin: %w", core.ErrDeviceCall)
	}
	r.recording = false
	r.frames++
	return nil
}

func (r *RecordingRecorder) add(op Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		core.LogWarn("recorder: op %d outside begin/end", op.Type)
	}
	r.ops = append(r.ops, op)
}

func (r *RecordingRecorder) BeginRenderPass(desc metadata.RenderPassDesc) {
	r.add(Op{Type: OpBeginRenderPass, RenderPass: desc})
}

func (r *RecordingRecorder) EndRenderPass() {
	r.add(Op{Type: OpEndRenderPass})
}

func (r *RecordingRecorder) BindPipeline(pso metadata.RenderHandle) {
	r.add(Op{Type: OpBindPipeline, Pso: pso})
}

func (r *RecordingRecorder) BindDescriptorSets(pso metadata.RenderHandle, firstSet uint32, sets []vk.DescriptorSet, dynamicOffsets []uint32) {
	for _, s := range sets {
		if s == nil {
			core.LogError("recorder: bind of a nil descriptor set")
			continue
		}
		r.device.MarkBound(s)
	}
	r.add(Op{
		Type:           OpBindDescriptorSets,
		Pso:            pso,
		FirstSet:       firstSet,
		Sets:           append([]vk.DescriptorSet(nil), sets...),
		DynamicOffsets: append([]uint32(nil), dynamicOffsets...),
	})
}

func (r *RecordingRecorder) SetViewport(viewport metadata.ViewportDesc) {
	r.add(Op{Type: OpSetViewport})
}

func (r *RecordingRecorder) SetScissor(scissor metadata.ScissorDesc) {
	r.add(Op{Type: OpSetScissor})
}

func (r *RecordingRecorder) PushConstants(pso metadata.RenderHandle, pc metadata.PushConstant, data []byte) {
	r.add(Op{Type: OpPushConstants, Pso: pso, PushData: append([]byte(nil), data[:pc.ByteSize]...)})
}

func (r *RecordingRecorder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	r.add(Op{Type: OpDraw, Args: [4]uint32{vertexCount, instanceCount, firstVertex, firstInstance}})
}

func (r *RecordingRecorder) Dispatch(x, y, z uint32) {
	r.add(Op{Type: OpDispatch, Args: [4]uint32{x, y, z, 0}})
}

func (r *RecordingRecorder) DispatchIndirect(buffer metadata.RenderHandle, offset uint32) {
	r.add(Op{Type: OpDispatchIndirect, Buffer: buffer, Args: [4]uint32{offset, 0, 0, 0}})
}

// Ops returns the commands of the last recorded frame.
func (r *RecordingRecorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

func (r *RecordingRecorder) FrameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *RecordingRecorder) count(t OpType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range r.ops {
		if op.Type == t {
			n++
		}
	}
	return n
}

func (r *RecordingRecorder) DrawCount() int {
	return r.count(OpDraw)
}

func (r *RecordingRecorder) DispatchCount() int {
	return r.count(OpDispatch) + r.count(OpDispatchIndirect)
}

// BoundSets returns every set bound in the last frame, in bind order.
func (r *RecordingRecorder) BoundSets() []vk.DescriptorSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sets []vk.DescriptorSet
	for _, op := range r.ops {
		if op.Type == OpBindDescriptorSets {
			sets = append(sets, op.Sets...)
		}
	}
	return sets
}
