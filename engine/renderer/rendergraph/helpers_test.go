package rendergraph

import (
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

type testDevice struct {
	frame uint64
}

func (d *testDevice) FrameCount() uint64            { return d.frame }
func (d *testDevice) CommandBufferingCount() uint32 { return 3 }
func (d *testDevice) EndFrame() error {
	d.frame++
	return nil
}

// cpuManager is a descriptor manager without a native side.
type cpuManager struct {
	*descriptor.Manager[struct{}]
	gpuUpdates []metadata.RenderHandle
}

func (m *cpuManager) UpdateDescriptorSetGpuHandle(handle metadata.RenderHandle) {
	m.gpuUpdates = append(m.gpuUpdates, handle)
}

type testBackend struct {
	device    *testDevice
	managers  []*cpuManager
	destroyed int
	rendered  [][]*RenderCommandList
}

func (b *testBackend) CreateDescriptorSetManager() descriptor.NodeContextDescriptorSetManager {
	m := &cpuManager{Manager: descriptor.NewManager[struct{}](b.device, true)}
	b.managers = append(b.managers, m)
	return m
}

func (b *testBackend) DestroyDescriptorSetManager(manager descriptor.NodeContextDescriptorSetManager) {
	b.destroyed++
}

func (b *testBackend) Render(lists []*RenderCommandList) error {
	b.rendered = append(b.rendered, lists)
	return nil
}

func (b *testBackend) lastFrame() []*RenderCommandList {
	if len(b.rendered) == 0 {
		return nil
	}
	return b.rendered[len(b.rendered)-1]
}

// traceNode appends every lifecycle call to a shared trace.
type traceNode struct {
	name    string
	trace   *[]string
	flags   ExecuteFlags
	ctx     *RenderNodeContextManager
	onFrame func(cmdList CommandList)
}

func (n *traceNode) InitNode(ctx *RenderNodeContextManager) {
	n.ctx = ctx
	n.name = ctx.GetName()
	*n.trace = append(*n.trace, "init:"+n.name)
}

func (n *traceNode) PreExecuteFrame() {
	*n.trace = append(*n.trace, "pre:"+n.name)
	n.ctx.GetShareManager().RegisterRenderNodeOutput("output", metadata.NewRenderHandle(metadata.RenderHandleTypeGpuImage, 1, 0, 0))
}

func (n *traceNode) ExecuteFrame(cmdList CommandList) {
	*n.trace = append(*n.trace, "exec:"+n.name)
	if n.onFrame != nil {
		n.onFrame(cmdList)
	}
}

func (n *traceNode) GetExecuteFlags() ExecuteFlags {
	return n.flags
}

func (n *traceNode) Destroy() {
	*n.trace = append(*n.trace, "destroy:"+n.name)
}

func imageBinding(binding uint32) metadata.DescriptorSetLayoutBinding {
	return metadata.DescriptorSetLayoutBinding{
		Binding:          binding,
		DescriptorType:   metadata.DESCRIPTOR_TYPE_COMBINED_IMAGE_SAMPLER,
		DescriptorCount:  1,
		ShaderStageFlags: metadata.SHADER_STAGE_FRAGMENT_BIT,
	}
}

func dynamicBufferBinding(binding uint32) metadata.DescriptorSetLayoutBinding {
	return metadata.DescriptorSetLayoutBinding{
		Binding:          binding,
		DescriptorType:   metadata.DESCRIPTOR_TYPE_UNIFORM_BUFFER_DYNAMIC,
		DescriptorCount:  1,
		ShaderStageFlags: metadata.SHADER_STAGE_ALL_GRAPHICS,
	}
}

var (
	testImage       = metadata.NewRenderHandle(metadata.RenderHandleTypeGpuImage, 3, 0, 0)
	testBuffer      = metadata.NewRenderHandle(metadata.RenderHandleTypeGpuBuffer, 4, 0, 0)
	testGraphicsPso = metadata.NewRenderHandle(metadata.RenderHandleTypeGraphicsPso, 1, 0, 0)
	testComputePso  = metadata.NewRenderHandle(metadata.RenderHandleTypeComputePso, 2, 0, 0)
)

func testRenderPass() metadata.RenderPassDesc {
	return metadata.RenderPassDesc{
		Attachments: []metadata.RenderPassAttachment{{Handle: testImage, LoadOp: metadata.ATTACHMENT_LOAD_OP_DONT_CARE}},
		RenderArea:  metadata.ScissorDesc{Width: 64, Height: 64},
	}
}
