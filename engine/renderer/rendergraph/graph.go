package rendergraph

import (
	"fmt"

	"github.com/spaghettifunk/lumerender/engine/config"
	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
)

type graphNode struct {
	desc        config.RenderNodeDesc
	node        RenderNode
	context     *RenderNodeContextManager
	descriptors descriptor.NodeContextDescriptorSetManager
	state       NodeState
}

/**
 * @brief An ordered list of render nodes driven frame by frame.
 */
type RenderNodeGraph struct {
	name          string
	device        Device
	backend       Backend
	collaborators Collaborators
	share         *RenderNodeGraphShareManager
	validation    bool

	nodes   []*graphNode
	clock   *core.Clock
	metrics *core.FrameMetrics
}

func NewRenderNodeGraph(device Device, backend Backend, collaborators Collaborators, validation bool) *RenderNodeGraph {
	return &RenderNodeGraph{
		device:        device,
		backend:       backend,
		collaborators: collaborators,
		share:         NewRenderNodeGraphShareManager(),
		validation:    validation,
		clock:         core.NewClock(),
		metrics:       core.NewFrameMetrics(),
	}
}

func (g *RenderNodeGraph) Name() string {
	return g.name
}

func (g *RenderNodeGraph) Share() *RenderNodeGraphShareManager {
	return g.share
}

func (g *RenderNodeGraph) Metrics() *core.FrameMetrics {
	return g.metrics
}

func (g *RenderNodeGraph) NodeCount() int {
	return len(g.nodes)
}

// NodeState reports the lifecycle state of a node, false for unknown names.
func (g *RenderNodeGraph) NodeState(name string) (NodeState, bool) {
	for _, n := range g.nodes {
		if n.desc.Name == name {
			return n.state, true
		}
	}
	return NodeStateUninitialized, false
}

// Node returns the node instance with the given name.
func (g *RenderNodeGraph) Node(name string) RenderNode {
	for _, n := range g.nodes {
		if n.desc.Name == name {
			return n.node
		}
	}
	return nil
}

// Compile replaces every node with the ones of desc and runs InitNode on
// each in order. On error the graph is left empty.
func (g *RenderNodeGraph) Compile(desc config.RenderNodeGraphDesc) error {
	g.destroyNodes()
	g.name = desc.Name

	nodes := make([]*graphNode, 0, len(desc.Nodes))
	for _, nd := range desc.Nodes {
		node, err := NewNode(nd.Type)
		if err != nil {
			core.LogError("render node graph %s: %s", desc.Name, err.Error())
			for _, n := range nodes {
				g.backend.DestroyDescriptorSetManager(n.descriptors)
			}
			return fmt.Errorf("compile %s: %w", desc.Name, err)
		}
		descriptors := g.backend.CreateDescriptorSetManager()
		nodes = append(nodes, &graphNode{
			desc:        nd,
			node:        node,
			descriptors: descriptors,
			context:     NewRenderNodeContextManager(nd, descriptors, g.collaborators, g.share.NodeView(nd.Name), g.validation),
		})
	}

	for _, n := range nodes {
		n.node.InitNode(n.context)
		n.state = NodeStateInitialized
	}
	g.nodes = nodes

	core.LogInfo("render node graph %s compiled with %d nodes", desc.Name, len(nodes))
	core.EventFire(core.EVENT_CODE_RENDER_GRAPH_COMPILED, g, core.EventContext{
		Type: core.EVENT_CODE_RENDER_GRAPH_COMPILED,
		Data: len(nodes),
	})
	return nil
}

// RenderFrame runs one frame: PreExecuteFrame on every node, then
// ExecuteFrame on every node that did not opt out, then the backend.
func (g *RenderNodeGraph) RenderFrame() error {
	g.clock.Start()

	g.share.BeginFrame()
	for _, n := range g.nodes {
		n.descriptors.BeginFrame()
	}

	for _, n := range g.nodes {
		n.node.PreExecuteFrame()
		n.state = NodeStatePreExecuted
	}

	lists := make([]*RenderCommandList, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n.node.GetExecuteFlags()&ExecuteFlagDoNotExecute != 0 {
			continue
		}
		cmdList := NewRenderCommandList(n.desc.Name, n.descriptors, n.context.GetGpuQueue(), g.validation)
		n.node.ExecuteFrame(cmdList)
		cmdList.Finish()
		n.state = NodeStateExecuted
		lists = append(lists, cmdList)
	}

	if err := g.backend.Render(lists); err != nil {
		return fmt.Errorf("render frame: %w", err)
	}
	if err := g.device.EndFrame(); err != nil {
		return fmt.Errorf("end frame: %w", err)
	}

	g.clock.Update()
	g.metrics.Update(g.clock.Elapsed())
	g.clock.Stop()
	return nil
}

func (g *RenderNodeGraph) destroyNodes() {
	for _, n := range g.nodes {
		DestroyNode(n.node)
		n.state = NodeStateDestroyed
		g.backend.DestroyDescriptorSetManager(n.descriptors)
	}
	g.nodes = nil
}

func (g *RenderNodeGraph) Destroy() {
	g.destroyNodes()
}
