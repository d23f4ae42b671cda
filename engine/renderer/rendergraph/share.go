package rendergraph

import (
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

/**
 * @brief Graph wide registry of node outputs and global resources.
 * Outputs live for one frame; globals until replaced.
 */
type RenderNodeGraphShareManager struct {
	outputs map[string]map[string]metadata.RenderHandle
	globals map[string]metadata.RenderHandle
}

func NewRenderNodeGraphShareManager() *RenderNodeGraphShareManager {
	return &RenderNodeGraphShareManager{
		outputs: make(map[string]map[string]metadata.RenderHandle),
		globals: make(map[string]metadata.RenderHandle),
	}
}

// BeginFrame drops the outputs of the previous frame.
func (s *RenderNodeGraphShareManager) BeginFrame() {
	for node := range s.outputs {
		delete(s.outputs, node)
	}
}

func (s *RenderNodeGraphShareManager) RegisterGlobalResource(name string, handle metadata.RenderHandle) {
	s.globals[name] = handle
}

func (s *RenderNodeGraphShareManager) GetGlobalResource(name string) metadata.RenderHandle {
	if h, ok := s.globals[name]; ok {
		return h
	}
	return metadata.InvalidRenderHandle
}

func (s *RenderNodeGraphShareManager) registerOutput(nodeName, name string, handle metadata.RenderHandle) {
	outputs, ok := s.outputs[nodeName]
	if !ok {
		outputs = make(map[string]metadata.RenderHandle)
		s.outputs[nodeName] = outputs
	}
	outputs[name] = handle
}

func (s *RenderNodeGraphShareManager) GetRenderNodeOutput(nodeName, name string) metadata.RenderHandle {
	if h, ok := s.outputs[nodeName][name]; ok {
		return h
	}
	return metadata.InvalidRenderHandle
}

// NodeView returns the share manager as seen by one node.
func (s *RenderNodeGraphShareManager) NodeView(nodeName string) ShareManager {
	return &nodeShareManager{graph: s, nodeName: nodeName}
}

type nodeShareManager struct {
	graph    *RenderNodeGraphShareManager
	nodeName string
}

func (n *nodeShareManager) RegisterRenderNodeOutput(name string, handle metadata.RenderHandle) {
	n.graph.registerOutput(n.nodeName, name, handle)
}

func (n *nodeShareManager) GetRenderNodeOutput(nodeName, name string) metadata.RenderHandle {
	return n.graph.GetRenderNodeOutput(nodeName, name)
}

func (n *nodeShareManager) GetGlobalResource(name string) metadata.RenderHandle {
	return n.graph.GetGlobalResource(name)
}
