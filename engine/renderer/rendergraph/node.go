package rendergraph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spaghettifunk/lumerender/engine/core"
)

type ExecuteFlags uint32

const (
	// The node skips ExecuteFrame for this frame. PreExecuteFrame still runs.
	ExecuteFlagDoNotExecute ExecuteFlags = 1 << 0
)

/**
 * @brief A unit of the render graph.
 *
 * InitNode runs once per compile. Every frame all nodes run PreExecuteFrame
 * before any node runs ExecuteFrame, so outputs registered in
 * PreExecuteFrame are visible to every ExecuteFrame.
 */
type RenderNode interface {
	InitNode(ctx *RenderNodeContextManager)
	PreExecuteFrame()
	ExecuteFrame(cmdList CommandList)
	GetExecuteFlags() ExecuteFlags
	Destroy()
}

type NodeState uint8

const (
	NodeStateUninitialized NodeState = iota
	NodeStateInitialized
	NodeStatePreExecuted
	NodeStateExecuted
	NodeStateDestroyed
)

func (s NodeState) String() string {
	switch s {
	case NodeStateInitialized:
		return "initialized"
	case NodeStatePreExecuted:
		return "pre_executed"
	case NodeStateExecuted:
		return "executed"
	case NodeStateDestroyed:
		return "destroyed"
	default:
		return "uninitialized"
	}
}

type NodeFactory func() RenderNode

var (
	registryMu sync.RWMutex
	registry   = map[string]NodeFactory{}
)

// RegisterNodeType makes a node type available to graph files. Registering
// a name twice replaces the factory.
func RegisterNodeType(typeName string, factory NodeFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[typeName]; ok {
		core.LogWarn("render node type %s registered again", typeName)
	}
	registry[typeName] = factory
}

func NewNode(typeName string) (RenderNode, error) {
	registryMu.RLock()
	factory, ok := registry[typeName]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("render node type %q: %w", typeName, core.ErrNodeTypeUnknown)
	}
	return factory(), nil
}

func DestroyNode(node RenderNode) {
	if node != nil {
		node.Destroy()
	}
}

func RegisteredNodeTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
