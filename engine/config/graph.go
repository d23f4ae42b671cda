package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

/**
 * @brief One node of a render node graph file.
 */
type RenderNodeDesc struct {
	Name string `toml:"name"`
	/** @brief Registered node type, e.g. RenderPostProcessBloomNode. */
	Type string `toml:"type"`
	/** @brief graphics or compute. Empty selects graphics. */
	Queue string `toml:"queue"`
	/** @brief Node specific settings, decoded by the node itself. */
	Config map[string]interface{} `toml:"config"`
}

// Decode converts the node specific table into v.
func (d *RenderNodeDesc) Decode(v interface{}) error {
	if len(d.Config) == 0 {
		return nil
	}
	data, err := toml.Marshal(d.Config)
	if err != nil {
		return fmt.Errorf("render node %s config: %w", d.Name, err)
	}
	if err := toml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("render node %s config: %w", d.Name, err)
	}
	return nil
}

/**
 * @brief Ordered list of render nodes. Nodes execute in file order.
 */
type RenderNodeGraphDesc struct {
	Name  string           `toml:"name"`
	Nodes []RenderNodeDesc `toml:"nodes"`
}

func ParseRenderNodeGraph(data []byte) (RenderNodeGraphDesc, error) {
	var desc RenderNodeGraphDesc
	if err := toml.Unmarshal(data, &desc); err != nil {
		return desc, fmt.Errorf("render node graph: %w", err)
	}
	seen := make(map[string]struct{}, len(desc.Nodes))
	for i, node := range desc.Nodes {
		if node.Type == "" {
			return desc, fmt.Errorf("render node graph: node %d has no type", i)
		}
		if node.Name == "" {
			desc.Nodes[i].Name = fmt.Sprintf("%s_%d", node.Type, i)
		}
		if _, ok := seen[desc.Nodes[i].Name]; ok {
			return desc, fmt.Errorf("render node graph: duplicate node name %q", desc.Nodes[i].Name)
		}
		seen[desc.Nodes[i].Name] = struct{}{}
	}
	return desc, nil
}

func LoadRenderNodeGraph(path string) (RenderNodeGraphDesc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RenderNodeGraphDesc{}, err
	}
	return ParseRenderNodeGraph(data)
}

/**
 * @brief Names a resource a node reads or writes. With Node set it is an
 * output of that node, otherwise a global or named gpu resource.
 */
type ResourceReference struct {
	Name string `toml:"name"`
	Node string `toml:"node"`
}

func (r ResourceReference) IsEmpty() bool {
	return r.Name == ""
}

// IsShared reports whether the handle can change between frames.
func (r ResourceReference) IsShared() bool {
	return r.Node != ""
}
