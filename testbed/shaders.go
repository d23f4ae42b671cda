package testbed

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

//go:embed shaders.toml
var defaultShaders []byte

type reflectionBinding struct {
	Binding uint32   `toml:"binding"`
	Type    string   `toml:"type"`
	Count   uint32   `toml:"count"`
	Stages  []string `toml:"stages"`
}

type reflectionSet struct {
	Set      uint32              `toml:"set"`
	Bindings []reflectionBinding `toml:"bindings"`
}

type reflectionPushConstant struct {
	Size   uint32   `toml:"size"`
	Stages []string `toml:"stages"`
}

type reflectionSpecialization struct {
	ID     uint32   `toml:"id"`
	Offset uint32   `toml:"offset"`
	Stages []string `toml:"stages"`
}

type reflectionShader struct {
	Path            string                     `toml:"path"`
	Compute         bool                       `toml:"compute"`
	ThreadGroupSize [3]uint32                  `toml:"thread_group_size"`
	PushConstant    reflectionPushConstant     `toml:"push_constant"`
	Specialization  []reflectionSpecialization `toml:"specialization"`
	Sets            []reflectionSet            `toml:"sets"`
}

type reflectionFile struct {
	Shaders         []reflectionShader `toml:"shader"`
	PipelineLayouts []reflectionShader `toml:"pipeline_layout"`
}

var descriptorTypes = map[string]metadata.DescriptorType{
	"sampler":                metadata.DESCRIPTOR_TYPE_SAMPLER,
	"combined_image_sampler": metadata.DESCRIPTOR_TYPE_COMBINED_IMAGE_SAMPLER,
	"sampled_image":          metadata.DESCRIPTOR_TYPE_SAMPLED_IMAGE,
	"storage_image":          metadata.DESCRIPTOR_TYPE_STORAGE_IMAGE,
	"uniform_texel_buffer":   metadata.DESCRIPTOR_TYPE_UNIFORM_TEXEL_BUFFER,
	"storage_texel_buffer":   metadata.DESCRIPTOR_TYPE_STORAGE_TEXEL_BUFFER,
	"uniform_buffer":         metadata.DESCRIPTOR_TYPE_UNIFORM_BUFFER,
	"storage_buffer":         metadata.DESCRIPTOR_TYPE_STORAGE_BUFFER,
	"uniform_buffer_dynamic": metadata.DESCRIPTOR_TYPE_UNIFORM_BUFFER_DYNAMIC,
	"storage_buffer_dynamic": metadata.DESCRIPTOR_TYPE_STORAGE_BUFFER_DYNAMIC,
	"input_attachment":       metadata.DESCRIPTOR_TYPE_INPUT_ATTACHMENT,
	"acceleration_structure": metadata.DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE,
}

var shaderStages = map[string]metadata.ShaderStageFlags{
	"vertex":       metadata.SHADER_STAGE_VERTEX_BIT,
	"fragment":     metadata.SHADER_STAGE_FRAGMENT_BIT,
	"compute":      metadata.SHADER_STAGE_COMPUTE_BIT,
	"all_graphics": metadata.SHADER_STAGE_ALL_GRAPHICS,
	"all":          metadata.SHADER_STAGE_ALL,
}

func parseStages(names []string) (metadata.ShaderStageFlags, error) {
	var flags metadata.ShaderStageFlags
	for _, name := range names {
		stage, ok := shaderStages[name]
		if !ok {
			return 0, fmt.Errorf("unknown shader stage %q", name)
		}
		flags |= stage
	}
	return flags, nil
}

func (s *reflectionShader) pipelineLayout() (metadata.PipelineLayout, error) {
	pl := metadata.NewPipelineLayout()
	stages, err := parseStages(s.PushConstant.Stages)
	if err != nil {
		return pl, err
	}
	// push constant ranges are multiples of four bytes
	pl.PushConstant = metadata.PushConstant{ShaderStageFlags: stages, ByteSize: uint32(metadata.GetAligned(uint64(s.PushConstant.Size), 4))}
	for _, set := range s.Sets {
		if set.Set >= metadata.MaxDescriptorSetCount {
			return pl, fmt.Errorf("set %d out of range", set.Set)
		}
		layout := metadata.DescriptorSetLayout{Set: set.Set}
		for _, b := range set.Bindings {
			dt, ok := descriptorTypes[b.Type]
			if !ok {
				return pl, fmt.Errorf("set %d binding %d: unknown descriptor type %q", set.Set, b.Binding, b.Type)
			}
			stages, err := parseStages(b.Stages)
			if err != nil {
				return pl, err
			}
			count := b.Count
			if count == 0 {
				count = 1
			}
			layout.Bindings = append(layout.Bindings, metadata.DescriptorSetLayoutBinding{
				Binding:          b.Binding,
				DescriptorType:   dt,
				DescriptorCount:  count,
				ShaderStageFlags: stages,
			})
		}
		pl.DescriptorSetLayouts[set.Set] = layout
		pl.DescriptorSetCount++
	}
	return pl, nil
}

type shaderRecord struct {
	path            string
	handle          metadata.RenderHandle
	graphicsState   metadata.RenderHandle
	pipelineLayout  metadata.PipelineLayout
	specialization  []metadata.ShaderSpecializationConstant
	threadGroupSize metadata.ThreadGroupSize
}

/**
 * @brief Shader manager over reflection data read from TOML. Starts with
 * the shaders of the built in post process nodes.
 */
type ShaderManager struct {
	mu sync.RWMutex

	shaders        map[string]*shaderRecord
	byHandle       map[metadata.RenderHandle]*shaderRecord
	layouts        map[string]metadata.RenderHandle
	layoutByHandle map[metadata.RenderHandle]metadata.PipelineLayout

	nextShader uint32
	nextLayout uint32
}

func NewShaderManager() (*ShaderManager, error) {
	sm := &ShaderManager{
		shaders:        make(map[string]*shaderRecord),
		byHandle:       make(map[metadata.RenderHandle]*shaderRecord),
		layouts:        make(map[string]metadata.RenderHandle),
		layoutByHandle: make(map[metadata.RenderHandle]metadata.PipelineLayout),
	}
	if err := sm.LoadReflection(defaultShaders); err != nil {
		return nil, err
	}
	return sm, nil
}

// LoadReflection adds or replaces shaders and pipeline layouts.
func (sm *ShaderManager) LoadReflection(data []byte) error {
	var file reflectionFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("shader reflection: %w", err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	for i := range file.Shaders {
		s := &file.Shaders[i]
		pl, err := s.pipelineLayout()
		if err != nil {
			return fmt.Errorf("shader %s: %w", s.Path, err)
		}
		rec := &shaderRecord{
			path:           s.Path,
			pipelineLayout: pl,
			graphicsState:  metadata.InvalidRenderHandle,
			threadGroupSize: metadata.ThreadGroupSize{
				X: s.ThreadGroupSize[0], Y: s.ThreadGroupSize[1], Z: s.ThreadGroupSize[2],
			},
		}
		for _, sc := range s.Specialization {
			stages, err := parseStages(sc.Stages)
			if err != nil {
				return fmt.Errorf("shader %s: %w", s.Path, err)
			}
			rec.specialization = append(rec.specialization, metadata.ShaderSpecializationConstant{
				ShaderStage: stages, ID: sc.ID, Offset: sc.Offset,
			})
		}
		if s.Compute {
			rec.handle = metadata.NewRenderHandle(metadata.RenderHandleTypeComputeShaderStateObject, sm.nextShader, 0, 0)
		} else {
			rec.handle = metadata.NewRenderHandle(metadata.RenderHandleTypeShaderStateObject, sm.nextShader, 0, 0)
			rec.graphicsState = metadata.NewRenderHandle(metadata.RenderHandleTypeGraphicsState, sm.nextShader, 0, 0)
		}
		sm.nextShader++
		sm.shaders[s.Path] = rec
		sm.byHandle[rec.handle] = rec
	}
	for i := range file.PipelineLayouts {
		l := &file.PipelineLayouts[i]
		pl, err := l.pipelineLayout()
		if err != nil {
			return fmt.Errorf("pipeline layout %s: %w", l.Path, err)
		}
		h := metadata.NewRenderHandle(metadata.RenderHandleTypePipelineLayout, sm.nextLayout, 0, 0)
		sm.nextLayout++
		sm.layouts[l.Path] = h
		sm.layoutByHandle[h] = pl
	}
	core.LogDebug("shader reflection loaded: %d shaders, %d pipeline layouts", len(file.Shaders), len(file.PipelineLayouts))
	return nil
}

func (sm *ShaderManager) GetShaderHandle(path string) metadata.RenderHandle {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if rec, ok := sm.shaders[path]; ok {
		return rec.handle
	}
	return metadata.InvalidRenderHandle
}

func (sm *ShaderManager) record(shader metadata.RenderHandle) *shaderRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.byHandle[shader]
}

func (sm *ShaderManager) GetReflectionPipelineLayout(shader metadata.RenderHandle) metadata.PipelineLayout {
	if rec := sm.record(shader); rec != nil {
		return rec.pipelineLayout
	}
	return metadata.NewPipelineLayout()
}

func (sm *ShaderManager) GetReflectionSpecialization(shader metadata.RenderHandle) []metadata.ShaderSpecializationConstant {
	if rec := sm.record(shader); rec != nil {
		return rec.specialization
	}
	return nil
}

func (sm *ShaderManager) GetReflectionThreadGroupSize(shader metadata.RenderHandle) metadata.ThreadGroupSize {
	if rec := sm.record(shader); rec != nil {
		return rec.threadGroupSize
	}
	return metadata.ThreadGroupSize{X: 1, Y: 1, Z: 1}
}

func (sm *ShaderManager) GetGraphicsStateHandleByShaderHandle(shader metadata.RenderHandle) metadata.RenderHandle {
	if rec := sm.record(shader); rec != nil {
		return rec.graphicsState
	}
	return metadata.InvalidRenderHandle
}

func (sm *ShaderManager) GetPipelineLayoutHandle(path string) metadata.RenderHandle {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if h, ok := sm.layouts[path]; ok {
		return h
	}
	return metadata.InvalidRenderHandle
}

func (sm *ShaderManager) GetPipelineLayout(handle metadata.RenderHandle) metadata.PipelineLayout {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if pl, ok := sm.layoutByHandle[handle]; ok {
		return pl
	}
	return metadata.NewPipelineLayout()
}

/**
 * @brief Pipeline state object cache keyed by shader, specialization and
 * dynamic state.
 */
type PsoManager struct {
	mu      sync.Mutex
	shaders *ShaderManager
	cache   map[string]metadata.RenderHandle
	layouts map[metadata.RenderHandle]metadata.PipelineLayout
	next    uint32
}

func NewPsoManager(shaders *ShaderManager) *PsoManager {
	return &PsoManager{
		shaders: shaders,
		cache:   make(map[string]metadata.RenderHandle),
		layouts: make(map[metadata.RenderHandle]metadata.PipelineLayout),
	}
}

func (pm *PsoManager) GetGraphicsPsoHandle(shader, graphicsState metadata.RenderHandle, pipelineLayout metadata.PipelineLayout,
	specialization metadata.ShaderSpecializationConstantData, dynamicStates metadata.DynamicStateFlags) metadata.RenderHandle {
	if shader.Type() != metadata.RenderHandleTypeShaderStateObject || pm.shaders.record(shader) == nil {
		core.LogError("graphics pso: invalid shader %s", shader)
		return metadata.InvalidRenderHandle
	}
	key := fmt.Sprintf("g/%d/%d/%v/%d", shader.ID, graphicsState.ID, specialization.Data, dynamicStates)
	return pm.getOrCreate(key, metadata.RenderHandleTypeGraphicsPso, pipelineLayout)
}

func (pm *PsoManager) GetComputePsoHandle(shader metadata.RenderHandle, pipelineLayout metadata.PipelineLayout,
	specialization metadata.ShaderSpecializationConstantData) metadata.RenderHandle {
	if shader.Type() != metadata.RenderHandleTypeComputeShaderStateObject || pm.shaders.record(shader) == nil {
		core.LogError("compute pso: invalid shader %s", shader)
		return metadata.InvalidRenderHandle
	}
	key := fmt.Sprintf("c/%d/%v", shader.ID, specialization.Data)
	return pm.getOrCreate(key, metadata.RenderHandleTypeComputePso, pipelineLayout)
}

func (pm *PsoManager) getOrCreate(key string, handleType metadata.RenderHandleType, pipelineLayout metadata.PipelineLayout) metadata.RenderHandle {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if h, ok := pm.cache[key]; ok {
		return h
	}
	h := metadata.NewRenderHandle(handleType, pm.next, 0, 0)
	pm.next++
	pm.cache[key] = h
	pm.layouts[h] = pipelineLayout
	return h
}

// PsoCount is the number of distinct pipelines created so far.
func (pm *PsoManager) PsoCount() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.cache)
}

func (pm *PsoManager) PipelineLayoutOf(pso metadata.RenderHandle) (metadata.PipelineLayout, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pl, ok := pm.layouts[pso]
	return pl, ok
}
