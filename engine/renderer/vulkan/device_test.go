package vulkan

import (
	"github.com/spaghettifunk/lumerender/engine/renderer/rendergraph"
	"github.com/spaghettifunk/lumerender/testbed"
)

var (
	_ DescriptorDevice       = (*testbed.NullDescriptorDevice)(nil)
	_ rendergraph.Device     = (*testbed.NullDescriptorDevice)(nil)
	_ NativeResourceProvider = (*testbed.GpuResources)(nil)
	_ CommandRecorder        = (*testbed.RecordingRecorder)(nil)
	_ rendergraph.Backend    = (*RenderBackendVk)(nil)
)
