package descriptor

import "github.com/spaghettifunk/lumerender/engine/renderer/metadata"

// DescriptorCountsFromBindings sums descriptor counts per type for one set.
func DescriptorCountsFromBindings(bindings []metadata.DescriptorSetLayoutBinding) metadata.DescriptorCounts {
	var dc metadata.DescriptorCounts
	for _, b := range bindings {
		dc.Add(b.DescriptorType, descriptorCount(b))
	}
	return dc
}

// DescriptorCountsFromPipelineLayout sums the counts of every set used by the layout.
func DescriptorCountsFromPipelineLayout(pipelineLayout metadata.PipelineLayout) metadata.DescriptorCounts {
	var dc metadata.DescriptorCounts
	for set := uint32(0); set < metadata.MaxDescriptorSetCount; set++ {
		if pipelineLayout.HasSet(set) {
			dc.AddCounts(DescriptorCountsFromBindings(pipelineLayout.DescriptorSetLayouts[set].Bindings))
		}
	}
	return dc
}

// DescriptorCountsFromLayouts multiplies each layout by the number of times it
// will be instantiated, e.g. once per bloom mip.
func DescriptorCountsFromLayouts(layouts []metadata.PipelineLayout, instances []uint32) metadata.DescriptorCounts {
	var dc metadata.DescriptorCounts
	for i, pl := range layouts {
		n := uint32(1)
		if i < len(instances) {
			n = instances[i]
		}
		for _, c := range DescriptorCountsFromPipelineLayout(pl).Counts {
			dc.Add(c.DescriptorType, c.Count*n)
		}
	}
	return dc
}
