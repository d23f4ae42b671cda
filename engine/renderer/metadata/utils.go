package metadata

const (
	InvalidIDUint32 uint32 = 4294967295
	InvalidIDUint16 uint16 = 65535
)

// GetAligned rounds operand up to granularity, which must be a power of two.
func GetAligned(operand, granularity uint64) uint64 {
	return (operand + (granularity - 1)) &^ (granularity - 1)
}
