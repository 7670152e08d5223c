package hv

// Snapshot file format constants
const (
	SnapshotMagic   uint32 = 0x47494353 // "GICS"
	SnapshotVersion uint32 = 1
)

// Snapshot section kinds.
const (
	SnapshotSectionInvalid uint32 = 0
	SnapshotSectionCPU     uint32 = 1
	SnapshotSectionDist    uint32 = 2
)

// SnapshotSectionName returns a printable name for a section kind.
func SnapshotSectionName(kind uint32) string {
	switch kind {
	case SnapshotSectionCPU:
		return "cpu"
	case SnapshotSectionDist:
		return "dist"
	default:
		return "invalid"
	}
}
