package device

const gib = 1024 * 1024 * 1024

// Classify derives a performance class from core count and installed RAM.
func Classify(cores int, ramBytes uint64) Class {
	switch {
	case cores >= 8 && ramBytes >= 12*gib:
		return ClassFlagship
	case cores >= 8 && ramBytes >= 8*gib:
		return ClassHigh
	case cores >= 4 && ramBytes >= 4*gib:
		return ClassMidRange
	default:
		return ClassBudget
	}
}

// DefaultInferenceThreads is the device-class default for inference workers.
func DefaultInferenceThreads(p Profile) int {
	cores := max(1, p.Cores)
	switch p.Class {
	case ClassFlagship:
		return cores
	case ClassHigh:
		return min(cores, 8)
	case ClassMidRange:
		return min(cores, 6)
	default:
		return max(1, cores/2)
	}
}

// MaxBackgroundThreads is the upper bound for background workers.
func MaxBackgroundThreads(p Profile) int {
	return max(2, p.Cores/2)
}

// DefaultBackgroundThreads is the device-class default for background workers.
func DefaultBackgroundThreads(p Profile) int {
	return min(MaxBackgroundThreads(p), max(1, p.Cores/4))
}
