package disk

// Default partition layout values.
const (
	// DefaultBootSizeMiB is the EFI system partition size (512MiB)
	DefaultBootSizeMiB = 512
	// DefaultRootSizeGiB is the root filesystem partition size (64GiB)
	DefaultRootSizeGiB = 64
	// DefaultMinSizeBytes is the smallest disk accepted for installation (128GiB)
	DefaultMinSizeBytes = 128 * 1024 * 1024 * 1024
	// DefaultTargetRoot is where the new system is mounted during install
	DefaultTargetRoot = "/mnt"
)

// Partition numbers within the default layout.
const (
	PartBoot = 1
	PartRoot = 2
	PartData = 3
)
