package domain

// DeviceID is the fleet manager's stable identity for a device (a GPU UUID
// in practice). It never changes for the lifetime of the process.
type DeviceID string

type DeviceClass string

const (
	ClassCUDA   DeviceClass = "cuda"
	ClassOpenCL DeviceClass = "opencl"
	ClassCPU    DeviceClass = "cpu"
)

// Device is owned by the fleet manager and only referenced here.
type Device struct {
	ID    DeviceID    `json:"id" mapstructure:"id"`
	Class DeviceClass `json:"class" mapstructure:"class"`
	Name  string      `json:"name,omitempty" mapstructure:"name"`
}

type AlgorithmType string

const (
	AlgorithmZHash          AlgorithmType = "zhash"
	AlgorithmBeam           AlgorithmType = "beam"
	AlgorithmGrinCuckaroo29 AlgorithmType = "grincuckaroo29"
	AlgorithmGrinCuckatoo31 AlgorithmType = "grincuckatoo31"
)

// MiningPair is one device together with the algorithm the fleet manager
// wants it to run.
type MiningPair struct {
	Device    Device
	Algorithm AlgorithmType
}

// Assignment is the single algorithm a worker instance runs plus its ordered
// devices. Build a new one to reassign; it has no setters.
type Assignment struct {
	algorithm AlgorithmType
	devices   []Device
}

// NewAssignment validates that the pairs share one algorithm and name each
// device at most once. Device order is preserved.
func NewAssignment(pairs []MiningPair) (Assignment, error) {
	if len(pairs) == 0 {
		return Assignment{}, ErrEmptyAssignment{}
	}

	algorithm := pairs[0].Algorithm
	seen := make(map[DeviceID]struct{}, len(pairs))
	devices := make([]Device, 0, len(pairs))

	for _, p := range pairs {
		if p.Algorithm != algorithm {
			return Assignment{}, ErrMixedAlgorithms{First: algorithm, Other: p.Algorithm}
		}
		if _, dup := seen[p.Device.ID]; dup {
			return Assignment{}, ErrDuplicateAssignment{DeviceID: p.Device.ID}
		}
		seen[p.Device.ID] = struct{}{}
		devices = append(devices, p.Device)
	}

	return Assignment{algorithm: algorithm, devices: devices}, nil
}

func (a Assignment) Algorithm() AlgorithmType {
	return a.algorithm
}

// Devices returns a copy of the assigned devices in assignment order.
func (a Assignment) Devices() []Device {
	out := make([]Device, len(a.devices))
	copy(out, a.devices)
	return out
}
