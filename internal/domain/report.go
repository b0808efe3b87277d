package domain

// SpeedReport is the steady-state output handed to the fleet manager.
// Speeds are fee-adjusted; power figures are raw watts.
type SpeedReport struct {
	Algorithm      AlgorithmType        `json:"algorithm"`
	TotalSpeed     float64              `json:"total_speed"`
	TotalPower     int                  `json:"total_power"`
	PerDeviceSpeed map[DeviceID]float64 `json:"per_device_speed"`
	PerDevicePower map[DeviceID]int     `json:"per_device_power"`
}

// EmptySpeedReport is what a failed poll degrades to.
func EmptySpeedReport(algorithm AlgorithmType) SpeedReport {
	return SpeedReport{
		Algorithm:      algorithm,
		PerDeviceSpeed: map[DeviceID]float64{},
		PerDevicePower: map[DeviceID]int{},
	}
}

// ApplyFee deducts a percentage fee from a raw speed figure.
func ApplyFee(raw, feePercent float64) float64 {
	return raw * (1 - feePercent/100)
}
