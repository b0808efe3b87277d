package domain

// AgentRegistration is sent to the fleet manager when the agent starts.
type AgentRegistration struct {
	AgentID   string        `json:"agent_id"`
	AgentPort int           `json:"agent_port"`
	PID       int           `json:"pid"`
	Version   string        `json:"version"`
	Algorithm AlgorithmType `json:"algorithm"`
	Devices   []DeviceID    `json:"devices"`
}

// StatsReport is the periodic payload published to the fleet manager.
type StatsReport struct {
	AgentID string      `json:"agent_id"`
	Status  MinerStatus `json:"status"`
	SpeedReport
}

// BenchmarkReport wraps a finished benchmark for the fleet manager.
type BenchmarkReport struct {
	AgentID string        `json:"agent_id"`
	Tier    BenchmarkTier `json:"tier"`
	BenchmarkResult
}

type RegistrationResponse struct {
	OK   bool             `json:"ok"`
	Data RegistrationData `json:"data"`
}

type RegistrationData struct {
	// SecretKey authenticates the fleet manager's calls into this agent.
	SecretKey string `json:"secret_key"`
}
