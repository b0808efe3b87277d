package domain

type MinerStatus string

const (
	StatusIdle         MinerStatus = "idle"
	StatusBenchmarking MinerStatus = "benchmarking"
	StatusMining       MinerStatus = "mining"
	StatusError        MinerStatus = "error"
)
