package domain

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched (via errors.Is) by every error that must block a
// launch: unmapped devices, unsupported algorithms, malformed endpoints and
// invalid assignments. These are never retried.
var ErrConfiguration = errors.New("configuration error")

type ErrUnmappedDevice struct {
	DeviceID DeviceID
}

func (e ErrUnmappedDevice) Error() string {
	return fmt.Sprintf("device %s has no worker index mapping", e.DeviceID)
}

func (e ErrUnmappedDevice) Is(target error) bool {
	return target == ErrConfiguration
}

type ErrUnsupportedAlgorithm struct {
	Algorithm AlgorithmType
}

func (e ErrUnsupportedAlgorithm) Error() string {
	return fmt.Sprintf("algorithm %q is not supported by the worker", e.Algorithm)
}

func (e ErrUnsupportedAlgorithm) Is(target error) bool {
	return target == ErrConfiguration
}

type ErrInvalidEndpoint struct {
	Endpoint string
	Reason   string
}

func (e ErrInvalidEndpoint) Error() string {
	return fmt.Sprintf("invalid endpoint %q: %s", e.Endpoint, e.Reason)
}

func (e ErrInvalidEndpoint) Is(target error) bool {
	return target == ErrConfiguration
}

type ErrMixedAlgorithms struct {
	First AlgorithmType
	Other AlgorithmType
}

func (e ErrMixedAlgorithms) Error() string {
	return fmt.Sprintf("assignment mixes algorithms %s and %s", e.First, e.Other)
}

func (e ErrMixedAlgorithms) Is(target error) bool {
	return target == ErrConfiguration
}

type ErrDuplicateAssignment struct {
	DeviceID DeviceID
}

func (e ErrDuplicateAssignment) Error() string {
	return fmt.Sprintf("device %s assigned more than once", e.DeviceID)
}

func (e ErrDuplicateAssignment) Is(target error) bool {
	return target == ErrConfiguration
}

type ErrEmptyAssignment struct{}

func (e ErrEmptyAssignment) Error() string {
	return "assignment has no devices"
}

func (e ErrEmptyAssignment) Is(target error) bool {
	return target == ErrConfiguration
}

type ErrMinerBusy struct {
	Status MinerStatus
}

func (e ErrMinerBusy) Error() string {
	return fmt.Sprintf("miner is busy (%s)", e.Status)
}

type ErrWorker struct {
	Op  string
	Err error
}

func (e ErrWorker) Error() string {
	return fmt.Sprintf("worker %s: %v", e.Op, e.Err)
}

func (e ErrWorker) Unwrap() error {
	return e.Err
}
