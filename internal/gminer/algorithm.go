// Package gminer knows how to turn an assignment into a GMiner invocation.
package gminer

import "github.com/qudata/gminer-agent/internal/domain"

// DevFee is the percentage GMiner keeps for itself; every reported speed is
// reduced by it.
const DevFee = 2.0

var algorithmTokens = map[domain.AlgorithmType]string{
	domain.AlgorithmZHash:          "144_5",
	domain.AlgorithmBeam:           "150_5",
	domain.AlgorithmGrinCuckaroo29: "grin29",
	domain.AlgorithmGrinCuckatoo31: "grin31",
}

// AlgorithmName returns GMiner's token for a, or "" if GMiner can't mine it.
func AlgorithmName(a domain.AlgorithmType) string {
	return algorithmTokens[a]
}

// Supported reports whether a has a GMiner token.
func Supported(a domain.AlgorithmType) bool {
	return AlgorithmName(a) != ""
}

// Equihash 144,5 needs a personalization string; "auto" lets GMiner pick it
// from the coin.
func needsPersonalization(a domain.AlgorithmType) bool {
	return a == domain.AlgorithmZHash
}
