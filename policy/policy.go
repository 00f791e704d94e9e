// Package policy selects a signing strategy per use case: the multi-round
// never-reconstruct session for maximum security, or the one-round
// temporarily-reconstruct request for lower latency and offline tolerance.
package policy

import "fmt"

// Method is a signing strategy.
type Method string

const (
	// NeverReconstruct runs the multi-round threshold protocol; the private
	// key never exists in full anywhere.
	NeverReconstruct Method = "never_reconstruct"

	// TemporarilyReconstruct briefly reassembles the key at the coordinator,
	// signs, and discards it.
	TemporarilyReconstruct Method = "temporarily_reconstruct"
)

// UseCase describes why a signing operation is requested.
type UseCase string

const (
	UseCaseRoutine           UseCase = "routine"
	UseCaseHighValue         UseCase = "high_value"
	UseCaseFederationEvent   UseCase = "federation_event"
	UseCaseEmergencyRecovery UseCase = "emergency_recovery"
	UseCaseKeyRotation       UseCase = "key_rotation"
	UseCaseLatencyCritical   UseCase = "latency_critical"
	UseCaseOfflineGuardians  UseCase = "offline_guardians"
)

// LatencyBand is a coarse expected-latency classification, for audit and UX.
type LatencyBand string

const (
	// LatencyMultiRound means two guardian round trips plus aggregation.
	LatencyMultiRound LatencyBand = "multi_round"

	// LatencySingleRound means one guardian round trip.
	LatencySingleRound LatencyBand = "single_round"
)

// Recommendation explains a strategy choice. This is pure data, not
// security-enforcing.
type Recommendation struct {
	Method  Method
	UseCase UseCase
	Reason  string
	Latency LatencyBand
}

// methodByUseCase is the fixed lookup table mapping use cases to a strategy.
var methodByUseCase = map[UseCase]Method{
	UseCaseRoutine:           NeverReconstruct,
	UseCaseHighValue:         NeverReconstruct,
	UseCaseFederationEvent:   NeverReconstruct,
	UseCaseEmergencyRecovery: TemporarilyReconstruct,
	UseCaseKeyRotation:       TemporarilyReconstruct,
	UseCaseLatencyCritical:   TemporarilyReconstruct,
	UseCaseOfflineGuardians:  TemporarilyReconstruct,
}

var reasonByUseCase = map[UseCase]string{
	UseCaseRoutine:           "routine operations default to maximum security; the key never exists in full",
	UseCaseHighValue:         "high-value operations require the never-reconstruct guarantee",
	UseCaseFederationEvent:   "federation-protocol events are signed natively with the threshold scheme",
	UseCaseEmergencyRecovery: "emergency recovery must complete even with some guardians unreachable",
	UseCaseKeyRotation:       "scheduled rotation tolerates brief key exposure in exchange for one round",
	UseCaseLatencyCritical:   "latency-critical paths cannot afford two guardian round trips",
	UseCaseOfflineGuardians:  "a single collection round tolerates guardians being offline",
}

// SelectMethod chooses a strategy. An explicit override always wins; absent
// an override the fixed lookup table decides, and unknown use cases fall back
// to never-reconstruct.
func SelectMethod(useCase UseCase, override Method) (Method, error) {
	switch override {
	case NeverReconstruct, TemporarilyReconstruct:
		return override, nil
	case "":
	default:
		return "", fmt.Errorf("unknown method override %q", override)
	}

	if method, ok := methodByUseCase[useCase]; ok {
		return method, nil
	}
	return NeverReconstruct, nil
}

// GetMethodRecommendation returns the chosen strategy with a human-readable
// justification and expected latency band.
func GetMethodRecommendation(useCase UseCase) Recommendation {
	method, _ := SelectMethod(useCase, "")

	reason, ok := reasonByUseCase[useCase]
	if !ok {
		reason = "unrecognized use case defaults to maximum security"
	}

	latency := LatencyMultiRound
	if method == TemporarilyReconstruct {
		latency = LatencySingleRound
	}

	return Recommendation{
		Method:  method,
		UseCase: useCase,
		Reason:  reason,
		Latency: latency,
	}
}
