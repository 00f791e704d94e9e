package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectMethodOverrideWins(t *testing.T) {
	method, err := SelectMethod(UseCaseRoutine, TemporarilyReconstruct)
	require.NoError(t, err)
	assert.Equal(t, TemporarilyReconstruct, method, "Explicit override must always win")

	method, err = SelectMethod(UseCaseEmergencyRecovery, NeverReconstruct)
	require.NoError(t, err)
	assert.Equal(t, NeverReconstruct, method)

	_, err = SelectMethod(UseCaseRoutine, Method("bogus"))
	assert.Error(t, err, "Unknown override must be rejected")
}

func TestSelectMethodLookupTable(t *testing.T) {
	tests := []struct {
		useCase UseCase
		want    Method
	}{
		{UseCaseRoutine, NeverReconstruct},
		{UseCaseHighValue, NeverReconstruct},
		{UseCaseFederationEvent, NeverReconstruct},
		{UseCaseEmergencyRecovery, TemporarilyReconstruct},
		{UseCaseKeyRotation, TemporarilyReconstruct},
		{UseCaseLatencyCritical, TemporarilyReconstruct},
		{UseCaseOfflineGuardians, TemporarilyReconstruct},
		{UseCase("something_else"), NeverReconstruct},
	}

	for _, tc := range tests {
		method, err := SelectMethod(tc.useCase, "")
		require.NoError(t, err)
		assert.Equal(t, tc.want, method, "use case %s", tc.useCase)
	}
}

func TestGetMethodRecommendation(t *testing.T) {
	rec := GetMethodRecommendation(UseCaseHighValue)
	assert.Equal(t, NeverReconstruct, rec.Method)
	assert.Equal(t, LatencyMultiRound, rec.Latency)
	assert.NotEmpty(t, rec.Reason)

	rec = GetMethodRecommendation(UseCaseKeyRotation)
	assert.Equal(t, TemporarilyReconstruct, rec.Method)
	assert.Equal(t, LatencySingleRound, rec.Latency)
	assert.NotEmpty(t, rec.Reason)

	rec = GetMethodRecommendation(UseCase("unknown"))
	assert.Equal(t, NeverReconstruct, rec.Method, "Unknown use cases default to maximum security")
}
