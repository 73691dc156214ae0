package verify

import (
	"context"
	"fmt"
	"math"

	"github.com/harrison/gatekeeper/internal/models"
)

// PositionTolerance compares the requested placement (x, y, z parameters)
// with the placement echoed in the execution result.
type PositionTolerance struct {
	Tolerance float64
}

// Name returns the check name.
func (PositionTolerance) Name() string { return "position_within_tolerance" }

// Verify passes when no coordinates were requested, and otherwise when the
// euclidean distance between requested and actual is within tolerance.
func (p PositionTolerance) Verify(_ context.Context, env *models.Envelope, result models.ExecutionResult) (models.VerificationCheck, error) {
	check := models.VerificationCheck{Name: p.Name(), Tolerance: p.Tolerance}

	var sq float64
	compared := 0
	data := models.Params(result.Data)
	for _, axis := range []string{"x", "y", "z"} {
		want, ok := env.Params.GetDouble(axis)
		if !ok {
			continue
		}
		got, ok := data.GetDouble(axis)
		if !ok {
			check.Message = fmt.Sprintf("result does not report %s coordinate", axis)
			check.Expected = fmt.Sprintf("%s=%g", axis, want)
			check.Actual = "missing"
			return check, nil
		}
		sq += (got - want) * (got - want)
		compared++
	}

	if compared == 0 {
		check.Passed = true
		check.Message = "no placement requested"
		return check, nil
	}

	check.Deviation = math.Sqrt(sq)
	check.Passed = check.Deviation <= p.Tolerance
	check.Expected = fmt.Sprintf("deviation <= %g", p.Tolerance)
	check.Actual = fmt.Sprintf("%.4f", check.Deviation)
	if check.Passed {
		check.Message = "placement within tolerance"
	} else {
		check.Message = fmt.Sprintf("placement off by %.4f (tolerance %g)", check.Deviation, p.Tolerance)
	}
	return check, nil
}

// HostRelationship checks that a hosted element (door in wall, window in
// wall) ended up on the requested host.
type HostRelationship struct {
	// ParamKey is the request parameter naming the host ("host_id" by default).
	ParamKey string
	// ResultKey is the result field reporting the actual host ("host_id" by default).
	ResultKey string
}

// Name returns the check name.
func (HostRelationship) Name() string { return "host_relationship" }

// Verify passes when no host was requested or the result reports the same host.
func (h HostRelationship) Verify(_ context.Context, env *models.Envelope, result models.ExecutionResult) (models.VerificationCheck, error) {
	paramKey, resultKey := h.ParamKey, h.ResultKey
	if paramKey == "" {
		paramKey = "host_id"
	}
	if resultKey == "" {
		resultKey = "host_id"
	}
	check := models.VerificationCheck{Name: h.Name()}

	want, ok := env.Params.GetID(paramKey)
	if !ok {
		check.Passed = true
		check.Message = "no host requested"
		return check, nil
	}
	check.Expected = fmt.Sprint(want)

	got, ok := models.Params(result.Data).GetID(resultKey)
	if !ok {
		check.Actual = "none"
		check.Message = "result does not report a host"
		return check, nil
	}
	check.Actual = fmt.Sprint(got)
	check.Passed = got == want
	if check.Passed {
		check.Message = fmt.Sprintf("hosted by %d", got)
	} else {
		check.Message = fmt.Sprintf("hosted by %d, expected %d", got, want)
	}
	return check, nil
}
