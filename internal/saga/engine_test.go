package saga

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingStep(name string, calls *[]string, execErr error) Step {
	return Step{
		Name: name,
		Execute: func(ctx context.Context, sc *Context) error {
			*calls = append(*calls, "exec:"+name)
			return execErr
		},
		Compensate: func(ctx context.Context, sc *Context) error {
			*calls = append(*calls, "comp:"+name)
			return nil
		},
	}
}

func TestExecute_NoSteps(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.Execute(context.Background(), nil, nil, "saga-empty", Options{})
	require.ErrorIs(t, err, ErrNoSteps)
}

func TestCompensating_AllStepsSucceed(t *testing.T) {
	e := NewEngine(nil)
	var calls []string

	steps := []Step{
		recordingStep("one", &calls, nil),
		recordingStep("two", &calls, nil),
		recordingStep("three", &calls, nil),
	}

	res, err := e.Execute(context.Background(), steps, "input", "saga-ok", Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"one", "two", "three"}, res.CompletedSteps)
	assert.Equal(t, []string{"exec:one", "exec:two", "exec:three"}, calls)
	assert.Equal(t, "input", res.Context.Input)
	assert.Nil(t, res.Context.Tx)
}

func TestCompensating_ReverseOrderOnCriticalFailure(t *testing.T) {
	e := NewEngine(nil)
	var calls []string
	boom := errors.New("step three exploded")

	steps := []Step{
		recordingStep("one", &calls, nil),
		recordingStep("two", &calls, nil),
		recordingStep("three", &calls, boom),
		recordingStep("four", &calls, nil),
		recordingStep("five", &calls, nil),
	}

	res, err := e.Execute(context.Background(), steps, nil, "saga-fail", Options{})
	require.ErrorIs(t, err, boom)
	assert.False(t, res.Success)

	// Compensation runs for completed steps only, in reverse. The
	// failed step and the unreached ones are never compensated.
	assert.Equal(t, []string{
		"exec:one", "exec:two", "exec:three",
		"comp:two", "comp:one",
	}, calls)
	assert.Equal(t, []string{"one", "two"}, res.CompletedSteps)
	assert.ErrorIs(t, res.Context.Err, boom)
}

func TestCompensating_NonCriticalFailureContinues(t *testing.T) {
	e := NewEngine(nil)
	var calls []string

	flaky := recordingStep("flaky", &calls, errors.New("best effort failed"))
	flaky.Critical = NotCritical

	steps := []Step{
		recordingStep("one", &calls, nil),
		flaky,
		recordingStep("two", &calls, nil),
	}

	res, err := e.Execute(context.Background(), steps, nil, "saga-noncrit", Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"exec:one", "exec:flaky", "exec:two"}, calls)
	// The failed non-critical step is not recorded as completed.
	assert.Equal(t, []string{"one", "two"}, res.CompletedSteps)
}

func TestCompensating_BadCompensatorDoesNotStopOthers(t *testing.T) {
	e := NewEngine(nil)
	var calls []string

	one := recordingStep("one", &calls, nil)
	two := Step{
		Name: "two",
		Execute: func(ctx context.Context, sc *Context) error {
			calls = append(calls, "exec:two")
			return nil
		},
		Compensate: func(ctx context.Context, sc *Context) error {
			calls = append(calls, "comp:two")
			return errors.New("compensator broken")
		},
	}
	three := recordingStep("three", &calls, errors.New("boom"))

	_, err := e.Execute(context.Background(), []Step{one, two, three}, nil, "saga-badcomp", Options{})
	require.Error(t, err)

	// two's compensator failed but one's still ran.
	assert.Equal(t, []string{
		"exec:one", "exec:two", "exec:three",
		"comp:two", "comp:one",
	}, calls)
}

func TestCompensating_PanickingCompensatorIsContained(t *testing.T) {
	e := NewEngine(nil)
	var calls []string

	one := recordingStep("one", &calls, nil)
	two := Step{
		Name: "two",
		Execute: func(ctx context.Context, sc *Context) error {
			calls = append(calls, "exec:two")
			return nil
		},
		Compensate: func(ctx context.Context, sc *Context) error {
			panic("compensator panic")
		},
	}
	three := recordingStep("three", &calls, errors.New("boom"))

	_, err := e.Execute(context.Background(), []Step{one, two, three}, nil, "saga-panic", Options{})
	require.Error(t, err)
	assert.Equal(t, []string{"exec:one", "exec:two", "exec:three", "comp:one"}, calls)
}

func TestCompensating_PanickingStepCompensates(t *testing.T) {
	e := NewEngine(nil)
	var calls []string

	one := recordingStep("one", &calls, nil)
	two := Step{
		Name: "two",
		Execute: func(ctx context.Context, sc *Context) error {
			panic("step panic")
		},
	}

	res, err := e.Execute(context.Background(), []Step{one, two}, nil, "saga-steppanic", Options{})
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, []string{"exec:one", "comp:one"}, calls)
}

func TestCompensating_DataBagThreadsBetweenSteps(t *testing.T) {
	e := NewEngine(nil)

	steps := []Step{
		{
			Name: "produce",
			Execute: func(ctx context.Context, sc *Context) error {
				sc.Data["ref"] = "abc-123"
				return nil
			},
		},
		{
			Name: "consume",
			Execute: func(ctx context.Context, sc *Context) error {
				ref, ok := sc.Data["ref"].(string)
				if !ok {
					return fmt.Errorf("ref missing from data bag")
				}
				sc.Entity = ref
				return nil
			},
		},
	}

	res, err := e.Execute(context.Background(), steps, nil, "saga-data", Options{})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", res.Context.Entity)
}
