package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildWith(cmds []Command, errs []ErrorDecl) Report {
	r := New("surfwright", "0.1.0")
	for _, c := range cmds {
		r.RegisterCommand(c.ID, c.Usage, c.Summary)
	}
	for _, e := range errs {
		r.RegisterError(e.Code, e.Retryable)
	}
	return r.Build()
}

func TestFingerprintIndependentOfRegistrationOrder(t *testing.T) {
	cmdsA := []Command{{ID: "session.new", Usage: "session new", Summary: "create"}, {ID: "target.snapshot", Usage: "target snapshot", Summary: "list"}}
	cmdsB := []Command{cmdsA[1], cmdsA[0]}

	a := buildWith(cmdsA, nil)
	b := buildWith(cmdsB, nil)
	assert.Equal(t, a.ContractFingerprint, b.ContractFingerprint)
}

func TestFingerprintChangesWithSummary(t *testing.T) {
	cmds := []Command{{ID: "session.new", Usage: "session new", Summary: "create a session"}}
	a := buildWith(cmds, nil)

	cmds[0].Summary = "create a new session"
	b := buildWith(cmds, nil)

	assert.NotEqual(t, a.ContractFingerprint, b.ContractFingerprint)
}

func TestReportCommandsAndErrorsAreSorted(t *testing.T) {
	cmds := []Command{{ID: "z.verb", Usage: "z", Summary: "z"}, {ID: "a.verb", Usage: "a", Summary: "a"}}
	errs := []ErrorDecl{{Code: "E_Z", Retryable: false}, {Code: "E_A", Retryable: true}}

	report := buildWith(cmds, errs)
	assert.Equal(t, "a.verb", report.Commands[0].ID)
	assert.Equal(t, "z.verb", report.Commands[1].ID)
	assert.Equal(t, "E_A", report.Errors[0].Code)
	assert.Equal(t, "E_Z", report.Errors[1].Code)
}

func TestRegisterBaselineErrorsProducesNonEmptySet(t *testing.T) {
	r := New("surfwright", "0.1.0")
	r.RegisterBaselineErrors()
	report := r.Build()
	assert.NotEmpty(t, report.Errors)
}
