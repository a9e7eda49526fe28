package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-virtual-company/internal/core"
	"go-virtual-company/internal/llm"
)

func testRoster() []EmployeeRecord {
	return []EmployeeRecord{
		{Name: "victoria", Role: "CEO", Department: "Executive"},
		{Name: "mark", Role: "Engineering Manager", Department: "Engineering", Manager: "victoria"},
		{Name: "sara", Role: "Senior Developer", Department: "Engineering", Manager: "mark",
			Skills: map[string]int{"development": 9}},
		{Name: "tom", Role: "Developer", Department: "Engineering", Manager: "mark"},
	}
}

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	d := NewDirectory(FactoryFunc(func(rec EmployeeRecord) (core.Respondent, error) {
		return NewEmployee(rec, &llm.Mock{}, nil), nil
	}))
	for _, rec := range testRoster() {
		require.NoError(t, d.Register(rec))
	}
	return d
}

func TestDirectoryOrgChart(t *testing.T) {
	d := newTestDirectory(t)

	assert.Equal(t, []string{"sara", "tom"}, d.DirectReports("mark"))
	assert.Equal(t, "mark", d.ManagerOf("sara"))
	assert.Equal(t, "", d.ManagerOf("victoria"))
	assert.Equal(t, []string{"mark", "sara", "tom", "victoria"}, d.Names())
}

func TestSpawnReturnsSameRespondent(t *testing.T) {
	d := newTestDirectory(t)

	first, err := d.Spawn("sara")
	require.NoError(t, err)
	second, err := d.Spawn("sara")
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = d.Spawn("nobody")
	require.Error(t, err)
}

func TestAuthorityLevels(t *testing.T) {
	d := newTestDirectory(t)

	assert.Equal(t, 10, d.AuthorityLevel("victoria"))
	assert.Equal(t, 6, d.AuthorityLevel("mark"))
	assert.Equal(t, 5, d.AuthorityLevel("sara"))
	assert.Equal(t, 3, d.AuthorityLevel("tom"))
	assert.Equal(t, 0, d.AuthorityLevel("nobody"))
}

func TestValidateDelegation(t *testing.T) {
	d := newTestDirectory(t)

	ok, msg := d.ValidateDelegation("sara", "tom", "mark", 5)
	assert.True(t, ok, msg)

	ok, msg = d.ValidateDelegation("sara", "tom", "tom", 9)
	assert.False(t, ok)
	assert.Contains(t, msg, "insufficient authority")

	ok, msg = d.ValidateDelegation("ghost", "tom", "mark", 1)
	assert.False(t, ok)
	assert.Contains(t, msg, "not found")
}

func TestEscalationTarget(t *testing.T) {
	d := newTestDirectory(t)

	target, ok := d.EscalationTarget("sara")
	require.True(t, ok)
	assert.Equal(t, "mark", target)

	// The CEO has no manager; escalation goes to the highest authority
	// other than themselves.
	target, ok = d.EscalationTarget("victoria")
	require.True(t, ok)
	assert.Equal(t, "mark", target)
}

func TestEmployeeParsesActionEnvelope(t *testing.T) {
	mock := &llm.Mock{Responses: []string{
		`{"action": {"type": "TALK", "content": "I will take the API work", "target": "mark"}}`,
		`{"action": {"type": "DONE", "content": ""}}`,
	}}
	e := NewEmployee(EmployeeRecord{Name: "sara", Role: "Senior Developer", Department: "Engineering"}, mock, nil)

	require.NoError(t, e.Listen("who can take the API work?", "mark", 0))
	actions, err := e.Act(core.ActOptions{UntilDone: true, ReturnActions: true})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, core.ActionTalk, actions[0].Type)
	assert.Equal(t, "mark", actions[0].Target)
	assert.Equal(t, core.ActionDone, actions[1].Type)
}

func TestEmployeeFallsBackToTalk(t *testing.T) {
	mock := &llm.Mock{Responses: []string{"just plain prose, no JSON"}}
	e := NewEmployee(EmployeeRecord{Name: "tom"}, mock, nil)

	actions, err := e.Act(core.ActOptions{N: 1, ReturnActions: true})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, core.ActionTalk, actions[0].Type)
	assert.Equal(t, "just plain prose, no JSON", actions[0].Content)
}

func TestDirectiveInjectedIntoPrompt(t *testing.T) {
	mock := &llm.Mock{Responses: []string{`{"action": {"type": "DONE"}}`}}
	e := NewEmployee(EmployeeRecord{Name: "sara", Role: "Senior Developer"}, mock, nil)

	e.ApplyDirective("drop everything and fix the outage")
	_, err := e.Act(core.ActOptions{N: 1})
	require.NoError(t, err)

	require.NotEmpty(t, mock.Requests)
	system := mock.Requests[0].Messages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "drop everything and fix the outage")
}

func TestListenTruncatesToMaxContentLength(t *testing.T) {
	mock := &llm.Mock{Responses: []string{`{"action": {"type": "DONE"}}`}}
	e := NewEmployee(EmployeeRecord{Name: "tom"}, mock, nil)

	require.NoError(t, e.Listen("0123456789", "", 4))
	_, err := e.Act(core.ActOptions{N: 1})
	require.NoError(t, err)

	history := mock.Requests[0].Messages
	require.Len(t, history, 2)
	assert.Equal(t, "0123", history[1].Content)
}
