package persona

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go-virtual-company/internal/core"
)

// RespondentFactory turns a record into a live Respondent. The directory
// does not care whether the result is LLM-backed or scripted.
type RespondentFactory interface {
	Create(record EmployeeRecord) (core.Respondent, error)
}

// FactoryFunc adapts a function to RespondentFactory.
type FactoryFunc func(record EmployeeRecord) (core.Respondent, error)

func (f FactoryFunc) Create(record EmployeeRecord) (core.Respondent, error) { return f(record) }

// Directory holds the company roster: records, spawned Respondents and
// the reporting structure derived from the records.
type Directory struct {
	mu      sync.RWMutex
	records map[string]EmployeeRecord
	live    map[string]core.Respondent
	factory RespondentFactory
}

// NewDirectory builds an empty directory backed by the given factory.
func NewDirectory(factory RespondentFactory) *Directory {
	return &Directory{
		records: make(map[string]EmployeeRecord),
		live:    make(map[string]core.Respondent),
		factory: factory,
	}
}

// Register adds or replaces a record without spawning a Respondent.
func (d *Directory) Register(record EmployeeRecord) error {
	if record.Name == "" {
		return fmt.Errorf("employee record has no name")
	}
	d.mu.Lock()
	d.records[record.Name] = record
	d.mu.Unlock()
	return nil
}

// Spawn creates (or returns the already created) Respondent for name.
func (d *Directory) Spawn(name string) (core.Respondent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.live[name]; ok {
		return r, nil
	}
	record, ok := d.records[name]
	if !ok {
		return nil, fmt.Errorf("employee %s not found", name)
	}
	r, err := d.factory.Create(record)
	if err != nil {
		return nil, fmt.Errorf("create respondent for %s: %w", name, err)
	}
	d.live[name] = r
	return r, nil
}

// Record looks up a record by name.
func (d *Directory) Record(name string) (EmployeeRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[name]
	return rec, ok
}

// Names returns all registered employee names, sorted.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.records))
	for n := range d.records {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DirectReports returns the employees whose manager is name, sorted.
func (d *Directory) DirectReports(name string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var reports []string
	for n, rec := range d.records {
		if rec.Manager == name {
			reports = append(reports, n)
		}
	}
	sort.Strings(reports)
	return reports
}

// ManagerOf returns the manager's name, or "" at the top of the chart.
func (d *Directory) ManagerOf(name string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.records[name].Manager
}

// AuthorityLevel derives an authority score from the role title.
func (d *Directory) AuthorityLevel(name string) int {
	rec, ok := d.Record(name)
	if !ok {
		return 0
	}
	role := strings.ToLower(rec.Role)
	switch {
	case strings.Contains(role, "ceo"):
		return 10
	case strings.Contains(role, "vp"), strings.Contains(role, "vice president"):
		return 8
	case strings.Contains(role, "director"):
		return 7
	case strings.Contains(role, "manager"):
		return 6
	case strings.Contains(role, "lead"), strings.Contains(role, "senior"):
		return 5
	case strings.Contains(role, "principal"):
		return 4
	default:
		return 3
	}
}

// requiredDelegationAuthority scales with the task's priority. Priority
// follows the project scale where larger means more urgent.
func requiredDelegationAuthority(priority int) int {
	base := 3
	switch {
	case priority >= 9:
		base += 3
	case priority >= 7:
		base += 2
	case priority >= 5:
		base += 1
	}
	if base > 10 {
		base = 10
	}
	return base
}

// ValidateDelegation checks whether delegatedBy may move a task of the
// given priority from one employee to another. The message explains a
// rejection and confirms an approval.
func (d *Directory) ValidateDelegation(from, to, delegatedBy string, priority int) (bool, string) {
	if _, ok := d.Record(from); !ok {
		return false, fmt.Sprintf("employee %s not found", from)
	}
	if _, ok := d.Record(to); !ok {
		return false, fmt.Sprintf("employee %s not found", to)
	}
	if _, ok := d.Record(delegatedBy); !ok {
		return false, fmt.Sprintf("delegating employee %s not found", delegatedBy)
	}
	required := requiredDelegationAuthority(priority)
	have := d.AuthorityLevel(delegatedBy)
	if have < required {
		return false, fmt.Sprintf("insufficient authority level (%d < %d)", have, required)
	}
	return true, "delegation validated"
}

// EscalationTarget resolves where a task escalated by name should go:
// the direct manager when one exists, otherwise the highest-authority
// employee other than the escalator.
func (d *Directory) EscalationTarget(name string) (string, bool) {
	if mgr := d.ManagerOf(name); mgr != "" {
		if _, ok := d.Record(mgr); ok {
			return mgr, true
		}
	}
	best, bestLevel := "", 0
	for _, n := range d.Names() {
		if n == name {
			continue
		}
		if lvl := d.AuthorityLevel(n); lvl > bestLevel {
			best, bestLevel = n, lvl
		}
	}
	return best, best != ""
}
