package spec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSpecNotFound = errors.New("spec not found")
	ErrInvalidSpec  = errors.New("invalid spec")
)

// Spec is what the registry needs from a job definition.
type Spec interface {
	ID() int
	Name() string
	CronExpression() (string, bool)
	Executable() bool
}

// JobSpec is the identity and schedule of a job definition.
type JobSpec struct {
	id          int
	name        string
	cron        string // canonical; "" means absent
	executeFlag bool
}

func NewJobSpec(id int, name string) (JobSpec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return JobSpec{}, fmt.Errorf("%w: spec %d has empty name", ErrInvalidSpec, id)
	}
	return JobSpec{id: id, name: name}, nil
}

// Ref returns an identity-only spec. It is never executable and is used
// when only the id of a spec is known (e.g. after the row was deleted).
func Ref(id int) *JobSpec { return &JobSpec{id: id} }

func (s *JobSpec) ID() int      { return s.id }
func (s *JobSpec) Name() string { return s.name }

// CronExpression returns the canonical expression and whether one is set.
func (s *JobSpec) CronExpression() (string, bool) { return s.cron, s.cron != "" }

// SetCronExpression canonicalizes raw and stores it. Empty input clears the
// expression; an invalid one leaves the previous value untouched.
func (s *JobSpec) SetCronExpression(raw string) error {
	c, err := CanonicalizeCron(raw)
	if err != nil {
		return err
	}
	s.cron = c
	return nil
}

func (s *JobSpec) Executable() bool      { return s.executeFlag }
func (s *JobSpec) SetExecuteFlag(v bool) { s.executeFlag = v }
func (s *JobSpec) String() string        { return fmt.Sprintf("spec(%d:%s)", s.id, s.name) }

// ImplSpec is the concrete spec kind that the registry schedules.
type ImplSpec struct {
	JobSpec
	genFlag bool
}

// NewImplSpec builds a fully populated ImplSpec.
func NewImplSpec(id int, name, cron string, execute, gen bool) (*ImplSpec, error) {
	js, err := NewJobSpec(id, name)
	if err != nil {
		return nil, err
	}
	if err := js.SetCronExpression(cron); err != nil {
		return nil, fmt.Errorf("%w: spec %d: %v", ErrInvalidSpec, id, err)
	}
	js.SetExecuteFlag(execute)
	return &ImplSpec{JobSpec: js, genFlag: gen}, nil
}

// GenFlag reports whether a registered job should currently produce output.
func (s *ImplSpec) GenFlag() bool     { return s.genFlag }
func (s *ImplSpec) SetGenFlag(v bool) { s.genFlag = v }

// Equal compares by id only.
func (s *ImplSpec) Equal(o *ImplSpec) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.id == o.id
}
