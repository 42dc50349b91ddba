// Package mapper implements declarative rename/copy/convert rules over an event record.
package mapper

import (
	"errors"
	"fmt"

	"github.com/telhawk-systems/cloudlog/internal/event"
)

var (
	// ErrMissingField is returned when a required source field is absent.
	ErrMissingField = errors.New("field is missing")
	// ErrConversion is returned when a value cannot be coerced to the declared type.
	ErrConversion = errors.New("conversion failed")
)

// Mode controls whether the source field survives a rule.
type Mode int

const (
	// Copy leaves the source field in place.
	Copy Mode = iota
	// Rename deletes the source field after the value is written.
	Rename
)

func (m Mode) String() string {
	if m == Rename {
		return "rename"
	}
	return "copy"
}

// Rule is a fully resolved mapping instruction.
type Rule struct {
	From          string
	To            string
	Type          Type
	Mode          Mode
	IgnoreMissing bool
	FailOnError   bool
}

// Field is a row in a mapping table. Mode and failure policy come from Options.
type Field struct {
	From string
	To   string
	Type Type
}

// Options are the table-wide defaults applied to every Field.
type Options struct {
	Mode          Mode
	IgnoreMissing bool
	FailOnError   bool
}

// Error describes the rule that aborted a mapper run.
type Error struct {
	Mapper string
	Rule   Rule
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s -> %s: %v", e.Mapper, e.Rule.From, e.Rule.To, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Convert applies an ordered list of rules in a single pass.
type Convert struct {
	name  string
	rules []Rule
}

// New builds a Convert from table rows sharing the same options.
func New(name string, opts Options, fields ...Field) *Convert {
	rules := make([]Rule, 0, len(fields))
	for _, f := range fields {
		rules = append(rules, Rule{
			From:          f.From,
			To:            f.To,
			Type:          f.Type,
			Mode:          opts.Mode,
			IgnoreMissing: opts.IgnoreMissing,
			FailOnError:   opts.FailOnError,
		})
	}
	return &Convert{name: name, rules: rules}
}

// FromRules builds a Convert from individually configured rules.
func FromRules(name string, rules ...Rule) *Convert {
	return &Convert{name: name, rules: append([]Rule(nil), rules...)}
}

// Name identifies the mapper in errors and logs.
func (c *Convert) Name() string {
	return c.name
}

// Run applies every rule to r. Missing required fields and conversion failures on
// FailOnError rules abort the run; other conversion failures skip only that rule.
func (c *Convert) Run(r *event.Record) error {
	for _, rule := range c.rules {
		if err := apply(r, rule); err != nil {
			if errors.Is(err, ErrMissingField) || rule.FailOnError {
				return &Error{Mapper: c.name, Rule: rule, Err: err}
			}
		}
	}
	return nil
}

func apply(r *event.Record, rule Rule) error {
	value, ok := r.GetValue(rule.From)
	if !ok {
		if rule.IgnoreMissing {
			return nil
		}
		return ErrMissingField
	}

	converted, err := Coerce(value, rule.Type)
	if err != nil {
		return err
	}

	to := rule.To
	if to == "" {
		to = rule.From
	}
	if rule.Mode == Rename && to != rule.From {
		r.Delete(rule.From)
	}
	r.Put(to, converted)
	return nil
}
