package executor

import (
	"context"
	"fmt"

	"github.com/nugacorp/device-jobs/internal/domain"
)

// Rule is the payload contract for one action
type Rule struct {
	RequireSubject bool
	RequiredKeys   []string
}

// DefaultRules is the payload contract for commands on RouterOS: creating a
// PPP secret needs a username and a profile, and changing a plan needs the new
// profile. subject_id stays optional since tenant-level jobs carry none.
var DefaultRules = map[domain.Action]Rule{
	domain.ActionCreate: {RequiredKeys: []string{"username", "profile"}},
	domain.ActionUpdate: {RequiredKeys: []string{"profile"}},
}

// Validating checks a command against its action's Rule before handing it to
// the next executor. Violations are permanent: the same payload will never pass.
type Validating struct {
	next  Executor
	rules map[domain.Action]Rule
}

// NewValidating wraps next. A nil rules map uses DefaultRules.
func NewValidating(next Executor, rules map[domain.Action]Rule) *Validating {
	if rules == nil {
		rules = DefaultRules
	}
	return &Validating{next: next, rules: rules}
}

// Execute validates cmd and delegates to the wrapped executor
func (v *Validating) Execute(ctx context.Context, cmd Command) error {
	if err := v.validate(cmd); err != nil {
		return domain.Permanent(err)
	}
	return v.next.Execute(ctx, cmd)
}

func (v *Validating) validate(cmd Command) error {
	if !cmd.Action.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAction, cmd.Action)
	}

	rule, ok := v.rules[cmd.Action]
	if !ok {
		return nil
	}

	if rule.RequireSubject && cmd.SubjectID == "" {
		return fmt.Errorf("%w: %s requires a subject_id", domain.ErrInvalidPayload, cmd.Action)
	}

	for _, key := range rule.RequiredKeys {
		val, ok := cmd.Payload[key]
		if !ok || val == nil || val == "" {
			return fmt.Errorf("%w: %s requires payload field %q", domain.ErrInvalidPayload, cmd.Action, key)
		}
	}

	return nil
}
