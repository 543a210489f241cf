package security

import (
	"fmt"
	"regexp"
)

// CommandGuard decides which commands may be sent to a target. Blocked
// patterns always win; when allowed patterns exist, a command must match one.
type CommandGuard struct {
	blocked []*regexp.Regexp
	allowed []*regexp.Regexp
}

// NewCommandGuard compiles the given regular expressions.
func NewCommandGuard(blocked, allowed []string) (*CommandGuard, error) {
	g := &CommandGuard{}
	var err error
	if g.blocked, err = compileAll("blocked", blocked); err != nil {
		return nil, err
	}
	if g.allowed, err = compileAll("allowed", allowed); err != nil {
		return nil, err
	}
	return g, nil
}

func compileAll(kind string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Check returns an error naming the rule that rejects command, or nil.
// A nil guard allows everything.
func (g *CommandGuard) Check(command string) error {
	if g == nil {
		return nil
	}
	for _, re := range g.blocked {
		if re.MatchString(command) {
			return fmt.Errorf("command %q blocked by pattern %s", command, re)
		}
	}
	if len(g.allowed) == 0 {
		return nil
	}
	for _, re := range g.allowed {
		if re.MatchString(command) {
			return nil
		}
	}
	return fmt.Errorf("command %q is not in the allowed list", command)
}
