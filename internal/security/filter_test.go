package security

import "testing"

func TestCommandGuard(t *testing.T) {
	tests := []struct {
		name    string
		blocked []string
		allowed []string
		command string
		wantErr bool
	}{
		{"no rules", nil, nil, "reboot", false},
		{"blocked", []string{`^format\b`}, nil, "format /flash", true},
		{"not blocked", []string{`^format\b`}, nil, "formation status", false},
		{"allowed", nil, []string{`^get `, `^ping$`}, "get temp", false},
		{"not allowed", nil, []string{`^get `}, "set heater on", true},
		{"block beats allow", []string{`erase`}, []string{`^eeprom `}, "eeprom erase", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewCommandGuard(tt.blocked, tt.allowed)
			if err != nil {
				t.Fatalf("NewCommandGuard() error: %v", err)
			}
			if err := g.Check(tt.command); (err != nil) != tt.wantErr {
				t.Errorf("Check(%q) error = %v, wantErr %v", tt.command, err, tt.wantErr)
			}
		})
	}
}

func TestCommandGuard_InvalidPattern(t *testing.T) {
	if _, err := NewCommandGuard([]string{"("}, nil); err == nil {
		t.Error("invalid blocked pattern should fail")
	}
	if _, err := NewCommandGuard(nil, []string{"[a-"}); err == nil {
		t.Error("invalid allowed pattern should fail")
	}
}

func TestCommandGuard_Nil(t *testing.T) {
	var g *CommandGuard
	if err := g.Check("anything"); err != nil {
		t.Errorf("nil guard Check() error = %v", err)
	}
}
