package fakesshdialer

import (
	"errors"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestDial_Unconfigured(t *testing.T) {
	d := New()
	if _, err := d.Dial("tcp", "obc:22", &ssh.ClientConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Dial() error = %v, want ErrNotConfigured", err)
	}
}

func TestDial_SetErrorAndCalls(t *testing.T) {
	d := New()
	want := errors.New("refused")
	d.SetError(want)

	cfg := &ssh.ClientConfig{User: "ops"}
	if _, err := d.Dial("tcp", "obc:22", cfg); !errors.Is(err, want) {
		t.Errorf("Dial() error = %v", err)
	}

	calls := d.Calls()
	if len(calls) != 1 || calls[0].Addr != "obc:22" || calls[0].Config != cfg {
		t.Errorf("Calls() = %+v", calls)
	}
}
