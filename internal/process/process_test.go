package process

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/acolita/satprobe/internal/channel"
)

// collect polls ch until want appears in the output or the deadline passes.
func collect(t *testing.T, ch channel.Channel, want string, timeout time.Duration) string {
	t.Helper()
	var sb strings.Builder
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		chunk, err := ch.TryReceive()
		if errors.Is(err, channel.ErrNoData) {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err != nil {
			break
		}
		sb.WriteString(chunk)
		if strings.Contains(sb.String(), want) {
			break
		}
	}
	return sb.String()
}

func TestCommandLine(t *testing.T) {
	tests := []struct {
		opts Options
		want string
	}{
		{Options{Path: "./obc-sim"}, "./obc-sim"},
		{Options{Path: "./obc-sim", Params: "--port 4000 -v"}, "./obc-sim --port 4000 -v"},
	}
	for _, tt := range tests {
		if got := CommandLine(tt.opts); got != tt.want {
			t.Errorf("CommandLine() = %q, want %q", got, tt.want)
		}
	}
}

func TestStart_RequiresPath(t *testing.T) {
	if _, err := Start(Options{Path: "  "}); err == nil {
		t.Error("Start() should reject an empty path")
	}
}

func TestStart_EchoesThroughPipes(t *testing.T) {
	p, err := Start(Options{Path: "cat"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Close()

	if p.Channel().Kind() != channel.KindConsole {
		t.Errorf("Kind() = %v", p.Channel().Kind())
	}
	if err := p.Channel().Send("hello"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if out := collect(t, p.Channel(), "hello\r", 5*time.Second); !strings.Contains(out, "hello\r") {
		t.Errorf("output = %q, want the command echoed with its terminator", out)
	}
}

func TestStart_MergesStderr(t *testing.T) {
	p, err := Start(Options{Path: "echo", Params: "to-stderr 1>&2; echo to-stdout"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Close()

	out := collect(t, p.Channel(), "to-stdout", 5*time.Second)
	if !strings.Contains(out, "to-stderr") || !strings.Contains(out, "to-stdout") {
		t.Errorf("output = %q, want both streams", out)
	}
}

func TestStart_ExitReportsBrokenChannel(t *testing.T) {
	p, err := Start(Options{Path: "true"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Close()

	if err := p.Wait(); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, err := p.Channel().TryReceive()
		if channel.IsBroken(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("channel never reported the program's exit")
}

func TestStart_PTY(t *testing.T) {
	p, err := Start(Options{Path: "echo", Params: "on-a-tty", UsePTY: true})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Close()

	if out := collect(t, p.Channel(), "on-a-tty", 5*time.Second); !strings.Contains(out, "on-a-tty") {
		t.Errorf("output = %q", out)
	}
}

func TestClose_TerminatesProgram(t *testing.T) {
	p, err := Start(Options{Path: "sleep", Params: "30"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	start := time.Now()
	if err := p.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if time.Since(start) > DefaultGracePeriod {
		t.Error("SIGTERM should have been enough")
	}
	select {
	case <-p.Exited():
	default:
		t.Error("program still running after Close")
	}

	if err := p.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestClose_KillsStubbornProgram(t *testing.T) {
	p, err := Start(Options{
		Path:        "trap '' TERM; sleep 30",
		GracePeriod: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	// Give the shell time to install the trap.
	time.Sleep(200 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- p.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not kill the process group")
	}
}

func TestSend_AfterClose(t *testing.T) {
	p, err := Start(Options{Path: "cat"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	p.Close()

	err = p.Channel().Send("late")
	if !errors.Is(err, channel.ErrClosed) {
		t.Errorf("Send() error = %v, want ErrClosed", err)
	}
}
