package channel

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/acolita/satprobe/internal/testing/fakes/fakenet"
)

// receiveWithin polls TryReceive until data or a non-ErrNoData error arrives.
func receiveWithin(t *testing.T, ch Channel, d time.Duration) (string, error) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		data, err := ch.TryReceive()
		if err != ErrNoData {
			return data, err
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no data within %v", d)
	return "", nil
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind   Kind
		tag    string
		source string
	}{
		{KindSocket, "sock", "socket"},
		{KindConsole, "term", "process"},
		{KindRemote, "remote", "process"},
		{Kind(9), "kind(9)", "process"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.tag {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.tag)
		}
		if got := tt.kind.Source(); got != tt.source {
			t.Errorf("Kind(%d).Source() = %q, want %q", tt.kind, got, tt.source)
		}
	}
}

func TestError_Unwrap(t *testing.T) {
	err := &Error{Kind: KindSocket, Op: "receive", Err: io.EOF}
	if !errors.Is(err, io.EOF) {
		t.Error("errors.Is(err, io.EOF) = false")
	}
	if !IsBroken(err) {
		t.Error("IsBroken() = false for *Error")
	}
	if IsBroken(ErrNoData) {
		t.Error("IsBroken(ErrNoData) = true")
	}
	if !strings.Contains(err.Error(), "socket channel receive") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestSocket_SendAppendsCarriageReturn(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	sock := NewSocket(client)
	defer sock.Close()

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := server.Read(buf)
		got <- string(buf[:n])
	}()

	if err := sock.Send("PING"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if frame := <-got; frame != "PING\r" {
		t.Errorf("frame = %q, want %q", frame, "PING\r")
	}
}

func TestSocket_TryReceiveNeverBlocks(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	sock := NewSocket(client)
	defer sock.Close()

	start := time.Now()
	_, err := sock.TryReceive()
	if err != ErrNoData {
		t.Fatalf("TryReceive() error = %v, want ErrNoData", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("TryReceive() took %v", elapsed)
	}
}

func TestSocket_ReceivesData(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	sock := NewSocket(client)
	defer sock.Close()

	go server.Write([]byte("PONG\n"))

	data, err := receiveWithin(t, sock, time.Second)
	if err != nil {
		t.Fatalf("TryReceive() error: %v", err)
	}
	if data != "PONG\n" {
		t.Errorf("TryReceive() = %q, want %q", data, "PONG\n")
	}
}

func TestSocket_PeerCloseIsChannelError(t *testing.T) {
	client, server := net.Pipe()
	sock := NewSocket(client)
	defer sock.Close()

	server.Close()

	_, err := receiveWithin(t, sock, time.Second)
	var chErr *Error
	if !errors.As(err, &chErr) {
		t.Fatalf("TryReceive() error = %v, want *Error", err)
	}
	if chErr.Op != "receive" || chErr.Kind != KindSocket {
		t.Errorf("unexpected error fields: %+v", chErr)
	}
}

func TestSocket_SendAfterClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	sock := NewSocket(client)
	sock.Close()

	err := sock.Send("PING")
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
	if err := sock.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestDial(t *testing.T) {
	dialer := fakenet.NewDialer()
	server := dialer.UsePipe()
	defer server.Close()

	sock, err := Dial(dialer, "hil-rig", 5000, time.Second)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer sock.Close()

	calls := dialer.Calls()
	if len(calls) != 1 || calls[0].Address != "hil-rig:5000" || calls[0].Network != "tcp" {
		t.Errorf("unexpected dial calls: %+v", calls)
	}
	if addr := sock.RemoteAddr(); addr == nil || addr.Network() != "pipe" {
		t.Errorf("RemoteAddr() = %v, want the pipe peer", addr)
	}
}

func TestDial_Error(t *testing.T) {
	dialer := fakenet.NewDialer()
	dialer.SetError(errors.New("connection refused"))

	_, err := Dial(dialer, "hil-rig", 5000, time.Second)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Dial() error = %v", err)
	}
}

func TestConsole_RoundTrip(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	con := NewConsole(KindConsole, inW, outR)
	defer con.Close()

	// Echo program: every frame written to stdin comes back on stdout.
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := inR.Read(buf)
			if err != nil {
				outW.Close()
				return
			}
			outW.Write([]byte(strings.TrimSuffix(string(buf[:n]), "\r") + "\n"))
		}
	}()

	if err := con.Send("status"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	data, err := receiveWithin(t, con, time.Second)
	if err != nil {
		t.Fatalf("TryReceive() error: %v", err)
	}
	if data != "status\n" {
		t.Errorf("TryReceive() = %q", data)
	}
	if con.Kind() != KindConsole {
		t.Errorf("Kind() = %v", con.Kind())
	}
}

func TestConsole_DataBeforeEOFStillDelivered(t *testing.T) {
	_, inW := io.Pipe()
	outR, outW := io.Pipe()
	con := NewConsole(KindRemote, inW, outR)

	go func() {
		outW.Write([]byte("last words\n"))
		outW.Close()
	}()

	data, err := receiveWithin(t, con, time.Second)
	if err != nil || data != "last words\n" {
		t.Fatalf("TryReceive() = %q, %v", data, err)
	}

	_, err = receiveWithin(t, con, time.Second)
	if !errors.Is(err, io.EOF) {
		t.Errorf("TryReceive() after EOF error = %v, want io.EOF", err)
	}
}

func TestConsole_CloseClosesStdin(t *testing.T) {
	inR, inW := io.Pipe()
	outR, _ := io.Pipe()
	con := NewConsole(KindConsole, inW, outR)

	if err := con.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := inR.Read(buf); err != io.EOF {
		t.Errorf("stdin reader error = %v, want EOF", err)
	}
	if err := con.Send("x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
}
