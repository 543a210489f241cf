package fakechannel

import (
	"errors"
	"io"
	"testing"

	"github.com/acolita/satprobe/internal/channel"
)

func TestChannel_ReplaysQueueInOrder(t *testing.T) {
	c := New(channel.KindSocket).AddReply("a\n").AddSilence(1).AddReply("b\n")

	want := []struct {
		data string
		err  error
	}{
		{"a\n", nil},
		{"", channel.ErrNoData},
		{"b\n", nil},
		{"", channel.ErrNoData},
	}
	for i, w := range want {
		data, err := c.TryReceive()
		if data != w.data || err != w.err {
			t.Errorf("poll %d = (%q, %v), want (%q, %v)", i, data, err, w.data, w.err)
		}
	}
	if c.Polls() != 4 {
		t.Errorf("Polls() = %d, want 4", c.Polls())
	}
}

func TestChannel_OnSendQueuesResponse(t *testing.T) {
	c := New(channel.KindConsole).OnSend(func(msg string) []string {
		return []string{msg + " ack\n"}
	})

	if err := c.Send("PING"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	data, err := c.TryReceive()
	if err != nil || data != "PING ack\n" {
		t.Errorf("TryReceive() = (%q, %v)", data, err)
	}
	if sent := c.Sent(); len(sent) != 1 || sent[0] != "PING" {
		t.Errorf("Sent() = %v", sent)
	}
}

func TestChannel_Failures(t *testing.T) {
	c := New(channel.KindSocket).AddReply("x").FailReceive(io.EOF).FailSend(io.ErrClosedPipe)

	if _, err := c.TryReceive(); err != nil {
		t.Fatalf("queued data should come before failure, got %v", err)
	}
	_, err := c.TryReceive()
	if !channel.IsBroken(err) || !errors.Is(err, io.EOF) {
		t.Errorf("TryReceive() error = %v", err)
	}
	if err := c.Send("x"); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Send() error = %v", err)
	}
}
