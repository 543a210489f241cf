package fakefs

import (
	"errors"
	"io/fs"
	"os"
	"testing"

	"github.com/acolita/satprobe/internal/ports"
)

func TestFS_ReadWriteFile(t *testing.T) {
	f := New()

	// WriteFile auto-creates parent directories (like production behavior)
	if err := f.WriteFile("/nonexistent/nested/file.txt", []byte("data"), 0644); err != nil {
		t.Fatalf("WriteFile() should auto-create parents, got error: %v", err)
	}

	data, err := f.ReadFile("/nonexistent/nested/file.txt")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "data" {
		t.Errorf("ReadFile() = %q, want %q", data, "data")
	}
}

func TestFS_ReadFileNotExist(t *testing.T) {
	f := New()
	_, err := f.ReadFile("/missing")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile() error = %v, want ErrNotExist", err)
	}
}

func TestFS_OpenFileAppend(t *testing.T) {
	f := New()

	for _, chunk := range []string{"first\n", "second\n"} {
		h, err := f.OpenFile("capture.log", ports.AppendFlags, 0644)
		if err != nil {
			t.Fatalf("OpenFile() error = %v", err)
		}
		if _, err := h.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if err := h.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}

	data, err := f.ReadFile("capture.log")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "first\nsecond\n" {
		t.Errorf("ReadFile() = %q", data)
	}
	if f.Opens() != 2 {
		t.Errorf("Opens() = %d, want 2", f.Opens())
	}
}

func TestFS_OpenFileWithoutCreate(t *testing.T) {
	f := New()
	_, err := f.OpenFile("/missing.log", os.O_WRONLY, 0644)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("OpenFile() error = %v, want ErrNotExist", err)
	}
}

func TestFS_OpenFileMissingParent(t *testing.T) {
	f := New()
	_, err := f.OpenFile("/no/such/dir/file.log", ports.AppendFlags, 0644)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("OpenFile() error = %v, want ErrNotExist", err)
	}
}

func TestFS_WriteAfterClose(t *testing.T) {
	f := New()
	h, err := f.OpenFile("out.log", ports.AppendFlags, 0644)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	h.Close()
	if _, err := h.Write([]byte("late")); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Write() after Close error = %v, want ErrClosed", err)
	}
}

func TestFS_SetOpenError(t *testing.T) {
	f := New()
	f.AddFile("locked.log", []byte("x"), 0644)
	f.SetOpenError("locked.log", fs.ErrPermission)

	if _, err := f.OpenFile("locked.log", ports.AppendFlags, 0644); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("OpenFile() error = %v, want ErrPermission", err)
	}
	if _, err := f.ReadFile("locked.log"); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("ReadFile() error = %v, want ErrPermission", err)
	}
}

func TestFS_Rename(t *testing.T) {
	f := New()
	f.AddFile("replies.txt", []byte("a\n"), 0644)
	f.MkdirAll("stored_messages", 0755)

	if err := f.Rename("replies.txt", "stored_messages/replies.txt_1700000000"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if _, err := f.Stat("replies.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("old path should be gone, Stat() error = %v", err)
	}
	data, err := f.ReadFile("stored_messages/replies.txt_1700000000")
	if err != nil || string(data) != "a\n" {
		t.Errorf("ReadFile(new) = %q, %v", data, err)
	}
}

func TestFS_RenameIntoMissingDir(t *testing.T) {
	f := New()
	f.AddFile("replies.txt", []byte("a\n"), 0644)

	if err := f.Rename("replies.txt", "nowhere/replies.txt"); err == nil {
		t.Error("Rename() into missing directory should fail")
	}
}

func TestFS_StatDirectory(t *testing.T) {
	f := New()
	f.MkdirAll("/var/lib/satprobe", 0755)

	info, err := f.Stat("/var/lib")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir() {
		t.Error("Stat() should report a directory")
	}
}

func TestFS_Getenv(t *testing.T) {
	f := New()
	f.SetEnv("SAT_PASSWORD", "hunter2")
	if got := f.Getenv("SAT_PASSWORD"); got != "hunter2" {
		t.Errorf("Getenv() = %q", got)
	}
}
