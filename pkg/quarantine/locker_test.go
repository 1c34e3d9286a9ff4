package quarantine

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func Test_cipherRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		password string
		input    string
	}{
		{name: "short payload", password: "RandomPassword", input: "azerty"},
		{name: "empty payload", password: "RandomPassword", input: ""},
		{name: "binary-ish payload", password: "other", input: "\x00\x01\x02MZ\x90"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locked := &bytes.Buffer{}
			if err := cipherFile(tt.password, strings.NewReader(tt.input), locked); err != nil {
				t.Fatalf("cipherFile() error = %v", err)
			}
			// 32 bytes salt + 16 bytes iv prepended
			if locked.Len() != len(tt.input)+48 {
				t.Errorf("cipherFile() wrote %d bytes, want %d", locked.Len(), len(tt.input)+48)
			}
			out := &bytes.Buffer{}
			if err := decipherFile(tt.password, locked, out); err != nil {
				t.Fatalf("decipherFile() error = %v", err)
			}
			if out.String() != tt.input {
				t.Errorf("decipherFile() = %q, want %q", out.String(), tt.input)
			}
		})
	}
}

func Test_lockUnlockRoundTrip(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "payload.bin")
	content := "definitely a suspicious payload"
	if err := os.WriteFile(original, []byte(content), 0o640); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	info, err := os.Stat(original)
	if err != nil {
		t.Fatalf("stat test file: %v", err)
	}
	in, err := os.Open(original)
	if err != nil {
		t.Fatalf("open test file: %v", err)
	}
	defer in.Close()

	l := &fileLock{Password: "infected"}
	container := &bytes.Buffer{}
	if err := l.LockFile(original, in, info, "abc123", "verdict: critical", container); err != nil {
		t.Fatalf("LockFile() error = %v", err)
	}

	// header readable without the payload
	header, err := l.GetHeader(bytes.NewReader(container.Bytes()))
	if err != nil {
		t.Fatalf("GetHeader() error = %v", err)
	}
	if header.Filepath != original {
		t.Errorf("GetHeader().Filepath = %q, want %q", header.Filepath, original)
	}
	if header.SHA256 != "abc123" {
		t.Errorf("GetHeader().SHA256 = %q, want %q", header.SHA256, "abc123")
	}
	if header.Reason != "verdict: critical" {
		t.Errorf("GetHeader().Reason = %q, want %q", header.Reason, "verdict: critical")
	}

	restored := &bytes.Buffer{}
	file, unlockedInfo, reason, err := l.UnlockFile(bytes.NewReader(container.Bytes()), restored)
	if err != nil {
		t.Fatalf("UnlockFile() error = %v", err)
	}
	if file != original {
		t.Errorf("UnlockFile() file = %q, want %q", file, original)
	}
	if reason != "verdict: critical" {
		t.Errorf("UnlockFile() reason = %q, want %q", reason, "verdict: critical")
	}
	if restored.String() != content {
		t.Errorf("UnlockFile() content = %q, want %q", restored.String(), content)
	}
	if unlockedInfo.Size() != int64(len(content)) {
		t.Errorf("UnlockFile() size = %d, want %d", unlockedInfo.Size(), len(content))
	}
}

func Test_unlockWrongPassword(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(original, []byte("content"), 0o640); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	info, err := os.Stat(original)
	if err != nil {
		t.Fatalf("stat test file: %v", err)
	}
	in, err := os.Open(original)
	if err != nil {
		t.Fatalf("open test file: %v", err)
	}
	defer in.Close()

	l := &fileLock{Password: "correct"}
	container := &bytes.Buffer{}
	if err := l.LockFile(original, in, info, "abc", "verdict: malicious", container); err != nil {
		t.Fatalf("LockFile() error = %v", err)
	}

	wrong := &fileLock{Password: "wrong"}
	restored := &bytes.Buffer{}
	if _, _, _, err := wrong.UnlockFile(bytes.NewReader(container.Bytes()), restored); err != nil {
		t.Fatalf("UnlockFile() error = %v", err)
	}
	// CTR decryption with a wrong key yields garbage, not an error
	if restored.String() == "content" {
		t.Error("UnlockFile() with wrong password must not recover the payload")
	}
}
