package agentexec

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// claudeCredentials mirrors the shape Claude Code writes to
// ~/.claude/.credentials.json (and to the macOS Keychain entry
// "Claude Code-credentials").
type claudeCredentials struct {
	ClaudeAIOAuth struct {
		AccessToken  string `json:"accessToken"`
		ExpiresAt    int64  `json:"expiresAt"` // unix millis
		RefreshToken string `json:"refreshToken"`
	} `json:"claudeAiOauth"`
}

// ClaudeFileTokenSource implements agentexec.TokenSource by reading the
// Claude Code OAuth credentials file, falling back to the macOS Keychain
// when the file is absent. It never refreshes the token itself; OAuthCache
// just re-reads whatever Claude Code last wrote, since Claude Code's own
// background refresh keeps the file current.
type ClaudeFileTokenSource struct {
	Path string
}

// FetchToken implements agentexec.TokenSource.
func (s *ClaudeFileTokenSource) FetchToken() (string, time.Time, error) {
	data, err := readClaudeCredentials(s.Path)
	if err != nil {
		return "", time.Time{}, err
	}

	var creds claudeCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", time.Time{}, fmt.Errorf("agentexec: parse claude credentials: %w", err)
	}
	if creds.ClaudeAIOAuth.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("agentexec: claude credentials missing accessToken")
	}

	expiresAt := time.UnixMilli(creds.ClaudeAIOAuth.ExpiresAt)
	return creds.ClaudeAIOAuth.AccessToken, expiresAt, nil
}

func readClaudeCredentials(path string) ([]byte, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("agentexec: resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && runtime.GOOS == "darwin" {
			if keychainData, kerr := readClaudeKeychain(); kerr == nil {
				return keychainData, nil
			}
		}
		return nil, fmt.Errorf("agentexec: read claude credentials at %s: %w", path, err)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("agentexec: claude credentials at %s are not valid JSON", path)
	}
	return data, nil
}

func readClaudeKeychain() ([]byte, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("agentexec: current user: %w", err)
	}

	cmd := exec.Command("security", "find-generic-password",
		"-s", "Claude Code-credentials",
		"-a", u.Username,
		"-w",
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("agentexec: read claude keychain entry: %w", err)
	}

	data := []byte(strings.TrimSpace(string(output)))
	if !json.Valid(data) {
		return nil, fmt.Errorf("agentexec: claude keychain entry is not valid JSON")
	}
	return data, nil
}
