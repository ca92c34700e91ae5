package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// configDir returns $HOME/.cmux, creating it on first write.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".cmux"), nil
}

// readConfigValue returns the trimmed contents of $HOME/.cmux/name, or ""
// (None) if the file does not exist.
func readConfigValue(name string) string {
	dir, err := configDir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeConfigValue(name, value string) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644)
}

func lastSandbox() string                { return readConfigValue("last_sandbox") }
func setLastSandbox(id string) error     { return writeConfigValue("last_sandbox", id) }
func lastACPProvider() string            { return readConfigValue("last_acp_provider") }
func setLastACPProvider(p string) error  { return writeConfigValue("last_acp_provider", p) }
func lastModel(provider string) string   { return readConfigValue("last_model_" + provider) }
func setLastModel(provider, m string) error {
	return writeConfigValue("last_model_"+provider, m)
}

// resolveSandboxArg returns args[0] if present, else the last-used sandbox
// id, erroring if neither is available.
func resolveSandboxArg(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if id := lastSandbox(); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no sandbox id given and no last-used sandbox recorded")
}
