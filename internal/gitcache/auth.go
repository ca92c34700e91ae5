package gitcache

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// cleanURL strips userinfo from a git remote URL, returning the credential
// free form safe to log, persist in the index, and derive a slug from.
func cleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

// authEnv builds the environment-scoped git config that injects credentials
// for a single invocation without ever mutating the repository's on-disk
// config. It never touches .git/config.
func authEnv(token string) []string {
	if token == "" {
		return []string{
			"GIT_TERMINAL_PROMPT=0",
			"GCM_INTERACTIVE=never",
		}
	}
	basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	kv := []string{
		"credential.helper=",
		"credential.interactive=never",
		fmt.Sprintf("http.https://github.com/.extraheader=AUTHORIZATION: basic %s", basic),
	}
	env := []string{
		fmt.Sprintf("GIT_CONFIG_COUNT=%d", len(kv)),
		"GIT_TERMINAL_PROMPT=0",
		"GCM_INTERACTIVE=never",
	}
	for i, pair := range kv {
		key, value, _ := strings.Cut(pair, "=")
		env = append(env,
			fmt.Sprintf("GIT_CONFIG_KEY_%d=%s", i, key),
			fmt.Sprintf("GIT_CONFIG_VALUE_%d=%s", i, value),
		)
	}
	return env
}

var (
	reExtraHeader = regexp.MustCompile(`(?i)http\.[^=\s]*\.extraheader=\S+`)
	reAuthHeader  = regexp.MustCompile(`(?i)authorization:\s*\S+(\s+\S+)?`)
	reUserinfoURL = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^@/\s]+@\S+`)
)

// redact scrubs git config extraheader assignments, Authorization header
// values, and userinfo embedded in URLs from command arguments and captured
// stderr before they reach an error message or a log line.
func redact(s string) string {
	s = reAuthHeader.ReplaceAllString(s, "<redacted>")
	s = reExtraHeader.ReplaceAllString(s, "<redacted>")
	s = reUserinfoURL.ReplaceAllString(s, "<redacted>")
	return s
}

func redactAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = redact(a)
	}
	return out
}
