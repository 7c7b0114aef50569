package remote

import "strings"

// shellEscape wraps s in single quotes, escaping any embedded single
// quote as '\'' (close quote, escaped quote, reopen quote). It is
// applied to every command argument and every exported environment
// value so neither can break out of its quoting and inject a second
// shell command.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// buildCommandLine renders parts as a single shell-escaped command
// line, e.g. ["echo", "hello world"] -> "'echo' 'hello world'".
func buildCommandLine(parts []string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = shellEscape(p)
	}
	return strings.Join(escaped, " ")
}

// buildEnvExports renders a deterministic sequence of
// export KEY='VALUE'; statements, with both key and value escaped,
// so the caller-supplied environment cannot break out of the export
// statement even if it never reaches the SSH protocol's own
// environment facility (many sshd configs reject arbitrary
// client-supplied env unless explicitly AcceptEnv-listed).
func buildEnvExports(env map[string]string, keys []string) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString("export ")
		b.WriteString(shellEscape(k))
		b.WriteString("=")
		b.WriteString(shellEscape(env[k]))
		b.WriteString("; ")
	}
	return b.String()
}
