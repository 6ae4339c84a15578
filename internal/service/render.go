package service

import (
	"sort"
	"strings"
)

// renderUnit builds the systemd user unit. Type=notify pairs with the
// READY=1 sent by the start command once the poll loop runs.
func renderUnit(o Options) string {
	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=WaniKani study queue notifier\n")
	b.WriteString("After=graphical-session.target network-online.target\n")
	b.WriteString("Wants=network-online.target\n\n")

	b.WriteString("[Service]\n")
	b.WriteString("Type=notify\n")
	b.WriteString("ExecStart=" + systemdJoin(o.startArgs()) + "\n")
	keys := make([]string, 0, len(o.Env))
	for k := range o.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("Environment=" + systemdQuote(k+"="+o.Env[k]) + "\n")
	}
	b.WriteString("Restart=on-failure\n")
	b.WriteString("RestartSec=30\n\n")

	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=default.target\n")
	return b.String()
}

func systemdJoin(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = systemdQuote(a)
	}
	return strings.Join(out, " ")
}

func systemdQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\$%;") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `$$`, `%`, `%%`)
	return `"` + r.Replace(s) + `"`
}

// renderStartupScript builds the Windows Startup-folder script that runs the
// notifier without a console window.
func renderStartupScript(o Options) string {
	quoted := make([]string, 0, 4)
	for _, a := range o.startArgs() {
		quoted = append(quoted, `""`+strings.ReplaceAll(a, `"`, `""""`)+`""`)
	}
	return "Set objShell = WScript.CreateObject(\"WScript.Shell\")\r\n" +
		"objShell.Run \"" + strings.Join(quoted, " ") + "\", 0, False\r\n"
}
