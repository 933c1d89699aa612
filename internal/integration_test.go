package internal_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/agent462/drove/internal/config"
	"github.com/agent462/drove/internal/executor"
	"github.com/agent462/drove/internal/grouper"
	"github.com/agent462/drove/internal/health"
	"github.com/agent462/drove/internal/session"
	"github.com/agent462/drove/internal/shelltest"
	"github.com/agent462/drove/internal/ui/report"
)

func newExecutor() *executor.Executor {
	adapter := session.New(
		session.WithDelayFactor(0),
		session.WithAgent(false),
		session.WithHostKeys(true, ""),
		session.WithConnectTimeout(2*time.Second),
		session.WithReadTimeout(2*time.Second),
	)
	return executor.New(adapter, executor.WithConcurrency(5), executor.WithTimeout(10*time.Second))
}

func host(t *testing.T, alias, addr string, proto config.Protocol) config.Host {
	t.Helper()
	ip, port := shelltest.ParseAddr(t, addr)
	return config.Host{Address: ip, Port: port, Protocol: proto, Group: "lab", Alias: alias}
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func byAlias(outcomes []*executor.Outcome) map[string]*executor.Outcome {
	m := make(map[string]*executor.Outcome, len(outcomes))
	for _, o := range outcomes {
		m[o.Alias] = o
	}
	return m
}

func reply(output string) shelltest.Option {
	return shelltest.WithCmdHandler(func(string) string { return output })
}

// TestFullPipeline_GroupedOutput covers servers -> session -> executor ->
// grouper -> report with key authentication.
func TestFullPipeline_GroupedOutput(t *testing.T) {
	pubKey, keyPath := shelltest.GenerateKey(t)

	bookworm := reply("PRETTY_NAME=\"Debian GNU/Linux 12 (bookworm)\"\n")
	addr1 := shelltest.Start(t, shelltest.WithPublicKey(pubKey), bookworm)
	addr2 := shelltest.Start(t, shelltest.WithPublicKey(pubKey), bookworm)
	addr3 := shelltest.Start(t, shelltest.WithPublicKey(pubKey), reply("PRETTY_NAME=\"Debian GNU/Linux 11 (bullseye)\"\n"))

	hosts := []config.Host{
		host(t, "pi-garage", addr1, config.ProtocolSSH),
		host(t, "pi-livingroom", addr2, config.ProtocolSSH),
		host(t, "pi-workshop", addr3, config.ProtocolSSH),
	}
	for i := range hosts {
		hosts[i].User = "pi"
		hosts[i].IdentityFile = keyPath
	}

	outcomes, err := newExecutor().Execute(context.Background(), hosts, "grep PRETTY /etc/os-release", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, o := range outcomes {
		if !o.OK() {
			t.Fatalf("host %s failed: %s", o.Alias, o.Reason)
		}
	}

	gs := grouper.Group(outcomes)
	if gs.Len() != 2 {
		t.Fatalf("expected 2 groups, got %d", gs.Len())
	}

	norm := gs.Norm()
	if norm == nil || len(norm.Aliases) != 2 {
		t.Fatalf("norm group should hold 2 hosts, got %+v", norm)
	}
	if !strings.Contains(norm.Output, "bookworm") {
		t.Errorf("norm output should contain 'bookworm', got %q", norm.Output)
	}

	aliases, ok := gs.Lookup("PRETTY_NAME=\"Debian GNU/Linux 11 (bullseye)\"")
	if !ok || len(aliases) != 1 || aliases[0] != "pi-workshop" {
		t.Errorf("outlier should be pi-workshop, got %v", aliases)
	}

	output := report.NewFormatter(false, false).Drift(gs)
	for _, want := range []string{"2 hosts identical", "1 host differs", "-PRETTY_NAME", "+PRETTY_NAME"} {
		if !strings.Contains(output, want) {
			t.Errorf("drift report should contain %q, got:\n%s", want, output)
		}
	}
}

// TestFullPipeline_MixedProtocols runs SSH and Telnet hosts in one batch with
// failures of every kind isolated to their host.
func TestFullPipeline_MixedProtocols(t *testing.T) {
	release := reply("12.5\n")
	sshOK := shelltest.Start(t, shelltest.WithCredentials("admin", "secret"), release)
	telnetOK := shelltest.StartTelnet(t, shelltest.WithCredentials("admin", "secret"), shelltest.WithPrompt("switch> "), release)
	sshBadAuth := shelltest.Start(t, shelltest.WithCredentials("admin", "rotated"), release)
	stalled := shelltest.Start(t, shelltest.WithStall())

	hosts := []config.Host{
		host(t, "A", sshOK, config.ProtocolSSH),
		host(t, "B", telnetOK, config.ProtocolTelnet),
		host(t, "C", sshBadAuth, config.ProtocolSSH),
		host(t, "D", closedAddr(t), config.ProtocolTelnet),
		host(t, "E", stalled, config.ProtocolSSH),
	}
	for i := range hosts {
		hosts[i].User, hosts[i].Password = "admin", "secret"
	}

	outcomes, err := newExecutor().Execute(context.Background(), hosts, "cat /etc/debian_version", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(outcomes) != len(hosts) {
		t.Fatalf("expected %d outcomes, got %d", len(hosts), len(outcomes))
	}

	got := byAlias(outcomes)
	for _, alias := range []string{"A", "B"} {
		if o := got[alias]; !o.OK() || o.Output != "12.5" {
			t.Errorf("%s: want SUCCESS 12.5, got %s %q (%s)", alias, o.Status, o.Output, o.Reason)
		}
	}
	if o := got["C"]; o.Kind != executor.AuthFailure || o.Reason != "AuthFailure" {
		t.Errorf("C: want AuthFailure, got %s %q", o.Kind, o.Reason)
	}
	if o := got["D"]; o.Kind != executor.ProtocolError || strings.Contains(o.Reason, "127.0.0.1") {
		t.Errorf("D: want ProtocolError without address, got %s %q", o.Kind, o.Reason)
	}
	if o := got["E"]; o.Kind != executor.ConnectTimeout {
		t.Errorf("E: want ConnectTimeout, got %s %q", o.Kind, o.Reason)
	}

	gs := grouper.Group(outcomes)
	if gs.Len() != 4 {
		t.Fatalf("expected 4 groups, got %d: %v", gs.Len(), gs.Keys())
	}
	if aliases, _ := gs.Lookup("12.5"); len(aliases) != 2 {
		t.Errorf("success group should hold A and B, got %v", aliases)
	}
	if aliases, ok := gs.Lookup(grouper.FailedPrefix + "AuthFailure"); !ok || aliases[0] != "C" {
		t.Errorf("auth failure group should hold C, got %v", aliases)
	}
	if len(gs.Failures()) != 3 {
		t.Errorf("expected 3 failure groups, got %d", len(gs.Failures()))
	}

	summary := report.NewFormatter(false, false).Summary(outcomes)
	if summary != "2 succeeded, 3 failed" {
		t.Errorf("summary = %q", summary)
	}
}

func TestFullPipeline_AllFailedSameReason(t *testing.T) {
	addr1 := shelltest.Start(t, shelltest.WithCredentials("admin", "one"))
	addr2 := shelltest.Start(t, shelltest.WithCredentials("admin", "two"))

	hosts := []config.Host{
		host(t, "r1", addr1, config.ProtocolSSH),
		host(t, "r2", addr2, config.ProtocolSSH),
	}
	for i := range hosts {
		hosts[i].User, hosts[i].Password = "admin", "wrong"
	}

	outcomes, err := newExecutor().Execute(context.Background(), hosts, "uptime", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	gs := grouper.Group(outcomes)
	if !gs.Homogeneous() {
		t.Fatalf("expected one failure group, got %v", gs.Keys())
	}
	output := report.NewFormatter(false, false).Drift(gs)
	if output != "all 2 hosts failed: AuthFailure\n" {
		t.Errorf("drift report = %q", output)
	}
}

func TestFullPipeline_JSONOutput(t *testing.T) {
	addr := shelltest.Start(t, shelltest.WithCredentials("admin", "secret"), reply("192.168.1.10\n"))
	h := host(t, "server-1", addr, config.ProtocolSSH)
	h.User, h.Password = "admin", "secret"

	outcomes, err := newExecutor().Execute(context.Background(), []config.Host{h}, "hostname -I", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	data, err := report.JSON("hostname -I", outcomes, grouper.Group(outcomes))
	if err != nil {
		t.Fatalf("format JSON: %v", err)
	}
	jsonStr := string(data)
	for _, want := range []string{`"alias": "server-1"`, `"output": "192.168.1.10"`, `"status": "SUCCESS"`, `"homogeneous": true`} {
		if !strings.Contains(jsonStr, want) {
			t.Errorf("JSON should contain %s, got:\n%s", want, jsonStr)
		}
	}
}

func TestFullPipeline_Health(t *testing.T) {
	diagnostics := shelltest.WithCmdHandler(func(cmd string) string {
		switch cmd {
		case "uptime":
			return " 12:01:02 up 3 days,  2 users,  load average: 0.50, 0.42, 0.40\n"
		case "free -m":
			return "               total        used        free      shared  buff/cache   available\n" +
				"Mem:            1000         450         300          10         250         500\n" +
				"Swap:           2047           0        2047\n"
		case "df -h /":
			return "Filesystem      Size  Used Avail Use% Mounted on\n" +
				"/dev/root        29G   20G  8.0G  73% /\n"
		}
		return ""
	})

	sshAddr := shelltest.Start(t, shelltest.WithCredentials("admin", "secret"), diagnostics)
	telnetAddr := shelltest.StartTelnet(t, shelltest.WithCredentials("admin", "secret"), diagnostics)

	hosts := []config.Host{
		host(t, "core-1", sshAddr, config.ProtocolSSH),
		host(t, "access-1", telnetAddr, config.ProtocolTelnet),
		host(t, "gone-1", closedAddr(t), config.ProtocolSSH),
	}
	for i := range hosts {
		hosts[i].User, hosts[i].Password = "admin", "secret"
	}

	observed := 0
	records, err := health.Check(context.Background(), newExecutor(), hosts, func(*executor.Outcome) { observed++ })
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if observed != len(hosts)*len(health.Diagnostics) {
		t.Errorf("observer saw %d outcomes, want %d", observed, len(hosts)*len(health.Diagnostics))
	}

	for _, alias := range []string{"core-1", "access-1"} {
		r := records[alias]
		if r == nil || r.Status != health.Online {
			t.Fatalf("%s: want ONLINE record, got %+v", alias, r)
		}
		if r.LoadString() != "0.50" || r.MemoryString() != "45%" || r.DiskString() != "73%" {
			t.Errorf("%s: got load=%s mem=%s disk=%s", alias, r.LoadString(), r.MemoryString(), r.DiskString())
		}
	}

	gone := records["gone-1"]
	if gone == nil || gone.Status != health.Offline || gone.Load != nil || gone.Memory != nil || gone.Disk != nil {
		t.Errorf("gone-1: want OFFLINE with unknown metrics, got %+v", gone)
	}

	dashboard := report.NewFormatter(false, false).Health(health.Sorted(records))
	if !strings.Contains(dashboard, "2/3 hosts online") {
		t.Errorf("dashboard should count online hosts, got:\n%s", dashboard)
	}
}
