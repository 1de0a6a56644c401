package control

import (
	"bufio"
	"io"
	"strings"
	"testing"
)

func TestParseStartCommand(t *testing.T) {
	cmd, err := ReadCommand(bufio.NewReader(strings.NewReader("START tswift://h:1/0102030405060708090a0b0c0d0e0f1011121314 /tmp/out\r\n")))
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	sc, ok := cmd.(StartCmd)
	if !ok {
		t.Fatalf("got %T, want StartCmd", cmd)
	}
	if sc.DestDir != "/tmp/out" {
		t.Fatalf("DestDir = %q", sc.DestDir)
	}
}

func TestParseRemoveCommand(t *testing.T) {
	root := strings.Repeat("ab", 20)
	cmd, err := ReadCommand(bufio.NewReader(strings.NewReader("REMOVE " + root + " 1 0\r\n")))
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	rc, ok := cmd.(RemoveCmd)
	if !ok {
		t.Fatalf("got %T, want RemoveCmd", cmd)
	}
	if !rc.RMContent || rc.RMState {
		t.Fatalf("got RMContent=%v RMState=%v", rc.RMContent, rc.RMState)
	}
}

func TestParseMaxSpeedCommand(t *testing.T) {
	root := strings.Repeat("cd", 20)
	cmd, err := ReadCommand(bufio.NewReader(strings.NewReader("MAXSPEED " + root + " UPLOAD 1024.5\r\n")))
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	mc, ok := cmd.(MaxSpeedCmd)
	if !ok {
		t.Fatalf("got %T, want MaxSpeedCmd", cmd)
	}
	if mc.Dir != DirectionUpload || mc.BytesPerSecond != 1024.5 {
		t.Fatalf("got %+v", mc)
	}
}

func TestParseTunnelSendExtractsFragmentedPayload(t *testing.T) {
	root := "127.0.0.1:9000/ff00ff01"
	payload := []byte("hello-tunnel-payload")
	raw := "TUNNELSEND " + root + " " + "20" + "\r\n" + string(payload)

	// Feed the reader one byte at a time to simulate TCP fragmentation
	// across the line, the payload, and beyond.
	pr, pw := io.Pipe()
	go func() {
		for i := 0; i < len(raw); i++ {
			pw.Write([]byte{raw[i]})
		}
		pw.Close()
	}()

	cmd, err := ReadCommand(bufio.NewReader(pr))
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	ts, ok := cmd.(TunnelSendCmd)
	if !ok {
		t.Fatalf("got %T, want TunnelSendCmd", cmd)
	}
	if string(ts.Payload) != string(payload) {
		t.Fatalf("payload = %q, want %q", ts.Payload, payload)
	}
	if ts.ChannelID != 0xff00ff01 {
		t.Fatalf("channel id = %#x", ts.ChannelID)
	}
}

func TestParseShutdownCommand(t *testing.T) {
	cmd, err := ReadCommand(bufio.NewReader(strings.NewReader("SHUTDOWN\r\n")))
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if _, ok := cmd.(ShutdownCmd); !ok {
		t.Fatalf("got %T, want ShutdownCmd", cmd)
	}
}

func TestParseRejectsMalformedLine(t *testing.T) {
	if _, err := ReadCommand(bufio.NewReader(strings.NewReader("BOGUS\r\n"))); err == nil {
		t.Fatalf("expected error for unknown command")
	}
	if _, err := ReadCommand(bufio.NewReader(strings.NewReader("REMOVE nothex 1 0\r\n"))); err == nil {
		t.Fatalf("expected error for non-hex root")
	}
}
