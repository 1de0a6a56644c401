package control

import (
	"strings"
	"testing"
)

func TestFormatInfoLine(t *testing.T) {
	root := make([]byte, 20)
	root[0] = 0xab
	line := FormatInfo(root, DLStatusSeeding, 10, 10, 123, 456, 2, 3)
	if !strings.HasPrefix(line, "INFO ab00000000000000000000000000000000000000 4 10/10 123 456 2 3") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.HasSuffix(line, "\r\n") {
		t.Fatalf("line not CRLF-terminated: %q", line)
	}
}

func TestFormatGlobalErrorUsesZeroRoot(t *testing.T) {
	line := FormatGlobalError("bad url")
	want := "ERROR " + strings.Repeat("0", 40) + " bad url\r\n"
	if line != want {
		t.Fatalf("got %q, want %q", line, want)
	}
}

func TestFormatTunnelRecvHeader(t *testing.T) {
	header := FormatTunnelRecvHeader("127.0.0.1:9000", 0xdeadbeef, 5)
	if header != "TUNNELRECV 127.0.0.1:9000/deadbeef 5\r\n" {
		t.Fatalf("got %q", header)
	}
}
