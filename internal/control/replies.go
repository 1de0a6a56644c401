package control

import (
	"encoding/hex"
	"fmt"
)

// DLStatus enumerates the download-status codes §4.7's INFO line reports.
type DLStatus int

const (
	DLStatusHashCheck DLStatus = 2
	DLStatusSeeding   DLStatus = 4
	DLStatusDownload  DLStatus = 3
	DLStatusError     DLStatus = 1
)

var zeroRootHex = hex.EncodeToString(make([]byte, 20))

// FormatInfo renders a periodic INFO line.
func FormatInfo(root []byte, status DLStatus, done, total uint32, dlSpeed, ulSpeed float64, numLeech, numSeeds int) string {
	return fmt.Sprintf("INFO %s %d %d/%d %.0f %.0f %d %d\r\n",
		hex.EncodeToString(root), status, done, total, dlSpeed, ulSpeed, numLeech, numSeeds)
}

// FormatPlay renders a PLAY line pointing the client at the HTTP gateway
// URL it can stream a partially-downloaded swarm from.
func FormatPlay(root []byte, httpURL string) string {
	return fmt.Sprintf("PLAY %s %s\r\n", hex.EncodeToString(root), httpURL)
}

// FormatMoreInfo renders a MOREINFO line carrying a JSON payload.
func FormatMoreInfo(root []byte, json string) string {
	return fmt.Sprintf("MOREINFO %s %s\r\n", hex.EncodeToString(root), json)
}

// FormatError renders an ERROR line. A zero root (20 zero bytes) is used
// for errors that precede or fail swarm identification, e.g. a
// malformed START URL.
func FormatError(root []byte, msg string) string {
	return fmt.Sprintf("ERROR %s %s\r\n", hex.EncodeToString(root), msg)
}

// FormatGlobalError renders an ERROR line with the all-zero root used
// when no swarm could be identified at all.
func FormatGlobalError(msg string) string {
	return fmt.Sprintf("ERROR %s %s\r\n", zeroRootHex, msg)
}

// FormatTunnelRecvHeader renders a TUNNELRECV line; the caller writes
// exactly size raw bytes immediately after it.
func FormatTunnelRecvHeader(addr string, channelID uint32, size int) string {
	return fmt.Sprintf("TUNNELRECV %s/%x %d\r\n", addr, channelID, size)
}
