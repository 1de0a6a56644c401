package swarm

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
)

// ContentURL is a parsed tswift:// URL naming a swarm, optionally a
// tracker/source address and a display name, per §4.6's external
// interface.
type ContentURL struct {
	SwarmID  []byte
	Host     string
	Port     int
	FileName string
	// Size is the content length in bytes, carried by an optional "sz"
	// query parameter. A leech START needs it up front to size its local
	// store before the first HANDSHAKE datagram arrives; zero means
	// unknown.
	Size int64
}

// ParseContentURL parses "tswift://host:port/<hex-swarm-id>?v=name".
func ParseContentURL(raw string) (*ContentURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("swarm: parse url: %w", err)
	}
	if u.Scheme != "tswift" {
		return nil, fmt.Errorf("swarm: unsupported scheme %q, want tswift", u.Scheme)
	}
	hexID := u.Path
	if len(hexID) > 0 && hexID[0] == '/' {
		hexID = hexID[1:]
	}
	swarmID, err := hex.DecodeString(hexID)
	if err != nil {
		return nil, fmt.Errorf("swarm: invalid swarm id %q: %w", hexID, err)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("swarm: invalid port %q: %w", p, err)
		}
	}

	var size int64
	if s := u.Query().Get("sz"); s != "" {
		size, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("swarm: invalid size %q: %w", s, err)
		}
	}

	return &ContentURL{
		SwarmID:  swarmID,
		Host:     u.Hostname(),
		Port:     port,
		FileName: u.Query().Get("v"),
		Size:     size,
	}, nil
}

// String renders a ContentURL back to tswift:// form.
func (c *ContentURL) String() string {
	u := url.URL{
		Scheme: "tswift",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + hex.EncodeToString(c.SwarmID),
	}
	if c.FileName != "" || c.Size > 0 {
		q := url.Values{}
		if c.FileName != "" {
			q.Set("v", c.FileName)
		}
		if c.Size > 0 {
			q.Set("sz", strconv.FormatInt(c.Size, 10))
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
