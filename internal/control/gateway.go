package control

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/quantarax/swarmd/internal/store"
	"github.com/quantarax/swarmd/internal/swarm"
)

// Gateway is the stdlib net/http handler answering
// GET /<hexroot>[/<path>] with a swarm's content, honoring a single
// byte range. It is grounded on §4.7's requirement for an
// io.NewSectionReader-style cursor per request so concurrent GETs for
// the same swarm don't share mutable read state.
type Gateway struct {
	manager *swarm.Manager
}

// NewGateway wraps a swarm manager as an HTTP content gateway.
func NewGateway(manager *swarm.Manager) *Gateway { return &Gateway{manager: manager} }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hexRoot, subPath := splitGatewayPath(r.URL.Path)
	root, err := parseRoot(hexRoot)
	if err != nil {
		http.Error(w, "malformed swarm id", http.StatusBadRequest)
		return
	}
	sw, err := g.manager.Get(root)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	reader, ok := sw.Store.(store.ChunkReaderAt)
	if !ok {
		http.Error(w, "swarm does not support byte-range reads", http.StatusNotImplemented)
		return
	}

	offset, size := int64(0), reader.ContentSize()
	if subPath != "" {
		mf, ok := sw.Store.(*store.MultiFile)
		if !ok {
			http.NotFound(w, r)
			return
		}
		fileOff, fileSize, ok := mf.OffsetOf(subPath)
		if !ok {
			http.NotFound(w, r)
			return
		}
		offset, size = fileOff, fileSize
	}

	first, last, status, err := parseRangeHeader(r.Header.Get("Range"), size)
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(last-first+1, 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", first, last, size))
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	section := io.NewSectionReader(reader, offset+first, last-first+1)
	if _, err := io.Copy(w, section); err != nil && !errors.Is(err, store.ErrChunkNotPresent) {
		return
	}
}

func splitGatewayPath(p string) (hexRoot, subPath string) {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	hexRoot, subPath, _ = strings.Cut(p, "/")
	return hexRoot, subPath
}

// parseRangeHeader parses a single "bytes=first-last" range header. An
// absent header serves the whole entity with 200 OK. A multi-range
// request is not rejected: only its first range is served, since §4.7
// does not require multi-range responses.
func parseRangeHeader(header string, size int64) (first, last int64, status int, err error) {
	if header == "" {
		return 0, size - 1, http.StatusOK, nil
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if spec == header {
		return 0, 0, 0, fmt.Errorf("control: unsupported range unit")
	}
	if strings.Contains(spec, ",") {
		spec = strings.SplitN(spec, ",", 2)[0]
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("control: malformed range")
	}
	switch {
	case parts[0] == "":
		suffix, serr := strconv.ParseInt(parts[1], 10, 64)
		if serr != nil || suffix <= 0 {
			return 0, 0, 0, fmt.Errorf("control: malformed range")
		}
		first = size - suffix
		if first < 0 {
			first = 0
		}
		last = size - 1
	case parts[1] == "":
		first, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("control: malformed range")
		}
		last = size - 1
	default:
		first, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("control: malformed range")
		}
		last, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("control: malformed range")
		}
	}
	if first < 0 || last >= size || first > last {
		return 0, 0, 0, fmt.Errorf("control: range out of bounds")
	}
	return first, last, http.StatusPartialContent, nil
}
