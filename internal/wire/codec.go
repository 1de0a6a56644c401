package wire

import (
	"errors"
	"fmt"
)

// Params carries the per-swarm parameters needed to decode records whose
// shape depends on swarm configuration: the chunk addressing method, the
// Merkle hash length, and (for live swarms) the signature length and
// whether DATA/ACK carry a live timestamp.
type Params struct {
	Addressing     AddressingMethod
	HashLen        int
	SigLen         int
	LiveTimestamps bool
}

var (
	ErrTruncated      = errors.New("wire: truncated record")
	ErrUnknownTag     = errors.New("wire: unknown record tag")
	ErrOptionOverrun  = errors.New("wire: option length overrun")
	ErrUnknownOption  = errors.New("wire: unknown handshake option")
)

// EncodeDatagram serializes channelID followed by records in order. An
// empty records slice with channelID produces a zero-length-body
// datagram, i.e. a KEEPALIVE.
func EncodeDatagram(channelID uint32, records []Record, p Params) []byte {
	out := make([]byte, 0, 4+64*len(records))
	putUint32(&out, channelID)
	for _, r := range records {
		out = append(out, byte(r.Tag()))
		r.encodeBody(&out, p)
	}
	return out
}

// DecodeDatagram parses a channel id and a sequence of records. A
// zero-length datagram body (len(data)==4) yields zero records, i.e. a
// KEEPALIVE. Decode stops and returns an error on the first malformed
// record; callers must discard the whole datagram per §4.1's failure
// semantics and increment the channel's recv-error counter.
func DecodeDatagram(data []byte, p Params) (channelID uint32, records []Record, err error) {
	c := &cursor{buf: data}
	channelID, err = c.u32()
	if err != nil {
		return 0, nil, fmt.Errorf("wire: channel id: %w", err)
	}
	for !c.empty() {
		tagByte, err := c.u8()
		if err != nil {
			return channelID, records, fmt.Errorf("wire: tag: %w", err)
		}
		rec, err := decodeBody(Tag(tagByte), c, p)
		if err != nil {
			return channelID, records, fmt.Errorf("wire: record 0x%02x: %w", tagByte, err)
		}
		records = append(records, rec)
	}
	return channelID, records, nil
}

func decodeBody(tag Tag, c *cursor, p Params) (Record, error) {
	switch tag {
	case TagHandshake:
		return decodeHandshake(c)
	case TagData:
		return decodeData(c, p)
	case TagAck:
		return decodeAck(c, p)
	case TagHave:
		rng, err := getRange(c, p)
		if err != nil {
			return nil, err
		}
		return Have{Range: rng}, nil
	case TagIntegrity:
		rng, err := getRange(c, p)
		if err != nil {
			return nil, err
		}
		hash, err := c.bytes(p.HashLen)
		if err != nil {
			return nil, err
		}
		return Integrity{Range: rng, Hash: hash}, nil
	case TagSignedIntegrity:
		rng, err := getRange(c, p)
		if err != nil {
			return nil, err
		}
		hash, err := c.bytes(p.HashLen)
		if err != nil {
			return nil, err
		}
		ts, err := c.u64()
		if err != nil {
			return nil, err
		}
		sig, err := c.bytes(p.SigLen)
		if err != nil {
			return nil, err
		}
		return SignedIntegrity{Range: rng, Hash: hash, Timestamp: ts, Signature: sig}, nil
	case TagRequest:
		rng, err := getRange(c, p)
		if err != nil {
			return nil, err
		}
		return Request{Range: rng}, nil
	case TagCancel:
		rng, err := getRange(c, p)
		if err != nil {
			return nil, err
		}
		return Cancel{Range: rng}, nil
	case TagChoke:
		return Choke{}, nil
	case TagUnchoke:
		return Unchoke{}, nil
	case TagPexReq:
		return PexReq{}, nil
	case TagPexResV4:
		ip, err := c.bytes(4)
		if err != nil {
			return nil, err
		}
		port, err := c.u16()
		if err != nil {
			return nil, err
		}
		var rec PexResV4
		copy(rec.IP[:], ip)
		rec.Port = port
		return rec, nil
	case TagPexResV6:
		ip, err := c.bytes(16)
		if err != nil {
			return nil, err
		}
		port, err := c.u16()
		if err != nil {
			return nil, err
		}
		var rec PexResV6
		copy(rec.IP[:], ip)
		rec.Port = port
		return rec, nil
	case TagPexResCert:
		n, err := c.u16()
		if err != nil {
			return nil, err
		}
		cert, err := c.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return PexResCert{Cert: cert}, nil
	default:
		return nil, ErrUnknownTag
	}
}

func getRange(c *cursor, p Params) (Range, error) {
	if p.Addressing == AddressingBin32 {
		bin, err := c.u32()
		if err != nil {
			return Range{}, err
		}
		return binToRange(bin), nil
	}
	start, err := c.u32()
	if err != nil {
		return Range{}, err
	}
	end, err := c.u32()
	if err != nil {
		return Range{}, err
	}
	return Range{Start: start, End: end}, nil
}

func decodeData(c *cursor, p Params) (Record, error) {
	rng, err := getRange(c, p)
	if err != nil {
		return nil, err
	}
	var ts uint64
	if p.LiveTimestamps {
		ts, err = c.u64()
		if err != nil {
			return nil, err
		}
	}
	payload := c.rest()
	return Data{Range: rng, Timestamp: ts, HasTimestamp: p.LiveTimestamps, Payload: payload}, nil
}

func decodeAck(c *cursor, p Params) (Record, error) {
	rng, err := getRange(c, p)
	if err != nil {
		return nil, err
	}
	ts, err := c.u64()
	if err != nil {
		return nil, err
	}
	return Ack{Range: rng, Timestamp: ts}, nil
}

// --- encodeBody implementations ---

func (h Handshake) encodeBody(dst *[]byte, p Params) {
	putUint32(dst, h.SenderChannelID)
	encodeOptions(dst, h.Options)
}

func (d Data) encodeBody(dst *[]byte, p Params) {
	putRange(dst, d.Range, p)
	if p.LiveTimestamps {
		putUint64(dst, d.Timestamp)
	}
	*dst = append(*dst, d.Payload...)
}

func (a Ack) encodeBody(dst *[]byte, p Params) {
	putRange(dst, a.Range, p)
	putUint64(dst, a.Timestamp)
}

func (h Have) encodeBody(dst *[]byte, p Params) { putRange(dst, h.Range, p) }

func (i Integrity) encodeBody(dst *[]byte, p Params) {
	putRange(dst, i.Range, p)
	*dst = append(*dst, i.Hash...)
}

func (s SignedIntegrity) encodeBody(dst *[]byte, p Params) {
	putRange(dst, s.Range, p)
	*dst = append(*dst, s.Hash...)
	putUint64(dst, s.Timestamp)
	*dst = append(*dst, s.Signature...)
}

func (r Request) encodeBody(dst *[]byte, p Params) { putRange(dst, r.Range, p) }
func (c Cancel) encodeBody(dst *[]byte, p Params)  { putRange(dst, c.Range, p) }
func (Choke) encodeBody(dst *[]byte, p Params)     {}
func (Unchoke) encodeBody(dst *[]byte, p Params)   {}
func (PexReq) encodeBody(dst *[]byte, p Params)    {}

func (r PexResV4) encodeBody(dst *[]byte, p Params) {
	*dst = append(*dst, r.IP[:]...)
	putUint16(dst, r.Port)
}

func (r PexResV6) encodeBody(dst *[]byte, p Params) {
	*dst = append(*dst, r.IP[:]...)
	putUint16(dst, r.Port)
}

func (r PexResCert) encodeBody(dst *[]byte, p Params) {
	putUint16(dst, uint16(len(r.Cert)))
	*dst = append(*dst, r.Cert...)
}

// --- handshake option block ---

func encodeOptions(dst *[]byte, o Options) {
	if o.Version != nil {
		*dst = append(*dst, OptVersion, *o.Version)
	}
	if o.MinVersion != nil {
		*dst = append(*dst, OptMinVersion, *o.MinVersion)
	}
	if o.SwarmID != nil {
		*dst = append(*dst, OptSwarmID)
		putUint16(dst, uint16(len(o.SwarmID)))
		*dst = append(*dst, o.SwarmID...)
	}
	if o.ContentIntegrityPolicy != nil {
		*dst = append(*dst, OptContentIntegrityPolicy, *o.ContentIntegrityPolicy)
	}
	if o.MerkleHashFunction != nil {
		*dst = append(*dst, OptMerkleHashFunction, *o.MerkleHashFunction)
	}
	if o.LiveSignatureAlgorithm != nil {
		*dst = append(*dst, OptLiveSignatureAlgorithm, *o.LiveSignatureAlgorithm)
	}
	if o.ChunkAddressingMethod != nil {
		*dst = append(*dst, OptChunkAddressingMethod, *o.ChunkAddressingMethod)
	}
	if o.LiveDiscardWindow != nil {
		width := 4
		if o.ChunkAddressingMethod != nil && AddressingMethod(*o.ChunkAddressingMethod) == AddressingBin32 {
			width = 8
		}
		*dst = append(*dst, OptLiveDiscardWindow)
		if width == 8 {
			putUint64(dst, *o.LiveDiscardWindow)
		} else {
			putUint32(dst, uint32(*o.LiveDiscardWindow))
		}
	}
	if o.SupportedMessagesBitmap != nil {
		*dst = append(*dst, OptSupportedMessagesBitmap)
		putUint16(dst, uint16(len(o.SupportedMessagesBitmap)))
		*dst = append(*dst, o.SupportedMessagesBitmap...)
	}
	*dst = append(*dst, optEnd)
}

func decodeHandshake(c *cursor) (Record, error) {
	senderChan, err := c.u32()
	if err != nil {
		return nil, err
	}
	opts, err := decodeOptions(c)
	if err != nil {
		return nil, err
	}
	return Handshake{SenderChannelID: senderChan, Options: opts}, nil
}

func decodeOptions(c *cursor) (Options, error) {
	var o Options
	// A bare HANDSHAKE (no option block at all, e.g. a close datagram)
	// is only legal when the datagram ends here.
	if c.empty() {
		return o, nil
	}
	for {
		opt, err := c.u8()
		if err != nil {
			return o, err
		}
		if opt == optEnd {
			return o, nil
		}
		switch opt {
		case OptVersion:
			v, err := c.u8()
			if err != nil {
				return o, err
			}
			o.Version = &v
		case OptMinVersion:
			v, err := c.u8()
			if err != nil {
				return o, err
			}
			o.MinVersion = &v
		case OptSwarmID:
			n, err := c.u16()
			if err != nil {
				return o, err
			}
			id, err := c.bytes(int(n))
			if err != nil {
				return o, ErrOptionOverrun
			}
			o.SwarmID = id
		case OptContentIntegrityPolicy:
			v, err := c.u8()
			if err != nil {
				return o, err
			}
			o.ContentIntegrityPolicy = &v
		case OptMerkleHashFunction:
			v, err := c.u8()
			if err != nil {
				return o, err
			}
			o.MerkleHashFunction = &v
		case OptLiveSignatureAlgorithm:
			v, err := c.u8()
			if err != nil {
				return o, err
			}
			o.LiveSignatureAlgorithm = &v
		case OptChunkAddressingMethod:
			v, err := c.u8()
			if err != nil {
				return o, err
			}
			o.ChunkAddressingMethod = &v
		case OptLiveDiscardWindow:
			width := 4
			if o.ChunkAddressingMethod != nil && AddressingMethod(*o.ChunkAddressingMethod) == AddressingBin32 {
				width = 8
			}
			var v uint64
			if width == 8 {
				v, err = c.u64()
			} else {
				var v32 uint32
				v32, err = c.u32()
				v = uint64(v32)
			}
			if err != nil {
				return o, err
			}
			o.LiveDiscardWindow = &v
		case OptSupportedMessagesBitmap:
			n, err := c.u16()
			if err != nil {
				return o, err
			}
			bm, err := c.bytes(int(n))
			if err != nil {
				return o, ErrOptionOverrun
			}
			o.SupportedMessagesBitmap = bm
		default:
			return o, ErrUnknownOption
		}
	}
}

// --- bin numbering (§3: "32-bit bin number derived from Merkle tree
// numbering"). bin = 2*s + (2^L - 1) for a power-of-two-aligned range of
// width 2^L starting at chunk s; L is the count of trailing one-bits. ---

func rangeToBin(r Range) (uint32, bool) {
	width := r.Len()
	if width == 0 || width&(width-1) != 0 {
		return 0, false
	}
	if r.Start%width != 0 {
		return 0, false
	}
	return 2*r.Start + width - 1, true
}

func binToRange(bin uint32) Range {
	l := 0
	for (bin>>uint(l))&1 == 1 {
		l++
	}
	width := uint32(1) << uint(l)
	s := (bin - (width - 1)) / 2
	return Range{Start: s, End: s + width - 1}
}

// --- byte cursor ---

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) empty() bool { return c.pos >= len(c.buf) }

func (c *cursor) rest() []byte {
	b := c.buf[c.pos:]
	c.pos = len(c.buf)
	return b
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, ErrTruncated
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) u8() (byte, error) {
	b, err := c.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.bytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.bytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.bytes(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}
