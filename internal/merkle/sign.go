package merkle

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"

	"github.com/quantarax/swarmd/internal/identity"
	"github.com/quantarax/swarmd/internal/wire"
)

var ErrSignatureInvalid = errors.New("merkle: signed integrity signature invalid")

// SignedMessage builds the byte string a live swarm's source signs for a
// SIGNED-INTEGRITY record: the covering range, hash and timestamp,
// concatenated in wire order. Grounded on the daemon's
// SignVerificationResult/VerifySignature pattern (daemon/manager/verification.go),
// adapted from signing a verification result to signing a Merkle peak.
func SignedMessage(r wire.Range, hash []byte, timestamp uint64) []byte {
	buf := make([]byte, 0, 8+8+len(hash)+8)
	var tmp [8]byte
	binary.BigEndian.PutUint32(tmp[:4], r.Start)
	buf = append(buf, tmp[:4]...)
	binary.BigEndian.PutUint32(tmp[:4], r.End)
	buf = append(buf, tmp[:4]...)
	buf = append(buf, hash...)
	binary.BigEndian.PutUint64(tmp[:], timestamp)
	buf = append(buf, tmp[:]...)
	return buf
}

// SignPeak signs a newly finalized peak on behalf of the swarm's source,
// producing the SIGNED-INTEGRITY record body fields.
func SignPeak(kp *identity.KeyPair, p Peak, timestamp uint64) (signature []byte, err error) {
	return identity.Sign(kp.PrivateKey, SignedMessage(p.Range, p.Hash, timestamp))
}

// VerifyPeakSignature checks a SIGNED-INTEGRITY record against the
// source's known public key.
func VerifyPeakSignature(pub ed25519.PublicKey, r wire.Range, hash []byte, timestamp uint64, signature []byte) error {
	if !identity.Verify(pub, SignedMessage(r, hash, timestamp), signature) {
		return ErrSignatureInvalid
	}
	return nil
}
