// Package robokassa implements the Robokassa merchant signature protocol:
// signing the payment redirect and verifying the server-to-server result
// notice.
//
// The digest is the gateway's legacy construction, MD5 over a colon-joined
// string that contains the shared password in clear. It is a fixed wire
// contract and must be reproduced bit for bit.
package robokassa

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/jeffsasaki/robokassa-order-processor/models"
)

const separator = ":"

// ShpBlock renders extra parameters as "Shp_k1=v1:Shp_k2=v2" with keys in
// ascending byte order. It returns "" for an empty set.
func ShpBlock(extra models.ExtraParams) string {
	if len(extra) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(extra))
	for _, k := range extra.Keys() {
		pairs = append(pairs, models.ShpPrefix+k+"="+extra[k])
	}
	return strings.Join(pairs, separator)
}

// SignatureBase is the exact string that gets hashed.
func SignatureBase(parts []string, extra models.ExtraParams) string {
	base := strings.Join(parts, separator)
	if block := ShpBlock(extra); block != "" {
		base += separator + block
	}
	return base
}

// Digest returns the uppercase hex MD5 of the signature base.
func Digest(parts []string, extra models.ExtraParams) string {
	sum := md5.Sum([]byte(SignatureBase(parts, extra)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Verify reports whether candidate matches the digest of parts and extra.
// The comparison ignores case.
func Verify(parts []string, extra models.ExtraParams, candidate string) bool {
	if candidate == "" {
		return false
	}
	expected := Digest(parts, extra)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToUpper(candidate))) == 1
}
