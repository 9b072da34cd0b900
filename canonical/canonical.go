// Package canonical implements the single canonical JSON serialization of
// an audit record that every replica (and every client) must agree on
// byte-for-byte: it is the interoperability contract signatures and leaf
// hashes are computed over (spec §3).
package canonical

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ibizsoftware/auditledger/audit"
)

// Payload returns the canonical JSON payload for a, with object keys in
// lexicographic order at every nesting level, no whitespace, UTF-8. This
// must be byte-identical across replicas and languages; do not reorder
// the keys below to match struct declaration order — they are already
// sorted on purpose.
func Payload(a audit.Audit) string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(`"access_type":`)
	writeString(&b, a.AccessType)
	b.WriteByte(',')
	b.WriteString(`"file_info":{"file_id":`)
	writeString(&b, a.FileInfo.FileID)
	b.WriteString(`,"file_name":`)
	writeString(&b, a.FileInfo.FileName)
	b.WriteString(`},"req_id":`)
	writeString(&b, a.ReqID)
	b.WriteString(`,"timestamp":`)
	b.WriteString(strconv.FormatInt(a.Timestamp, 10))
	b.WriteString(`,"user_info":{"user_id":`)
	writeString(&b, a.UserInfo.UserID)
	b.WriteString(`,"user_name":`)
	writeString(&b, a.UserInfo.UserName)
	b.WriteString(`}}`)
	return b.String()
}

// writeString writes a minimal, correct JSON string literal. encoding/json
// would also escape '<', '>', '&' by default (HTML escaping) which must be
// disabled to stay byte-identical with other implementations of this
// contract, so the payload is hand-assembled rather than marshaled.
func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

// Concat returns the concatenation of Payload(a) for each audit in order,
// the suffix of the block-hash header described in spec §3/§4.3.
func Concat(audits []audit.Audit) string {
	var b strings.Builder
	for _, a := range audits {
		b.WriteString(Payload(a))
	}
	return b.String()
}
