package mqtt

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"dawn/internal/bus"
)

// replyText resolves a decoded [bus.Reply] to the text that should be
// delivered to the router, applying the fail-closed checksum policy from
// SPEC_FULL.md §6: if a checksum field is present it must validate against
// the referenced bytes (the decoded inline data, or — for a file-reference
// reply — the contents of the file named by value, which this function
// reads from disk) or the whole reply is discarded.
//
// ok is false for a reply with Status==bus.ReplyError; text is then the
// reply's error message (empty when the reply carries no error object), and
// it is still delivered so the executor unparks its waiter.
func replyText(reply bus.Reply) (text string, ok bool, err error) {
	if reply.Status == bus.ReplyError {
		msg := ""
		if reply.Error != nil {
			msg = reply.Error.Message
		}
		return msg, false, nil
	}

	if reply.Data != nil && reply.Data.Content != "" {
		raw, decErr := base64.StdEncoding.DecodeString(reply.Data.Content)
		if decErr != nil {
			return "", false, fmt.Errorf("decode base64 data.content: %w", decErr)
		}
		if reply.Data.Checksum != "" {
			if !validChecksum(reply.Data.Checksum, raw) {
				return "", false, fmt.Errorf("data.content checksum mismatch")
			}
		}
		return reply.Data.Content, true, nil
	}

	if reply.Checksum != "" {
		// File-reference reply: Value is a path on a filesystem shared with
		// the external bridge that produced it. Validate the checksum
		// against the file's actual bytes before trusting the path.
		raw, readErr := os.ReadFile(reply.Value)
		if readErr != nil {
			return "", false, fmt.Errorf("read referenced file %q: %w", reply.Value, readErr)
		}
		if !validChecksum(reply.Checksum, raw) {
			return "", false, fmt.Errorf("file-reference checksum mismatch for %q", reply.Value)
		}
	}

	return reply.Value, true, nil
}

func validChecksum(want string, data []byte) bool {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == want
}
