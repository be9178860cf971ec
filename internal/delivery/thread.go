package delivery

import "strings"

// ThreadKey picks the stable thread id of a message: the root of its
// References chain, else the message it replies to, else its own Message-ID.
func ThreadKey(messageID, inReplyTo string, references []string) string {
	for _, ref := range references {
		if ref = strings.TrimSpace(ref); ref != "" {
			return ref
		}
	}
	if inReplyTo = strings.TrimSpace(inReplyTo); inReplyTo != "" {
		return inReplyTo
	}
	return strings.TrimSpace(messageID)
}
