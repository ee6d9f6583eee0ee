package twitchchat

import "strings"

// Notice msg-ids that historically accompany a channel going away: legacy
// host hand-off notices and channel suspension.
var offlineMsgIDs = map[string]bool{
	"host_on":                  true,
	"host_target_went_offline": true,
	"msg_channel_suspended":    true,
}

// Free-text fragments seen in offline-adjacent notices. Matching text is
// inherently fragile; this list errs toward false negatives.
var offlinePhrases = []string{
	"is now offline",
	"has gone offline",
	"stream ended",
	"is now hosting",
	"exited host mode",
}

// endSignalReason reports whether a NOTICE looks like the stream going away
// and, if so, a short reason for logging. Matching is by msg-id first, then
// by known phrases in the notice text.
func endSignalReason(msgID, text string) (string, bool) {
	if offlineMsgIDs[msgID] {
		return "notice:" + msgID, true
	}
	lower := strings.ToLower(text)
	for _, phrase := range offlinePhrases {
		if strings.Contains(lower, phrase) {
			return "notice text: " + phrase, true
		}
	}
	return "", false
}
