package session

// Key layout, shared by the Redis driver and anything inspecting the store:
//
//	session:<uid>:history         list of JSON rounds
//	session:<uid>:summary:text    running summary
//	session:<uid>:summary:rounds  cursor
//	session:<uid>:alerts          per-user alert snapshots
//	session:<uid>:state           lifecycle marker
//	processed:<uid>:<rid>         idempotency marker
//	audio:<uid>:<aid>:buf         fragment buffer
//	audio:<uid>:<aid>:lock        utterance lock
//	audio:<uid>:<aid>:result      cached reply

func historyKey(userID string) string       { return "session:" + userID + ":history" }
func summaryTextKey(userID string) string   { return "session:" + userID + ":summary:text" }
func summaryCursorKey(userID string) string { return "session:" + userID + ":summary:rounds" }
func alertsKey(userID string) string        { return "session:" + userID + ":alerts" }
func stateKey(userID string) string         { return "session:" + userID + ":state" }

func processedKey(userID, requestID string) string { return "processed:" + userID + ":" + requestID }

func audioBufKey(userID, audioID string) string    { return "audio:" + userID + ":" + audioID + ":buf" }
func audioLockKey(userID, audioID string) string   { return "audio:" + userID + ":" + audioID + ":lock" }
func audioResultKey(userID, audioID string) string { return "audio:" + userID + ":" + audioID + ":result" }

// sessionKeys lists every session-scoped key for a user. They share one TTL
// policy and are purged together as a set.
func sessionKeys(userID string) []string {
	return []string{
		historyKey(userID),
		summaryTextKey(userID),
		summaryCursorKey(userID),
		alertsKey(userID),
		stateKey(userID),
	}
}
