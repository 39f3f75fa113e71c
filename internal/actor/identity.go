package actor

import "github.com/google/uuid"

// Namespace seeds actor identities. Changing it changes every identity.
var Namespace = uuid.MustParse("6f1c3f0e-4b8a-5d2e-9c71-2a9e8b4d7c10")

// Identity returns the deterministic actor identity for a session id.
func Identity(sessionID string) string {
	return uuid.NewSHA1(Namespace, []byte(sessionID)).String()
}
