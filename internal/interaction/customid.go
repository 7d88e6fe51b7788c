package interaction

import (
	"strings"
)

const (
	// PersistentPrefix marks controls that survive a restart. The rest of
	// the id is the message the control lives on and the action.
	PersistentPrefix = "persistent"
	SessionPrefix    = "post"
	PromptPrefix     = "prompt"

	idSeparator = ":"
)

// ID is a parsed custom id of the form <prefix>:<key>:<action>.
type ID struct {
	Prefix string
	Key    string
	Action string
}

func (id ID) String() string {
	return strings.Join([]string{id.Prefix, id.Key, id.Action}, idSeparator)
}

func PersistentID(messageID, action string) string {
	return ID{Prefix: PersistentPrefix, Key: messageID, Action: action}.String()
}

func SessionID(sessionID, action string) string {
	return ID{Prefix: SessionPrefix, Key: sessionID, Action: action}.String()
}

func PromptID(promptID, action string) string {
	return ID{Prefix: PromptPrefix, Key: promptID, Action: action}.String()
}

// ParseID splits a custom id. The action may itself contain separators.
func ParseID(customID string) (ID, bool) {
	parts := strings.SplitN(customID, idSeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ID{}, false
	}
	return ID{Prefix: parts[0], Key: parts[1], Action: parts[2]}, true
}

// RoutePrefix returns the prefix that matches every id for key.
func RoutePrefix(prefix, key string) string {
	if key == "" {
		return prefix + idSeparator
	}
	return prefix + idSeparator + key + idSeparator
}
