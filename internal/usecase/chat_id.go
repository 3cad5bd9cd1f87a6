package usecase

import (
	"strconv"
	"strings"

	"lovelink/pkg/errors"
)

// UserKey is the string form of a user id used for document ids and map keys.
func UserKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func orderedPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// ChatIDFor derives the conversation id of a pair; the argument order does not matter.
func ChatIDFor(a, b int64) string {
	lo, hi := orderedPair(a, b)
	return UserKey(lo) + "_" + UserKey(hi)
}

// memberPair is the members array in the same fixed order as the chat id, so repeated
// writes of it never change the stored value.
func memberPair(a, b int64) []string {
	lo, hi := orderedPair(a, b)
	return []string{UserKey(lo), UserKey(hi)}
}

// ParseChatID returns the two participants encoded in a chat id.
func ParseChatID(chatID string) (int64, int64, error) {
	left, right, ok := strings.Cut(chatID, "_")
	if !ok {
		return 0, 0, errors.BadRequest("Malformed chat id", nil)
	}
	a, err := strconv.ParseInt(left, 10, 64)
	if err != nil {
		return 0, 0, errors.BadRequest("Malformed chat id", err)
	}
	b, err := strconv.ParseInt(right, 10, 64)
	if err != nil {
		return 0, 0, errors.BadRequest("Malformed chat id", err)
	}
	if a >= b {
		return 0, 0, errors.BadRequest("Malformed chat id", nil)
	}
	return a, b, nil
}

// ChatHasMember reports whether userID is one of the participants encoded in chatID.
func ChatHasMember(chatID string, userID int64) bool {
	a, b, err := ParseChatID(chatID)
	if err != nil {
		return false
	}
	return userID == a || userID == b
}
