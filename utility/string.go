package utility

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ToInt converts a string to an integer, returns false if it is not a whole number
func ToInt(s string) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return i, true
}

func NewUUID() string {
	return uuid.New().String()
}

// SplitList splits a comma separated list, dropping empty items
func SplitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
