package ingest

import (
	"strings"
)

// UniqueUserID 用户标识中全部数字按顺序拼接，无数字时为0
func UniqueUserID(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if digits == "" {
		return "0"
	}
	return digits
}

// ABFlag 唯一数字标识为奇数时为true。只看末位，不受长度限制
func ABFlag(userID string) bool {
	id := UniqueUserID(userID)
	return (id[len(id)-1]-'0')%2 == 1
}
