package core

import (
	"strconv"

	"github.com/google/uuid"
)

const tempIDPrefix = "tmp-"

var tempIDSpace = uuid.MustParse("6f1d3c52-8a0e-4a53-9b6c-3f2d7e9a41c0")

// TempID derives the temporary id of a message from its content and the
// position of the send within its connection, so identical bodies sent twice
// get different ids.
func TempID(connID string, seq uint64, content string) string {
	key := connID + ":" + strconv.FormatUint(seq, 10) + ":" + content
	return tempIDPrefix + uuid.NewSHA1(tempIDSpace, []byte(key)).String()
}
