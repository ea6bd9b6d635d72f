package format

import (
	"fmt"
	"strconv"
	"strings"
)

func ToString(messages ...any) string {
	var builder strings.Builder
	for _, message := range messages {
		switch value := message.(type) {
		case string:
			builder.WriteString(value)
		case int:
			builder.WriteString(strconv.Itoa(value))
		case uint16:
			builder.WriteString(strconv.FormatUint(uint64(value), 10))
		case error:
			builder.WriteString(value.Error())
		case fmt.Stringer:
			builder.WriteString(value.String())
		default:
			builder.WriteString(fmt.Sprint(value))
		}
	}
	return builder.String()
}
