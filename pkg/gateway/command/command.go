// Package command implements the directive sub-protocol embedded in
// model output. A directive is a [[action]] or [[action:value]] token
// that triggers a side effect on the call instead of being spoken.
package command

import (
	"regexp"
	"strings"
)

type Action string

const (
	ActionPress       Action = "press"
	ActionTransfer    Action = "transfer"
	ActionEndCall     Action = "end_call"
	ActionRequestUser Action = "request_user"
)

// Command is immutable once produced. Value distinguishes absent (nil)
// from present-but-empty ("" after a colon).
type Command struct {
	Action Action
	Value  *string
}

// ValueOr returns the value or def when absent.
func (c Command) ValueOr(def string) string {
	if c.Value == nil {
		return def
	}
	return *c.Value
}

var directiveRE = regexp.MustCompile(`\[\[(.*?)\]\]`)

// Detect returns the first directive embedded in text. Unknown actions
// are discarded even when the bracket syntax matches. Only the first
// occurrence is ever returned; additional directives in the same chunk
// are intentionally ignored to match the reference relay's behavior.
func Detect(text string) (Command, bool) {
	if text == "" {
		return Command{}, false
	}
	m := directiveRE.FindStringSubmatch(text)
	if m == nil {
		return Command{}, false
	}

	token := strings.TrimSpace(m[1])
	var value *string
	action := token
	if i := strings.Index(token, ":"); i >= 0 {
		action = token[:i]
		v := token[i+1:]
		value = &v
	}

	switch Action(strings.ToLower(action)) {
	case ActionPress:
		return Command{Action: ActionPress, Value: value}, true
	case ActionTransfer:
		return Command{Action: ActionTransfer, Value: value}, true
	case ActionEndCall:
		return Command{Action: ActionEndCall, Value: value}, true
	case ActionRequestUser:
		return Command{Action: ActionRequestUser, Value: value}, true
	default:
		return Command{}, false
	}
}
