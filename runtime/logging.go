package runtime

import "strings"

// LoggingCommand is a parsed ##vso[area.action prop=val;...]value line.
type LoggingCommand struct {
	Area   string
	Action string
	Props  map[string]string
	Value  string
}

const loggingPrefix = "##vso["

// ParseLoggingCommand recognizes Azure DevOps logging commands embedded
// in subprocess output. Returns false for ordinary lines.
func ParseLoggingCommand(line string) (*LoggingCommand, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, loggingPrefix) {
		return nil, false
	}
	rest := trimmed[len(loggingPrefix):]
	header, value, found := strings.Cut(rest, "]")
	if !found {
		return nil, false
	}

	command, propText, _ := strings.Cut(header, " ")
	area, action, found := strings.Cut(command, ".")
	if !found {
		return nil, false
	}

	props := map[string]string{}
	for _, pair := range strings.Split(propText, ";") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		props[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	return &LoggingCommand{
		Area:   area,
		Action: action,
		Props:  props,
		Value:  value,
	}, true
}
