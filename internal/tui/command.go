package tui

import "strings"

// Command represents a parsed prompt command.
type Command struct {
	Name string
	// Args is the rest of the line with inner spacing kept, for labels
	// and numbers that contain spaces.
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	name, args, _ := strings.Cut(input, " ")
	return Command{
		Name: strings.ToLower(name),
		Args: strings.TrimSpace(args),
	}
}

// commandAliases maps short forms to command names.
var commandAliases = map[string]string{
	"q":    "quit",
	"h":    "help",
	"n":    "new",
	"a":    "add",
	"o":    "open",
	"sync": "world",
}

func (c Command) canonical() string {
	if full, ok := commandAliases[c.Name]; ok {
		return full
	}
	return c.Name
}
