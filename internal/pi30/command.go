package pi30

import "strings"

// Command is a PI30 query mnemonic.
type Command string

const (
	CommandProtocolID      Command = "QPI"   // Protocol ID inquiry
	CommandSerialNumber    Command = "QID"   // Device serial number inquiry
	CommandFirmwareVersion Command = "QVFW"  // Main CPU firmware version inquiry
	CommandDeviceMode      Command = "QMOD"  // Device mode inquiry
	CommandGeneralStatus   Command = "QPIGS" // General status parameters inquiry
	CommandRating          Command = "QPIRI" // Device rating information inquiry
	CommandWarningStatus   Command = "QPIWS" // Device warning status inquiry
)

func (c Command) String() string {
	return string(c)
}

// Known reports whether c has an entry in the schema table.
func (c Command) Known() bool {
	_, ok := schemaIndex[c]
	return ok
}

// ParseCommand maps a mnemonic, in any letter case, to a known Command.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Known() {
		return "", &UnknownCommandError{Command: s}
	}
	return c, nil
}

// Commands returns every supported command in table order.
func Commands() []Command {
	out := make([]Command, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, s.Command)
	}
	return out
}
