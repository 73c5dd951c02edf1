package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	breakCmds
	runCmds
	dataCmds
	coreCmds
	traceCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the program", runCmds},
	{"Manipulating breakpoints and watchpoints", breakCmds},
	{"Viewing and changing memory", dataCmds},
	{"Selecting cores and their debug mode", coreCmds},
	{"Call traces, profiles and data access history", traceCmds},
	{"Other commands", otherCmds},
}
