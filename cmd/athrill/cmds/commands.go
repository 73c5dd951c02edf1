package cmds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/athrill-go/athrill/cmd/athrill/cmds/helphelpers"
	"github.com/athrill-go/athrill/pkg/config"
	"github.com/athrill-go/athrill/pkg/emulator"
	"github.com/athrill-go/athrill/pkg/logflags"
	"github.com/athrill-go/athrill/pkg/mpu"
	"github.com/athrill-go/athrill/pkg/terminal"
	"github.com/athrill-go/athrill/pkg/version"
	"github.com/athrill-go/athrill/service/dap"
	"github.com/athrill-go/athrill/service/debugger"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// numCores overrides the number of cores of the memory configuration.
	numCores int
	// interactive starts the debugger console with every core stopped.
	interactive bool
	// endClock halts the cores once their clock reaches it.
	endClock uint64
	// memoryConfig is the path of the memory configuration.
	memoryConfig string
	// deviceConfig is the path of the device configuration.
	deviceConfig string
	// binary loads the program as a raw image at address zero.
	binary bool
	// arch is the name of the CPU architecture.
	arch string
	// initFile is the path to initialization file.
	initFile string
	// addr is the DAP server listen address.
	addr string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const athrillCommandLongDesc = `athrill emulates a multi-core microcontroller and lets you debug the
program it runs.

The program is an ELF file, or a raw image loaded at address zero with -b.
The memory map comes from the memory configuration given with -m.

With -i every core starts stopped and the debugger console reads commands
from the terminal. Every command prints OK or NG once it completed.
Without -i the machine runs until every core halted, or until the clock
limit given with -t.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main athrill root command.
	rootCommand = &cobra.Command{
		Use:   "athrill [flags] <load_file>",
		Short: "athrill is a multi-core microcontroller emulator with a debugger.",
		Long:  athrillCommandLongDesc,
		Args:  cobra.ExactArgs(1),
		Run:   runCmd,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable emulator logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'athrill help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'athrill help log').")

	rootCommand.PersistentFlags().IntVarP(&numCores, "cores", "c", 0, "Number of cores, overrides the memory configuration.")
	rootCommand.PersistentFlags().StringVarP(&memoryConfig, "memory", "m", "", "Memory configuration file.")
	rootCommand.PersistentFlags().StringVarP(&deviceConfig, "device", "d", "", "Device configuration file.")
	rootCommand.PersistentFlags().Uint64VarP(&endClock, "end-clock", "t", 0, "Halt the cores when their clock reaches this value, 0 runs forever.")
	rootCommand.PersistentFlags().BoolVarP(&binary, "binary", "b", false, "Load the program as a raw image at address zero.")
	rootCommand.PersistentFlags().StringVar(&arch, "arch", "", "CPU architecture, may be omitted when a single one is available.")
	rootCommand.PersistentFlags().BoolVarP(&interactive, "interactive", "i", false, "Start the debugger console with every core stopped.")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the debugger console.")

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap [flags] <load_file>",
		Short: "Starts a TCP server communicating via Debug Adaptor Protocol (DAP).",
		Long: `Starts a TCP server communicating via Debug Adaptor Protocol (DAP).

The machine is built from the command line flags before the server starts,
with every core stopped. Launch and attach requests bind the session to it;
they accept the attributes stopOnEntry, viewMode and debugCores.
Cores are reported as threads. Instruction breakpoints, data breakpoints,
readMemory and writeMemory are supported.
The server does not accept multiple client connections.`,
		Args: cobra.ExactArgs(1),
		Run:  dapCmd,
	}
	dapCommand.Flags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "DAP server listen address.")
	rootCommand.AddCommand(dapCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("athrill\n%s\n", version.AthrillVersion)
			if log {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	mpu		Log region lookups and permission violations
	malloc		Log allocations and frees of the guest
	cpuctrl		Log breakpoint and watchpoint hits and core state changes
	emulator	Log the retired instructions in view mode
	debugger	Log debugger commands
	loader		Log the loading of configurations and programs
	dap		Log all DAP messages

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "DAP server listening at" message.

`,
	})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// resolveArch returns the architecture named by --arch, or the only one
// registered when the flag is empty.
func resolveArch(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	all := emulator.Arches()
	switch len(all) {
	case 0:
		return "", errors.New("no CPU architecture is available")
	case 1:
		return all[0], nil
	}
	return "", fmt.Errorf("--arch is required, available architectures: %v", all)
}

// debuggerConfig builds the debugger configuration from the command line
// and the user configuration.
func debuggerConfig(program string, conf *config.Config) (*debugger.Config, error) {
	if memoryConfig == "" {
		return nil, errors.New("a memory configuration is required (-m)")
	}
	archName, err := resolveArch(arch)
	if err != nil {
		return nil, err
	}
	policy, err := mpu.ParseFreePolicy(conf.MallocFreePolicy)
	if err != nil {
		return nil, err
	}
	return &debugger.Config{
		Program:        program,
		Binary:         binary,
		MemoryConfig:   memoryConfig,
		DeviceConfig:   deviceConfig,
		Arch:           archName,
		NumCores:       numCores,
		Interactive:    interactive,
		EndClock:       endClock,
		ViewMode:       conf.ViewMode,
		Protection:     conf.MemoryProtection,
		MallocUnitSize: uint32(conf.MallocUnitSize) * 1024,
		FreePolicy:     policy,
		DataAccessCSV:  conf.DataAccessCSV,
	}, nil
}

// opLogPath returns the operation log of the user configuration, or the
// one named by the device configuration.
func opLogPath(conf *config.Config, deviceConfig string) (string, error) {
	if conf.OpLog != "" {
		return conf.OpLog, nil
	}
	if deviceConfig == "" {
		return "", nil
	}
	dc, err := config.LoadDeviceConfig(deviceConfig)
	if err != nil {
		return "", err
	}
	path, _ := dc.Lookup(config.KeyOpLog)
	return path, nil
}

func runCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(args[0], conf))
}

func execute(program string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	if !interactive && initFile != "" {
		fmt.Fprint(os.Stderr, "Warning: init file ignored without -i\n")
	}

	cfg, err := debuggerConfig(program, conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	d, err := debugger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	if !interactive {
		return runBackground(d)
	}

	oplog, err := opLogPath(conf, deviceConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		d.Detach()
		return 1
	}
	term := terminal.New(d, conf)
	term.InitFile = initFile
	term.OpLog = oplog
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

// runBackground waits for every core to halt. SIGINT stops the machine.
func runBackground(d *debugger.Debugger) int {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	select {
	case <-ch:
		fmt.Fprintln(os.Stderr, "received SIGINT, stopping")
	case <-d.Done():
	}
	elaps := d.Elaps()
	err := d.Detach()
	var total uint64
	for i, clock := range elaps {
		fmt.Printf("cpu_clock[%d] = %d\n", i, clock)
		total += clock
	}
	fmt.Printf("total %d\n", total)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func dapCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if initFile != "" {
			fmt.Fprint(os.Stderr, "Warning: init file ignored with dap\n")
		}
		if interactive {
			fmt.Fprint(os.Stderr, "Warning: -i ignored with dap, cores always start stopped\n")
		}
		// The session decides when the cores run.
		interactive = true

		cfg, err := debuggerConfig(args[0], conf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			fmt.Printf("couldn't start listener: %s\n", err)
			return 1
		}
		d, err := debugger.New(cfg)
		if err != nil {
			listener.Close()
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		disconnectChan := make(chan struct{})
		server := dap.NewServer(&dap.Config{
			Listener:       listener,
			DisconnectChan: disconnectChan,
			Debugger:       d,
		})
		defer server.Stop()

		server.Run()
		waitForDisconnectSignal(disconnectChan)
		return 0
	}()
	os.Exit(status)
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) signal from the OS or for disconnectChan to be closed
// by the server when the client disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	select {
	case <-ch:
	case <-disconnectChan:
	}
}
