// Package dap implements VSCode's Debug Adaptor Protocol (DAP).
// This allows the emulator to communicate with frontends using DAP
// without a separate adaptor. The frontend connects to the emulator
// running in server mode, listening on a port and communicating over
// TCP. Cores are reported as threads, breakpoints are instruction
// breakpoints and watchpoints are data breakpoints.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"

	"github.com/athrill-go/athrill/pkg/cpuctrl"
	"github.com/athrill-go/athrill/pkg/logflags"
	"github.com/athrill-go/athrill/service/api"
	"github.com/athrill-go/athrill/service/debugger"
)

// Config is the configuration of a DAP server.
type Config struct {
	// Listener is used to accept the client connection, the server
	// takes its ownership.
	Listener net.Listener

	// Debugger drives the machine. It is detached by Stop.
	Debugger *debugger.Debugger

	// DisconnectChan is closed by the server when the client
	// disconnects or the connection fails.
	DisconnectChan chan<- struct{}
}

// Server implements a DAP server that can accept a single client for
// a single debug session. It does not support restarting.
// The server operates via three goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts a client connection,
// reads, decodes and processes each request, issuing commands to the
// underlying debugger and sending back events and responses.
// (3) The core goroutines of the machine, which report stops through the
// debugger stop listener. Sends are serialized by sendingMu.
type Server struct {
	// config is all the information necessary to start the server.
	config *Config
	// listener is used to accept the client connection.
	listener net.Listener
	// conn is the accepted client connection.
	conn net.Conn
	// stopChan is closed when the server is Stop()-ed. This can be used to signal
	// to goroutines run by the server that it's time to quit.
	stopChan chan struct{}
	// reader is used to read requests from the connection.
	reader *bufio.Reader
	// debugger is the underlying debugger service, set by launch and
	// attach.
	debugger *debugger.Debugger
	// log is used for structured logging.
	log logflags.Logger
	// args tracks special settings for handling debug session requests.
	args LaunchAttachConfig

	sendingMu      sync.Mutex
	disconnectOnce sync.Once
	removeListener func()

	// instructionBps and dataBps hold the ids of the breakpoints and
	// watchpoints set by the last setInstructionBreakpoints and
	// setDataBreakpoints requests, which replace them.
	instructionBps []int
	dataBps        []int
}

// NewServer creates a new DAP Server. It takes an opened Listener
// via config and assumes its ownership. Once config.DisconnectChan is
// closed, Server.Stop() must be called.
func NewServer(config *Config) *Server {
	logger := logflags.DAPLogger()
	logflags.WriteDAPListeningMessage(config.Listener.Addr().String())
	return &Server{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		log:      logger,
	}
}

// Stop stops the DAP debugger service, closes the listener and the client
// connection. It shuts down the underlying debugger. This method mustn't
// be called more than once.
func (s *Server) Stop() {
	s.listener.Close()
	close(s.stopChan)
	if s.removeListener != nil {
		s.removeListener()
	}
	if s.conn != nil {
		// Unless Stop() was called after serveDAPCodec()
		// returned, this will result in closed connection error
		// on next read, breaking out of the read loop and
		// allowing the run goroutine to exit.
		s.conn.Close()
	}
	if s.config.Debugger != nil {
		if err := s.config.Debugger.Detach(); err != nil {
			s.log.Error(err)
		}
	}
}

// signalDisconnect closes config.DisconnectChan if not nil, which
// signals that the client disconnected or there was a client
// connection failure. Since the server currently services only one
// client, this can be used as a signal to the entire server via
// Stop(). It can be called multiple times.
func (s *Server) signalDisconnect() {
	s.disconnectOnce.Do(func() {
		if s.config.DisconnectChan != nil {
			close(s.config.DisconnectChan)
		}
	})
}

// Run launches a new goroutine where it accepts a client connection
// and starts processing requests from it. Use Stop() to close connection.
// The server does not support multiple clients, serially or in parallel.
// The debugger won't be bound until launch/attach request is received.
func (s *Server) Run() {
	go func() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Errorf("Error accepting client connection: %s\n", err)
			}
			s.signalDisconnect()
			return
		}
		s.conn = conn
		s.serveDAPCodec()
	}()
}

// serveDAPCodec reads and decodes requests from the client
// until it encounters an error or EOF, when it sends
// the disconnect signal and returns.
func (s *Server) serveDAPCodec() {
	defer s.signalDisconnect()
	s.reader = bufio.NewReader(s.conn)
	for {
		request, err := dap.ReadProtocolMessage(s.reader)
		if decodeErr, ok := err.(*dap.DecodeProtocolMessageFieldError); ok {
			// The message is well formed, only its command or event is
			// unknown to go-dap.
			s.sendInternalErrorResponse(decodeErr.Seq, err.Error())
			continue
		}
		if err != nil {
			stopRequested := false
			select {
			case <-s.stopChan:
				stopRequested = true
			default:
			}
			if err != io.EOF && !stopRequested {
				s.log.Error("DAP error: ", err)
			}
			return
		}
		s.handleRequest(request)
	}
}

func (s *Server) handleRequest(request dap.Message) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error response
		// back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	jsonmsg, _ := json.Marshal(request)
	s.log.Debug("[<- from client]", string(jsonmsg))

	switch request := request.(type) {
	case *dap.InitializeRequest:
		s.onInitializeRequest(request)
	case *dap.LaunchRequest:
		s.onLaunchRequest(request)
	case *dap.AttachRequest:
		s.onAttachRequest(request)
	case *dap.DisconnectRequest:
		s.onDisconnectRequest(request)
	case *dap.SetInstructionBreakpointsRequest:
		s.onSetInstructionBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		// Sent by most clients even when no filter is advertised.
		s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
	case *dap.DataBreakpointInfoRequest:
		s.onDataBreakpointInfoRequest(request)
	case *dap.SetDataBreakpointsRequest:
		s.onSetDataBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDoneRequest(request)
	case *dap.ContinueRequest:
		s.onContinueRequest(request)
	case *dap.NextRequest:
		s.step(request.Request, request.Arguments.ThreadId, &dap.NextResponse{Response: *newResponse(request.Request)})
	case *dap.StepInRequest:
		s.step(request.Request, request.Arguments.ThreadId, &dap.StepInResponse{Response: *newResponse(request.Request)})
	case *dap.StepOutRequest:
		s.onStepOutRequest(request)
	case *dap.PauseRequest:
		s.onPauseRequest(request)
	case *dap.ThreadsRequest:
		s.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		s.onStackTraceRequest(request)
	case *dap.EvaluateRequest:
		s.onEvaluateRequest(request)
	case *dap.ReadMemoryRequest:
		s.onReadMemoryRequest(request)
	case *dap.WriteMemoryRequest:
		s.onWriteMemoryRequest(request)
	case *dap.SetBreakpointsRequest:
		// Guest programs carry no line information.
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetFunctionBreakpointsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ScopesRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.VariablesRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.RestartRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.TerminateRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	default:
		// This is a DAP message that go-dap has a struct for, so
		// decoding succeeded, but this function does not know how
		// to handle.
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process %#v\n", request))
	}
}

func (s *Server) send(message dap.Message) {
	jsonmsg, _ := json.Marshal(message)
	s.log.Debug("[-> to client]", string(jsonmsg))
	s.sendingMu.Lock()
	defer s.sendingMu.Unlock()
	if err := dap.WriteProtocolMessage(s.conn, message); err != nil {
		s.log.Debug(err)
	}
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsInstructionBreakpoints = true
	response.Body.SupportsDataBreakpoints = true
	response.Body.SupportsReadMemoryRequest = true
	response.Body.SupportsWriteMemoryRequest = true
	response.Body.SupportsEvaluateForHovers = true
	s.send(response)
}

func (s *Server) onLaunchRequest(request *dap.LaunchRequest) {
	if err := s.bind(request.Arguments); err != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch", err.Error())
		return
	}
	// Notify the client that the debugger is ready to start accepting
	// configuration requests for setting breakpoints, etc. The client
	// will end the configuration sequence with 'configurationDone'.
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.LaunchResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onAttachRequest(request *dap.AttachRequest) {
	if err := s.bind(request.Arguments); err != nil {
		s.sendErrorResponse(request.Request, FailedToAttach, "Failed to attach", err.Error())
		return
	}
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.AttachResponse{Response: *newResponse(request.Request)})
}

// bind applies the launch or attach attributes and starts reporting the
// stops of the machine.
func (s *Server) bind(arguments json.RawMessage) error {
	if s.debugger != nil {
		return fmt.Errorf("debug session already in progress")
	}
	if s.config.Debugger == nil {
		return fmt.Errorf("no machine to debug")
	}
	args := LaunchAttachConfig{}
	if err := unmarshalLaunchAttachArgs(arguments, &args); err != nil {
		return err
	}
	d := s.config.Debugger
	if len(args.DebugCores) > 0 {
		on := make(map[int]bool)
		for _, core := range args.DebugCores {
			if core < 0 || core >= d.NumCores() {
				return fmt.Errorf("invalid core %d in debugCores", core)
			}
			on[core] = true
		}
		// Enable first, at least one core always stays debuggable.
		for core := range on {
			if err := d.SetCoreDebugMode(core, true); err != nil {
				return err
			}
		}
		for core := 0; core < d.NumCores(); core++ {
			if !on[core] {
				if err := d.SetCoreDebugMode(core, false); err != nil {
					return err
				}
			}
		}
	}
	d.SetViewMode(args.ViewMode)
	s.args = args
	s.debugger = d
	s.removeListener = d.AddStopListener(s.onStop)
	go s.waitExit()
	return nil
}

func (s *Server) waitExit() {
	select {
	case <-s.debugger.Done():
		s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
	case <-s.stopChan:
	}
}

// onDisconnectRequest handles the DisconnectRequest. Per the DAP spec,
// it disconnects the debuggee and signals that the debug adaptor
// (in our case this TCP server) can be terminated.
func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	if s.debugger != nil {
		if _, err := s.debugger.Command(&api.DebuggerCommand{Name: api.Halt}); err != nil {
			s.log.Error(err)
		}
	}
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
	s.signalDisconnect()
}

func (s *Server) onSetInstructionBreakpointsRequest(request *dap.SetInstructionBreakpointsRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set breakpoints", "no debug session")
		return
	}
	for _, id := range s.instructionBps {
		// The breakpoint may have been deleted from the console.
		s.debugger.ClearBreakpoint(id)
	}
	s.instructionBps = s.instructionBps[:0]

	response := &dap.SetInstructionBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, want := range request.Arguments.Breakpoints {
		bp := &response.Body.Breakpoints[i]
		bp.InstructionReference = want.InstructionReference
		addr, err := parseMemoryReference(want.InstructionReference, want.Offset)
		if err != nil {
			bp.Message = err.Error()
			continue
		}
		got, err := s.debugger.CreateBreakpoint(fmt.Sprintf("*%#x", addr), false)
		if err != nil {
			bp.Message = err.Error()
			continue
		}
		s.instructionBps = append(s.instructionBps, got[0].ID)
		bp.Id = got[0].ID + 1
		bp.Verified = true
		bp.InstructionReference = memoryReference(got[0].Addr)
	}
	s.send(response)
}

func (s *Server) onDataBreakpointInfoRequest(request *dap.DataBreakpointInfoRequest) {
	response := &dap.DataBreakpointInfoResponse{Response: *newResponse(request.Request)}
	if s.debugger == nil {
		response.Body.Description = "no debug session"
		s.send(response)
		return
	}
	g, _, err := s.debugger.EvalSymbol(request.Arguments.Name, 0)
	if err != nil {
		// A null dataId tells the client the name can not be watched.
		response.Body.Description = err.Error()
		s.send(response)
		return
	}
	response.Body.DataId = dataID(g.Addr, g.Size)
	if g.Name != "" {
		response.Body.Description = fmt.Sprintf("%s (%d bytes at %#x)", g.Name, g.Size, g.Addr)
	} else {
		response.Body.Description = fmt.Sprintf("%d bytes at %#x", g.Size, g.Addr)
	}
	response.Body.AccessTypes = []dap.DataBreakpointAccessType{"read", "write", "readWrite"}
	s.send(response)
}

func watchTypeOf(accessType dap.DataBreakpointAccessType) cpuctrl.WatchType {
	switch accessType {
	case "read":
		return cpuctrl.WatchRead
	case "write":
		return cpuctrl.WatchWrite
	}
	return cpuctrl.WatchReadWrite
}

func (s *Server) onSetDataBreakpointsRequest(request *dap.SetDataBreakpointsRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set data breakpoints", "no debug session")
		return
	}
	for _, id := range s.dataBps {
		s.debugger.ClearWatchpoint(id)
	}
	s.dataBps = s.dataBps[:0]

	response := &dap.SetDataBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, want := range request.Arguments.Breakpoints {
		bp := &response.Body.Breakpoints[i]
		addr, size, err := parseDataID(want.DataId)
		if err != nil {
			bp.Message = err.Error()
			continue
		}
		wp, err := s.debugger.CreateWatchpoint(fmt.Sprintf("%#x", addr), size, watchTypeOf(want.AccessType))
		if err != nil {
			bp.Message = err.Error()
			continue
		}
		s.dataBps = append(s.dataBps, wp.ID)
		bp.Id = wp.ID + 1
		bp.Verified = true
	}
	s.send(response)
}

func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
	if s.debugger == nil {
		return
	}
	if s.args.StopOnEntry {
		e := &dap.StoppedEvent{Event: *newEvent("stopped")}
		e.Body.Reason = "entry"
		e.Body.ThreadId = threadID(s.debugger.State().Current)
		e.Body.AllThreadsStopped = true
		s.send(e)
		return
	}
	if _, err := s.debugger.Command(&api.DebuggerCommand{Name: api.Continue, Core: api.AllCores}); err != nil {
		s.handleStopOnError(err)
	}
}

// onContinueRequest resumes every debuggable core: stops are all-stop,
// so a single core can not be resumed alone.
func (s *Server) onContinueRequest(request *dap.ContinueRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToContinue, "Unable to continue", "no debug session")
		return
	}
	response := &dap.ContinueResponse{Response: *newResponse(request.Request)}
	response.Body.AllThreadsContinued = true
	s.send(response)
	if _, err := s.debugger.Command(&api.DebuggerCommand{Name: api.Continue, Core: api.AllCores}); err != nil {
		s.handleStopOnError(err)
	}
}

// step executes one instruction on the core of thread. The response is
// sent first, the stopped event follows from the stop listener.
func (s *Server) step(request dap.Request, thread int, response dap.Message) {
	if s.debugger == nil {
		s.sendErrorResponse(request, UnableToStep, "Unable to step", "no debug session")
		return
	}
	core := coreOf(thread)
	if core < 0 || core >= s.debugger.NumCores() {
		s.sendErrorResponse(request, UnableToStep, "Unable to step", fmt.Sprintf("unknown thread %d", thread))
		return
	}
	s.send(response)
	if _, err := s.debugger.Command(&api.DebuggerCommand{Name: api.Step, Core: core}); err != nil {
		s.handleStopOnError(err)
	}
}

func (s *Server) onStepOutRequest(request *dap.StepOutRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToStep, "Unable to step out", "no debug session")
		return
	}
	s.send(&dap.StepOutResponse{Response: *newResponse(request.Request)})
	if _, err := s.debugger.Command(&api.DebuggerCommand{Name: api.Return, Core: api.AllCores}); err != nil {
		s.handleStopOnError(err)
	}
}

func (s *Server) onPauseRequest(request *dap.PauseRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToHalt, "Unable to pause", "no debug session")
		return
	}
	s.send(&dap.PauseResponse{Response: *newResponse(request.Request)})
	if _, err := s.debugger.Command(&api.DebuggerCommand{Name: api.Halt}); err != nil {
		s.handleStopOnError(err)
	}
}

func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToDisplayThreads, "Unable to display threads", "no debug session")
		return
	}
	state := s.debugger.State()
	threads := make([]dap.Thread, len(state.Cores))
	for i, c := range state.Cores {
		name := fmt.Sprintf("core%d", c.ID)
		if !c.Debuggable {
			name += " (free running)"
		}
		threads[i] = dap.Thread{Id: threadID(c.ID), Name: name}
	}
	response := &dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: threads},
	}
	s.send(response)
}

// onStackTraceRequest returns one frame per thread: the guest programs
// carry no unwind information.
func (s *Server) onStackTraceRequest(request *dap.StackTraceRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace", "no debug session")
		return
	}
	core := coreOf(request.Arguments.ThreadId)
	state := s.debugger.State()
	if core < 0 || core >= len(state.Cores) {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace",
			fmt.Sprintf("unknown thread %d", request.Arguments.ThreadId))
		return
	}
	c := &state.Cores[core]
	frame := dap.StackFrame{
		Id:                          request.Arguments.ThreadId,
		Name:                        c.Location(),
		InstructionPointerReference: memoryReference(c.PC),
	}
	response := &dap.StackTraceResponse{
		Response: *newResponse(request.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: []dap.StackFrame{frame}, TotalFrames: 1},
	}
	s.send(response)
}

// onEvaluateRequest evaluates a global, a global plus an offset or an
// address and returns its bytes. The memory reference lets clients open
// a memory view on it.
func (s *Server) onEvaluateRequest(request *dap.EvaluateRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToEvaluateExpression, "Unable to evaluate expression", "no debug session")
		return
	}
	g, data, err := s.debugger.EvalSymbol(request.Arguments.Expression, 0)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToEvaluateExpression, "Unable to evaluate expression", err.Error())
		return
	}
	response := &dap.EvaluateResponse{Response: *newResponse(request.Request)}
	response.Body.Result = fmt.Sprintf("% x", data)
	response.Body.MemoryReference = memoryReference(g.Addr)
	s.send(response)
}

func (s *Server) onReadMemoryRequest(request *dap.ReadMemoryRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", "no debug session")
		return
	}
	addr, err := parseMemoryReference(request.Arguments.MemoryReference, request.Arguments.Offset)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", err.Error())
		return
	}
	response := &dap.ReadMemoryResponse{Response: *newResponse(request.Request)}
	response.Body.Address = memoryReference(addr)
	count := request.Arguments.Count
	if count <= 0 {
		s.send(response)
		return
	}
	data, err := s.debugger.ReadMemory(addr, count)
	if err != nil {
		response.Body.UnreadableBytes = count
		s.send(response)
		return
	}
	response.Body.Data = base64.StdEncoding.EncodeToString(data)
	s.send(response)
}

func (s *Server) onWriteMemoryRequest(request *dap.WriteMemoryRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToWriteMemory, "Unable to write memory", "no debug session")
		return
	}
	addr, err := parseMemoryReference(request.Arguments.MemoryReference, request.Arguments.Offset)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToWriteMemory, "Unable to write memory", err.Error())
		return
	}
	data, err := base64.StdEncoding.DecodeString(request.Arguments.Data)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToWriteMemory, "Unable to write memory", err.Error())
		return
	}
	if err := s.debugger.WriteMemory(addr, data); err != nil {
		s.sendErrorResponse(request.Request, UnableToWriteMemory, "Unable to write memory", err.Error())
		return
	}
	response := &dap.WriteMemoryResponse{Response: *newResponse(request.Request)}
	response.Body.BytesWritten = len(data)
	s.send(response)
}

func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{
		Id:     id,
		Format: fmt.Sprintf("%s: %s", summary, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

// sendInternalErrorResponse sends an "internal error" response back to the client.
// We only take a seq here because we don't want to make assumptions about the
// kind of message received by the server that this error is a reply to.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error"
	er.Body.Error = &dap.ErrorMessage{
		Id:     InternalError,
		Format: fmt.Sprintf("%s: %s", er.Message, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

// handleStopOnError sends a terminated event when every core exited,
// or an output event with the details of the error.
func (s *Server) handleStopOnError(err error) {
	s.log.Error("runtime error: ", err)
	if s.debugger.State().Exited {
		// Sent by waitExit.
		return
	}
	s.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body: dap.OutputEventBody{
			Output:   fmt.Sprintf("ERROR: %s\n", err),
			Category: "stderr",
		}})
}

// onStop turns the stop of a core into a stopped event.
func (s *Server) onStop(ev api.StopEvent) {
	if ev.Reason == cpuctrl.StopExit.String() {
		return
	}
	e := &dap.StoppedEvent{Event: *newEvent("stopped")}
	e.Body.ThreadId = threadID(ev.Core)
	e.Body.Description = ev.String()
	switch {
	case ev.Breakpoint != nil:
		e.Body.Reason = "instruction breakpoint"
		e.Body.HitBreakpointIds = []int{ev.Breakpoint.ID + 1}
	case ev.Watchpoint != nil:
		e.Body.Reason = "data breakpoint"
		e.Body.HitBreakpointIds = []int{ev.Watchpoint.ID + 1}
	case ev.Reason == cpuctrl.StopStep.String():
		e.Body.Reason = "step"
	case ev.Reason == cpuctrl.StopInitial.String():
		e.Body.Reason = "entry"
	case ev.Reason == cpuctrl.StopFault.String():
		e.Body.Reason = "exception"
		e.Body.Text = ev.String()
	default:
		e.Body.Reason = "pause"
	}
	s.send(e)
}
