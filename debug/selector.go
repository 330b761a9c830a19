package debug

type Tselector string

// ALWAYS
const (
	ALWAYS Tselector = "ALWAYS"
	ERROR            = "ERROR"
	NEVER            = "NEVER"
)

// ERR
const (
	ERR Tselector = "_ERR"
)

// Tests
const (
	TEST  Tselector = "TEST"
	TEST1           = "TEST1"
)

// Boot and kernel entry
const (
	BOOT       Tselector = "BOOT"
	KERNEL               = "KERNEL"
	KERNEL_ERR           = KERNEL + ERR
	SCHED                = "SCHED"
)

// Processes and threads
const (
	PROC       Tselector = "PROC"
	PROC_ERR             = PROC + ERR
	THREAD               = "THREAD"
	THREAD_ERR           = THREAD + ERR
	PROCINFO             = "PROCINFO"
)

// Streams
const (
	FCB        Tselector = "FCB"
	FCB_ERR              = FCB + ERR
	PIPE                 = "PIPE"
	PIPE_ERR             = PIPE + ERR
	SOCKET               = "SOCKET"
	SOCKET_ERR           = SOCKET + ERR
)

// Ambient
const (
	CONFIG  Tselector = "CONFIG"
	METRICS           = "METRICS"
	CLI               = "CLI"
)
