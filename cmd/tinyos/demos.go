package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"

	"github.com/npapoutsakis/tinyos3/fcb"
	"github.com/npapoutsakis/tinyos3/kernel"
	"github.com/npapoutsakis/tinyos3/socket"
)

const DEMO_PORT socket.Tport = 7

var demos = map[string]func(io.Writer) kernel.Task{
	"pipe":   pipeDemo,
	"socket": socketDemo,
	"ps":     psDemo,
	"fork":   forkDemo,
}

// pipeDemo has a child write a greeting through a pipe inherited from
// init; init reads until end of stream.
func pipeDemo(out io.Writer) kernel.Task {
	return func(sys *kernel.Sys, args []byte) int {
		p, err := sys.Pipe()
		if err != nil {
			fmt.Fprintf(out, "pipe: %v\n", err)
			return 1
		}
		cpid, err := sys.Exec(func(sys *kernel.Sys, args []byte) int {
			msg := fmt.Sprintf("hello from pid %d", sys.GetPid())
			sys.Close(p.Read)
			if sys.Write(p.Write, []byte(msg)) != len(msg) {
				return 1
			}
			return 0
		}, nil)
		if err != nil {
			fmt.Fprintf(out, "exec: %v\n", err)
			return 1
		}
		sys.Close(p.Write)
		b := make([]byte, 64)
		for {
			n := sys.Read(p.Read, b)
			if n <= 0 {
				break
			}
			fmt.Fprintf(out, "read %q\n", b[:n])
		}
		_, status, err := sys.WaitChild(cpid)
		if err != nil {
			return 1
		}
		return status
	}
}

// socketDemo runs a ping/pong exchange between a listener in init and
// a client thread.
func socketDemo(out io.Writer) kernel.Task {
	return func(sys *kernel.Sys, args []byte) int {
		lfid, err := sys.Socket(DEMO_PORT)
		if err != nil {
			fmt.Fprintf(out, "socket: %v\n", err)
			return 1
		}
		if err := sys.Listen(lfid); err != nil {
			fmt.Fprintf(out, "listen: %v\n", err)
			return 1
		}
		tid, err := sys.CreateThread(func(sys *kernel.Sys, args []byte) int {
			fid, err := sys.Socket(socket.NOPORT)
			if err != nil {
				return 1
			}
			if err := sys.Connect(fid, DEMO_PORT, time.Second); err != nil {
				fmt.Fprintf(out, "connect: %v\n", err)
				return 1
			}
			sys.Write(fid, []byte("ping"))
			b := make([]byte, 4)
			n := sys.Read(fid, b)
			fmt.Fprintf(out, "client read %q\n", b[:max(n, 0)])
			sys.Close(fid)
			return 0
		}, nil)
		if err != nil {
			return 1
		}
		fid, err := sys.Accept(lfid)
		if err != nil {
			fmt.Fprintf(out, "accept: %v\n", err)
			return 1
		}
		b := make([]byte, 4)
		n := sys.Read(fid, b)
		fmt.Fprintf(out, "server read %q\n", b[:max(n, 0)])
		sys.Write(fid, []byte("pong"))
		status, err := sys.ThreadJoin(tid)
		if err != nil {
			return 1
		}
		sys.Close(fid)
		sys.Close(lfid)
		return status
	}
}

// psDemo starts a few sleeping children and prints the process table.
func psDemo(out io.Writer) kernel.Task {
	return func(sys *kernel.Sys, args []byte) int {
		p, err := sys.Pipe()
		if err != nil {
			return 1
		}
		for i := 0; i < 3; i++ {
			arg := make([]byte, 100<<i)
			if _, err := sys.Exec(gate(p.Read), arg); err != nil {
				fmt.Fprintf(out, "exec: %v\n", err)
				return 1
			}
		}
		if err := ps(sys, out); err != nil {
			fmt.Fprintf(out, "ps: %v\n", err)
		}
		sys.Write(p.Write, []byte("ggg"))
		return 0
	}
}

func ps(sys *kernel.Sys, out io.Writer) error {
	fid, err := sys.OpenInfo()
	if err != nil {
		return err
	}
	defer sys.Close(fid)
	fmt.Fprintf(out, "%5s %5s %-6s %7s %s\n", "PID", "PPID", "STATE", "THREADS", "ARGS")
	b := make([]byte, kernel.PROCINFO_SIZE)
	for {
		n := sys.Read(fid, b)
		if n <= 0 {
			return nil
		}
		pi, err := kernel.DecodeProcInfo(b[:n])
		if err != nil {
			return err
		}
		st := "ZOMBIE"
		if pi.Alive != 0 {
			st = "ALIVE"
		}
		fmt.Fprintf(out, "%5d %5d %-6s %7d %s\n", pi.Pid, pi.Ppid, st, pi.ThreadCount,
			humanize.Bytes(uint64(pi.Argl)))
	}
}

// forkDemo has n children each sum 1..arg and reaps them in exit
// order.
func forkDemo(out io.Writer) kernel.Task {
	return func(sys *kernel.Sys, args []byte) int {
		for i := 1; i <= nchild; i++ {
			_, err := sys.Exec(func(sys *kernel.Sys, args []byte) int {
				n, err := strconv.Atoi(string(args))
				if err != nil {
					return -1
				}
				return n * (n + 1) / 2
			}, []byte(strconv.Itoa(i*10)))
			if err != nil {
				fmt.Fprintf(out, "exec %d: %v\n", i, err)
				break
			}
		}
		var statuses []float64
		for {
			pid, status, err := sys.WaitChild(kernel.NOPROC)
			if err != nil {
				break
			}
			fmt.Fprintf(out, "child %d exited with %d\n", pid, status)
			statuses = append(statuses, float64(status))
		}
		mean, err := stats.Mean(statuses)
		if err != nil {
			return 1
		}
		hi, _ := stats.Max(statuses)
		fmt.Fprintf(out, "reaped %d children: mean status %.1f max %.0f\n", len(statuses), mean, hi)
		return 0
	}
}

func gate(fid fcb.Tfid) kernel.Task {
	return func(sys *kernel.Sys, args []byte) int {
		b := make([]byte, 1)
		sys.Read(fid, b)
		return 0
	}
}
