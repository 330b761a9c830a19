package kernel

import (
	"bytes"
	"encoding/binary"

	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/serr"
)

const PROCINFO_MAX_ARGS_SIZE = 128

// ProcInfo is one record of the process listing stream.
type ProcInfo struct {
	Pid         int32
	Ppid        int32
	Alive       uint8
	_           [3]byte
	ThreadCount uint32
	Argl        uint32
	Args        [PROCINFO_MAX_ARGS_SIZE]byte
}

var PROCINFO_SIZE = binary.Size(ProcInfo{})

// ArgsBytes returns the recorded prefix of the process's arguments.
func (pi *ProcInfo) ArgsBytes() []byte {
	n := int(pi.Argl)
	if n > PROCINFO_MAX_ARGS_SIZE {
		n = PROCINFO_MAX_ARGS_SIZE
	}
	return pi.Args[:n]
}

func DecodeProcInfo(b []byte) (*ProcInfo, error) {
	if len(b) < PROCINFO_SIZE {
		return nil, serr.NewErr(serr.TErrInvalid, "short procinfo record")
	}
	pi := &ProcInfo{}
	if err := binary.Read(bytes.NewReader(b[:PROCINFO_SIZE]), binary.LittleEndian, pi); err != nil {
		return nil, err
	}
	return pi, nil
}

// procInfo is a read-only stream that returns one record per non-free
// process slot, in slot order.
type procInfo struct {
	k      *Kernel
	cursor int
}

func newProcInfo(k *Kernel) *procInfo {
	return &procInfo{k: k}
}

func (pi *procInfo) Read(buf []byte) int {
	if len(buf) < PROCINFO_SIZE {
		return -1
	}
	for ; pi.cursor < len(pi.k.pt); pi.cursor++ {
		p := pi.k.pt[pi.cursor]
		if p.state == FREE {
			continue
		}
		rec := ProcInfo{
			Pid:         int32(p.pid),
			Ppid:        int32(p.parent),
			ThreadCount: uint32(p.nthread),
			Argl:        uint32(len(p.args)),
		}
		if p.state == ALIVE {
			rec.Alive = 1
		}
		copy(rec.Args[:], p.args)
		var b bytes.Buffer
		if err := binary.Write(&b, binary.LittleEndian, &rec); err != nil {
			db.DFatalf("encode procinfo %v", err)
		}
		pi.cursor++
		return copy(buf, b.Bytes())
	}
	return 0
}

func (pi *procInfo) Write(buf []byte) int {
	return -1
}

func (pi *procInfo) Close() int {
	return 0
}
