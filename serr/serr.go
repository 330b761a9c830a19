// Package serr defines the error codes kernel calls fail with.
package serr

import (
	"errors"
	"fmt"
)

type Terror uint32

const (
	TErrNoError Terror = iota
	TErrNoProc         // process table full
	TErrNoThread
	TErrNoFile // descriptor or file table full
	TErrInvalid
	TErrNotChild
	TErrIllegalState
	TErrNoPort
	TErrPortInUse
	TErrClosed
	TErrTimeout
	TErrBadConfig
)

func (err Terror) String() string {
	switch err {
	case TErrNoError:
		return "no error"
	case TErrNoProc:
		return "no free process"
	case TErrNoThread:
		return "no thread"
	case TErrNoFile:
		return "no free file"
	case TErrInvalid:
		return "invalid handle"
	case TErrNotChild:
		return "not a child"
	case TErrIllegalState:
		return "illegal state"
	case TErrNoPort:
		return "invalid port"
	case TErrPortInUse:
		return "port in use"
	case TErrClosed:
		return "closed"
	case TErrTimeout:
		return "timeout"
	case TErrBadConfig:
		return "bad config"
	default:
		return "unknown error"
	}
}

type Err struct {
	ErrCode Terror
	Obj     string
	Err     error
}

func NewErr(code Terror, obj interface{}) *Err {
	return &Err{ErrCode: code, Obj: fmt.Sprintf("%v", obj)}
}

func NewErrError(code Terror, obj interface{}, err error) *Err {
	return &Err{ErrCode: code, Obj: fmt.Sprintf("%v", obj), Err: err}
}

func (err *Err) Code() Terror {
	return err.ErrCode
}

func (err *Err) Unwrap() error {
	return err.Err
}

func (err *Err) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("{Err: %q Obj: %q (%v)}", err.ErrCode, err.Obj, err.Err)
	}
	return fmt.Sprintf("{Err: %q Obj: %q}", err.ErrCode, err.Obj)
}

func IsErrCode(error error, code Terror) bool {
	var err *Err
	if errors.As(error, &err) {
		return err.ErrCode == code
	}
	return false
}
