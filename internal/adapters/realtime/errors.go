package realtime

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	NotInitialized ErrorKind = iota
	ConnectionTimeout
	ConnectionFailed
	ConnectionCancelled
	ConnectionLost
)

func (k ErrorKind) String() string {
	switch k {
	case NotInitialized:
		return "notInitialized"
	case ConnectionTimeout:
		return "connectionTimeout"
	case ConnectionFailed:
		return "connectionFailed"
	case ConnectionCancelled:
		return "connectionCancelled"
	case ConnectionLost:
		return "connectionLost"
	default:
		return "unknown"
	}
}

// ConnectError is returned when the bus cannot be used.
type ConnectError struct {
	Kind ErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return "realtime: " + e.Kind.String()
	}
	return fmt.Sprintf("realtime: %s: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IsKind reports whether err is a ConnectError of kind k.
func IsKind(err error, k ErrorKind) bool {
	var ce *ConnectError
	return errors.As(err, &ce) && ce.Kind == k
}

var ErrBackpressure = errors.New("realtime: backpressure")
