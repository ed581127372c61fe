package idb

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrConfig                 = errors.New("invalid configuration")
	ErrInvalidKey             = errors.New("invalid key")
	ErrUnsupportedEnvironment = errors.New("storage engine unavailable")
	ErrNotFound               = errors.New("not found")
	ErrKeyMismatch            = errors.New("key mismatch")
	ErrRequest                = errors.New("request failed")
	ErrBlocked                = errors.New("blocked")
	ErrVersion                = errors.New("version conflict")
	ErrConstraint             = errors.New("constraint violated")
	ErrClosed                 = errors.New("store closed")
)

// StoreError is returned by every store operation. Kind is one of the Err*
// sentinels above; both Kind and Err match errors.Is.
type StoreError struct {
	Kind       error
	Store      string
	Collection string
	Key        Key
	Msg        string
	Err        error
}

func storeErrf(kind error, store, coll string, key Key, err error, format string, args ...any) error {
	return &StoreError{
		Kind:       kind,
		Store:      store,
		Collection: coll,
		Key:        key,
		Msg:        fmt.Sprintf(format, args...),
		Err:        err,
	}
}

func configErrf(store, coll string, err error, format string, args ...any) error {
	return storeErrf(ErrConfig, store, coll, 0, err, format, args...)
}

func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (e *StoreError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Store)
	if e.Collection != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Collection)
	}
	if e.Key != 0 {
		buf.WriteByte('/')
		buf.WriteString(strconv.FormatUint(uint64(e.Key), 10))
	}
	if buf.Len() > 0 {
		buf.WriteString(": ")
	}
	buf.WriteString(e.Kind.Error())
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// DataError describes malformed persisted bytes.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

// errorKind returns the short label used in metrics.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrUnsupportedEnvironment):
		return "unsupported"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrKeyMismatch):
		return "key_mismatch"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrVersion):
		return "version"
	case errors.Is(err, ErrConstraint):
		return "constraint"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "request"
	}
}
