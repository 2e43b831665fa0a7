package visa1

import "errors"

var (
	// ErrTransport wraps faults reported by the Transport.
	ErrTransport = errors.New("visa1: transport failure")
	// ErrLinkClosed is returned for requests still pending when the link closes.
	ErrLinkClosed = errors.New("visa1: link closed")
	// ErrRequestExpired is returned for requests whose deadline passed before
	// they were transmitted.
	ErrRequestExpired = errors.New("visa1: request expired before transmission")
	// ErrRequestDropped is returned for requests dropped by the caller.
	ErrRequestDropped = errors.New("visa1: request dropped")
	// ErrPack indicates the request could not be serialized.
	ErrPack = errors.New("visa1: cannot pack request")
	// ErrUnpack indicates the response payload could not be decoded.
	ErrUnpack = errors.New("visa1: cannot unpack response")
	// ErrNilMessage indicates a nil message or request was supplied.
	ErrNilMessage = errors.New("visa1: message is nil")
	// ErrNotOpened is returned by Link.Request before the link is opened.
	ErrNotOpened = errors.New("visa1: link not opened")
	// ErrAlreadyOpened indicates Open was called twice.
	ErrAlreadyOpened = errors.New("visa1: link already opened")
)
