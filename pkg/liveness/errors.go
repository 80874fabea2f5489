package liveness

import "errors"

var (
	// ErrPingTimeout indicates the peer did not answer a ping in time.
	ErrPingTimeout = errors.New("ping timeout")
	// ErrRequestTimeout indicates the peer did not answer a request in time.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrNotAlive rejects a request while the peer is down.
	ErrNotAlive = errors.New("peer not alive")
	// ErrRequestPending rejects a request while another is outstanding.
	ErrRequestPending = errors.New("request pending")
)
