package domain

import "errors"

var (
	ErrNotConnected  = errors.New("not connected")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrInvertedStop  = errors.New("stop on wrong side of entry")
	ErrNoData        = errors.New("no data")
)
