package api

import "encoding/json"

// JSON-RPC 2.0 structures spoken on the event socket

// Request is a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is a server-initiated message without an ID
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// Socket methods
const (
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"
	MethodPing        = "ping"
	MethodEvent       = "event"
)

// SubscribeParams selects a pool; PoolID 0 means every pool.
type SubscribeParams struct {
	PoolID uint64 `json:"pool_id"`
}

// SubscribeResult lists the pools a client is subscribed to after the call.
type SubscribeResult struct {
	Subscriptions []uint64 `json:"subscriptions"`
}

// PingResult for the ping response
type PingResult struct {
	Pong string `json:"pong"`
}

func newResult(id int64, v interface{}) Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return newError(id, CodeInvalidRequest, err.Error())
	}
	return Response{JSONRPC: "2.0", ID: id, Result: raw}
}

func newError(id int64, code int, msg string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}}
}
