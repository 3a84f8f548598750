package network

import "errors"

var (
	// ErrConnectionFailed indicates the client could not connect to the node.
	ErrConnectionFailed = errors.New("network: connection failed")

	// ErrAuthFailed indicates the node rejected the RPC credentials.
	ErrAuthFailed = errors.New("network: authentication failed")

	// ErrTxNotFound indicates the node does not know the transaction.
	ErrTxNotFound = errors.New("network: transaction not found")

	// ErrNotConfirmed indicates the transaction is still in the mempool.
	ErrNotConfirmed = errors.New("network: transaction not confirmed")

	// ErrInvalidResponse indicates the node returned a malformed or unexpected response.
	ErrInvalidResponse = errors.New("network: invalid response")

	// ErrChainMismatch indicates the node's chain shares no recent ancestor
	// with the relay's headers.
	ErrChainMismatch = errors.New("network: node chain does not connect to relay")
)
