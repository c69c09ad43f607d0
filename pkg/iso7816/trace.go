package iso7816

// A Transaction is one command APDU and the response APDU it produced
// (ISO/IEC 7816-3).
//
// A Trace is every Transaction a single logical command took. The Client
// adds transactions of its own when the card answers with a procedure
// status:
//   - '61XX': XX more bytes are available, fetched with GET RESPONSE.
//   - '6CXX': wrong Le, the command is sent again with Le = XX.
//
// The outcome of the logical command is the outcome of the last
// transaction. When a secure channel is installed, the commands of a trace
// are the wrapped ones and only the final response is unwrapped.

// Transaction represents a completed Command-Response pair.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess reports whether the response status is a success. A missing
// response is a failure.
func (t *Transaction) IsSuccess() bool {
	if t.Response == nil {
		return false
	}
	return t.Response.Status.IsSuccess()
}

// Trace is a sequence of transactions (Command-Response pairs).
type Trace []Transaction

// Last returns the final transaction, or nil for an empty trace.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// Response returns the final response, or nil.
func (t Trace) Response() *ResponseAPDU {
	if last := t.Last(); last != nil {
		return last.Response
	}
	return nil
}

// IsSuccess reports whether the final transaction succeeded, whatever the
// intermediate 61XX / 6CXX statuses.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}
