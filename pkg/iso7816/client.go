package iso7816

import (
	"fmt"
)

// CLIENT & PROTOCOL LOGIC:
// The Client acts as a high-level driver over the physical connection.
// It implements the automatic handling of ISO 7816-3 transport behaviors that are
// often exposed to the application layer in T=0 protocols:
//
// 1. "61 XX" (Response Available):
//    The card indicates that XX bytes are waiting. The client automatically generates
//    and sends a GET RESPONSE command to retrieve them.
//
// 2. "6C XX" (Wrong Length):
//    The card indicates that the expected length (Le) was incorrect and suggests XX.
//    The client automatically re-sends the original command with Le = XX.
//
// SECURE CHANNELS:
// Once a secure channel is established, a Wrapper is installed on the client.
// Every logical command is wrapped before it reaches the transport and the final
// response of the exchange is unwrapped before it is returned. GET RESPONSE and
// 6CXX re-sends operate on the wire level and are never wrapped.
//
// TRACING:
// A Tracer observes the wire: commands after wrapping (only those longer than
// the 5-byte header + Le) and raw responses before unwrapping (only those that
// carry data in addition to SW1 SW2).
//
// The Send() method returns a Trace, which is a log of all atomic transactions
// occurred to fulfill the logical request.

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Wrapper applies and removes secure messaging on APDUs.
type Wrapper interface {
	Wrap(cmd *CommandAPDU) (*CommandAPDU, error)
	Unwrap(resp *ResponseAPDU) (*ResponseAPDU, error)
}

// Tracer receives the raw bytes exchanged with the card.
type Tracer interface {
	TraceCommand(raw []byte)
	TraceResponse(raw []byte)
}

const (
	minTracedCommand  = 5
	minTracedResponse = 2
)

// Client manages the high-level communication with the card.
type Client struct {
	Card    Transmitter
	Wrapper Wrapper
	Tracer  Tracer
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits a command and handles protocol logic (61xx, 6Cxx).
// When a Wrapper is installed, the command is wrapped first and the final
// transaction of the returned trace holds the unwrapped response.
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	wire := cmd
	if c.Wrapper != nil {
		wrapped, err := c.Wrapper.Wrap(cmd)
		if err != nil {
			return nil, fmt.Errorf("wrap error: %w", err)
		}
		wire = wrapped
	}

	trace, err := c.exchange(wire)
	if err != nil {
		return trace, err
	}

	if c.Wrapper != nil {
		last := trace.Last()
		plain, err := c.Wrapper.Unwrap(last.Response)
		if err != nil {
			return trace, fmt.Errorf("unwrap error: %w", err)
		}
		last.Response = plain
	}

	return trace, nil
}

// Execute sends cmd and returns the final response. A final status other
// than 9000 is reported as a *StatusError.
func (c *Client) Execute(cmd *CommandAPDU) (*ResponseAPDU, error) {
	trace, err := c.Send(cmd)
	if err != nil {
		return nil, err
	}

	resp := trace.Response()
	if resp.Status != SW_NO_ERROR {
		return resp, NewStatusError(cmd, resp.Status)
	}
	return resp, nil
}

func (c *Client) exchange(cmd *CommandAPDU) (Trace, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	if c.Tracer != nil && len(rawCmd) > minTracedCommand {
		c.Tracer.TraceCommand(rawCmd)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("transmission error: %w", err)
	}

	if c.Tracer != nil && len(rawResp) > minTracedResponse {
		c.Tracer.TraceResponse(rawResp)
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, err
	}

	trace := Trace{{Command: cmd, Response: resp}}

	sw1 := resp.Status.SW1()
	sw2 := resp.Status.SW2()

	// Case 61XX: More data available -> Issue GET RESPONSE
	if sw1 == 0x61 {
		// ISO 7816-4: GET RESPONSE must use the same logical channel as the original command.
		respCls := cmd.Class
		respCls.IsChained = false

		ins, _ := NewInstruction(INS_GET_RESPONSE)

		ne := int(sw2)
		if ne == 0 {
			ne = MaxShortLe
		}
		getRespCmd := NewCommandAPDU(respCls, ins, 0x00, 0x00, nil, ne)

		subTrace, err := c.exchange(getRespCmd)
		if err != nil {
			return trace, err
		}

		// Data received before the 61XX belongs to the same logical response.
		if len(resp.Data) > 0 {
			last := subTrace.Last()
			last.Response = &ResponseAPDU{
				Data:   append(append([]byte(nil), resp.Data...), last.Response.Data...),
				Status: last.Response.Status,
			}
		}

		return append(trace, subTrace...), nil
	}

	// Case 6CXX: Wrong Length -> Re-issue original command with correct Le
	if sw1 == 0x6C {
		newCmd := cmd.Clone()
		newCmd.Ne = int(sw2)
		if newCmd.Ne == 0 {
			newCmd.Ne = MaxShortLe
		}

		subTrace, err := c.exchange(newCmd)
		if err != nil {
			return trace, err
		}

		return append(trace, subTrace...), nil
	}

	return trace, nil
}
