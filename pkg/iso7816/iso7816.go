/*
Package iso7816 models the APDU layer of ISO/IEC 7816-4: command and
response APDUs, class and instruction bytes, status words and the SELECT
and READ BINARY helpers the rest of the middleware builds on.

# Exchanges

A Client sends one CommandAPDU at a time over a Transmitter (a PC/SC card
handle in production, a fake in tests). It answers 61XX with GET RESPONSE
and 6CXX by resending with the corrected Le, and records every exchange in
a Trace. Execute returns the final response and reports any status other
than 9000 as a *StatusError matching ErrUnexpectedStatusWord.

# Secure Channels

A Client can carry a Wrapper, installed by GlobalPlatform SCP02 or by EAC
secure messaging. Callers keep building plain commands; the Client wraps
them on the way out and unwraps the final response. A Tracer sees the
bytes as they go on the wire.

# SELECT and FCI

The data returned by SELECT depends on P2. ParseSelectData decodes FCI
('6F'), FCP ('62') and FMD ('64') templates, flat FCIs and proprietary
data. SelectResult ties this to a trace:

	trace, err := client.Send(iso7816.SelectByAID(cla, aid))
	if err != nil {
		return err
	}
	result, err := iso7816.NewSelectResult(trace)
	if err != nil {
		return err
	}
	if fci, err := result.FCI(); err == nil {
		fmt.Printf("Selected %X\n", fci.AID())
	}
	fmt.Println(result.Describe())
*/
package iso7816
