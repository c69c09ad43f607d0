package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

type card struct {
	responses [][]byte
}

func (c *card) Transmit([]byte) ([]byte, error) {
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func TestCollector_Client(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	// 61XX triggers a GET RESPONSE. The bare 5-byte GET RESPONSE and the
	// status-only 6102 are below the tracing threshold.
	client := iso7816.NewClient(&card{responses: [][]byte{
		tlv.Hex("6102"),
		tlv.Hex("AABB 9000"),
	}})
	client.Tracer = m

	cla, _ := iso7816.NewClass(0x00)
	_, err = client.Execute(iso7816.SelectByAID(cla, tlv.Hex("A000000151000000")))
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("A4")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues("9000")))
	require.Equal(t, 1, testutil.CollectAndCount(m.commands))
	require.Equal(t, 1, testutil.CollectAndCount(m.responses))
}

func TestCollector_HelpMatchesTracedTraffic(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	// A header-only command and a status-only response never reach the
	// collector; what is counted carries data.
	client := iso7816.NewClient(&card{responses: [][]byte{tlv.Hex("9000"), tlv.Hex("AABB 9000")}})
	client.Tracer = m
	cla, _ := iso7816.NewClass(0x00)
	ins, _ := iso7816.NewInstruction(0x44)
	_, err = client.Execute(iso7816.NewCommandAPDU(cla, ins, 0x00, 0x00, nil, 0))
	require.NoError(t, err)
	_, err = client.Execute(iso7816.SelectByAID(cla, tlv.Hex("A000000151000000")))
	require.NoError(t, err)

	require.NoError(t, testutil.CollectAndCompare(m.commands, strings.NewReader(`
# HELP smartcard_apdu_commands_total Total number of command APDUs carrying data, by instruction byte
# TYPE smartcard_apdu_commands_total counter
smartcard_apdu_commands_total{ins="A4"} 1
`)))
	require.NoError(t, testutil.CollectAndCompare(m.responses, strings.NewReader(`
# HELP smartcard_apdu_responses_total Total number of response APDUs carrying data, by status word
# TYPE smartcard_apdu_responses_total counter
smartcard_apdu_responses_total{sw="9000"} 1
`)))
}

func TestCollector_Authentication(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.Authentication("scp02", "success")
	m.Authentication("scp02", "failure")
	m.Authentication("scp02", "success")

	require.Equal(t, 2.0, testutil.ToFloat64(m.authentications.WithLabelValues("scp02", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.authentications.WithLabelValues("scp02", "failure")))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)
}

func TestCollector_ShortFrames(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.TraceCommand([]byte{0x00})
	m.TraceResponse([]byte{0x90})
	require.Equal(t, 0, testutil.CollectAndCount(m.commands))
	require.Equal(t, 0, testutil.CollectAndCount(m.responses))
}
