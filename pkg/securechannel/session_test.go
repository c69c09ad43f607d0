package securechannel

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

func TestLevel_String(t *testing.T) {
	require.Equal(t, "NONE", LevelNone.String())
	require.Equal(t, "C-MAC", LevelMAC.String())
	require.Equal(t, "C-MAC+C-ENC", LevelMACEnc.String())
	require.Equal(t, "Level(0x02)", Level(0x02).String())

	require.True(t, LevelMACEnc.Valid())
	require.False(t, Level(0x02).Valid())
	require.False(t, Level(0x13).Valid())
}

func TestCredential_NextCounter(t *testing.T) {
	c := NewCredential(uuid.New(), "A000000151000000", LevelMAC, nil, nil, tlv.Hex("00000000000000FE"))

	next, err := c.NextCounter()
	require.NoError(t, err)
	require.Equal(t, tlv.Hex("00000000000000FF"), next)

	next, err = c.NextCounter()
	require.NoError(t, err)
	require.Equal(t, tlv.Hex("0000000000000100"), next)
	require.Equal(t, next, c.Counter())

	// Returned slices are copies.
	next[0] = 0xAA
	require.Equal(t, tlv.Hex("0000000000000100"), c.Counter())
}

func TestCredential_CounterWraps(t *testing.T) {
	c := NewCredential(uuid.New(), "p", LevelMAC, nil, nil, tlv.Hex("FFFF"))
	next, err := c.NextCounter()
	require.NoError(t, err)
	require.Equal(t, tlv.Hex("0000"), next)
}

func TestCredential_ConcurrentIncrements(t *testing.T) {
	c := NewCredential(uuid.New(), "p", LevelMAC, nil, nil, make([]byte, 8))

	const workers, perWorker = 8, 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _ = c.NextCounter()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, tlv.Hex("0000000000000320"), c.Counter())
}

func TestCredential_Destroy(t *testing.T) {
	enc := tlv.Hex("404142434445464748494A4B4C4D4E4F")
	c := NewCredential(uuid.New(), "p", LevelMACEnc, enc, enc, make([]byte, 8))

	c.Destroy()
	require.True(t, c.Destroyed())
	require.Equal(t, make([]byte, 16), c.EncKey)
	require.Equal(t, make([]byte, 16), c.MACKey)

	// The caller's key buffer is not touched.
	require.Equal(t, byte(0x40), enc[0])

	_, err := c.NextCounter()
	require.ErrorIs(t, err, ErrCredentialDestroyed)
}

func TestSession_Install(t *testing.T) {
	s := NewSession()
	c := NewCredential(s.ID, "A000000151000000", LevelMAC, nil, nil, make([]byte, 2))

	require.NoError(t, s.Install(c))

	got, ok := s.Credential("A000000151000000")
	require.True(t, ok)
	require.Same(t, c, got)

	_, ok = s.Credential("E82B0601040181C31F0201")
	require.False(t, ok)
}

func TestSession_InstallReplacesPath(t *testing.T) {
	s := NewSession()
	first := NewCredential(s.ID, "p", LevelMAC, nil, nil, make([]byte, 2))
	second := NewCredential(s.ID, "p", LevelMACEnc, nil, nil, make([]byte, 2))

	require.NoError(t, s.Install(first))
	require.NoError(t, s.Install(second))

	require.True(t, first.Destroyed())
	got, ok := s.Credential("p")
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestSession_RejectsForeignCredential(t *testing.T) {
	a := NewSession()
	b := NewSession()
	c := NewCredential(a.ID, "p", LevelMAC, nil, nil, make([]byte, 8))

	err := b.Install(c)
	require.True(t, errors.Is(err, ErrCredentialReuse))

	_, ok := b.Credential("p")
	require.False(t, ok)
}

func TestSession_Close(t *testing.T) {
	s := NewSession()
	c := NewCredential(s.ID, "p", LevelMAC, nil, nil, make([]byte, 8))
	require.NoError(t, s.Install(c))

	s.Close()
	require.True(t, c.Destroyed())

	_, ok := s.Credential("p")
	require.False(t, ok)

	err := s.Install(NewCredential(s.ID, "q", LevelMAC, nil, nil, nil))
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_RejectsDestroyedCredential(t *testing.T) {
	s := NewSession()
	c := NewCredential(s.ID, "p", LevelMAC, nil, nil, nil)
	c.Destroy()
	require.ErrorIs(t, s.Install(c), ErrCredentialDestroyed)
}

func TestPathFromAID(t *testing.T) {
	require.Equal(t, "A000000151000000", PathFromAID(tlv.Hex("A0 00 00 01 51 00 00 00")))
}
