package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ebfe/scard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/gregLibert/smartcard-middleware/pkg/config"
	"github.com/gregLibert/smartcard-middleware/pkg/dispatch"
	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/metrics"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
	"github.com/gregLibert/smartcard-middleware/pkg/service"
)

// connection is a PC/SC card connection. It implements iso7816.Transmitter.
type connection struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string
	atr    []byte
}

func connect(index int) (*connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		release(ctx)
		return nil, fmt.Errorf("no readers found: %v", err)
	}
	if index < 0 || index >= len(readers) {
		release(ctx)
		return nil, fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}

	reader := readers[index]
	// Force T=0 or T=1 to avoid "Parameter Incorrect" errors.
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		release(ctx)
		return nil, fmt.Errorf("connect to %s: %w", reader, err)
	}

	status, err := card.Status()
	if err != nil {
		disconnect(card)
		release(ctx)
		return nil, fmt.Errorf("card status: %w", err)
	}

	slog.Debug("card connected", "reader", reader, "atr", fmt.Sprintf("%X", status.Atr))
	return &connection{ctx: ctx, card: card, reader: reader, atr: status.Atr}, nil
}

func (c *connection) Transmit(apdu []byte) ([]byte, error) {
	return c.card.Transmit(apdu)
}

func (c *connection) Close() {
	disconnect(c.card)
	release(c.ctx)
}

// release and disconnect log cleanup failures; there is nothing else to do
// with them.
func release(ctx interface{ Release() error }) {
	if err := ctx.Release(); err != nil {
		slog.Warn("release PC/SC context", "error", err)
	}
}

func disconnect(card interface{ Disconnect(scard.Disposition) error }) {
	if err := card.Disconnect(scard.LeaveCard); err != nil {
		slog.Warn("disconnect card", "error", err)
	}
}

// cardSession is everything a command needs to talk to the connected card.
type cardSession struct {
	cfg     *config.Config
	conn    *connection
	client  *iso7816.Client
	session *securechannel.Session
	metrics *metrics.Collector
	gather  prometheus.Gatherer
	profile dispatch.Profile
}

// openCard connects to the reader and dispatches the card.
func openCard() (*cardSession, error) {
	s, err := openReader()
	if err != nil {
		return nil, err
	}
	profile, err := dispatch.New(s.cfg.DispatchProfiles()).Dispatch(s.conn.atr, s.client)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.profile = profile
	return s, nil
}

// openReader loads the configuration and connects to the reader without
// identifying the card.
func openReader() (*cardSession, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	index := cfg.ReaderIndex()
	if readerIndex >= 0 {
		index = readerIndex
	}
	conn, err := connect(index)
	if err != nil {
		return nil, err
	}

	client := iso7816.NewClient(conn)
	tracers := iso7816.Tracers{collector}
	if traceAPDU {
		tracers = append(tracers, iso7816.NewLogTracer(nil))
	}
	client.Tracer = tracers

	s := &cardSession{
		cfg:     cfg,
		conn:    conn,
		client:  client,
		session: securechannel.NewSession(),
		metrics: collector,
		gather:  reg,
	}
	return s, nil
}

// Close ends the card session and releases the reader.
func (s *cardSession) Close() {
	s.session.Close()
	if showMetrics {
		s.printMetrics()
	}
	s.conn.Close()
}

func (s *cardSession) printMetrics() {
	families, err := s.gather.Gather()
	if err != nil {
		slog.Warn("gather metrics", "error", err)
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stderr, mf); err != nil {
			slog.Warn("write metrics", "error", err)
			return
		}
	}
}

// registry binds the configured services.
func (s *cardSession) registry() (*service.Registry, error) {
	anchors, err := s.cfg.Trust.Anchors()
	if err != nil {
		return nil, err
	}
	ca, err := s.cfg.EAC.ChipAuthentication()
	if err != nil {
		return nil, err
	}

	r := service.NewRegistry(slog.Default())
	r.Register(dispatch.ServiceHSM, service.HSMFactory(service.HSMOptions{
		Anchors:  anchors,
		Domain:   ca.Domain,
		EAC:      ca,
		Observer: s.metrics,
	}))
	r.Register(dispatch.ServiceGP, service.GPFactory(service.GPOptions{
		Keys:           s.cfg.SCP02.StaticKeys(),
		SecurityDomain: s.cfg.SCP02.SecurityDomain(),
		SCP02:          s.cfg.SCP02.Channel(),
		Observer:       s.metrics,
	}))
	return r, nil
}

func (s *cardSession) service() (service.Service, error) {
	r, err := s.registry()
	if err != nil {
		return nil, err
	}
	return r.Open(s.profile, s.client, s.session)
}
