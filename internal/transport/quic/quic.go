// Package quic carries length prefixed frames over one bidirectional QUIC stream.
package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/transport"
)

const (
	// NextProto is negotiated through ALPN.
	NextProto = "netsync-quic"

	DefaultIdleTimeout = 30 * time.Second
	DefaultKeepAlive   = 10 * time.Second
)

func defaultConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  DefaultIdleTimeout,
		KeepAlivePeriod: DefaultKeepAlive,
	}
}

var _ transport.Conn = (*Conn)(nil)

// Conn is one QUIC connection with a single stream. Every frame is a 4 byte big endian
// length followed by the payload.
type Conn struct {
	conn   *quic.Conn
	stream *quic.Stream

	header    [4]byte
	closeOnce sync.Once
}

// Dial connects and opens the stream. The stream only becomes visible to the peer once
// data is written, so an empty hello frame is sent right away.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Conn, error) {
	if tlsConfig == nil {
		tlsConfig = ClientTLS()
	}
	qc, err := quic.DialAddr(ctx, addr, tlsConfig, defaultConfig())
	if err != nil {
		return nil, protocol.WrapError(err, "dial quic").WithContext("addr", addr)
	}
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "open stream failed")
		return nil, protocol.WrapError(err, "open quic stream").WithContext("addr", addr)
	}

	c := &Conn{conn: qc, stream: stream}
	if err = c.WriteFrame(ctx, nil); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.stream.SetReadDeadline(deadline)
	} else {
		_ = c.stream.SetReadDeadline(time.Time{})
	}

	var header [4]byte
	if _, err := io.ReadFull(c.stream, header[:]); err != nil {
		return nil, mapError(err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > transport.MaxFrameSize {
		return nil, protocol.NewProtocolError(protocol.ErrorCodeProtocolViolation, "read quic frame", protocol.ErrInvalidFrame).
			WithContext("size", size)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(c.stream, frame); err != nil {
		return nil, mapError(err)
	}
	return frame, nil
}

func (c *Conn) WriteFrame(ctx context.Context, frame []byte) error {
	if len(frame) > transport.MaxFrameSize {
		return protocol.NewProtocolError(protocol.ErrorCodeProtocolViolation, "write quic frame", protocol.ErrInvalidFrame).
			WithContext("size", len(frame))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.stream.SetWriteDeadline(deadline)
	} else {
		_ = c.stream.SetWriteDeadline(time.Time{})
	}

	binary.BigEndian.PutUint32(c.header[:], uint32(len(frame)))
	if _, err := c.stream.Write(c.header[:]); err != nil {
		return mapError(err)
	}
	if len(frame) == 0 {
		return nil
	}
	if _, err := c.stream.Write(frame); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.stream.Close()
		err = c.conn.CloseWithError(0, "closed")
	})
	return err
}

func mapError(err error) error {
	var appErr *quic.ApplicationError
	var idleErr *quic.IdleTimeoutError
	if errors.As(err, &appErr) || errors.As(err, &idleErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return protocol.NewProtocolError(protocol.ErrorCodeTransportClosed, "quic", protocol.ErrConnectionClosed).
			WithContext("cause", err.Error())
	}
	return err
}

var _ transport.Listener = (*Listener)(nil)

type Listener struct {
	log      log.Log
	listener *quic.Listener
}

// Listen starts accepting QUIC connections. A nil tlsConfig generates a self-signed
// development certificate.
func Listen(logger log.Log, addr string, tlsConfig *tls.Config) (*Listener, error) {
	if tlsConfig == nil {
		var err error
		if tlsConfig, err = GenerateSelfSignedTLS(); err != nil {
			return nil, protocol.WrapError(err, "generate tls")
		}
	}
	ln, err := quic.ListenAddr(addr, tlsConfig, defaultConfig())
	if err != nil {
		return nil, protocol.WrapError(err, "listen quic").WithContext("addr", addr)
	}

	l := &Listener{
		log:      logger.With(log.String("component", "quic"), log.String("listener_addr", ln.Addr().String())),
		listener: ln,
	}
	l.log.Info("QUIC listener started")
	return l, nil
}

// Accept waits for a connection and its stream, then consumes the hello frame.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	qc, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	stream, err := qc.AcceptStream(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "no stream")
		return nil, mapError(err)
	}

	c := &Conn{conn: qc, stream: stream}
	hello, err := c.ReadFrame(ctx)
	if err != nil || len(hello) != 0 {
		_ = c.Close()
		if err == nil {
			err = protocol.NewProtocolError(protocol.ErrorCodeProtocolViolation, "quic hello", protocol.ErrInvalidFrame)
		}
		l.log.Warn("Rejected QUIC connection", log.String("remote_addr", qc.RemoteAddr().String()), log.Error(err))
		return nil, err
	}

	l.log.Debug("QUIC connection accepted", log.String("remote_addr", qc.RemoteAddr().String()))
	return c, nil
}

func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}

func (l *Listener) Close() error {
	return l.listener.Close()
}

// ClientTLS trusts any certificate. Development only.
func ClientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{NextProto},
		MinVersion:         tls.VersionTLS13,
	}
}

// GenerateSelfSignedTLS generates a self-signed certificate for development.
func GenerateSelfSignedTLS() (*tls.Config, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"netsync"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: privateKey}},
		NextProtos:   []string{NextProto},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
