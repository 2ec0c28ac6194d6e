package relay

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meko-christian/imap2smtp/internal/config"
)

const (
	testUser = "relay"
	testPass = "relaypw"
)

type received struct {
	From string
	To   []string
	Data []byte
}

// testBackend records accepted messages and refuses recipients listed in
// refuse with the configured reply.
type testBackend struct {
	mu       sync.Mutex
	messages []received
	refuse   map[string]*gosmtp.SMTPError
	authed   bool
}

func (be *testBackend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &testSession{backend: be}, nil
}

func (be *testBackend) Received() []received {
	be.mu.Lock()
	defer be.mu.Unlock()
	return append([]received(nil), be.messages...)
}

type testSession struct {
	backend *testBackend
	msg     received
}

func (s *testSession) AuthMechanisms() []string { return []string{sasl.Plain} }

func (s *testSession) Auth(_ string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != testUser || password != testPass {
			return errors.New("invalid credentials")
		}
		s.backend.mu.Lock()
		s.backend.authed = true
		s.backend.mu.Unlock()
		return nil
	}), nil
}

func (s *testSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.msg = received{From: from}
	return nil
}

func (s *testSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if err, ok := s.backend.refuse[to]; ok {
		return err
	}
	s.msg.To = append(s.msg.To, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.Data = b
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, s.msg)
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset()        { s.msg = received{} }
func (s *testSession) Logout() error { return nil }

var _ gosmtp.AuthSession = (*testSession)(nil)

func newTestSMTPServer(t *testing.T, be *testBackend) config.SMTP {
	t.Helper()
	return startTestSMTPServer(t, be, nil)
}

// startTestSMTPServer serves be on a loopback port. With a TLS config the
// server offers STARTTLS and refuses AUTH on the plain connection.
func startTestSMTPServer(t *testing.T, be *testBackend, tlsConfig *tls.Config) config.SMTP {
	t.Helper()

	srv := gosmtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = tlsConfig == nil
	srv.TLSConfig = tlsConfig

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return config.SMTP{
		Host:           host,
		Port:           port,
		ForwardAddress: "dest@example.org",
		Timeout:        5 * time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleMessage = "From: Alice <alice@example.com>\r\n" +
	"To: list@example.com\r\n" +
	"Subject: Hello relay\r\n" +
	"\r\n" +
	"Body line\r\n"

func TestSend_Delivered(t *testing.T) {
	t.Parallel()

	be := &testBackend{}
	cfg := newTestSMTPServer(t, be)

	s, err := Dial(cfg, discardLogger())
	require.NoError(t, err)

	outcome := s.Send([]byte(sampleMessage), cfg.ForwardAddress)
	assert.Equal(t, Delivered, outcome.Kind)
	assert.NoError(t, outcome.Err)
	require.NoError(t, s.Close())

	msgs := be.Received()
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice@example.com", msgs[0].From)
	assert.Equal(t, []string{"dest@example.org"}, msgs[0].To)
	assert.Contains(t, string(msgs[0].Data), "Subject: Hello relay")
	assert.Contains(t, string(msgs[0].Data), "Body line")
	assert.False(t, be.authed)
}

func TestSend_ClassifiesRefusals(t *testing.T) {
	t.Parallel()

	be := &testBackend{refuse: map[string]*gosmtp.SMTPError{
		"gone@example.org": {Code: 550, EnhancedCode: gosmtp.EnhancedCode{5, 1, 1}, Message: "No such user"},
		"busy@example.org": {Code: 451, EnhancedCode: gosmtp.EnhancedCode{4, 3, 0}, Message: "Try again later"},
	}}
	cfg := newTestSMTPServer(t, be)

	s, err := Dial(cfg, discardLogger())
	require.NoError(t, err)
	defer s.Close()

	permanent := s.Send([]byte(sampleMessage), "gone@example.org")
	assert.Equal(t, PermanentFailure, permanent.Kind)
	assert.Equal(t, 550, permanent.Code)

	temporary := s.Send([]byte(sampleMessage), "busy@example.org")
	assert.Equal(t, TemporaryFailure, temporary.Kind)
	assert.Equal(t, 451, temporary.Code)

	// The session is reset after a refusal and can still deliver.
	ok := s.Send([]byte(sampleMessage), cfg.ForwardAddress)
	assert.Equal(t, Delivered, ok.Kind)
	assert.Len(t, be.Received(), 1)
}

func TestDial_Authenticates(t *testing.T) {
	t.Parallel()

	be := &testBackend{}
	cfg := newTestSMTPServer(t, be)
	cfg.User = testUser
	cfg.Password = testPass

	s, err := Dial(cfg, discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	be.mu.Lock()
	defer be.mu.Unlock()
	assert.True(t, be.authed)
}

func TestDial_SkipsAuthWithoutPassword(t *testing.T) {
	t.Parallel()

	be := &testBackend{}
	cfg := newTestSMTPServer(t, be)
	cfg.User = testUser

	s, err := Dial(cfg, discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	be.mu.Lock()
	defer be.mu.Unlock()
	assert.False(t, be.authed)
}

// selfSignedTLS returns a server config for 127.0.0.1 and a pool trusting it.
func selfSignedTLS(t *testing.T) (*tls.Config, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
	}, pool
}

func TestDial_StartTLSThenAuthAndSend(t *testing.T) {
	t.Parallel()

	serverTLS, roots := selfSignedTLS(t)
	be := &testBackend{}
	cfg := startTestSMTPServer(t, be, serverTLS)
	cfg.StartTLS = true
	cfg.User = testUser
	cfg.Password = testPass

	s, err := dial(cfg, &tls.Config{ServerName: cfg.Host, RootCAs: roots}, discardLogger())
	require.NoError(t, err)

	outcome := s.Send([]byte(sampleMessage), cfg.ForwardAddress)
	assert.Equal(t, Delivered, outcome.Kind)
	assert.NoError(t, outcome.Err)
	require.NoError(t, s.Close())

	require.Len(t, be.Received(), 1)
	be.mu.Lock()
	defer be.mu.Unlock()
	assert.True(t, be.authed, "AUTH is only accepted after STARTTLS")
}

func TestDial_StartTLSUntrustedCertificate(t *testing.T) {
	t.Parallel()

	serverTLS, _ := selfSignedTLS(t)
	cfg := startTestSMTPServer(t, &testBackend{}, serverTLS)
	cfg.StartTLS = true

	_, err := Dial(cfg, discardLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnect))
	assert.Contains(t, err.Error(), "failed to start TLS")
}

func TestDial_Failures(t *testing.T) {
	t.Parallel()

	t.Run("bad credentials", func(t *testing.T) {
		t.Parallel()

		cfg := newTestSMTPServer(t, &testBackend{})
		cfg.User = testUser
		cfg.Password = "wrong"

		_, err := Dial(cfg, discardLogger())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConnect))
		assert.Contains(t, err.Error(), "authentication failed")
	})

	t.Run("starttls unsupported", func(t *testing.T) {
		t.Parallel()

		// The test server has no TLS config and therefore no STARTTLS.
		cfg := newTestSMTPServer(t, &testBackend{})
		cfg.StartTLS = true

		_, err := Dial(cfg, discardLogger())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConnect))
	})

	t.Run("connection refused", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		_, err = Dial(config.SMTP{Host: "127.0.0.1", Port: port, Timeout: time.Second}, discardLogger())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConnect))
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	coded := func(code int) error {
		return &gosmtp.SMTPError{Code: code, Message: "reply"}
	}
	uncoded := errors.New("connection reset by peer")

	tests := []struct {
		name     string
		err      error
		lenient  bool
		wantKind Kind
		wantCode int
	}{
		{name: "nil", err: nil, wantKind: Delivered},
		{name: "550", err: coded(550), wantKind: PermanentFailure, wantCode: 550},
		{name: "500 boundary", err: coded(500), wantKind: PermanentFailure, wantCode: 500},
		{name: "499", err: coded(499), wantKind: TemporaryFailure, wantCode: 499},
		{name: "421 wrapped", err: errors.Join(errors.New("ctx"), coded(421)), wantKind: TemporaryFailure, wantCode: 421},
		{name: "uncoded strict", err: uncoded, wantKind: TemporaryFailure},
		{name: "uncoded lenient", err: uncoded, lenient: true, wantKind: Delivered},
		{name: "coded ignores lenient", err: coded(554), lenient: true, wantKind: PermanentFailure, wantCode: 554},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Classify(tt.err, tt.lenient)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantCode, got.Code)
		})
	}
}

func TestEnvelopeSender(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "alice@example.com", envelopeSender([]byte(sampleMessage)))
	assert.Equal(t, "owner@example.com", envelopeSender([]byte(
		"Sender: owner@example.com\r\nFrom: Alice <alice@example.com>\r\n\r\nbody")))
	assert.Equal(t, "", envelopeSender([]byte("Subject: no sender\r\n\r\nbody")))
}

func TestProbeMessage(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := ProbeMessage("relay@example.com", "dest@example.org", now)
	require.NoError(t, err)

	text := string(raw)
	assert.Contains(t, text, "Subject: [imap2smtp] Probe")
	assert.Contains(t, text, "To: dest@example.org")
	assert.True(t, strings.Contains(text, "Date: Fri, 01 Mar 2024 12:00:00 +0000"), text)
	assert.Equal(t, "relay@example.com", envelopeSender(raw))
}
