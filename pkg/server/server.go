package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/emberhollow/storywalk/pkg/accountdb"
	"github.com/emberhollow/storywalk/pkg/keys"
	"github.com/emberhollow/storywalk/pkg/presence"
	"github.com/emberhollow/storywalk/pkg/protocol"
	"github.com/emberhollow/storywalk/pkg/storydb"
)

// Server is the main TCP game server: it accepts connections, performs the
// public-key handshake, and dispatches framed actions to the stores and the
// presence roster.
type Server struct {
	Conf     Conf
	Accounts *accountdb.Store
	Stories  *storydb.Store
	Roster   *presence.Registry
	Sessions *SessionManager

	keypair *keys.Pair
	pubPEM  []byte

	listener    net.Listener
	tlsListener net.Listener
	webServer   *WebServer
	metrics     *Metrics
	startTime   time.Time

	stopSweeper func()
	stopWatcher func()
	wg          sync.WaitGroup
}

// NewServer creates a server over already-opened stores and generates the
// process keypair used for every connection handshake.
func NewServer(cfg Conf, accounts *accountdb.Store, stories *storydb.Store) (*Server, error) {
	pair, err := keys.Generate()
	if err != nil {
		return nil, err
	}
	pubPEM, err := keys.MarshalPublic(pair.Public)
	if err != nil {
		return nil, err
	}
	roster := presence.NewRegistry(cfg.presenceTTL())
	s := &Server{
		Conf:      cfg,
		Accounts:  accounts,
		Stories:   stories,
		Roster:    roster,
		Sessions:  NewSessionManager(roster),
		keypair:   pair,
		pubPEM:    pubPEM,
		startTime: time.Now(),
	}
	s.metrics = NewMetrics(s)
	return s, nil
}

// Start brings up the listeners and background tasks. It returns once the
// plain listener is accepting; use Wait to block until shutdown.
func (s *Server) Start() error {
	if s.Conf.PresenceTTL > 0 && s.Conf.SweepInterval > 0 {
		s.stopSweeper = s.Roster.StartSweeper(s.Conf.sweepInterval())
	}

	if s.Conf.LegacyStoryFile != "" {
		n, err := s.Stories.ImportJSON(s.Conf.LegacyStoryFile)
		switch {
		case err != nil:
			log.Printf("Legacy story import from %s: %v", s.Conf.LegacyStoryFile, err)
		case n > 0:
			log.Printf("Imported %d legacy stories from %s", n, s.Conf.LegacyStoryFile)
		}
		if s.Conf.WatchLegacyFile {
			stop, err := s.Stories.Watch(s.Conf.LegacyStoryFile)
			if err != nil {
				log.Printf("WARNING: Could not watch %s: %v", s.Conf.LegacyStoryFile, err)
			} else {
				s.stopWatcher = stop
			}
		}
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.Conf.Host, s.Conf.Port))
	if err != nil {
		return fmt.Errorf("game listener: %w", err)
	}
	s.listener = ln
	log.Printf("Listening (cleartext) on %s", ln.Addr())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()

	if s.Conf.TLS {
		tlsConf, err := s.Conf.listenerTLS()
		if err != nil {
			ln.Close()
			return fmt.Errorf("TLS setup: %w", err)
		}
		tln, err := tls.Listen("tcp", fmt.Sprintf("%s:%d", s.Conf.Host, s.Conf.TLSPort), tlsConf)
		if err != nil {
			ln.Close()
			return fmt.Errorf("TLS listener: %w", err)
		}
		s.tlsListener = tln
		log.Printf("Listening (TLS) on %s", tln.Addr())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptLoop(tln)
		}()
	}

	if s.Conf.WebEnabled {
		s.webServer = NewWebServer(s, WebConfig{
			Host:        s.Conf.WebHost,
			Port:        s.Conf.WebPort,
			JWTSecret:   s.Conf.JWTSecret,
			JWTExpiry:   s.Conf.JWTExpiry,
			CORSOrigins: s.Conf.CORSOrigins,
		})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.webServer.Start(); err != nil {
				log.Printf("Web server: %v", err)
			}
		}()
	}

	return nil
}

// Addr returns the address of the plain game listener, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Wait blocks until all listeners have shut down.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Stop closes all listeners and background tasks.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.tlsListener != nil {
		s.tlsListener.Close()
	}
	if s.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.webServer.Stop(ctx)
	}
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	if s.stopWatcher != nil {
		s.stopWatcher()
	}
}

// acceptLoop accepts connections on the given listener until it is closed.
func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// handleConnection manages a single TCP client connection lifecycle.
func (s *Server) handleConnection(conn net.Conn) {
	codec := protocol.NewCodec(conn)
	codec.MaxFrame = s.Conf.MaxFrameBytes
	codec.ReadTimeout = s.Conf.readTimeout()

	sess := NewSession(s.Sessions.NextID(), codec, conn.RemoteAddr().String(), TransportTCP)
	s.runSession(sess)
}

// runSession performs the handshake and then dispatches actions until the
// session ends. Shared by the TCP and websocket transports.
func (s *Server) runSession(sess *Session) {
	s.Sessions.Add(sess)
	s.metrics.ConnectionOpened(sess.Transport)
	log.Printf("[%d] New %s connection from %s", sess.ID, sess.Transport, sess.Addr)

	defer func() {
		s.Sessions.Logout(sess)
		log.Printf("[%d] Connection closed from %s", sess.ID, sess.Addr)
	}()

	if err := s.handshake(sess); err != nil {
		log.Printf("[%d] Handshake failed: %v", sess.ID, err)
		return
	}
	sess.State = StateUnauth

	for {
		payload, err := sess.Framer.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[%d] Read error: %v", sess.ID, err)
			}
			return
		}
		action := protocol.Action(payload)
		if !protocol.Known(action) {
			// The action vocabulary is closed; a peer that sends anything
			// else cannot be trusted to stay in frame sync.
			log.Printf("[%d] Unknown action %q, closing session", sess.ID, payload)
			return
		}
		sess.LastCmd = time.Now()
		sess.Actions++
		s.metrics.ActionDispatched(action)

		if err := s.dispatch(sess, action); err != nil {
			log.Printf("[%d] %s: %v", sess.ID, action, err)
			return
		}
		if action == protocol.ActionLogout {
			return
		}
	}
}

// handshake exchanges public keys: the client sends its PEM key first, the
// server answers with its own. Malformed key material fails the session.
func (s *Server) handshake(sess *Session) error {
	peerPEM, err := sess.Framer.ReadFrame()
	if err != nil {
		return fmt.Errorf("reading peer key: %w", err)
	}
	peerKey, err := keys.ParsePublic(peerPEM)
	if err != nil {
		return err
	}
	sess.PeerKey = peerKey
	if err := sess.Framer.WriteFrame(s.pubPEM); err != nil {
		return fmt.Errorf("sending server key: %w", err)
	}
	return nil
}

// dispatch routes one action to its handler. A returned error is fatal to
// the session; handler-level negative outcomes are replies, not errors.
func (s *Server) dispatch(sess *Session, action protocol.Action) error {
	switch action {
	case protocol.ActionLogin:
		return s.handleLogin(sess)
	case protocol.ActionRegister:
		return s.handleRegister(sess)
	case protocol.ActionAddStory:
		return s.handleAddStory(sess)
	case protocol.ActionReceiveStories:
		return s.handleReceiveStories(sess)
	case protocol.ActionUpdatePlayer:
		return s.handleUpdatePlayer(sess)
	case protocol.ActionSendAllPlayers:
		return s.handleSendAllPlayers(sess)
	case protocol.ActionLogout:
		return s.handleLogout(sess)
	}
	return fmt.Errorf("unhandled action %q", action)
}
