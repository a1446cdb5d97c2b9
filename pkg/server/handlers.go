package server

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/emberhollow/storywalk/pkg/accountdb"
	"github.com/emberhollow/storywalk/pkg/keys"
	"github.com/emberhollow/storywalk/pkg/protocol"
	"github.com/emberhollow/storywalk/pkg/storydb"
)

// handleLogin verifies encrypted credentials. Bad credentials are a negative
// reply ("False"), never a session-fatal error; a store failure is also a
// negative reply so the client can retry.
func (s *Server) handleLogin(sess *Session) error {
	ciphertext, err := sess.Framer.ReadFrame()
	if err != nil {
		return err
	}
	plain, err := keys.Decrypt(s.keypair.Private, ciphertext)
	if err != nil {
		// Only the matching client private key produces valid OAEP input;
		// garbage here means the peer broke the handshake contract.
		return fmt.Errorf("decrypting credentials: %w", err)
	}
	username, password, ok := strings.Cut(string(plain), ",")
	if !ok {
		return fmt.Errorf("%w: malformed credential payload", protocol.ErrFraming)
	}

	verified, err := s.Accounts.Verify(username, password)
	if err != nil {
		log.Printf("[%d] Credential store failure: %v", sess.ID, err)
		return protocol.WriteString(sess.Framer, protocol.RespLoginFail)
	}
	if !verified {
		return protocol.WriteString(sess.Framer, protocol.RespLoginFail)
	}

	s.Sessions.Authenticate(sess, strings.TrimSpace(username))
	log.Printf("[%d] Player %s logged in from %s", sess.ID, sess.Username, sess.Addr)
	return protocol.WriteString(sess.Framer, protocol.RespLoginOK)
}

// handleRegister creates an account from an encrypted
// "display,username,password" payload.
func (s *Server) handleRegister(sess *Session) error {
	ciphertext, err := sess.Framer.ReadFrame()
	if err != nil {
		return err
	}
	plain, err := keys.Decrypt(s.keypair.Private, ciphertext)
	if err != nil {
		return fmt.Errorf("decrypting registration: %w", err)
	}
	parts := strings.SplitN(string(plain), ",", 3)
	if len(parts) != 3 {
		return fmt.Errorf("%w: malformed registration payload", protocol.ErrFraming)
	}
	displayName, username, password := parts[0], parts[1], parts[2]

	if err := s.Accounts.Create(displayName, username, password); err != nil {
		if errors.Is(err, accountdb.ErrDuplicate) {
			log.Printf("[%d] Registration rejected, %q taken", sess.ID, username)
		} else {
			log.Printf("[%d] Registration failed: %v", sess.ID, err)
		}
		return protocol.WriteString(sess.Framer, protocol.RespRegisterFail)
	}
	log.Printf("[%d] New account %q registered from %s", sess.ID, strings.TrimSpace(username), sess.Addr)
	return protocol.WriteString(sess.Framer, protocol.RespRegisterOK)
}

// handleAddStory reads the fixed field sequence title, content, username,
// pos_x, pos_y, acknowledging each, then persists the trimmed story.
func (s *Server) handleAddStory(sess *Session) error {
	title, err := protocol.ReadString(sess.Framer)
	if err != nil {
		return err
	}
	if err := protocol.WriteString(sess.Framer, protocol.AckTitle); err != nil {
		return err
	}
	content, err := protocol.ReadString(sess.Framer)
	if err != nil {
		return err
	}
	if err := protocol.WriteString(sess.Framer, protocol.AckContent); err != nil {
		return err
	}
	username, err := protocol.ReadString(sess.Framer)
	if err != nil {
		return err
	}
	if err := protocol.WriteString(sess.Framer, protocol.AckUsername); err != nil {
		return err
	}
	posX, err := protocol.ReadInt(sess.Framer)
	if err != nil {
		return err
	}
	if err := protocol.WriteString(sess.Framer, protocol.AckPosX); err != nil {
		return err
	}
	posY, err := protocol.ReadInt(sess.Framer)
	if err != nil {
		return err
	}
	if err := protocol.WriteString(sess.Framer, protocol.AckPosY); err != nil {
		return err
	}

	story := storydb.Story{
		Title:    title,
		Content:  content,
		Username: username,
		PosX:     posX,
		PosY:     posY,
	}.Trimmed()
	if err := s.Stories.Append(story); err != nil {
		log.Printf("[%d] Story store failure: %v", sess.ID, err)
		return protocol.WriteString(sess.Framer, "Error adding story.")
	}
	log.Printf("[%d] Story %q added at (%d,%d) by %s", sess.ID, story.Title, posX, posY, story.Username)
	return protocol.WriteString(sess.Framer, protocol.RespStoryStored)
}

// handleReceiveStories streams the full corpus: a count, then every title,
// content, username, pos_x and pos_y in turn, each acknowledged by the
// client. Spatial culling is the client's job.
func (s *Server) handleReceiveStories(sess *Session) error {
	stories, err := s.Stories.All()
	if err != nil {
		log.Printf("[%d] Story store failure: %v", sess.ID, err)
		return protocol.WriteInt(sess.Framer, 0)
	}
	if err := protocol.WriteInt(sess.Framer, len(stories)); err != nil {
		return err
	}

	sendAcked := func(write func(st storydb.Story) error) error {
		for _, st := range stories {
			if err := write(st); err != nil {
				return err
			}
			if _, err := sess.Framer.ReadFrame(); err != nil {
				return err
			}
		}
		return nil
	}

	if err := sendAcked(func(st storydb.Story) error {
		return protocol.WriteString(sess.Framer, st.Title)
	}); err != nil {
		return err
	}
	if err := sendAcked(func(st storydb.Story) error {
		return protocol.WriteString(sess.Framer, st.Content)
	}); err != nil {
		return err
	}
	if err := sendAcked(func(st storydb.Story) error {
		return protocol.WriteString(sess.Framer, st.Username)
	}); err != nil {
		return err
	}
	if err := sendAcked(func(st storydb.Story) error {
		return protocol.WriteInt(sess.Framer, st.PosX)
	}); err != nil {
		return err
	}
	return sendAcked(func(st storydb.Story) error {
		return protocol.WriteInt(sess.Framer, st.PosY)
	})
}

// handleUpdatePlayer records a position report in the roster.
func (s *Server) handleUpdatePlayer(sess *Session) error {
	var state protocol.PlayerState
	if err := protocol.ReadJSON(sess.Framer, &state); err != nil {
		return err
	}
	state.Username = strings.TrimSpace(state.Username)
	if state.Username == "" {
		return fmt.Errorf("%w: position update without username", protocol.ErrFraming)
	}
	s.Roster.Upsert(state.Username, state.PosX, state.PosY)
	return protocol.WriteString(sess.Framer, protocol.RespPlayerUpdated)
}

// handleSendAllPlayers replies with a point-in-time roster snapshot.
func (s *Server) handleSendAllPlayers(sess *Session) error {
	snap := s.Roster.Snapshot()
	roster := protocol.Roster{
		NumPlayers: len(snap),
		Players:    make([]protocol.PlayerState, 0, len(snap)),
	}
	for _, e := range snap {
		roster.Players = append(roster.Players, protocol.PlayerState{
			Username: e.Username,
			PosX:     e.PosX,
			PosY:     e.PosY,
		})
	}
	return protocol.WriteJSON(sess.Framer, roster)
}

// handleLogout removes the named player from the roster and ends the
// session. A username missing from the roster is reported but is still a
// successful logout; the connection closes either way.
func (s *Server) handleLogout(sess *Session) error {
	username, err := protocol.ReadString(sess.Framer)
	if err != nil {
		return err
	}
	username = strings.TrimSpace(username)

	present := false
	for _, e := range s.Roster.Snapshot() {
		if e.Username == username {
			present = true
			break
		}
	}
	s.Roster.Remove(username)

	resp := protocol.RespLogoutOK
	if !present {
		resp = protocol.RespLogoutNotFound
	}
	if err := protocol.WriteString(sess.Framer, resp); err != nil {
		return err
	}
	log.Printf("[%d] Player %s logged out", sess.ID, username)
	s.Sessions.Logout(sess)
	return nil
}
