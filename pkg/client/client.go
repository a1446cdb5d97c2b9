// Package client implements the game-side half of the storywalk wire
// protocol: key exchange, encrypted credentials, and the framed action
// conversations the server expects.
package client

import (
	"crypto/rsa"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emberhollow/storywalk/pkg/keys"
	"github.com/emberhollow/storywalk/pkg/protocol"
	"github.com/emberhollow/storywalk/pkg/storydb"
)

const dialTimeout = 10 * time.Second

// Client is a connected game client. Not safe for concurrent use; the
// protocol is strictly request-response.
type Client struct {
	conn      net.Conn
	codec     *protocol.Codec
	pair      *keys.Pair
	serverKey *rsa.PublicKey

	// Username holds the name of the logged-in player and is sent with
	// position updates.
	Username string
	PosX     int
	PosY     int
}

// Dial connects to a server, generates a session keypair, and performs the
// public-key handshake.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, codec: protocol.NewCodec(conn)}
	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// handshake sends our public key and reads the server's.
func (c *Client) handshake() error {
	pair, err := keys.Generate()
	if err != nil {
		return err
	}
	c.pair = pair
	pubPEM, err := keys.MarshalPublic(pair.Public)
	if err != nil {
		return err
	}
	if err := c.codec.WriteFrame(pubPEM); err != nil {
		return fmt.Errorf("sending public key: %w", err)
	}
	serverPEM, err := c.codec.ReadFrame()
	if err != nil {
		return fmt.Errorf("reading server key: %w", err)
	}
	serverKey, err := keys.ParsePublic(serverPEM)
	if err != nil {
		return err
	}
	c.serverKey = serverKey
	return nil
}

// Close shuts down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// sendEncrypted encrypts plaintext with the server's public key and sends
// it as one frame.
func (c *Client) sendEncrypted(plaintext string) error {
	ct, err := keys.Encrypt(c.serverKey, []byte(plaintext))
	if err != nil {
		return err
	}
	return c.codec.WriteFrame(ct)
}

// Login authenticates with the server. It reports whether the credentials
// were accepted.
func (c *Client) Login(username, password string) (bool, error) {
	if err := protocol.WriteString(c.codec, string(protocol.ActionLogin)); err != nil {
		return false, err
	}
	if err := c.sendEncrypted(username + "," + password); err != nil {
		return false, err
	}
	reply, err := protocol.ReadString(c.codec)
	if err != nil {
		return false, err
	}
	if reply == protocol.RespLoginOK {
		c.Username = username
		return true, nil
	}
	return false, nil
}

// Register creates a new account. It reports whether the account was
// created; a duplicate username is a negative reply, not an error.
func (c *Client) Register(displayName, username, password string) (bool, error) {
	if err := protocol.WriteString(c.codec, string(protocol.ActionRegister)); err != nil {
		return false, err
	}
	if err := c.sendEncrypted(displayName + "," + username + "," + password); err != nil {
		return false, err
	}
	reply, err := protocol.ReadString(c.codec)
	if err != nil {
		return false, err
	}
	return reply == protocol.RespRegisterOK, nil
}

// sendAcked sends one field and consumes the server's acknowledgement.
func (c *Client) sendAcked(value string) error {
	if err := protocol.WriteString(c.codec, value); err != nil {
		return err
	}
	_, err := protocol.ReadString(c.codec)
	return err
}

// AddStory submits a story anchored at the given position. The server acks
// each field and replies with a final status line, which is returned.
func (c *Client) AddStory(title, content, username string, posX, posY int) (string, error) {
	if err := protocol.WriteString(c.codec, string(protocol.ActionAddStory)); err != nil {
		return "", err
	}
	fields := []string{title, content, username, strconv.Itoa(posX), strconv.Itoa(posY)}
	for _, f := range fields {
		if err := c.sendAcked(f); err != nil {
			return "", err
		}
	}
	return protocol.ReadString(c.codec)
}

// Stories retrieves every stored story. Each list the server sends is
// acknowledged field by field, mirroring the upload conversation.
func (c *Client) Stories() ([]storydb.Story, error) {
	if err := protocol.WriteString(c.codec, string(protocol.ActionReceiveStories)); err != nil {
		return nil, err
	}
	count, err := protocol.ReadInt(c.codec)
	if err != nil {
		return nil, err
	}

	readList := func(n int) ([]string, error) {
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			v, err := protocol.ReadString(c.codec)
			if err != nil {
				return nil, err
			}
			if err := protocol.WriteString(c.codec, protocol.AckReceive); err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	titles, err := readList(count)
	if err != nil {
		return nil, err
	}
	contents, err := readList(count)
	if err != nil {
		return nil, err
	}
	usernames, err := readList(count)
	if err != nil {
		return nil, err
	}
	xs, err := readList(count)
	if err != nil {
		return nil, err
	}
	ys, err := readList(count)
	if err != nil {
		return nil, err
	}

	stories := make([]storydb.Story, count)
	for i := 0; i < count; i++ {
		x, err := strconv.Atoi(xs[i])
		if err != nil {
			return nil, fmt.Errorf("%w: expected integer pos_x, got %q", protocol.ErrFraming, xs[i])
		}
		y, err := strconv.Atoi(ys[i])
		if err != nil {
			return nil, fmt.Errorf("%w: expected integer pos_y, got %q", protocol.ErrFraming, ys[i])
		}
		stories[i] = storydb.Story{
			Title:    titles[i],
			Content:  contents[i],
			Username: usernames[i],
			PosX:     x,
			PosY:     y,
		}
	}
	return stories, nil
}

// UpdatePlayer reports the player's current position to the server.
func (c *Client) UpdatePlayer(posX, posY int) error {
	if err := protocol.WriteString(c.codec, string(protocol.ActionUpdatePlayer)); err != nil {
		return err
	}
	state := protocol.PlayerState{Username: c.Username, PosX: posX, PosY: posY}
	if err := protocol.WriteJSON(c.codec, state); err != nil {
		return err
	}
	reply, err := protocol.ReadString(c.codec)
	if err != nil {
		return err
	}
	if reply != protocol.RespPlayerUpdated {
		return fmt.Errorf("unexpected update reply %q", reply)
	}
	c.PosX, c.PosY = posX, posY
	return nil
}

// AllPlayers fetches the current roster of online players.
func (c *Client) AllPlayers() (protocol.Roster, error) {
	var roster protocol.Roster
	if err := protocol.WriteString(c.codec, string(protocol.ActionSendAllPlayers)); err != nil {
		return roster, err
	}
	if err := protocol.ReadJSON(c.codec, &roster); err != nil {
		return roster, err
	}
	return roster, nil
}

// Logout removes the player from the roster and ends the session. The
// server closes the connection after replying.
func (c *Client) Logout() (string, error) {
	if err := protocol.WriteString(c.codec, string(protocol.ActionLogout)); err != nil {
		return "", err
	}
	if err := protocol.WriteString(c.codec, c.Username); err != nil {
		return "", err
	}
	return protocol.ReadString(c.codec)
}
