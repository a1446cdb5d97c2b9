package client

import (
	"errors"
	"net"
	"testing"

	"github.com/emberhollow/storywalk/pkg/keys"
	"github.com/emberhollow/storywalk/pkg/protocol"
)

// scriptedServer accepts one connection, answers the handshake, and hands
// the framed connection to script.
func scriptedServer(t *testing.T, script func(f protocol.Framer)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		codec := protocol.NewCodec(conn)

		if _, err := codec.ReadFrame(); err != nil {
			return
		}
		pair, err := keys.Generate()
		if err != nil {
			return
		}
		pubPEM, err := keys.MarshalPublic(pair.Public)
		if err != nil {
			return
		}
		if err := codec.WriteFrame(pubPEM); err != nil {
			return
		}
		script(codec)
	}()
	return ln.Addr().String()
}

func TestStoriesRejectsMalformedCoordinate(t *testing.T) {
	addr := scriptedServer(t, func(f protocol.Framer) {
		if _, err := f.ReadFrame(); err != nil { // receive_stories
			return
		}
		protocol.WriteInt(f, 1)
		sendAcked := func(v string) {
			protocol.WriteString(f, v)
			f.ReadFrame()
		}
		sendAcked("a title")
		sendAcked("a body")
		sendAcked("dana1")
		sendAcked("not-a-number") // pos_x
		sendAcked("2")            // pos_y
	})

	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	_, err = c.Stories()
	if !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected ErrFraming for malformed coordinate, got %v", err)
	}
}

func TestStoriesRoundTripAgainstScript(t *testing.T) {
	addr := scriptedServer(t, func(f protocol.Framer) {
		if _, err := f.ReadFrame(); err != nil {
			return
		}
		protocol.WriteInt(f, 1)
		sendAcked := func(v string) {
			protocol.WriteString(f, v)
			f.ReadFrame()
		}
		sendAcked("a title")
		sendAcked("a body")
		sendAcked("dana1")
		sendAcked("-7")
		sendAcked("12")
	})

	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	stories, err := c.Stories()
	if err != nil {
		t.Fatalf("Stories: %v", err)
	}
	if len(stories) != 1 {
		t.Fatalf("got %d stories, want 1", len(stories))
	}
	st := stories[0]
	if st.Title != "a title" || st.PosX != -7 || st.PosY != 12 {
		t.Errorf("story = %+v", st)
	}
}
