package protocol

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

// pipeFramers returns two codecs joined by an in-memory pipe.
func pipeFramers() (*Codec, *Codec) {
	a, b := net.Pipe()
	return NewCodec(a), NewCodec(b)
}

func TestFrameRoundTrip(t *testing.T) {
	client, server := pipeFramers()
	defer client.Close()
	defer server.Close()

	tests := [][]byte{
		[]byte("login"),
		{},
		[]byte("a longer payload with spaces and \x00 bytes"),
		bytes.Repeat([]byte("x"), 10000),
	}
	for _, want := range tests {
		wrote := make(chan error, 1)
		go func() {
			wrote <- client.WriteFrame(want)
		}()
		got, err := server.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		// Wait for the write goroutine so the next iteration does not use
		// the codec concurrently with it.
		if err := <-wrote; err != nil {
			t.Errorf("WriteFrame: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame mismatch: got %d bytes, want %d", len(got), len(want))
		}
	}
}

func TestOversizedFrameRejected(t *testing.T) {
	a, b := net.Pipe()
	client := NewCodec(a)
	server := NewCodec(b)
	server.MaxFrame = 16
	defer client.Close()
	defer server.Close()

	go client.WriteFrame(bytes.Repeat([]byte("y"), 64))
	_, err := server.ReadFrame()
	if !errors.Is(err, ErrFraming) {
		t.Errorf("expected ErrFraming for oversized frame, got %v", err)
	}
}

func TestEOFOnClosedPeer(t *testing.T) {
	client, server := pipeFramers()
	client.Close()
	if _, err := server.ReadFrame(); err == nil {
		t.Error("expected error reading from closed peer")
	}
}

func TestReadTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Stall: never write anything.
		defer conn.Close()
		time.Sleep(500 * time.Millisecond)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := NewCodec(conn)
	c.ReadTimeout = 50 * time.Millisecond
	defer c.Close()

	start := time.Now()
	_, err = c.ReadFrame()
	if err == nil {
		t.Fatal("expected timeout error from stalled peer")
	}
	if time.Since(start) > 400*time.Millisecond {
		t.Errorf("read did not respect deadline, took %v", time.Since(start))
	}
}

func TestIntFields(t *testing.T) {
	client, server := pipeFramers()
	defer client.Close()
	defer server.Close()

	go WriteInt(client, -42)
	n, err := ReadInt(server)
	if err != nil {
		t.Fatalf("ReadInt: %v", err)
	}
	if n != -42 {
		t.Errorf("got %d, want -42", n)
	}

	go WriteString(client, "not a number")
	if _, err := ReadInt(server); !errors.Is(err, ErrFraming) {
		t.Errorf("expected ErrFraming for non-integer field, got %v", err)
	}
}

func TestJSONFields(t *testing.T) {
	client, server := pipeFramers()
	defer client.Close()
	defer server.Close()

	want := Roster{
		NumPlayers: 2,
		Players: []PlayerState{
			{Username: "dana1", PosX: 10, PosY: 20},
			{Username: "ben", PosX: -3, PosY: 7},
		},
	}
	go WriteJSON(client, want)
	var got Roster
	if err := ReadJSON(server, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.NumPlayers != 2 || len(got.Players) != 2 || got.Players[0].Username != "dana1" {
		t.Errorf("roster mismatch: %+v", got)
	}

	go WriteString(client, "{broken")
	var r Roster
	if err := ReadJSON(server, &r); !errors.Is(err, ErrFraming) {
		t.Errorf("expected ErrFraming for bad json, got %v", err)
	}
}

func TestKnownActions(t *testing.T) {
	for _, a := range []Action{ActionLogin, ActionRegister, ActionReceiveStories,
		ActionAddStory, ActionUpdatePlayer, ActionSendAllPlayers, ActionLogout} {
		if !Known(a) {
			t.Errorf("action %q should be known", a)
		}
	}
	if Known(Action("drop_table")) {
		t.Error("unknown action reported as known")
	}
}
