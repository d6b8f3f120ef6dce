package rtmp

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmplive/rand"
)

var ErrUnsupportedRTMPVersion error = errors.New("The version of RTMP is not supported")
var ErrWrongC2Message error = errors.New("server handshake: s1 and c2 handshake messages do not match")
var ErrWrongS2Message error = errors.New("client handshake: c1 and s2 handshake messages do not match")

const RtmpVersion3 = 3

const handshakeSize = 1536

// Handshaker performs the exchange that precedes the chunk stream.
type Handshaker interface {
	Handshake(reader io.Reader, writer io.Writer) error
}

// SimpleHandshake is the plain handshake: C0C1, S0S1S2, C2 with random filler and no digest.
type SimpleHandshake struct{}

func (SimpleHandshake) Handshake(reader io.Reader, writer io.Writer) error {
	c1, err := readC0C1(reader)
	if err != nil {
		return err
	}
	s1, err := sendS0S1S2(writer, c1)
	if err != nil {
		return err
	}
	c2, err := readC2(reader)
	if err != nil {
		return err
	}

	if !bytes.Equal(s1, c2) {
		return ErrWrongC2Message
	}

	return nil
}

// ClientHandshake is the client side of SimpleHandshake.
type ClientHandshake struct{}

func (ClientHandshake) Handshake(reader io.Reader, writer io.Writer) error {
	c1, err := sendC0C1(writer)
	if err != nil {
		return err
	}
	s1, s2, err := readS0S1S2(reader)
	if err != nil {
		return err
	}
	if !bytes.Equal(c1, s2) {
		return ErrWrongS2Message
	}
	return sendC2(writer, s1)
}

func sendC2(writer io.Writer, s1 []byte) error {
	var c2 [handshakeSize]byte
	copy(c2[:], s1)
	return send(writer, c2[:])
}

// Returns s1 and s2
func readS0S1S2(reader io.Reader) ([]byte, []byte, error) {
	var s0s1s2 [1 + 2*handshakeSize]byte

	if _, err := io.ReadFull(reader, s0s1s2[:]); err != nil {
		return nil, nil, errors.Wrap(err, "client handshake: read s0s1s2")
	}

	if s0s1s2[0] != RtmpVersion3 {
		return nil, nil, ErrUnsupportedRTMPVersion
	}

	return s0s1s2[1 : 1+handshakeSize], s0s1s2[1+handshakeSize:], nil
}

// Returns the C1 message that was sent
func sendC0C1(writer io.Writer) ([]byte, error) {
	var c0c1 [1 + handshakeSize]byte
	c0c1[0] = RtmpVersion3
	if err := generateRandomData(c0c1[1:]); err != nil {
		return nil, err
	}
	if err := send(writer, c0c1[:]); err != nil {
		return nil, err
	}
	return c0c1[1:], nil
}

// If successful returns the C1 handshake data (random data sent by the client), it does not return c0 + c1.
func readC0C1(reader io.Reader) ([]byte, error) {
	var c0c1 [1 + handshakeSize]byte

	if _, err := io.ReadFull(reader, c0c1[:]); err != nil {
		return nil, errors.Wrap(err, "server handshake: read c0c1")
	}

	if c0c1[0] != RtmpVersion3 {
		return nil, ErrUnsupportedRTMPVersion
	}

	return c0c1[1:], nil
}

func readC2(reader io.Reader) ([]byte, error) {
	var c2 [handshakeSize]byte
	if _, err := io.ReadFull(reader, c2[:]); err != nil {
		return nil, errors.Wrap(err, "server handshake: read c2")
	}
	return c2[:], nil
}

// Sends the s0, s1, and s2 sequence and returns the s1 message that was generated
func sendS0S1S2(writer io.Writer, c1 []byte) ([]byte, error) {
	var s0s1s2 [1 + 2*handshakeSize]byte
	s0s1s2[0] = RtmpVersion3
	if err := generateRandomData(s0s1s2[1 : 1+handshakeSize]); err != nil {
		return nil, err
	}
	// s2 echoes c1
	copy(s0s1s2[1+handshakeSize:], c1)
	if err := send(writer, s0s1s2[:]); err != nil {
		return nil, err
	}
	return s0s1s2[1 : 1+handshakeSize], nil
}

// generateRandomData fills a C1/S1 block: 4 bytes of time, 4 zero bytes, random filler.
func generateRandomData(block []byte) error {
	binary.BigEndian.PutUint32(block[0:4], uint32(time.Now().Unix()))
	return rand.Fill(block[8:])
}

func send(writer io.Writer, b []byte) error {
	if _, err := writer.Write(b); err != nil {
		return errors.Wrap(err, "handshake: write")
	}
	if f, ok := writer.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
