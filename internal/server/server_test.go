package server_test

import (
	"bufio"
	"io"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/DeltaLaboratory/dotted/internal/protocol"
	"github.com/DeltaLaboratory/dotted/internal/rpc"
	"github.com/DeltaLaboratory/dotted/internal/server"
	"github.com/DeltaLaboratory/dotted/internal/server/servertest"
)

type wireConn struct {
	t      *testing.T
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	framer rpc.Framer
}

func dial(t *testing.T, node *server.Node, framer rpc.Framer) *wireConn {
	t.Helper()
	conn, err := net.Dial("tcp", node.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	return &wireConn{t: t, conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn), framer: framer}
}

func (c *wireConn) send(payload []byte) protocol.Response {
	c.t.Helper()
	if err := c.framer.WriteFrame(c.w, payload); err != nil {
		c.t.Fatalf("WriteFrame() error = %v", err)
	}
	frame, err := c.framer.ReadFrame(c.r, 0)
	if err != nil {
		c.t.Fatalf("ReadFrame() error = %v", err)
	}
	return c.decode(frame)
}

func (c *wireConn) decode(frame []byte) protocol.Response {
	c.t.Helper()
	// Both shapes are tried: the test does not always know which one comes back.
	if resp, err := (protocol.Codec{}).Decode(frame, protocol.ShapeAck); err == nil {
		return resp
	}
	resp, err := protocol.Codec{}.Decode(frame, protocol.ShapeGet)
	if err != nil {
		c.t.Fatalf("Decode() error = %v", err)
	}
	return resp
}

func (c *wireConn) do(cmd protocol.Command) protocol.Response {
	c.t.Helper()
	payload, err := protocol.Codec{}.Encode(cmd)
	if err != nil {
		c.t.Fatalf("Encode() error = %v", err)
	}
	return c.send(payload)
}

func TestNodeServesCommands(t *testing.T) {
	for _, framer := range []rpc.Framer{rpc.Stream, rpc.LengthPrefixed} {
		t.Run(framer.Name(), func(t *testing.T) {
			node := servertest.Start(t, server.Config{Framer: framer})
			c := dial(t, node, framer)

			put := protocol.Put{Table: "usertable", Key: "user1", Value: map[string][]byte{"field0": []byte("AB")}}
			if got := c.do(put); !got.OK() {
				t.Fatalf("PUT status = %s", got.StatusCode())
			}

			got := c.do(protocol.Get{Table: "usertable", Key: "user1"})
			want := protocol.GetResult{Status: protocol.StatusOK, Value: put.Value}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("GET = %#v, want %#v", got, want)
			}
		})
	}
}

func TestNodeSharedAcrossConnections(t *testing.T) {
	node := servertest.Start(t, server.Config{})
	writer := dial(t, node, rpc.Stream)
	reader := dial(t, node, rpc.Stream)

	writer.do(protocol.Put{Table: "t", Key: "k", Value: map[string][]byte{"f": []byte("v")}})

	if got := reader.do(protocol.Get{Table: "t", Key: "k"}); !got.OK() {
		t.Errorf("GET on second connection status = %s", got.StatusCode())
	}
}

func TestNodeAnswersUnknownCommand(t *testing.T) {
	node := servertest.Start(t, server.Config{})
	c := dial(t, node, rpc.Stream)

	payload, _ := msgpack.Marshal([]any{"SCAN", "t", "k"})
	if got := c.send(payload); got.StatusCode() != protocol.StatusError {
		t.Errorf("status = %s, want %s", got.StatusCode(), protocol.StatusError)
	}

	if _, err := c.r.ReadByte(); err != io.EOF {
		t.Errorf("ReadByte() error = %v, want %v", err, io.EOF)
	}

	if got := node.Handler().Stats().Malformed; got != 1 {
		t.Errorf("Stats().Malformed = %d, want 1", got)
	}

	// Other connections are unaffected.
	other := dial(t, node, rpc.Stream)
	if got := other.do(protocol.Delete{Table: "t", Key: "missing"}); got.StatusCode() != protocol.StatusNotFound {
		t.Errorf("DELETE status = %s, want %s", got.StatusCode(), protocol.StatusNotFound)
	}
}

func TestNodeAnswersGarbageOnce(t *testing.T) {
	node := servertest.Start(t, server.Config{})
	c := dial(t, node, rpc.Stream)

	// Three positive fixints: each is a complete MessagePack object.
	if _, err := c.conn.Write([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	frame, err := rpc.Stream.ReadFrame(c.r, 0)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if got := c.decode(frame); got.StatusCode() != protocol.StatusError {
		t.Errorf("status = %s, want %s", got.StatusCode(), protocol.StatusError)
	}

	if _, err := c.r.ReadByte(); err != io.EOF {
		t.Errorf("ReadByte() after first reply error = %v, want %v", err, io.EOF)
	}
}

func TestNodeClosesOnUnreadableStream(t *testing.T) {
	node := servertest.Start(t, server.Config{})
	c := dial(t, node, rpc.Stream)

	// 0xc1 is never used by MessagePack.
	if _, err := c.conn.Write([]byte{0xc1}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	frame, err := rpc.Stream.ReadFrame(c.r, 0)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if got := c.decode(frame); got.StatusCode() != protocol.StatusError {
		t.Errorf("status = %s, want %s", got.StatusCode(), protocol.StatusError)
	}

	if _, err := c.r.ReadByte(); err != io.EOF {
		t.Errorf("ReadByte() error = %v, want %v", err, io.EOF)
	}
}

func TestAdmin(t *testing.T) {
	node := servertest.Start(t, server.Config{})
	addr, err := node.ListenAdmin("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenAdmin() error = %v", err)
	}

	c := dial(t, node, rpc.Stream)
	opts := protocol.Options{SyncInterval: 100, StripInterval: 1000, ReplicationFailureRate: 0.5, NodeFailureRate: 1}
	c.do(opts)
	c.do(protocol.Get{Table: "t", Key: "k"})

	admin, err := server.DialAdmin(addr.String(), time.Second)
	if err != nil {
		t.Fatalf("DialAdmin() error = %v", err)
	}
	defer admin.Close()

	reply, err := admin.Options()
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}
	if !reply.Pushed || reply.Options != opts {
		t.Errorf("Options() = %+v, want %+v", reply, opts)
	}

	stats, err := admin.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if want := (server.Stats{Get: 1, Options: 1, NotFound: 1}); stats != want {
		t.Errorf("Stats() = %+v, want %+v", stats, want)
	}
}
