package server

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EchoWang-1/Flight-Servers/internal/api"
	"github.com/EchoWang-1/Flight-Servers/internal/dispatch"
	"github.com/EchoWang-1/Flight-Servers/internal/domain"
	"github.com/EchoWang-1/Flight-Servers/internal/protocol"
	"github.com/EchoWang-1/Flight-Servers/internal/repository"
	"github.com/EchoWang-1/Flight-Servers/internal/service/booking"
	"github.com/EchoWang-1/Flight-Servers/internal/service/flights"
	"github.com/EchoWang-1/Flight-Servers/internal/service/users"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	addr   string
	store  *repository.MemoryStore
	server *Server
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, ln net.Listener, opts ...Option) *testServer {
	t.Helper()

	store := repository.NewMemoryStore()
	store.PutUser(domain.User{Username: "alice", Phone: "13800000001"})
	store.PutUser(domain.User{Username: "bob", Phone: "13800000002"})
	store.PutFlight(domain.Flight{
		Number: "CA101", FromCity: "北京", ToCity: "上海", Date: "2025-07-01",
		Price: decimal.NewFromInt(1200), RemainingSeats: 1,
	})

	d := dispatch.New()
	api.NewHandler(
		booking.NewLedger(store, nil),
		flights.NewFlightService(store.Flights(), store.Orders(), nil, nil),
		users.NewUserService(store.Users(), users.WithHashCost(bcrypt.MinCost)),
		nil,
	).Register(d)

	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		addr:   ln.Addr().String(),
		store:  store,
		server: New(d, opts...),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { ts.done <- ts.server.Serve(ctx, ln) }()
	t.Cleanup(ts.stop)
	return ts
}

func (ts *testServer) stop() {
	ts.cancel()
	select {
	case <-ts.done:
	case <-time.After(5 * time.Second):
	}
}

type client struct {
	t     *testing.T
	conn  net.Conn
	codec protocol.Codec
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, codec: protocol.JSON}
}

func (c *client) send(msg map[string]any) {
	c.t.Helper()
	frame, err := protocol.Encode(c.codec, msg)
	require.NoError(c.t, err)
	_, err = c.conn.Write(frame)
	require.NoError(c.t, err)
}

func (c *client) readReply() (map[string]any, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var header [protocol.LengthFieldSize]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint32(header[:]))
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, err
	}
	var reply map[string]any
	err := c.codec.Unmarshal(payload, &reply)
	return reply, err
}

func (c *client) reply() map[string]any {
	c.t.Helper()
	reply, err := c.readReply()
	require.NoError(c.t, err)
	return reply
}

func bookRequest(user string) map[string]any {
	return map[string]any{
		"type": "book_flight",
		"data": map[string]any{"user_id": user, "flight_number": "CA101"},
	}
}

func TestServer_LastSeatConcurrentBookings(t *testing.T) {
	ts := startServer(t, nil)

	var wg sync.WaitGroup
	replies := make([]map[string]any, 2)
	for i, user := range []string{"alice", "bob"} {
		c := dial(t, ts.addr)
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			frame, _ := protocol.Encode(protocol.JSON, bookRequest(user))
			if _, err := c.conn.Write(frame); err != nil {
				return
			}
			replies[i], _ = c.readReply()
		}(i, user)
	}
	wg.Wait()

	successes := 0
	for _, r := range replies {
		require.NotNil(t, r)
		assert.Equal(t, "book_flight_reply", r["type"])
		if r["success"] == true {
			successes++
			data := r["data"].(map[string]any)
			assert.Len(t, data["order_num"], 32)
		} else {
			assert.Equal(t, api.MessageSoldOut, r["message"])
		}
	}
	assert.Equal(t, 1, successes)

	f, err := ts.store.Flights().GetByNumber(context.Background(), "CA101")
	require.NoError(t, err)
	assert.Equal(t, 0, f.RemainingSeats)
}

func TestServer_UnknownTypeKeepsConnection(t *testing.T) {
	ts := startServer(t, nil)
	c := dial(t, ts.addr)

	c.send(map[string]any{"type": "teleport", "data": map[string]any{}})
	reply := c.reply()
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, false, reply["success"])
	assert.Equal(t, dispatch.MessageUnknownOperation, reply["message"])

	c.send(map[string]any{"type": "check_phone", "phone": "13800000001"})
	reply = c.reply()
	assert.Equal(t, "check_phone_reply", reply["type"])
	assert.Equal(t, map[string]any{"exists": true}, reply["data"])
}

func TestServer_SplitFrameAndPipelinedRequests(t *testing.T) {
	ts := startServer(t, nil)
	c := dial(t, ts.addr)

	first, err := protocol.Encode(protocol.JSON, map[string]any{"type": "check_phone", "data": map[string]any{"phone": "13800000001"}})
	require.NoError(t, err)
	second, err := protocol.Encode(protocol.JSON, map[string]any{"type": "check_phone", "data": map[string]any{"phone": "100"}})
	require.NoError(t, err)

	for _, b := range first {
		_, err := c.conn.Write([]byte{b})
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]any{"exists": true}, c.reply()["data"])

	_, err = c.conn.Write(append(append([]byte{}, second...), first...))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"exists": false}, c.reply()["data"])
	assert.Equal(t, map[string]any{"exists": true}, c.reply()["data"])
}

func TestServer_MalformedPayloadClosesConnection(t *testing.T) {
	ts := startServer(t, nil)
	c := dial(t, ts.addr)

	_, err := c.conn.Write(protocol.AppendFrame(nil, []byte("{not json")))
	require.NoError(t, err)

	reply := c.reply()
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, dispatch.MessageMalformed, reply["message"])

	_, err = c.readReply()
	assert.ErrorIs(t, err, io.EOF)

	other := dial(t, ts.addr)
	other.send(map[string]any{"type": "check_phone", "data": map[string]any{"phone": "1"}})
	assert.Equal(t, "check_phone_reply", other.reply()["type"])
}

func TestServer_OversizedFrameClosesConnection(t *testing.T) {
	ts := startServer(t, nil, WithMaxFrameSize(64))
	c := dial(t, ts.addr)

	var header [protocol.LengthFieldSize]byte
	binary.BigEndian.PutUint32(header[:], 1<<20)
	_, err := c.conn.Write(header[:])
	require.NoError(t, err)

	assert.Equal(t, dispatch.MessageMalformed, c.reply()["message"])
	_, err = c.readReply()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_CBORCodec(t *testing.T) {
	ts := startServer(t, nil, WithCodec(protocol.CBOR))
	c := dial(t, ts.addr)
	c.codec = protocol.CBOR

	c.send(bookRequest("alice"))
	reply := c.reply()
	assert.Equal(t, true, reply["success"])
	data, ok := reply["data"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, data["order_num"], 32)
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	ts := startServer(t, nil)
	c := dial(t, ts.addr)

	c.send(map[string]any{"type": "check_phone", "data": map[string]any{"phone": "1"}})
	c.reply()
	require.Eventually(t, func() bool { return ts.server.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)

	ts.cancel()
	select {
	case err := <-ts.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err := c.readReply()
	assert.Error(t, err)
	assert.Zero(t, ts.server.ActiveConnections())
}

// flakyListener fails the first Accept calls before delegating.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, errors.New("too many open files")
	}
	return l.Listener.Accept()
}

func TestServer_AcceptErrorsAreNotFatal(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln := &flakyListener{Listener: inner}
	ln.failures.Store(2)

	ts := startServer(t, ln)
	c := dial(t, ts.addr)

	c.send(map[string]any{"type": "check_phone", "data": map[string]any{"phone": "13800000002"}})
	assert.Equal(t, map[string]any{"exists": true}, c.reply()["data"])
}

func TestServer_ListenAndServeBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := New(dispatch.New())
	err = s.ListenAndServe(context.Background(), ln.Addr().String())
	assert.Error(t, err)
}
