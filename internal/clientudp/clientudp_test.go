package clientudp

import (
	"bytes"
	"io"
	"math/rand"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tftp/internal/config"
	"tftp/internal/logger"
	"tftp/internal/metrics"
	"tftp/internal/protocol"
	"tftp/internal/transport"
)

// peer é um servidor roteirizado: o teste dita cada pacote trocado.
type peer struct {
	t    *testing.T
	conn *net.UDPConn
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) addr() *net.UDPAddr { return p.conn.LocalAddr().(*net.UDPAddr) }

// expect lê o próximo pacote e confere o opcode.
func (p *peer) expect(op protocol.Opcode) (protocol.Packet, *net.UDPAddr) {
	p.t.Helper()
	buf := make([]byte, config.PktSize+1)
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	n, from, err := p.conn.ReadFromUDP(buf)
	require.NoError(p.t, err)
	pkt, err := protocol.Parse(buf[:n])
	require.NoError(p.t, err)
	require.Equal(p.t, op, pkt.Opcode(), "recebido %s", pkt)
	return pkt, from
}

func (p *peer) expectData(block uint16, size int) *net.UDPAddr {
	p.t.Helper()
	pkt, from := p.expect(protocol.OpDATA)
	d := pkt.(*protocol.Data)
	require.Equal(p.t, block, d.Block)
	require.Len(p.t, d.Payload, size)
	return from
}

func (p *peer) expectAck(block uint16) *net.UDPAddr {
	p.t.Helper()
	pkt, from := p.expect(protocol.OpACK)
	require.Equal(p.t, block, pkt.(*protocol.Ack).Block)
	return from
}

func (p *peer) send(pkt protocol.Packet, to *net.UDPAddr) {
	p.t.Helper()
	_, err := p.conn.WriteToUDP(pkt.Marshal(), to)
	require.NoError(p.t, err)
}

// count lê e conta datagramas até ficar quiet sem receber nada.
func (p *peer) count(quiet time.Duration) int {
	buf := make([]byte, config.PktSize+1)
	n := 0
	for {
		_ = p.conn.SetReadDeadline(time.Now().Add(quiet))
		if _, _, err := p.conn.ReadFromUDP(buf); err != nil {
			return n
		}
		n++
	}
}

func testTransfer() config.Transfer {
	return config.Transfer{RetryStep: 200 * time.Millisecond, TimeoutCeiling: time.Second}
}

func newTestClient(t *testing.T, server *net.UDPAddr, cfg config.Transfer) *Client {
	t.Helper()
	sock, err := transport.Open("udp4", transport.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })

	log := logger.NewLogger(logger.DEBUG, io.Discard, "test")
	c, err := NewClient(sock, cfg, log, Callbacks{})
	require.NoError(t, err)
	c.SetServer(server)
	c.DrainWindow = 10 * time.Millisecond
	return c
}

type result struct {
	m   *metrics.TransferMetrics
	err error
}

func upload(c *Client, data []byte, remote, mode string) <-chan result {
	ch := make(chan result, 1)
	go func() {
		m, err := c.Upload(io.NopCloser(bytes.NewReader(data)), remote, mode)
		ch <- result{m, err}
	}()
	return ch
}

type bufferCloser struct{ bytes.Buffer }

func (*bufferCloser) Close() error { return nil }

func download(c *Client, dst *bufferCloser, remote, mode string) <-chan result {
	ch := make(chan result, 1)
	go func() {
		m, err := c.Download(dst, remote, mode)
		ch <- result{m, err}
	}()
	return ch
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("transferência não terminou")
		return result{}
	}
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func TestClassify(t *testing.T) {
	tests := []struct {
		got, current uint16
		want         blockClass
	}{
		{5, 5, blockCurrent},
		{4, 5, blockPrevious},
		{3, 5, blockOther},
		{6, 5, blockOther},
		{65535, 0, blockPrevious},
		{0, 0, blockCurrent},
		{0, 1, blockPrevious},
		{65534, 65535, blockPrevious},
		{1, 0, blockOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.got, tt.current), "classify(%d, %d)", tt.got, tt.current)
	}
}

func TestUploadEmptyFileSendsSingleEmptyBlock(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	ch := upload(c, nil, "empty.bin", "octet")

	pkt, client := p.expect(protocol.OpWRQ)
	req := pkt.(*protocol.Request)
	assert.Equal(t, "empty.bin", req.Filename)
	assert.Equal(t, "octet", req.Mode)
	p.send(&protocol.Ack{Block: 0}, client)
	p.expectData(1, 0)
	p.send(&protocol.Ack{Block: 1}, client)

	r := wait(t, ch)
	require.NoError(t, r.err)
	snap := r.m.GetSnapshot()
	assert.Equal(t, uint64(0), snap.Bytes)
	assert.Equal(t, uint64(1), snap.Blocks)
	assert.Equal(t, 0, p.count(50*time.Millisecond))
}

func TestUploadExactMultipleEndsWithEmptyBlock(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	data := randomBytes(1024)
	ch := upload(c, data, "f.bin", "octet")

	_, client := p.expect(protocol.OpWRQ)
	p.send(&protocol.Ack{Block: 0}, client)
	for i, size := range []int{512, 512, 0} {
		block := uint16(i + 1)
		p.expectData(block, size)
		p.send(&protocol.Ack{Block: block}, client)
	}

	r := wait(t, ch)
	require.NoError(t, r.err)
	snap := r.m.GetSnapshot()
	assert.Equal(t, uint64(1024), snap.Bytes)
	assert.Equal(t, uint64(3), snap.Blocks)
	assert.Equal(t, uint64(0), snap.Retransmissions)
}

func TestUploadPacketCount(t *testing.T) {
	for _, size := range []int{1, 511, 512, 513, 1500} {
		p := newPeer(t)
		c := newTestClient(t, p.addr(), testTransfer())
		ch := upload(c, randomBytes(size), "f.bin", "octet")

		_, client := p.expect(protocol.OpWRQ)
		p.send(&protocol.Ack{Block: 0}, client)
		packets := 0
		for {
			pkt, _ := p.expect(protocol.OpDATA)
			d := pkt.(*protocol.Data)
			packets++
			p.send(&protocol.Ack{Block: d.Block}, client)
			if len(d.Payload) < config.SegSize {
				break
			}
		}
		require.NoError(t, wait(t, ch).err)
		assert.Equal(t, (size+1+config.SegSize-1)/config.SegSize, packets, "tamanho %d", size)
	}
}

func TestUploadRejectedRequest(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	ch := upload(c, []byte("secret"), "etc/passwd", "octet")

	_, client := p.expect(protocol.OpWRQ)
	p.send(protocol.NewError(protocol.ErrAccessViolation), client)

	r := wait(t, ch)
	var perr *PeerError
	require.True(t, errors.As(r.err, &perr), "erro %v", r.err)
	assert.Equal(t, protocol.ErrAccessViolation, perr.Code)
	assert.Equal(t, "Access violation", perr.Message)
	assert.Equal(t, uint64(0), r.m.GetSnapshot().Bytes)
	// nenhum DATA foi enviado
	assert.Equal(t, 0, p.count(50*time.Millisecond))
}

func TestUploadDuplicateAckRetransmitsOnce(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	ch := upload(c, randomBytes(600), "f.bin", "octet")

	_, client := p.expect(protocol.OpWRQ)
	p.send(&protocol.Ack{Block: 0}, client)
	p.expectData(1, 512)
	// ACK 0 repetido: o cliente ressincroniza e reenvia DATA 1
	p.send(&protocol.Ack{Block: 0}, client)
	p.expectData(1, 512)
	p.send(&protocol.Ack{Block: 1}, client)
	p.expectData(2, 88)
	p.send(&protocol.Ack{Block: 2}, client)

	r := wait(t, ch)
	require.NoError(t, r.err)
	snap := r.m.GetSnapshot()
	assert.Equal(t, uint64(1), snap.Duplicates)
	assert.Equal(t, uint64(1), snap.Retransmissions)
	assert.Equal(t, 0, p.count(50*time.Millisecond))
}

func TestUploadTimesOutAtCeiling(t *testing.T) {
	p := newPeer(t)
	cfg := config.Transfer{RetryStep: 50 * time.Millisecond, TimeoutCeiling: 200 * time.Millisecond}
	c := newTestClient(t, p.addr(), cfg)
	ch := upload(c, []byte("x"), "f.bin", "octet")

	// ceil(200/50) transmissões do WRQ
	assert.Equal(t, 4, p.count(400*time.Millisecond))

	r := wait(t, ch)
	assert.Equal(t, ErrTimedOut, r.err)
	snap := r.m.GetSnapshot()
	assert.Equal(t, uint64(4), snap.Timeouts)
	assert.Equal(t, uint64(3), snap.Retransmissions)
}

func TestTimeoutCountRoundsUp(t *testing.T) {
	p := newPeer(t)
	cfg := config.Transfer{RetryStep: 40 * time.Millisecond, TimeoutCeiling: 100 * time.Millisecond}
	c := newTestClient(t, p.addr(), cfg)
	ch := upload(c, []byte("x"), "f.bin", "octet")

	assert.Equal(t, 3, p.count(300*time.Millisecond))
	assert.Equal(t, ErrTimedOut, wait(t, ch).err)
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }
func (failingReader) Close() error            { return nil }

func TestUploadReadFailureSendsNak(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	ch := make(chan result, 1)
	go func() {
		readErr := &os.PathError{Op: "read", Path: "f.bin", Err: syscall.EIO}
		m, err := c.Upload(failingReader{readErr}, "f.bin", "octet")
		ch <- result{m, err}
	}()

	_, client := p.expect(protocol.OpWRQ)
	p.send(&protocol.Ack{Block: 0}, client)
	pkt, _ := p.expect(protocol.OpERROR)
	nak := pkt.(*protocol.Error)
	assert.Equal(t, protocol.ErrUndefined, nak.Code)
	assert.Equal(t, syscall.EIO.Error(), nak.Message)

	r := wait(t, ch)
	var lerr *LocalError
	require.True(t, errors.As(r.err, &lerr), "erro %v", r.err)
	assert.Equal(t, "read", lerr.Op)
}

func TestUploadBlockNumbersWrap(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	c.startBlock = 65534
	ch := upload(c, randomBytes(1100), "big.bin", "octet")

	_, client := p.expect(protocol.OpWRQ)
	p.send(&protocol.Ack{Block: 0}, client)
	p.expectData(65535, 512)
	p.send(&protocol.Ack{Block: 65535}, client)
	p.expectData(0, 512)
	p.send(&protocol.Ack{Block: 0}, client)
	p.expectData(1, 76)
	p.send(&protocol.Ack{Block: 1}, client)

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, uint64(1100), r.m.GetSnapshot().Bytes)
}

func TestDownloadBlockNumbersWrap(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	c.startBlock = 65534
	data := randomBytes(2*512 + 1)
	var dst bufferCloser
	ch := download(c, &dst, "big.bin", "octet")

	_, client := p.expect(protocol.OpRRQ)
	p.send(&protocol.Data{Block: 65535, Payload: data[:512]}, client)
	p.expectAck(65535)
	// duplicata antes da volta: o ACK 65535 é reenviado
	p.send(&protocol.Data{Block: 65535, Payload: data[:512]}, client)
	p.expectAck(65535)
	p.send(&protocol.Data{Block: 0, Payload: data[512:1024]}, client)
	p.expectAck(0)
	p.send(&protocol.Data{Block: 1, Payload: data[1024:]}, client)
	p.expectAck(1)

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, data, dst.Bytes())
	assert.Equal(t, uint64(1), r.m.GetSnapshot().Duplicates)
}

func TestDownloadConcatenatesBlocks(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	data := randomBytes(3*512 + 7)
	var dst bufferCloser
	ch := download(c, &dst, "f.bin", "octet")

	pkt, client := p.expect(protocol.OpRRQ)
	assert.Equal(t, "f.bin", pkt.(*protocol.Request).Filename)
	for block := uint16(1); ; block++ {
		start := int(block-1) * 512
		end := start + 512
		if end > len(data) {
			end = len(data)
		}
		p.send(&protocol.Data{Block: block, Payload: data[start:end]}, client)
		p.expectAck(block)
		if end-start < 512 {
			break
		}
	}

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, data, dst.Bytes())
	assert.Equal(t, uint64(4), r.m.GetSnapshot().Blocks)
	// o ACK final sai uma única vez
	assert.Equal(t, 0, p.count(50*time.Millisecond))
}

func TestDownloadDuplicateDataIsNotRewritten(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	data := randomBytes(4*512 + 100)
	var dst bufferCloser
	ch := download(c, &dst, "f.bin", "octet")

	_, client := p.expect(protocol.OpRRQ)
	for block := uint16(1); block <= 4; block++ {
		start := int(block-1) * 512
		p.send(&protocol.Data{Block: block, Payload: data[start : start+512]}, client)
		p.expectAck(block)
	}
	// DATA 4 repetido: o cliente reenvia o ACK 4 e não grava de novo
	p.send(&protocol.Data{Block: 4, Payload: data[3*512 : 4*512]}, client)
	p.expectAck(4)
	p.send(&protocol.Data{Block: 5, Payload: data[4*512:]}, client)
	p.expectAck(5)

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, data, dst.Bytes())
	snap := r.m.GetSnapshot()
	assert.Equal(t, uint64(len(data)), snap.Bytes)
	assert.Equal(t, uint64(1), snap.Duplicates)
}

func TestDownloadPeerError(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	var dst bufferCloser
	ch := download(c, &dst, "missing.txt", "netascii")

	pkt, client := p.expect(protocol.OpRRQ)
	assert.Equal(t, "netascii", pkt.(*protocol.Request).Mode)
	p.send(protocol.NewError(protocol.ErrNotFound), client)

	r := wait(t, ch)
	var perr *PeerError
	require.True(t, errors.As(r.err, &perr))
	assert.Equal(t, "Error code 1: File not found", perr.Error())
	assert.Zero(t, dst.Len())
}

func TestDownloadNetasciiConvertsLineEndings(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	var dst bufferCloser
	ch := download(c, &dst, "notes.txt", "ascii")

	pkt, client := p.expect(protocol.OpRRQ)
	assert.Equal(t, "netascii", pkt.(*protocol.Request).Mode)
	p.send(&protocol.Data{Block: 1, Payload: []byte("one\r\ntwo\r\n")}, client)
	p.expectAck(1)

	require.NoError(t, wait(t, ch).err)
	assert.Equal(t, "one\ntwo\n", dst.String())
}

func TestDownloadWrongOpcodeAndStaleBlocksIgnored(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	var dst bufferCloser
	ch := download(c, &dst, "f.bin", "octet")

	_, client := p.expect(protocol.OpRRQ)
	p.send(&protocol.Ack{Block: 1}, client)
	p.send(&protocol.Data{Block: 7, Payload: []byte("stale")}, client)
	p.send(&protocol.Data{Block: 1, Payload: []byte("ok")}, client)
	p.expectAck(1)

	require.NoError(t, wait(t, ch).err)
	assert.Equal(t, "ok", dst.String())
}

func TestForeignSourceGetsUnknownTID(t *testing.T) {
	p := newPeer(t)
	stranger := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	var dst bufferCloser
	ch := download(c, &dst, "f.bin", "octet")

	_, client := p.expect(protocol.OpRRQ)
	p.send(&protocol.Data{Block: 1, Payload: make([]byte, 512)}, client)
	p.expectAck(1)

	stranger.send(&protocol.Data{Block: 2, Payload: []byte("intruder")}, client)
	pkt, _ := stranger.expect(protocol.OpERROR)
	assert.Equal(t, protocol.ErrUnknownTID, pkt.(*protocol.Error).Code)

	p.send(&protocol.Data{Block: 2, Payload: []byte("tail")}, client)
	p.expectAck(2)

	require.NoError(t, wait(t, ch).err)
	assert.Equal(t, append(make([]byte, 512), "tail"...), dst.Bytes())
}

func TestForeignErrorIsNotAnswered(t *testing.T) {
	p := newPeer(t)
	stranger := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	var dst bufferCloser
	ch := download(c, &dst, "f.bin", "octet")

	_, client := p.expect(protocol.OpRRQ)
	p.send(&protocol.Data{Block: 1, Payload: make([]byte, 512)}, client)
	p.expectAck(1)

	stranger.send(protocol.NewError(protocol.ErrUnknownTID), client)
	assert.Equal(t, 0, stranger.count(100*time.Millisecond))

	p.send(&protocol.Data{Block: 2, Payload: []byte("tail")}, client)
	p.expectAck(2)
	require.NoError(t, wait(t, ch).err)
}

func TestReplyPortBecomesPeer(t *testing.T) {
	listener := newPeer(t)
	transfer := newPeer(t)
	c := newTestClient(t, listener.addr(), testTransfer())
	ch := upload(c, []byte("hi"), "f.txt", "octet")

	// o servidor responde de outra porta, que passa a ser o par
	_, client := listener.expect(protocol.OpWRQ)
	transfer.send(&protocol.Ack{Block: 0}, client)
	transfer.expectData(1, 2)
	transfer.send(&protocol.Ack{Block: 1}, client)

	require.NoError(t, wait(t, ch).err)
	assert.Equal(t, 0, listener.count(50*time.Millisecond))
}

func TestDropPolicyForcesRetransmission(t *testing.T) {
	p := newPeer(t)
	cfg := config.Transfer{RetryStep: 100 * time.Millisecond, TimeoutCeiling: time.Second}
	c := newTestClient(t, p.addr(), cfg)
	c.Drop = NewDrop(1, 1)
	var dst bufferCloser
	ch := download(c, &dst, "f.bin", "octet")

	_, client := p.expect(protocol.OpRRQ)
	p.send(&protocol.Data{Block: 1, Payload: []byte("abc")}, client)
	// o primeiro DATA 1 é descartado; o RRQ volta após o timeout
	p.expect(protocol.OpRRQ)
	p.send(&protocol.Data{Block: 1, Payload: []byte("abc")}, client)
	p.expectAck(1)

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, "abc", dst.String())
	assert.Equal(t, uint64(1), r.m.GetSnapshot().Timeouts)
}

func TestDropPolicy(t *testing.T) {
	assert.Nil(t, NewDrop(0, 1))
	var none *DropPolicy
	assert.False(t, none.ShouldDrop(1))

	d := NewDrop(1, 42)
	assert.True(t, d.ShouldDrop(3))
	assert.False(t, d.ShouldDrop(3), "cada bloco é descartado uma vez só")
	d.reset()
	assert.True(t, d.ShouldDrop(3))
}

func TestCallbacks(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	var logs []string
	var done *metrics.Snapshot
	var lastBytes uint64
	c.cb = Callbacks{
		OnProgress: func(b, _ uint64) { lastBytes = b },
		OnLog:      func(s string) { logs = append(logs, s) },
		OnDone: func(s metrics.Snapshot, err error) {
			assert.NoError(t, err)
			done = &s
		},
	}
	ch := upload(c, randomBytes(700), "f.bin", "octet")

	_, client := p.expect(protocol.OpWRQ)
	p.send(&protocol.Ack{Block: 0}, client)
	p.expectData(1, 512)
	p.send(&protocol.Ack{Block: 1}, client)
	p.expectData(2, 188)
	p.send(&protocol.Ack{Block: 2}, client)

	require.NoError(t, wait(t, ch).err)
	require.NotNil(t, done)
	assert.Equal(t, uint64(700), done.Bytes)
	assert.Equal(t, uint64(700), lastBytes)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "Sent 700 bytes in")
}

func TestSocketRehomedAfterTransfer(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p.addr(), testTransfer())
	before := c.sock.LocalAddr().String()

	ch := upload(c, nil, "f.bin", "octet")
	_, client := p.expect(protocol.OpWRQ)
	p.send(&protocol.Ack{Block: 0}, client)
	p.expectData(1, 0)
	p.send(&protocol.Ack{Block: 1}, client)
	require.NoError(t, wait(t, ch).err)

	assert.NotEqual(t, before, c.sock.LocalAddr().String())
	assert.Equal(t, "udp4", c.sock.Family())
}

func TestNewClientRejectsBadConfig(t *testing.T) {
	sock, err := transport.Open("udp4", transport.Options{})
	require.NoError(t, err)
	defer sock.Close()

	_, err = NewClient(sock, config.Transfer{RetryStep: 0, TimeoutCeiling: time.Second}, nil, Callbacks{})
	assert.Error(t, err)
	_, err = NewClient(nil, config.DefaultTransfer(), nil, Callbacks{})
	assert.Error(t, err)
}

func TestUploadWithoutServer(t *testing.T) {
	sock, err := transport.Open("udp4", transport.Options{})
	require.NoError(t, err)
	defer sock.Close()
	c, err := NewClient(sock, config.DefaultTransfer(), nil, Callbacks{})
	require.NoError(t, err)

	_, err = c.Upload(io.NopCloser(bytes.NewReader(nil)), "f", "octet")
	assert.Error(t, err)
	_, err = c.Upload(io.NopCloser(bytes.NewReader(nil)), "f", "bogus")
	assert.Error(t, err)
}
