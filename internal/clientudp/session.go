package clientudp

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"tftp/internal/config"
	"tftp/internal/logger"
	"tftp/internal/metrics"
	"tftp/internal/protocol"
	"tftp/internal/transport"
)

// blockClass classifica o bloco de uma resposta em relação ao esperado.
type blockClass int

const (
	blockOther    blockClass = iota // fora de sequência: ignorado
	blockCurrent                    // o bloco esperado
	blockPrevious                   // duplicata do bloco anterior
)

// classify compara got com current em aritmética de 16 bits, então o
// anterior de 0 é 65535.
func classify(got, current uint16) blockClass {
	switch got {
	case current:
		return blockCurrent
	case current - 1:
		return blockPrevious
	default:
		return blockOther
	}
}

// session guarda o estado de uma única transferência.
type session struct {
	c       *Client
	conn    transport.Conn
	peer    *net.UDPAddr
	locked  bool // peer já foi fixado pela primeira resposta
	log     *logger.Logger
	metrics *metrics.TransferMetrics
	monitor *metrics.PerformanceMonitor
	timer   retransmitTimer
	buf     []byte
}

func (c *Client) newSession(req *protocol.Request) *session {
	c.Drop.reset()
	m := metrics.NewTransferMetrics()
	peer := *c.server
	return &session{
		c:    c,
		conn: c.sock.Conn(),
		peer: &peer,
		log: c.log.WithFields(map[string]interface{}{
			"transfer": uuid.NewString(),
			"peer":     c.server.String(),
			"remote":   req.Filename,
		}),
		metrics: m,
		monitor: metrics.NewPerformanceMonitor(m),
		timer:   newRetransmitTimer(c.cfg.RetryStep, c.cfg.TimeoutCeiling),
		// um byte a mais revela datagramas acima de PktSize
		buf: make([]byte, config.PktSize+1),
	}
}

func (s *session) upload(src Source, req *protocol.Request) error {
	s.log.Debug("enviando %s (%s)", req.Filename, req.Mode)
	readAhead := func() error {
		src.ReadAhead()
		return nil
	}

	// o WRQ conta como bloco 0
	if _, err := s.exchange(req.Marshal(), protocol.OpACK, 0, nil); err != nil {
		return err
	}
	block := s.c.startBlock
	for {
		block++
		seg, err := src.Next()
		if err != nil {
			s.nak(err)
			return &LocalError{Op: "read", Err: err}
		}
		out := (&protocol.Data{Block: block, Payload: seg}).Marshal()
		if _, err := s.exchange(out, protocol.OpACK, block, readAhead); err != nil {
			return err
		}
		s.progress(len(seg), block)
		if len(seg) < config.SegSize {
			return nil
		}
	}
}

func (s *session) download(sink Sink, req *protocol.Request) error {
	s.log.Debug("recebendo %s (%s)", req.Filename, req.Mode)
	writeBehind := func() error {
		return sink.WriteBehind()
	}

	// o RRQ faz o papel do ACK 0
	out := req.Marshal()
	block := s.c.startBlock
	for {
		block++
		pkt, err := s.exchange(out, protocol.OpDATA, block, writeBehind)
		if err != nil {
			return err
		}
		data := pkt.(*protocol.Data)
		n, err := sink.Accept(data.Payload)
		if err != nil {
			s.nak(err)
			return &LocalError{Op: "write", Err: err}
		}
		s.progress(n, block)

		ack := (&protocol.Ack{Block: block}).Marshal()
		if len(data.Payload) < config.SegSize {
			// ACK final enviado uma única vez
			if err := s.send(ack); err != nil {
				return err
			}
			if err := sink.WriteBehind(); err != nil {
				return &LocalError{Op: "write", Err: err}
			}
			return nil
		}
		out = ack
	}
}

// exchange envia out e espera o pacote want do bloco block, retransmitindo
// out a cada expiração do timer até o teto. afterSend (opcional) roda após
// cada envio; um erro seu é tratado como falha local.
func (s *session) exchange(out []byte, want protocol.Opcode, block uint16, afterSend func() error) (protocol.Packet, error) {
	s.timer.reset()
	retransmit := false

send:
	for {
		if retransmit {
			s.metrics.AddRetransmission()
		}
		retransmit = true
		if err := s.send(out); err != nil {
			return nil, err
		}
		if afterSend != nil {
			if err := afterSend(); err != nil {
				s.nak(err)
				return nil, &LocalError{Op: "write", Err: err}
			}
		}
		if err := s.timer.arm(s.conn); err != nil {
			return nil, errors.Wrap(err, "recvfrom")
		}

		for {
			pkt, err := s.recv()
			if err != nil {
				if !isTimeout(err) {
					return nil, err
				}
				s.metrics.AddTimeout()
				if err := s.timer.expire(); err != nil {
					return nil, err
				}
				s.log.Debug("timeout aguardando %s %d, retransmitindo", want, block)
				continue send
			}
			if pkt == nil {
				continue
			}

			if perr, ok := pkt.(*protocol.Error); ok {
				if err := s.timer.clear(s.conn); err != nil {
					s.log.Debug("limpando deadline: %v", err)
				}
				return nil, &PeerError{Code: perr.Code, Message: perr.Message}
			}
			if pkt.Opcode() != want {
				s.log.Debug("ignorando %s", pkt)
				continue
			}

			switch classify(blockOf(pkt), block) {
			case blockCurrent:
				if err := s.timer.clear(s.conn); err != nil {
					return nil, errors.Wrap(err, "recvfrom")
				}
				return pkt, nil
			case blockPrevious:
				// ressincroniza: descarta o que estiver enfileirado e
				// reenvia sem zerar o acumulado do timer
				drained := transport.Drain(s.conn, s.c.DrainWindow, func(b []byte, from net.Addr) {
					s.trace("drained", b)
				})
				s.metrics.AddDuplicate(drained)
				s.log.Debug("duplicata %s, %d datagramas descartados", pkt, drained)
				continue send
			default:
				s.log.Debug("ignorando %s fora de sequência (esperado %d)", pkt, block)
			}
		}
	}
}

func blockOf(pkt protocol.Packet) uint16 {
	switch p := pkt.(type) {
	case *protocol.Data:
		return p.Block
	case *protocol.Ack:
		return p.Block
	}
	return 0
}

// send transmite um datagrama para o par corrente.
func (s *session) send(b []byte) error {
	s.trace("sent", b)
	if _, err := s.conn.WriteTo(b, s.peer); err != nil {
		return errors.Wrap(err, "sendto")
	}
	return nil
}

// recv lê um datagrama. Retorna (nil, nil) para datagramas ignorados:
// origem estranha, tamanho inválido, pacote malformado ou perda simulada.
func (s *session) recv() (protocol.Packet, error) {
	n, from, err := s.conn.ReadFrom(s.buf)
	if err != nil {
		if isTimeout(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, "recvfrom")
	}
	b := s.buf[:n]
	s.trace("received", b)

	addr, _ := from.(*net.UDPAddr)
	if s.locked && !sameAddr(addr, s.peer) {
		s.rejectForeign(b, from)
		return nil, nil
	}
	if n > config.PktSize {
		s.log.Warn("datagrama de %d bytes excede %d, ignorado", n, config.PktSize)
		return nil, nil
	}
	pkt, err := protocol.Parse(b)
	if err != nil {
		s.log.Warn("pacote inválido de %s: %v", from, err)
		return nil, nil
	}
	if !s.locked && addr != nil {
		// o servidor responde de uma porta própria da transferência
		s.peer = addr
		s.locked = true
	}
	if op := pkt.Opcode(); (op == protocol.OpDATA || op == protocol.OpACK) && s.c.Drop.ShouldDrop(blockOf(pkt)) {
		s.log.Debug("DROP %s", pkt)
		return nil, nil
	}
	return pkt, nil
}

// rejectForeign responde ERROR 5 a quem não é o par da transferência.
// Pacotes ERROR nunca são respondidos.
func (s *session) rejectForeign(b []byte, from net.Addr) {
	s.log.Warn("datagrama de %s ignorado: transferência com %s", from, s.peer)
	if len(b) >= 2 && protocol.Opcode(binary.BigEndian.Uint16(b)) == protocol.OpERROR {
		return
	}
	if _, err := s.conn.WriteTo(protocol.NewError(protocol.ErrUnknownTID).Marshal(), from); err != nil {
		s.log.Debug("falha ao responder %s: %v", from, err)
	}
}

func (s *session) trace(dir string, b []byte) {
	if s.c.cfg.Trace {
		s.log.Info("%s %s", dir, protocol.Describe(b))
	}
}

func (s *session) progress(n int, block uint16) {
	s.metrics.AddBlock(n)
	if _, ok := s.monitor.Update(); ok && s.c.cb.OnProgress != nil {
		snap := s.metrics.GetSnapshot()
		s.c.cb.OnProgress(snap.Bytes, snap.Blocks)
	}
	if block%500 == 0 {
		s.log.Debug("bloco %d", block)
	}
}

// finish encerra a sessão: fecha as métricas, reporta o resumo e reabre o
// socket para que a próxima transferência parta do endereço do servidor.
func (s *session) finish(direction string, err error) {
	s.metrics.Finish()
	snap := s.metrics.GetSnapshot()
	if s.c.cb.OnProgress != nil {
		s.c.cb.OnProgress(snap.Bytes, snap.Blocks)
	}
	if snap.Bytes > 0 {
		summary := s.metrics.Summary(direction, s.c.cfg.Verbose)
		s.log.Info("%s", summary)
		s.emit(summary)
	}
	if err != nil {
		s.log.Error("transferência abortada: %v", err)
		s.emit(fmt.Sprintf("ERRO: %v", err))
	}
	if rerr := s.c.sock.Reset(transport.FamilyOf(s.peer)); rerr != nil {
		s.log.Error("reabrindo socket: %v", rerr)
	}
	if s.c.cb.OnDone != nil {
		s.c.cb.OnDone(snap, err)
	}
}

func (s *session) emit(msg string) {
	if s.c.cb.OnLog != nil {
		s.c.cb.OnLog(msg)
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a != nil && b != nil && a.Port == b.Port && a.IP.Equal(b.IP)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
