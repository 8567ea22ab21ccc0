// Package transport cuida do socket UDP local do cliente: abertura por
// família de endereço, reabertura entre transferências e a drenagem de
// datagramas duplicados usada na ressincronização.
package transport

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Conn é o subconjunto de net.PacketConn usado pelas máquinas de transferência.
type Conn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
}

// Options ajusta o socket aberto.
type Options struct {
	TTL         int // TTL (IPv4) ou hop limit (IPv6); 0 mantém o padrão do sistema
	ReadBuffer  int
	WriteBuffer int
}

// Socket é o socket local exclusivo da transferência em andamento.
type Socket struct {
	conn   *net.UDPConn
	family string
	opts   Options
}

// FamilyOf retorna "udp4" ou "udp6" conforme o endereço.
func FamilyOf(addr net.Addr) string {
	if ua, ok := addr.(*net.UDPAddr); ok && ua.IP != nil && ua.IP.To4() == nil {
		return "udp6"
	}
	return "udp4"
}

// Open abre um socket não conectado numa porta efêmera da família dada.
func Open(family string, opts Options) (*Socket, error) {
	s := &Socket{opts: opts}
	if err := s.open(family); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Socket) open(family string) error {
	if family != "udp4" && family != "udp6" {
		return errors.Errorf("família de endereço desconhecida %q", family)
	}
	conn, err := net.ListenUDP(family, nil)
	if err != nil {
		return errors.Wrapf(err, "abrindo socket %s", family)
	}
	if s.opts.ReadBuffer > 0 {
		_ = conn.SetReadBuffer(s.opts.ReadBuffer)
	}
	if s.opts.WriteBuffer > 0 {
		_ = conn.SetWriteBuffer(s.opts.WriteBuffer)
	}
	if s.opts.TTL > 0 {
		if err := setTTL(conn, family, s.opts.TTL); err != nil {
			conn.Close()
			return err
		}
	}
	s.conn = conn
	s.family = family
	return nil
}

func setTTL(conn *net.UDPConn, family string, ttl int) error {
	if family == "udp6" {
		return errors.Wrap(ipv6.NewConn(conn).SetHopLimit(ttl), "hop limit")
	}
	return errors.Wrap(ipv4.NewConn(conn).SetTTL(ttl), "ttl")
}

// Reset fecha o socket atual e abre outro na família dada, para que a
// próxima transferência comece de uma porta nova e sem par associado.
func (s *Socket) Reset(family string) error {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return s.open(family)
}

// Conn retorna o socket aberto.
func (s *Socket) Conn() Conn { return s.conn }

// Family retorna a família do socket aberto.
func (s *Socket) Family() string { return s.family }

// LocalAddr retorna o endereço local do socket.
func (s *Socket) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close fecha o socket.
func (s *Socket) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Drain consome e descarta os datagramas que chegarem dentro de window,
// chamando onPacket (se não nil) para cada um. Retorna quantos descartou.
// O deadline de leitura fica limpo ao final.
func Drain(conn Conn, window time.Duration, onPacket func(b []byte, from net.Addr)) int {
	buf := make([]byte, 64*1024)
	drained := 0
	deadline := time.Now().Add(window)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			break
		}
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		drained++
		if onPacket != nil {
			onPacket(buf[:n], from)
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
	return drained
}
