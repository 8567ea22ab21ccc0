// Implementa o lado cliente do TFTP (RFC 1350): envio e recebimento de
// arquivos em blocos de 512 bytes, com um bloco em trânsito por vez,
// retransmissão por timeout e ressincronização em duplicatas.
package clientudp

import (
	"io"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"tftp/internal/config"
	"tftp/internal/fileio"
	"tftp/internal/logger"
	"tftp/internal/metrics"
	"tftp/internal/protocol"
	"tftp/internal/transport"
)

// Source fornece os segmentos de um envio.
type Source interface {
	Next() ([]byte, error)
	ReadAhead()
}

// Sink recebe os segmentos de um recebimento.
type Sink interface {
	Accept(p []byte) (int, error)
	WriteBehind() error
}

// Política de descarte para simulação de perda de pacotes recebidos
type DropPolicy struct {
	rate    float64             // taxa aleatória de descarte (0..1)
	rnd     *rand.Rand          // gerador pseudoaleatório
	dropped map[uint16]struct{} // blocos já descartados uma vez
}

// NewDrop cria política de descarte aleatório "single-shot":
// cada bloco pode ser descartado no máximo UMA vez por transferência,
// então a retransmissão seguinte sempre passa.
func NewDrop(rate float64, seed int64) *DropPolicy {
	if rate <= 0 {
		return nil
	}
	return &DropPolicy{rate: rate, rnd: rand.New(rand.NewSource(seed)), dropped: make(map[uint16]struct{})}
}

// ShouldDrop decide se descarta o DATA/ACK deste bloco.
func (d *DropPolicy) ShouldDrop(block uint16) bool {
	if d == nil || d.rate <= 0 {
		return false
	}
	if _, already := d.dropped[block]; already {
		return false
	}
	if d.rnd.Float64() < d.rate {
		d.dropped[block] = struct{}{}
		return true
	}
	return false
}

func (d *DropPolicy) reset() {
	if d != nil {
		d.dropped = make(map[uint16]struct{})
	}
}

// Reúne funções de retorno para eventos da transferência.
type Callbacks struct {
	OnProgress func(bytes uint64, blocks uint64) // bytes/blocos acumulados
	OnLog      func(string)                      // mensagens para o usuário
	OnDone     func(metrics.Snapshot, error)     // fim da transferência, com ou sem erro
}

// Client executa transferências contra um servidor fixo. Não é seguro
// para transferências concorrentes.
type Client struct {
	sock   *transport.Socket
	server *net.UDPAddr
	cfg    config.Transfer
	log    *logger.Logger
	cb     Callbacks

	// Drop simula perda de pacotes recebidos; nil desativa.
	Drop *DropPolicy
	// DrainWindow é quanto tempo a ressincronização descarta duplicatas.
	DrainWindow time.Duration

	// primeiro bloco de dados é startBlock+1; sempre 0 fora dos testes,
	// que o usam para chegar à volta do contador sem 32MB de dados
	startBlock uint16
}

// NewClient cria um cliente sobre o socket dado. log nil usa o logger padrão.
func NewClient(sock *transport.Socket, cfg config.Transfer, log *logger.Logger, cb Callbacks) (*Client, error) {
	if sock == nil {
		return nil, errors.New("socket nulo")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.DefaultLogger
	}
	return &Client{
		sock:        sock,
		cfg:         cfg,
		log:         log,
		cb:          cb,
		DrainWindow: config.DefaultDrainWindow,
	}, nil
}

// Connect resolve e fixa o servidor das próximas transferências,
// reabrindo o socket se a família de endereço mudar.
func (c *Client) Connect(host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return errors.Wrapf(err, "resolvendo %s", host)
	}
	c.SetServer(addr)
	if family := transport.FamilyOf(addr); family != c.sock.Family() {
		return c.sock.Reset(family)
	}
	return nil
}

// SetServer fixa o endereço do servidor sem resolução de nomes.
func (c *Client) SetServer(addr *net.UDPAddr) { c.server = addr }

// Server retorna o servidor atual.
func (c *Client) Server() *net.UDPAddr { return c.server }

// Config retorna a configuração de transferência em uso.
func (c *Client) Config() config.Transfer { return c.cfg }

// converte netascii (e mail, que transporta texto netascii)
func convertMode(mode string) bool {
	return mode == config.ModeNetASCII || mode == config.ModeMail
}

// Upload envia f para o servidor como remote. f é sempre fechado.
func (c *Client) Upload(f io.ReadCloser, remote, mode string) (*metrics.TransferMetrics, error) {
	req, err := c.request(protocol.OpWRQ, remote, mode)
	if err != nil {
		f.Close()
		return nil, err
	}
	s := c.newSession(req)
	err = s.upload(fileio.NewReader(f, convertMode(req.Mode)), req)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = &LocalError{Op: "close", Err: cerr}
	}
	s.finish("Sent", err)
	return s.metrics, err
}

// Download recebe remote do servidor gravando em f. f é sempre fechado.
func (c *Client) Download(f io.WriteCloser, remote, mode string) (*metrics.TransferMetrics, error) {
	req, err := c.request(protocol.OpRRQ, remote, mode)
	if err != nil {
		f.Close()
		return nil, err
	}
	s := c.newSession(req)
	sink := fileio.NewWriter(f, convertMode(req.Mode))
	err = s.download(sink, req)
	if werr := sink.Close(); werr != nil && err == nil {
		err = &LocalError{Op: "write", Err: werr}
	}
	if cerr := f.Close(); cerr != nil && err == nil {
		err = &LocalError{Op: "close", Err: cerr}
	}
	s.finish("Received", err)
	return s.metrics, err
}

func (c *Client) request(op protocol.Opcode, remote, mode string) (*protocol.Request, error) {
	if c.server == nil {
		return nil, errors.New("servidor não definido")
	}
	return protocol.NewRequest(op, remote, mode)
}
