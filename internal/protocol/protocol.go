// Package protocol define o formato binário dos pacotes TFTP (RFC 1350)
// usados pelo cliente: pedidos de leitura/escrita, dados, confirmações e erros.
//
// - Aplicação: este pacote empacota/desempacota os cinco tipos de pacote.
// - Transporte: UDP, sem ordenação nem garantia de entrega.
// - Todos os campos numéricos seguem a ordem de rede (big-endian).
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"tftp/internal/config"
)

// Layout dos pacotes (network byte order):
//
//	1 RRQ   | opcode(2) | filename | 0 | mode | 0 |
//	2 WRQ   | opcode(2) | filename | 0 | mode | 0 |
//	3 DATA  | opcode(2) | block(2) | payload(0..512) |
//	4 ACK   | opcode(2) | block(2) |
//	5 ERROR | opcode(2) | code(2)  | message | 0 |

// Opcode identifica o tipo do pacote.
type Opcode uint16

const (
	OpRRQ Opcode = iota + 1
	OpWRQ
	OpDATA
	OpACK
	OpERROR
)

// tamanho do cabeçalho de DATA/ACK/ERROR
const headerSize = 4

func (o Opcode) String() string {
	switch o {
	case OpRRQ:
		return "RRQ"
	case OpWRQ:
		return "WRQ"
	case OpDATA:
		return "DATA"
	case OpACK:
		return "ACK"
	case OpERROR:
		return "ERROR"
	default:
		return "#" + strconv.Itoa(int(o))
	}
}

// ErrorCode é o código transportado em um pacote ERROR.
type ErrorCode uint16

const (
	ErrUndefined ErrorCode = iota
	ErrNotFound
	ErrAccessViolation
	ErrDiskFull
	ErrIllegalOp
	ErrUnknownTID
	ErrFileExists
	ErrNoSuchUser
)

// mensagens padrão de cada código conhecido
var errorMessages = map[ErrorCode]string{
	ErrUndefined:       "Undefined error code",
	ErrNotFound:        "File not found",
	ErrAccessViolation: "Access violation",
	ErrDiskFull:        "Disk full or allocation exceeded",
	ErrIllegalOp:       "Illegal TFTP operation",
	ErrUnknownTID:      "Unknown transfer ID",
	ErrFileExists:      "File already exists",
	ErrNoSuchUser:      "No such user",
}

// Message retorna a mensagem padrão do código e se ele é conhecido.
func (c ErrorCode) Message() (string, bool) {
	msg, ok := errorMessages[c]
	return msg, ok
}

// Error permite usar um ErrorCode diretamente como erro local.
func (c ErrorCode) Error() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("error code %d", uint16(c))
}

// Erros de decodificação.
var (
	ErrShortPacket     = errors.New("pacote curto")
	ErrOversizedPacket = errors.New("pacote excede o tamanho máximo")
	ErrMalformed       = errors.New("pacote malformado")
)

// UnknownOpcodeError indica um opcode fora da faixa 1..5.
type UnknownOpcodeError struct {
	Op Opcode
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("opcode desconhecido %d", uint16(e.Op))
}

// Packet é qualquer um dos cinco tipos de pacote TFTP.
type Packet interface {
	Opcode() Opcode
	Marshal() []byte
	String() string
}

// Request representa um RRQ ou WRQ.
type Request struct {
	Op       Opcode
	Filename string
	Mode     string
}

// Data carrega um segmento do arquivo.
type Data struct {
	Block   uint16
	Payload []byte
}

// Ack confirma um bloco (ou o WRQ, como bloco 0).
type Ack struct {
	Block uint16
}

// Error é o pacote de erro (NAK).
type Error struct {
	Code    ErrorCode
	Message string
}

// NewRequest monta um pedido de leitura ou escrita, normalizando o modo.
func NewRequest(op Opcode, filename, mode string) (*Request, error) {
	if op != OpRRQ && op != OpWRQ {
		return nil, errors.Errorf("opcode %s não é um pedido", op)
	}
	if filename == "" || strings.IndexByte(filename, 0) >= 0 {
		return nil, errors.New("nome de arquivo inválido")
	}
	m, err := config.NormalizeMode(mode)
	if err != nil {
		return nil, err
	}
	return &Request{Op: op, Filename: filename, Mode: m}, nil
}

// NewError monta um pacote de erro com a mensagem padrão do código.
func NewError(code ErrorCode) *Error {
	return &Error{Code: code, Message: code.Error()}
}

func (r *Request) Opcode() Opcode { return r.Op }
func (d *Data) Opcode() Opcode    { return OpDATA }
func (a *Ack) Opcode() Opcode     { return OpACK }
func (e *Error) Opcode() Opcode   { return OpERROR }

// Marshal serializa o pedido: opcode, nome e modo terminados em NUL.
func (r *Request) Marshal() []byte {
	buf := make([]byte, 2, 2+len(r.Filename)+1+len(r.Mode)+1)
	binary.BigEndian.PutUint16(buf, uint16(r.Op))
	buf = append(buf, r.Filename...)
	buf = append(buf, 0)
	buf = append(buf, r.Mode...)
	buf = append(buf, 0)
	return buf
}

func (d *Data) Marshal() []byte {
	buf := make([]byte, headerSize+len(d.Payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(OpDATA))
	binary.BigEndian.PutUint16(buf[2:4], d.Block)
	copy(buf[headerSize:], d.Payload)
	return buf
}

func (a *Ack) Marshal() []byte {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(OpACK))
	binary.BigEndian.PutUint16(buf[2:4], a.Block)
	return buf
}

func (e *Error) Marshal() []byte {
	buf := make([]byte, headerSize, headerSize+len(e.Message)+1)
	binary.BigEndian.PutUint16(buf[0:2], uint16(OpERROR))
	binary.BigEndian.PutUint16(buf[2:4], uint16(e.Code))
	buf = append(buf, e.Message...)
	buf = append(buf, 0)
	return buf
}

func (r *Request) String() string {
	return fmt.Sprintf("%s <file=%s, mode=%s>", r.Op, r.Filename, r.Mode)
}

func (d *Data) String() string {
	return fmt.Sprintf("DATA <block=%d, %d bytes>", d.Block, len(d.Payload))
}

func (a *Ack) String() string {
	return fmt.Sprintf("ACK <block=%d>", a.Block)
}

func (e *Error) String() string {
	return fmt.Sprintf("ERROR <code=%d, msg=%s>", uint16(e.Code), e.Message)
}

// Parse decodifica um datagrama. O payload de DATA é copiado, então o
// pacote retornado não referencia o buffer de recepção.
func Parse(b []byte) (Packet, error) {
	if len(b) < 2 {
		return nil, ErrShortPacket
	}
	if len(b) > config.PktSize {
		return nil, ErrOversizedPacket
	}
	op := Opcode(binary.BigEndian.Uint16(b[0:2]))
	switch op {
	case OpRRQ, OpWRQ:
		fields := bytes.SplitN(b[2:], []byte{0}, 3)
		if len(fields) < 3 || len(fields[0]) == 0 || len(fields[1]) == 0 {
			return nil, errors.Wrap(ErrMalformed, op.String())
		}
		return &Request{Op: op, Filename: string(fields[0]), Mode: strings.ToLower(string(fields[1]))}, nil
	case OpDATA:
		if len(b) < headerSize {
			return nil, ErrShortPacket
		}
		payload := append([]byte(nil), b[headerSize:]...)
		return &Data{Block: binary.BigEndian.Uint16(b[2:4]), Payload: payload}, nil
	case OpACK:
		if len(b) < headerSize {
			return nil, ErrShortPacket
		}
		return &Ack{Block: binary.BigEndian.Uint16(b[2:4])}, nil
	case OpERROR:
		if len(b) < headerSize {
			return nil, ErrShortPacket
		}
		msg := b[headerSize:]
		// alguns servidores omitem o NUL final
		if i := bytes.IndexByte(msg, 0); i >= 0 {
			msg = msg[:i]
		}
		return &Error{Code: ErrorCode(binary.BigEndian.Uint16(b[2:4])), Message: string(msg)}, nil
	default:
		return nil, &UnknownOpcodeError{Op: op}
	}
}

// Describe renderiza um datagrama bruto para o trace de pacotes.
func Describe(b []byte) string {
	if len(b) < 2 {
		return fmt.Sprintf("<%d bytes>", len(b))
	}
	pkt, err := Parse(b)
	if err == nil {
		return pkt.String()
	}
	var unknown *UnknownOpcodeError
	if errors.As(err, &unknown) {
		return fmt.Sprintf("opcode=%x", uint16(unknown.Op))
	}
	return fmt.Sprintf("%s <%v>", Opcode(binary.BigEndian.Uint16(b[0:2])), err)
}

// Converte "host", "host:porta" ou "[v6]:porta" em host e porta.
func ParseTarget(target string, defaultPort int) (host string, port int, err error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", 0, errors.New("alvo vazio")
	}
	h, p, splitErr := net.SplitHostPort(target)
	if splitErr != nil {
		// sem porta: aceita nome, IPv4 ou IPv6 sem colchetes
		return strings.Trim(target, "[]"), defaultPort, nil
	}
	port, err = strconv.Atoi(p)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, errors.Errorf("porta inválida %q", p)
	}
	return h, port, nil
}
