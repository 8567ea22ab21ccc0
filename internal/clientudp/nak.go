package clientudp

import (
	"syscall"

	"github.com/pkg/errors"

	"tftp/internal/protocol"
)

// nakPacket traduz uma falha local no pacote ERROR enviado ao servidor.
// Códigos da tabela levam a mensagem padrão; o resto vira código 0 com a
// descrição do sistema operacional.
func nakPacket(err error) *protocol.Error {
	var code protocol.ErrorCode
	if errors.As(err, &code) {
		if msg, ok := code.Message(); ok {
			return &protocol.Error{Code: code, Message: msg}
		}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &protocol.Error{Code: protocol.ErrUndefined, Message: errno.Error()}
	}
	msg := "undefined error"
	if cause := errors.Cause(err); cause != nil {
		msg = cause.Error()
	}
	return &protocol.Error{Code: protocol.ErrUndefined, Message: msg}
}

// nak avisa o par corrente sobre a falha. O envio é best-effort.
func (s *session) nak(err error) {
	pkt := nakPacket(err)
	if serr := s.send(pkt.Marshal()); serr != nil {
		s.log.Warn("falha ao enviar %s: %v", pkt, serr)
	}
}
