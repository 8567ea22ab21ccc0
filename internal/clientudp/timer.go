package clientudp

import (
	"time"

	"tftp/internal/transport"
)

// retransmitTimer implementa a escada linear de retransmissão: cada
// expiração soma step ao tempo acumulado e, ao alcançar ceiling, a
// transferência é abortada. O prazo vive no deadline de leitura do socket.
type retransmitTimer struct {
	step    time.Duration
	ceiling time.Duration
	elapsed time.Duration
}

func newRetransmitTimer(step, ceiling time.Duration) retransmitTimer {
	return retransmitTimer{step: step, ceiling: ceiling}
}

// reset zera o acumulado; chamado a cada bloco novo.
func (t *retransmitTimer) reset() { t.elapsed = 0 }

// arm dispara o prazo de um envio. Pacotes ignorados não o prorrogam.
func (t *retransmitTimer) arm(conn transport.Conn) error {
	return conn.SetReadDeadline(time.Now().Add(t.step))
}

// expire contabiliza uma expiração e retorna ErrTimedOut ao atingir o teto.
func (t *retransmitTimer) expire() error {
	t.elapsed += t.step
	if t.elapsed >= t.ceiling {
		return ErrTimedOut
	}
	return nil
}

// clear desarma o prazo assim que o pacote esperado chega.
func (t *retransmitTimer) clear(conn transport.Conn) error {
	return conn.SetReadDeadline(time.Time{})
}
