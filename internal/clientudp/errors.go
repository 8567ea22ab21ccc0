package clientudp

import (
	"fmt"

	"github.com/pkg/errors"

	"tftp/internal/protocol"
)

// ErrTimedOut é retornado quando o tempo acumulado de espera atinge o teto.
var ErrTimedOut = errors.New("transfer timed out")

// PeerError é um pacote ERROR recebido do servidor. Nunca é retransmitido.
type PeerError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("Error code %d: %s", uint16(e.Code), e.Message)
}

// LocalError é uma falha de leitura ou escrita no arquivo local. O servidor
// já foi avisado com um ERROR quando este erro chega ao chamador.
type LocalError struct {
	Op  string
	Err error
}

func (e *LocalError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *LocalError) Unwrap() error { return e.Err }

// Cause permite que errors.Cause alcance a falha original.
func (e *LocalError) Cause() error { return e.Err }
