package clientudp

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"tftp/internal/protocol"
)

func TestNakPacket(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code protocol.ErrorCode
		msg  string
	}{
		{"código conhecido", protocol.ErrDiskFull, protocol.ErrDiskFull, "Disk full or allocation exceeded"},
		{"código embrulhado", errors.Wrap(protocol.ErrAccessViolation, "open"), protocol.ErrAccessViolation, "Access violation"},
		{"código desconhecido", protocol.ErrorCode(42), protocol.ErrUndefined, "error code 42"},
		{"errno", &os.PathError{Op: "write", Path: "x", Err: syscall.ENOSPC}, protocol.ErrUndefined, syscall.ENOSPC.Error()},
		{"causa", errors.Wrap(errors.New("disco sumiu"), "write"), protocol.ErrUndefined, "disco sumiu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := nakPacket(tt.err)
			assert.Equal(t, tt.code, pkt.Code)
			assert.Equal(t, tt.msg, pkt.Message)
		})
	}
}

func TestRetransmitTimerLadder(t *testing.T) {
	tm := newRetransmitTimer(5*time.Second, 25*time.Second)
	sends := 1
	for tm.expire() == nil {
		sends++
	}
	assert.Equal(t, 5, sends)

	tm.reset()
	assert.NoError(t, tm.expire())
	assert.Equal(t, 5*time.Second, tm.elapsed)

	odd := newRetransmitTimer(2*time.Second, 5*time.Second)
	sends = 1
	for odd.expire() == nil {
		sends++
	}
	assert.Equal(t, 3, sends)
	assert.Equal(t, ErrTimedOut, odd.expire())
}
