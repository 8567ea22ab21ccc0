// Package fileio fornece a fonte e o destino de segmentos usados pelas
// máquinas de transferência: leitura em segmentos de 512 bytes com
// leitura antecipada, escrita adiada com descarga explícita e conversão
// netascii opcional.
package fileio

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
	"pack.ag/tftp/netascii"

	"tftp/internal/config"
)

// Reader entrega o arquivo local em segmentos de até SegSize bytes.
// Um segmento menor que SegSize (inclusive vazio) marca o fim dos dados.
type Reader struct {
	src     io.Reader
	convert bool
	staged  bytes.Buffer // bytes prontos para o próximo segmento
	enc     io.Writer    // codificador netascii sobre staged
	eof     bool
	err     error
}

// NewReader cria a fonte; convert ativa a conversão nativo -> netascii.
func NewReader(src io.Reader, convert bool) *Reader {
	r := &Reader{src: src, convert: convert}
	if convert {
		r.enc = netascii.NewWriter(&r.staged)
	}
	return r
}

// fill lê do arquivo até haver um segmento completo preparado ou EOF.
func (r *Reader) fill() {
	if r.err != nil {
		return
	}
	chunk := make([]byte, config.SegSize)
	for !r.eof && r.staged.Len() < config.SegSize {
		n, err := r.src.Read(chunk)
		if n > 0 {
			if r.convert {
				if _, werr := r.enc.Write(chunk[:n]); werr != nil {
					r.err = errors.Wrap(werr, "netascii")
					return
				}
			} else {
				r.staged.Write(chunk[:n])
			}
		}
		if err == io.EOF {
			r.eof = true
			r.flushEncoder()
			return
		}
		if err != nil {
			r.err = err
			return
		}
	}
	r.flushEncoder()
}

// o codificador pode reter bytes até ser descarregado
func (r *Reader) flushEncoder() {
	if f, ok := r.enc.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil && r.err == nil {
			r.err = errors.Wrap(err, "netascii")
		}
	}
}

// Next retorna o próximo segmento. O slice pertence ao chamador.
func (r *Reader) Next() ([]byte, error) {
	r.fill()
	if r.err != nil {
		return nil, r.err
	}
	n := r.staged.Len()
	if n > config.SegSize {
		n = config.SegSize
	}
	seg := make([]byte, n)
	copy(seg, r.staged.Next(n))
	return seg, nil
}

// ReadAhead prepara o próximo segmento enquanto o atual aguarda ACK.
// Erros ficam retidos e são devolvidos pelo próximo Next.
func (r *Reader) ReadAhead() {
	r.fill()
}

// Writer grava segmentos recebidos no arquivo local com escrita adiada.
type Writer struct {
	dst     *bufio.Writer
	convert bool
	pending []byte // CR final retido até o próximo segmento
}

// NewWriter cria o destino; convert ativa a conversão netascii -> nativo.
func NewWriter(dst io.Writer, convert bool) *Writer {
	return &Writer{dst: bufio.NewWriterSize(dst, 8*config.SegSize), convert: convert}
}

// Accept aceita o payload de um DATA e retorna quantos bytes do pacote
// foram consumidos (o tamanho no fio, não o convertido).
func (w *Writer) Accept(p []byte) (int, error) {
	if !w.convert {
		if _, err := w.dst.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	data := append(w.pending, p...)
	w.pending = nil
	// um CR no fim pode formar CRLF com o próximo segmento
	if len(data) > 0 && data[len(data)-1] == '\r' {
		w.pending = []byte{'\r'}
		data = data[:len(data)-1]
	}
	if _, err := io.Copy(w.dst, netascii.NewReader(bytes.NewReader(data))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteBehind descarrega o buffer de escrita no arquivo.
func (w *Writer) WriteBehind() error {
	return w.dst.Flush()
}

// Close grava o CR retido, se houver, e descarrega o buffer.
func (w *Writer) Close() error {
	if len(w.pending) > 0 {
		if _, err := w.dst.Write(w.pending); err != nil {
			return err
		}
		w.pending = nil
	}
	return w.dst.Flush()
}
