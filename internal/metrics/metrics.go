package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// coleta métricas de uma transferência TFTP
type TransferMetrics struct {
	// Contadores básicos
	Bytes  uint64 `json:"bytes"`  // bytes de arquivo efetivamente transferidos
	Blocks uint64 `json:"blocks"` // blocos DATA confirmados/aceitos

	// Contadores de erro
	Timeouts        uint64 `json:"timeouts"`
	Retransmissions uint64 `json:"retransmissions"`
	Duplicates      uint64 `json:"duplicates"` // ACK/DATA do bloco anterior recebidos
	Drained         uint64 `json:"drained"`    // datagramas descartados na ressincronização

	// Métricas de tempo
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// bits/segundo, calculado em Finish
	AverageRate float64 `json:"average_rate"`

	// Histórico de velocidades para gráficos
	SpeedHistory []SpeedPoint `json:"speed_history"`

	// Mutex para proteção
	mu sync.RWMutex
}

// representa um ponto no histórico de velocidade
type SpeedPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed"` // bytes/segundo
}

// cria uma nova instância de métricas com o relógio iniciado
func NewTransferMetrics() *TransferMetrics {
	return &TransferMetrics{
		StartTime:    time.Now(),
		SpeedHistory: make([]SpeedPoint, 0),
	}
}

// adiciona bytes transferidos e um bloco
func (m *TransferMetrics) AddBlock(bytes int) {
	atomic.AddUint64(&m.Bytes, uint64(bytes))
	atomic.AddUint64(&m.Blocks, 1)
}

// adiciona um timeout
func (m *TransferMetrics) AddTimeout() {
	atomic.AddUint64(&m.Timeouts, 1)
}

// adiciona uma retransmissão
func (m *TransferMetrics) AddRetransmission() {
	atomic.AddUint64(&m.Retransmissions, 1)
}

// adiciona um pacote duplicado e os datagramas drenados em seguida
func (m *TransferMetrics) AddDuplicate(drained int) {
	atomic.AddUint64(&m.Duplicates, 1)
	atomic.AddUint64(&m.Drained, uint64(drained))
}

// registra a velocidade atual
func (m *TransferMetrics) RecordSpeed(speed float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SpeedHistory = append(m.SpeedHistory, SpeedPoint{Timestamp: time.Now(), Speed: speed})

	// Mantém apenas os últimos 1000 pontos para evitar uso excessivo de memória
	if len(m.SpeedHistory) > 1000 {
		m.SpeedHistory = m.SpeedHistory[len(m.SpeedHistory)-1000:]
	}
}

// finaliza as métricas e calcula valores finais
func (m *TransferMetrics) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EndTime = time.Now()
	m.Duration = m.EndTime.Sub(m.StartTime)

	if m.Duration > 0 {
		m.AverageRate = float64(atomic.LoadUint64(&m.Bytes)) * 8 / m.Duration.Seconds()
	}
}

// Summary formata a linha de estatísticas, ex: "Sent 1024 bytes in 0.1 seconds".
// Com verbose inclui a taxa em bits/s.
func (m *TransferMetrics) Summary(direction string, verbose bool) string {
	s := m.GetSnapshot()
	// resolução de décimos de segundo
	secs := float64(s.Duration.Truncate(100*time.Millisecond)) / float64(time.Second)
	line := fmt.Sprintf("%s %d bytes in %.1f seconds", direction, s.Bytes, secs)
	if verbose && s.Duration > 0 {
		line += fmt.Sprintf(" [%.0f bits/sec]", s.AverageRate)
	}
	return line
}

// Snapshot é uma cópia imutável das métricas em um instante.
type Snapshot struct {
	Bytes           uint64
	Blocks          uint64
	Timeouts        uint64
	Retransmissions uint64
	Duplicates      uint64
	Drained         uint64
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
	AverageRate     float64
	SpeedHistory    []SpeedPoint
}

// retorna uma cópia das métricas atuais
func (m *TransferMetrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Snapshot{
		Bytes:           atomic.LoadUint64(&m.Bytes),
		Blocks:          atomic.LoadUint64(&m.Blocks),
		Timeouts:        atomic.LoadUint64(&m.Timeouts),
		Retransmissions: atomic.LoadUint64(&m.Retransmissions),
		Duplicates:      atomic.LoadUint64(&m.Duplicates),
		Drained:         atomic.LoadUint64(&m.Drained),
		StartTime:       m.StartTime,
		EndTime:         m.EndTime,
		Duration:        m.Duration,
		AverageRate:     m.AverageRate,
		SpeedHistory:    append([]SpeedPoint(nil), m.SpeedHistory...),
	}
}

// monitora performance em tempo real
type PerformanceMonitor struct {
	metrics        *TransferMetrics
	lastUpdate     time.Time
	lastBytes      uint64
	updateInterval time.Duration
}

// cria um novo monitor de performance
func NewPerformanceMonitor(metrics *TransferMetrics) *PerformanceMonitor {
	return &PerformanceMonitor{
		metrics:        metrics,
		lastUpdate:     time.Now(),
		updateInterval: 100 * time.Millisecond,
	}
}

// atualiza as métricas de performance; retorna a última velocidade medida
func (pm *PerformanceMonitor) Update() (float64, bool) {
	now := time.Now()
	if now.Sub(pm.lastUpdate) < pm.updateInterval {
		return 0, false
	}

	currentBytes := atomic.LoadUint64(&pm.metrics.Bytes)
	elapsed := now.Sub(pm.lastUpdate).Seconds()
	speed := float64(currentBytes-pm.lastBytes) / elapsed
	pm.metrics.RecordSpeed(speed)

	pm.lastBytes = currentBytes
	pm.lastUpdate = now
	return speed, true
}
