package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"tftp/internal/clientudp"
	"tftp/internal/config"
	"tftp/internal/logger"
	"tftp/internal/metrics"
	"tftp/internal/protocol"
	"tftp/internal/transport"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  cli-client [flags] put LOCAL [REMOTE]")
	fmt.Fprintln(os.Stderr, "  cli-client [flags] get REMOTE [LOCAL]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}

func main() {
	host := flag.String("host", "", "Servidor TFTP (host, host:porta ou [v6]:porta)")
	port := flag.Int("port", 0, "Porta do servidor (padrão 69)")
	mode := flag.String("mode", "", "Modo de transferência: netascii|octet|mail (ascii/binary aceitos)")
	rexmt := flag.String("rexmt", "", "Intervalo de retransmissão (ex: 5, 500ms)")
	timeout := flag.String("timeout", "", "Tempo total de espera antes de abortar (ex: 25, 10s)")
	trace := flag.Bool("trace", false, "Registra cada pacote enviado/recebido")
	verbose := flag.Bool("verbose", false, "Inclui a taxa em bits/s nas estatísticas")
	ttl := flag.Int("ttl", 0, "TTL/hop limit dos datagramas (0 = padrão do sistema)")
	dropRate := flag.Float64("drop-rate", 0.0, "Taxa de descarte simulado 0..1 (uma vez por bloco)")
	configPath := flag.String("config", "", "Arquivo de configuração TOML (padrão ~/.tftp-client/client.toml)")
	logLevel := flag.String("log-level", "info", "Nível de log: debug|info|warn|error")
	logDir := flag.String("log-dir", "", "Diretório para arquivo de log (vazio = stderr)")
	flag.Usage = usage
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := logger.InitLoggers(level, *logDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.CloseLoggers()

	settings, err := config.LoadClientSettings(*configPath)
	if err != nil {
		logger.Fatal("configuração: %v", err)
	}

	// flags explícitas têm precedência sobre o arquivo
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			settings.Host = *host
		case "port":
			settings.Port = strconv.Itoa(*port)
		case "mode":
			settings.Mode = *mode
		case "rexmt":
			settings.RetryStep = *rexmt
		case "timeout":
			settings.Timeout = *timeout
		case "trace":
			settings.Trace = *trace
		case "verbose":
			settings.Verbose = *verbose
		case "ttl":
			settings.TTL = *ttl
		}
	})

	args := flag.Args()
	if len(args) < 2 || len(args) > 3 || (args[0] != "put" && args[0] != "get") {
		usage()
		os.Exit(2)
	}

	if err := run(settings, *dropRate, args[0], args[1:]); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(settings *config.ClientSettings, dropRate float64, cmd string, args []string) error {
	defaultPort := config.DefaultPort
	if settings.Port != "" {
		if err := config.ValidatePort(settings.Port); err != nil {
			return err
		}
		defaultPort, _ = strconv.Atoi(settings.Port)
	}
	host, port, err := protocol.ParseTarget(settings.Host, defaultPort)
	if err != nil {
		return err
	}
	if err := config.ValidateHost(host); err != nil {
		return err
	}
	mode, err := config.NormalizeMode(settings.Mode)
	if err != nil {
		return err
	}
	cfg, err := settings.Transfer()
	if err != nil {
		return err
	}

	sock, err := transport.Open("udp4", transport.Options{TTL: settings.TTL})
	if err != nil {
		return err
	}
	defer sock.Close()

	cb := clientudp.Callbacks{
		OnLog: func(s string) { fmt.Println(s) },
	}
	c, err := clientudp.NewClient(sock, cfg, logger.DefaultLogger, cb)
	if err != nil {
		return err
	}
	if dropRate > 0 {
		c.Drop = clientudp.NewDrop(dropRate, rand.Int63())
	}
	if err := c.Connect(host, port); err != nil {
		return err
	}

	var m *metrics.TransferMetrics
	switch cmd {
	case "put":
		local := args[0]
		remote := filepath.Base(local)
		if len(args) > 1 {
			remote = args[1]
		}
		f, err := os.Open(local)
		if err != nil {
			return err
		}
		logger.Info("putting %s to %s:%s [%s]", local, c.Server(), remote, mode)
		m, err = c.Upload(f, remote, mode)
		if err != nil {
			return err
		}
	case "get":
		remote := args[0]
		local := filepath.Base(remote)
		if len(args) > 1 {
			local = args[1]
		}
		f, err := os.Create(local)
		if err != nil {
			return err
		}
		logger.Info("getting from %s:%s to %s [%s]", c.Server(), remote, local, mode)
		m, err = c.Download(f, remote, mode)
		if err != nil {
			return err
		}
	}

	if settings.Verbose {
		s := m.GetSnapshot()
		logger.Info("blocos=%d timeouts=%d retransmissões=%d duplicatas=%d em %s",
			s.Blocks, s.Timeouts, s.Retransmissions, s.Duplicates, s.Duration.Round(time.Millisecond))
	}
	return nil
}
