package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Constantes do protocolo (RFC 1350)
const (
	SegSize     = 512           // payload máximo de um pacote DATA
	PktSize     = SegSize + 4   // maior datagrama aceito (cabeçalho + segmento)
	DefaultPort = 69            // porta padrão do servidor TFTP
	settingsDir = ".tftp-client" // diretório de configurações no HOME
)

// Modos de transferência
const (
	ModeNetASCII = "netascii"
	ModeOctet    = "octet"
	ModeMail     = "mail"
)

// Constantes para mensagens de erro
const (
	ErrEmptyField     = "não pode estar vazio"
	ErrMustBePositive = "deve ser maior que zero"
)

var (
	// Timeouts (valores clássicos do tftp(1): rexmt 5s, timeout 25s)
	DefaultRetryStep      = 5 * time.Second
	DefaultTimeoutCeiling = 25 * time.Second

	// janela usada para descartar duplicatas após uma ressincronização
	DefaultDrainWindow = 50 * time.Millisecond

	DefaultMode = ModeNetASCII
)

// apelidos aceitos pelo tftp(1) clássico
var modeAliases = map[string]string{
	"ascii":  ModeNetASCII,
	"binary": ModeOctet,
}

// NormalizeMode converte o modo para minúsculas, resolve apelidos e
// rejeita modos desconhecidos.
func NormalizeMode(mode string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(mode))
	if alias, ok := modeAliases[m]; ok {
		m = alias
	}
	switch m {
	case ModeNetASCII, ModeOctet, ModeMail:
		return m, nil
	}
	return "", ValidationError{Field: "mode", Message: fmt.Sprintf("modo desconhecido %q", mode)}
}

// representa um erro de configuração
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// representa um erro de validação
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", e.Field, e.Message)
}

// Transfer é o registro de configuração de uma transferência.
type Transfer struct {
	RetryStep      time.Duration // incremento do timeout a cada expiração
	TimeoutCeiling time.Duration // teto acumulado; ao atingir, a transferência aborta
	Trace          bool          // registra cada pacote enviado/recebido
	Verbose        bool          // inclui taxa em bits/s nas estatísticas
}

// retorna a configuração padrão de transferência
func DefaultTransfer() Transfer {
	return Transfer{
		RetryStep:      DefaultRetryStep,
		TimeoutCeiling: DefaultTimeoutCeiling,
	}
}

// Validate confere os limites da escada de retransmissão.
func (t Transfer) Validate() error {
	if t.RetryStep <= 0 {
		return ConfigError{Field: "retry_step", Message: ErrMustBePositive, Value: t.RetryStep}
	}
	if t.TimeoutCeiling < t.RetryStep {
		return ConfigError{Field: "timeout_ceiling", Message: "deve ser maior ou igual ao retry_step", Value: t.TimeoutCeiling}
	}
	return nil
}

// representa as configurações persistidas do cliente
type ClientSettings struct {
	Host         string `toml:"host"`
	Port         string `toml:"port"`
	Mode         string `toml:"mode"`
	RetryStep    string `toml:"rexmt"`
	Timeout      string `toml:"timeout"`
	Trace        bool   `toml:"trace"`
	Verbose      bool   `toml:"verbose"`
	TTL          int    `toml:"ttl"`
	LastRemote   string `toml:"last_remote"`
	LastLocal    string `toml:"last_local"`
	WindowWidth  int    `toml:"window_width"`
	WindowHeight int    `toml:"window_height"`
}

// representa os parâmetros para validação
type ValidationParams struct {
	Host     string
	Port     string
	FilePath string
	Mode     string
	Rexmt    string
	Timeout  string
}

// retorna configurações padrão para o cliente
func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		Host:         "127.0.0.1",
		Port:         strconv.Itoa(DefaultPort),
		Mode:         DefaultMode,
		RetryStep:    DefaultRetryStep.String(),
		Timeout:      DefaultTimeoutCeiling.String(),
		WindowWidth:  700,
		WindowHeight: 600,
	}
}

// Transfer converte as configurações salvas no registro de transferência.
func (s *ClientSettings) Transfer() (Transfer, error) {
	t := DefaultTransfer()
	t.Trace = s.Trace
	t.Verbose = s.Verbose
	if strings.TrimSpace(s.RetryStep) != "" {
		d, err := ParseDuration(s.RetryStep)
		if err != nil {
			return t, ConfigError{Field: "rexmt", Message: err.Error(), Value: s.RetryStep}
		}
		t.RetryStep = d
	}
	if strings.TrimSpace(s.Timeout) != "" {
		d, err := ParseDuration(s.Timeout)
		if err != nil {
			return t, ConfigError{Field: "timeout", Message: err.Error(), Value: s.Timeout}
		}
		t.TimeoutCeiling = d
	}
	return t, t.Validate()
}

// retorna o caminho padrão do arquivo de configuração
func SettingsPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "home")
	}
	return filepath.Join(homeDir, settingsDir, "client.toml"), nil
}

// carrega as configurações do cliente; path vazio usa SettingsPath
func LoadClientSettings(path string) (*ClientSettings, error) {
	if path == "" {
		p, err := SettingsPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	// Se o arquivo não existe, retorna configurações padrão
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultClientSettings(), nil
	}

	settings := DefaultClientSettings()
	if _, err := toml.DecodeFile(path, settings); err != nil {
		return nil, errors.Wrapf(err, "lendo %s", path)
	}
	return settings, nil
}

// salva as configurações do cliente; path vazio usa SettingsPath
func SaveClientSettings(path string, settings *ClientSettings) error {
	if path == "" {
		p, err := SettingsPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "criando diretório de configuração")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "criando %s", path)
	}
	defer f.Close()
	return errors.Wrap(toml.NewEncoder(f).Encode(settings), "gravando configurações")
}

// Validação de campos

// valida um endereço de host
func ValidateHost(host string) error {
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if host == "" {
		return ValidationError{Field: "host", Message: "host " + ErrEmptyField}
	}

	// Verifica se é um IP válido
	if net.ParseIP(host) != nil {
		return nil
	}

	// Verifica se é um nome de host válido
	if isValidHostname(host) {
		return nil
	}

	return ValidationError{Field: "host", Message: "host inválido"}
}

// valida uma porta
func ValidatePort(port string) error {
	if strings.TrimSpace(port) == "" {
		return ValidationError{Field: "port", Message: "porta " + ErrEmptyField}
	}

	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return ValidationError{Field: "port", Message: "porta deve ser um número"}
	}

	if p < 1 || p > 65535 {
		return ValidationError{Field: "port", Message: "porta deve estar entre 1 e 65535"}
	}

	return nil
}

// valida o nome do arquivo remoto
func ValidateFilePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return ValidationError{Field: "file_path", Message: "caminho do arquivo " + ErrEmptyField}
	}
	if strings.IndexByte(path, 0) >= 0 {
		return ValidationError{Field: "file_path", Message: "caminho contém NUL"}
	}
	return nil
}

// valida o modo de transferência
func ValidateMode(mode string) error {
	_, err := NormalizeMode(mode)
	return err
}

// valida uma duração (rexmt ou timeout)
func ValidateTimeout(field, timeout string) error {
	if strings.TrimSpace(timeout) == "" {
		return ValidationError{Field: field, Message: field + " " + ErrEmptyField}
	}

	d, err := ParseDuration(timeout)
	if err != nil {
		return ValidationError{Field: field, Message: field + " deve ser uma duração válida (ex: 500ms, 5s)"}
	}
	if d <= 0 {
		return ValidationError{Field: field, Message: field + " " + ErrMustBePositive}
	}

	return nil
}

// valida todos os campos de uma configuração de cliente
func ValidateAll(params ValidationParams) []error {
	var errs []error

	if err := ValidateHost(params.Host); err != nil {
		errs = append(errs, err)
	}

	if err := ValidatePort(params.Port); err != nil {
		errs = append(errs, err)
	}

	if err := ValidateFilePath(params.FilePath); err != nil {
		errs = append(errs, err)
	}

	if err := ValidateMode(params.Mode); err != nil {
		errs = append(errs, err)
	}

	if err := ValidateTimeout("rexmt", params.Rexmt); err != nil {
		errs = append(errs, err)
	}

	if err := ValidateTimeout("timeout", params.Timeout); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// Helper functions

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)

// verifica se é um nome de host válido
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	return hostnameRegex.MatchString(hostname)
}

// ParseDuration aceita durações Go ("500ms", "5s") ou segundos sem unidade ("5").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("duração vazia")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "duração inválida %q", s)
	}
	return d, nil
}
