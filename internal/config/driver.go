// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega e valida a configuração YAML de um driver de mídia:
// endereços de rede, dimensionamento do log de term buffers, janela de
// controle de fluxo, timeouts de ciclo de vida e a superfície de
// administração. Campos derivados (tamanhos em bytes, CIDRs parseados) são
// preenchidos por validate() no carregamento, nunca lidos direto do YAML.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DriverConfig é a configuração completa de um processo de driver de mídia.
type DriverConfig struct {
	Driver      DriverIdentity     `yaml:"driver"`
	Network     NetworkConfig      `yaml:"network"`
	Term        TermConfig         `yaml:"term"`
	FlowControl FlowControlConfig  `yaml:"flow_control"`
	Liveness    LivenessConfig     `yaml:"liveness"`
	LossDetect  LossDetectConfig   `yaml:"loss_detection"`
	Logging     LoggingInfo        `yaml:"logging"`
	Admin       AdminConfig        `yaml:"admin"`
}

// DriverIdentity identifica o processo do driver em logs e na superfície de
// administração.
type DriverIdentity struct {
	Name string `yaml:"name"`
}

// NetworkConfig descreve o canal de recepção UDP do driver.
type NetworkConfig struct {
	// ListenAddress é o endereço local (host:port) em que o driver recebe
	// datagramas de dados e, se Multicast, o grupo ao qual se junta.
	ListenAddress string `yaml:"listen_address"`
	// Multicast indica se ListenAddress é um grupo multicast (join via
	// net.ListenMulticastUDP) em vez de um socket unicast comum.
	Multicast bool `yaml:"multicast"`
	// Interface é o nome da interface de rede usada para o join multicast;
	// vazio usa a interface padrão do sistema. Ignorado se Multicast=false.
	Interface string `yaml:"interface"`
}

// TermConfig dimensiona o trio de term buffers de cada imagem de publicação.
type TermConfig struct {
	// Length aceita sufixos kb/mb, ex: "64kb", "16mb". Deve resultar numa
	// potência de dois — validate() rejeita qualquer outro valor.
	Length string `yaml:"length"`
	// LengthRaw é preenchido por validate(); não vem do YAML.
	LengthRaw int32 `yaml:"-"`
}

// FlowControlConfig configura a janela de controle de fluxo anunciada aos
// publicadores. A janela efetiva é min(termLength/2, InitialWindowLengthRaw) —
// ver internal/flowcontrol.WindowLength.
type FlowControlConfig struct {
	InitialWindowLength    string `yaml:"initial_window_length"`
	InitialWindowLengthRaw int32  `yaml:"-"`

	// FeedbackRateLimit limita, em bytes/segundo (aceita sufixos kb/mb), o
	// tráfego de feedback (Status Messages e NAKs) enviado aos publicadores
	// de um canal. Vazio ou "0" desabilita o pacing — uma tempestade de
	// perda pode gerar rajadas de NAK, e o limite evita que o feedback
	// dispute o link com os próprios dados retransmitidos.
	FeedbackRateLimit    string `yaml:"feedback_rate_limit"`
	FeedbackRateLimitRaw int64  `yaml:"-"`
}

// LivenessConfig agrupa os temporizadores do ciclo de vida de uma imagem.
type LivenessConfig struct {
	// ImageTimeout é o tempo de inatividade tolerado em ACTIVE antes de
	// transicionar para INACTIVE, e também o tempo de graça de LINGER.
	ImageTimeout time.Duration `yaml:"image_timeout"` // default: 10s
	// StatusMessageTimeout é o período de keep-alive entre Status Messages
	// quando a posição anunciada não avançou.
	StatusMessageTimeout time.Duration `yaml:"status_message_timeout"` // default: 200ms
}

// LossDetectConfig configura o detector de perdas padrão.
type LossDetectConfig struct {
	// FeedbackDelay é o tempo mínimo que um gap deve persistir através de
	// varreduras sucessivas do conductor antes de ser reportado via NAK.
	FeedbackDelay time.Duration `yaml:"feedback_delay"` // default: 10ms
}

// LoggingInfo contém configurações de logging.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AdminConfig configura a superfície HTTP de administração/observabilidade
// do driver (internal/adminapi).
type AdminConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Listen       string   `yaml:"listen"`        // default: "127.0.0.1:9849"
	AllowOrigins []string `yaml:"allow_origins"` // IP ou CIDR (deny-by-default)

	// ParsedCIDRs é preenchido por validate(); não vem do YAML.
	ParsedCIDRs []*net.IPNet `yaml:"-"`
}

// Load lê e valida o arquivo YAML de configuração do driver.
func Load(path string) (*DriverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading driver config: %w", err)
	}

	var cfg DriverConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing driver config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating driver config: %w", err)
	}

	return &cfg, nil
}

func (c *DriverConfig) validate() error {
	if c.Driver.Name == "" {
		c.Driver.Name = "mediadriver"
	}
	if c.Network.ListenAddress == "" {
		return fmt.Errorf("network.listen_address is required")
	}

	if c.Term.Length == "" {
		c.Term.Length = "64kb"
	}
	length, err := ParseByteSize(c.Term.Length)
	if err != nil {
		return fmt.Errorf("term.length: %w", err)
	}
	if length <= 0 || length&(length-1) != 0 {
		return fmt.Errorf("term.length must be a power of two, got %s (%d bytes)", c.Term.Length, length)
	}
	c.Term.LengthRaw = int32(length)

	if c.FlowControl.InitialWindowLength == "" {
		c.FlowControl.InitialWindowLength = "32kb"
	}
	window, err := ParseByteSize(c.FlowControl.InitialWindowLength)
	if err != nil {
		return fmt.Errorf("flow_control.initial_window_length: %w", err)
	}
	if window <= 0 {
		return fmt.Errorf("flow_control.initial_window_length must be > 0, got %s", c.FlowControl.InitialWindowLength)
	}
	c.FlowControl.InitialWindowLengthRaw = int32(window)

	if c.FlowControl.FeedbackRateLimit != "" {
		limit, err := ParseByteSize(c.FlowControl.FeedbackRateLimit)
		if err != nil {
			return fmt.Errorf("flow_control.feedback_rate_limit: %w", err)
		}
		if limit < 0 {
			return fmt.Errorf("flow_control.feedback_rate_limit must be >= 0, got %s", c.FlowControl.FeedbackRateLimit)
		}
		c.FlowControl.FeedbackRateLimitRaw = limit
	}

	if c.Liveness.ImageTimeout <= 0 {
		c.Liveness.ImageTimeout = 10 * time.Second
	}
	if c.Liveness.StatusMessageTimeout <= 0 {
		c.Liveness.StatusMessageTimeout = 200 * time.Millisecond
	}

	if c.LossDetect.FeedbackDelay <= 0 {
		c.LossDetect.FeedbackDelay = 10 * time.Millisecond
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Admin.Enabled {
		if c.Admin.Listen == "" {
			c.Admin.Listen = "127.0.0.1:9849"
		}
		if len(c.Admin.AllowOrigins) == 0 {
			return fmt.Errorf("admin.allow_origins is required when admin is enabled (deny-by-default)")
		}
		for _, origin := range c.Admin.AllowOrigins {
			_, cidr, err := net.ParseCIDR(origin)
			if err != nil {
				ip := net.ParseIP(strings.TrimSpace(origin))
				if ip == nil {
					return fmt.Errorf("admin.allow_origins: %q is not a valid IP or CIDR", origin)
				}
				if ip.To4() != nil {
					_, cidr, _ = net.ParseCIDR(ip.String() + "/32")
				} else {
					_, cidr, _ = net.ParseCIDR(ip.String() + "/128")
				}
			}
			c.Admin.ParsedCIDRs = append(c.Admin.ParsedCIDRs, cidr)
		}
	}

	return nil
}

// ParseByteSize converte strings human-readable como "64kb", "16mb" para
// bytes. Ordenado do sufixo mais longo para o mais curto para evitar que
// "mb" combine parcialmente com "b".
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
