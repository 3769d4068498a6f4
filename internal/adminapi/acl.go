// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package adminapi expõe a superfície HTTP de observabilidade do driver:
// saúde do processo, métricas agregadas (JSON e Prometheus) e um snapshot
// por imagem de publicação rastreada.
package adminapi

import (
	"net"
	"net/http"
)

// ACL restringe o acesso à superfície de administração por IP de origem,
// deny-by-default: uma requisição só passa se o IP remoto estiver contido em
// pelo menos um dos CIDRs permitidos. Um driver expõe posições e endereços
// de publicadores — a lista de permissão é obrigatória, não opcional.
type ACL struct {
	allowed []*net.IPNet
}

// NewACL cria uma ACL a partir dos CIDRs já validados por
// internal/config.DriverConfig.Admin.ParsedCIDRs.
func NewACL(cidrs []*net.IPNet) *ACL {
	return &ACL{allowed: cidrs}
}

// Middleware envolve next com a verificação de IP remoto, respondendo 403
// Forbidden antes de qualquer roteamento quando a origem não é permitida.
func (a *ACL) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := remoteIP(r.RemoteAddr); ip == nil || !a.contains(ip) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allowed reporta se o endereço remoto (host:port ou IP puro) passa na ACL.
func (a *ACL) Allowed(remoteAddr string) bool {
	ip := remoteIP(remoteAddr)
	return ip != nil && a.contains(ip)
}

func (a *ACL) contains(ip net.IP) bool {
	for _, cidr := range a.allowed {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// remoteIP extrai o IP de um http.Request.RemoteAddr, que chega como
// host:port em conexões reais mas pode ser um IP puro em testes.
func remoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}
