package model

import (
	"fmt"
	"strings"
)

// Admissible tokens for the fields of HAProxy configuration objects. Each
// concept has exactly one type; resources share them by value.

// ProxyMode is the protocol mode of a backend or frontend.
type ProxyMode string

const (
	ModeHTTP ProxyMode = "http"
	ModeTCP  ProxyMode = "tcp"
)

var proxyModes = []ProxyMode{ModeHTTP, ModeTCP}

// IsValid reports whether m is a known mode.
func (m ProxyMode) IsValid() bool { return isMember(m, proxyModes) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ProxyMode) UnmarshalText(b []byte) error { return parseInto(m, b, proxyModes) }

// BalanceAlgorithm selects how a backend distributes load across its servers.
type BalanceAlgorithm string

const (
	AlgorithmRoundRobin BalanceAlgorithm = "roundrobin"
	AlgorithmStaticRR   BalanceAlgorithm = "static-rr"
	AlgorithmLeastConn  BalanceAlgorithm = "leastconn"
	AlgorithmFirst      BalanceAlgorithm = "first"
	AlgorithmSource     BalanceAlgorithm = "source"
	AlgorithmURI        BalanceAlgorithm = "uri"
	AlgorithmURLParam   BalanceAlgorithm = "url_param"
	AlgorithmHdr        BalanceAlgorithm = "hdr"
	AlgorithmRandom     BalanceAlgorithm = "random"
	AlgorithmRDPCookie  BalanceAlgorithm = "rdp-cookie"
	AlgorithmHash       BalanceAlgorithm = "hash"
)

var balanceAlgorithms = []BalanceAlgorithm{
	AlgorithmRoundRobin, AlgorithmStaticRR, AlgorithmLeastConn, AlgorithmFirst,
	AlgorithmSource, AlgorithmURI, AlgorithmURLParam, AlgorithmHdr,
	AlgorithmRandom, AlgorithmRDPCookie, AlgorithmHash,
}

// IsValid reports whether a is a known algorithm.
func (a BalanceAlgorithm) IsValid() bool { return isMember(a, balanceAlgorithms) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *BalanceAlgorithm) UnmarshalText(b []byte) error {
	return parseInto(a, b, balanceAlgorithms)
}

// CookieType is the persistence cookie mode.
type CookieType string

const (
	CookieRewrite CookieType = "rewrite"
	CookieInsert  CookieType = "insert"
	CookiePrefix  CookieType = "prefix"
)

var cookieTypes = []CookieType{CookieRewrite, CookieInsert, CookiePrefix}

// IsValid reports whether c is a known cookie type.
func (c CookieType) IsValid() bool { return isMember(c, cookieTypes) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CookieType) UnmarshalText(b []byte) error { return parseInto(c, b, cookieTypes) }

// WebSocketProtocol selects the protocol used to relay websockets to a server.
type WebSocketProtocol string

const (
	WebSocketAuto WebSocketProtocol = "auto"
	WebSocketH1   WebSocketProtocol = "h1"
	WebSocketH2   WebSocketProtocol = "h2"
)

var webSocketProtocols = []WebSocketProtocol{WebSocketAuto, WebSocketH1, WebSocketH2}

// IsValid reports whether w is a known protocol.
func (w WebSocketProtocol) IsValid() bool { return isMember(w, webSocketProtocols) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *WebSocketProtocol) UnmarshalText(b []byte) error {
	return parseInto(w, b, webSocketProtocols)
}

// HealthCheckType discriminates the http-check directive of a backend.
type HealthCheckType string

const (
	CheckComment      HealthCheckType = "comment"
	CheckConnect      HealthCheckType = "connect"
	CheckDisableOn404 HealthCheckType = "disable-on-404"
	CheckExpect       HealthCheckType = "expect"
	CheckSend         HealthCheckType = "send"
	CheckSendState    HealthCheckType = "send-state"
	CheckSetVar       HealthCheckType = "set-var"
	CheckSetVarFmt    HealthCheckType = "set-var-fmt"
	CheckUnsetVar     HealthCheckType = "unset-var"
)

var healthCheckTypes = []HealthCheckType{
	CheckComment, CheckConnect, CheckDisableOn404, CheckExpect, CheckSend,
	CheckSendState, CheckSetVar, CheckSetVarFmt, CheckUnsetVar,
}

// IsValid reports whether t is a known health check type.
func (t HealthCheckType) IsValid() bool { return isMember(t, healthCheckTypes) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *HealthCheckType) UnmarshalText(b []byte) error {
	return parseInto(t, b, healthCheckTypes)
}

// AdvancedCheck is the protocol-specific check a backend runs against its servers.
type AdvancedCheck string

const (
	AdvCheckSSLHello AdvancedCheck = "ssl-hello-chk"
	AdvCheckSMTP     AdvancedCheck = "smtpchk"
	AdvCheckLDAP     AdvancedCheck = "ldap-check"
	AdvCheckMySQL    AdvancedCheck = "mysql-check"
	AdvCheckPgSQL    AdvancedCheck = "pgsql-check"
	AdvCheckTCP      AdvancedCheck = "tcp-check"
	AdvCheckRedis    AdvancedCheck = "redis-check"
	AdvCheckHTTP     AdvancedCheck = "httpchk"
)

var advancedChecks = []AdvancedCheck{
	AdvCheckSSLHello, AdvCheckSMTP, AdvCheckLDAP, AdvCheckMySQL,
	AdvCheckPgSQL, AdvCheckTCP, AdvCheckRedis, AdvCheckHTTP,
}

// IsValid reports whether c is a known advanced check.
func (c AdvancedCheck) IsValid() bool { return isMember(c, advancedChecks) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *AdvancedCheck) UnmarshalText(b []byte) error { return parseInto(c, b, advancedChecks) }

// HTTPMethod is the request method used by HTTP health checks.
type HTTPMethod string

const (
	MethodHead    HTTPMethod = "HEAD"
	MethodPut     HTTPMethod = "PUT"
	MethodPost    HTTPMethod = "POST"
	MethodGet     HTTPMethod = "GET"
	MethodTrace   HTTPMethod = "TRACE"
	MethodPatch   HTTPMethod = "PATCH"
	MethodOptions HTTPMethod = "OPTIONS"
)

var httpMethods = []HTTPMethod{
	MethodHead, MethodPut, MethodPost, MethodGet, MethodTrace, MethodPatch, MethodOptions,
}

// IsValid reports whether m is a supported method.
func (m HTTPMethod) IsValid() bool { return isMember(m, httpMethods) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *HTTPMethod) UnmarshalText(b []byte) error { return parseInto(m, b, httpMethods) }

// TimeoutStatus is the check status reported on timeout.
type TimeoutStatus string

const (
	TimeoutL7 TimeoutStatus = "L7TOUT"
	TimeoutL6 TimeoutStatus = "L6TOUT"
	TimeoutL4 TimeoutStatus = "L4TOUT"
)

var timeoutStatuses = []TimeoutStatus{TimeoutL7, TimeoutL6, TimeoutL4}

// IsValid reports whether s is a known timeout status.
func (s TimeoutStatus) IsValid() bool { return isMember(s, timeoutStatuses) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TimeoutStatus) UnmarshalText(b []byte) error { return parseInto(s, b, timeoutStatuses) }

// MatchType selects what an http-check expect rule matches against.
type MatchType string

const (
	MatchStatus  MatchType = "status"
	MatchRStatus MatchType = "rstatus"
	MatchHdr     MatchType = "hdr"
	MatchFHdr    MatchType = "fhdr"
	MatchString  MatchType = "string"
	MatchRString MatchType = "rstring"
)

var matchTypes = []MatchType{MatchStatus, MatchRStatus, MatchHdr, MatchFHdr, MatchString, MatchRString}

// IsValid reports whether t is a known match type.
func (t MatchType) IsValid() bool { return isMember(t, matchTypes) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MatchType) UnmarshalText(b []byte) error { return parseInto(t, b, matchTypes) }

// ErrorStatus is the check status reported on a failed expect rule.
type ErrorStatus string

const (
	ErrorL7OKC ErrorStatus = "L7OKC"
	ErrorL7RSP ErrorStatus = "L7RSP"
	ErrorL7STS ErrorStatus = "L7STS"
	ErrorL6RSP ErrorStatus = "L6RSP"
	ErrorL4CON ErrorStatus = "L4CON"
)

var errorStatuses = []ErrorStatus{ErrorL7OKC, ErrorL7RSP, ErrorL7STS, ErrorL6RSP, ErrorL4CON}

// IsValid reports whether s is a known error status.
func (s ErrorStatus) IsValid() bool { return isMember(s, errorStatuses) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ErrorStatus) UnmarshalText(b []byte) error { return parseInto(s, b, errorStatuses) }

// OkStatus is the check status reported on a successful expect rule.
type OkStatus string

const (
	OkL7    OkStatus = "L7OK"
	OkL7OKC OkStatus = "L7OKC"
	OkL6    OkStatus = "L6OK"
	OkL4    OkStatus = "L4OK"
)

var okStatuses = []OkStatus{OkL7, OkL7OKC, OkL6, OkL4}

// IsValid reports whether s is a known ok status.
func (s OkStatus) IsValid() bool { return isMember(s, okStatuses) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OkStatus) UnmarshalText(b []byte) error { return parseInto(s, b, okStatuses) }

// Requirement is the verification level for server certificates.
type Requirement string

const (
	RequirementNone     Requirement = "none"
	RequirementRequired Requirement = "required"
	RequirementOptional Requirement = "optional"
)

var requirements = []Requirement{RequirementNone, RequirementRequired, RequirementOptional}

// IsValid reports whether r is a known requirement.
func (r Requirement) IsValid() bool { return isMember(r, requirements) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Requirement) UnmarshalText(b []byte) error { return parseInto(r, b, requirements) }

// Toggle is the enabled/disabled switch used by many server options.
type Toggle string

const (
	Enabled  Toggle = "enabled"
	Disabled Toggle = "disabled"
)

var toggles = []Toggle{Enabled, Disabled}

// IsValid reports whether t is enabled or disabled.
func (t Toggle) IsValid() bool { return isMember(t, toggles) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Toggle) UnmarshalText(b []byte) error { return parseInto(t, b, toggles) }

// SSLVersion is a TLS protocol version.
type SSLVersion string

const (
	SSLv3   SSLVersion = "SSLv3"
	TLSv1_0 SSLVersion = "TLSv1.0"
	TLSv1_1 SSLVersion = "TLSv1.1"
	TLSv1_2 SSLVersion = "TLSv1.2"
	TLSv1_3 SSLVersion = "TLSv1.3"
)

var sslVersions = []SSLVersion{SSLv3, TLSv1_0, TLSv1_1, TLSv1_2, TLSv1_3}

// IsValid reports whether v is a known version.
func (v SSLVersion) IsValid() bool { return isMember(v, sslVersions) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *SSLVersion) UnmarshalText(b []byte) error { return parseInto(v, b, sslVersions) }

// ErrorAction is what a server does when its health check fails.
type ErrorAction string

const (
	OnErrorFastInter   ErrorAction = "fastinter"
	OnErrorFailCheck   ErrorAction = "fail-check"
	OnErrorSuddenDeath ErrorAction = "sudden-death"
	OnErrorMarkDown    ErrorAction = "mark-down"
)

var errorActions = []ErrorAction{OnErrorFastInter, OnErrorFailCheck, OnErrorSuddenDeath, OnErrorMarkDown}

// IsValid reports whether a is a known action.
func (a ErrorAction) IsValid() bool { return isMember(a, errorActions) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *ErrorAction) UnmarshalText(b []byte) error { return parseInto(a, b, errorActions) }

// enumValue is implemented by every enumeration in this file.
type enumValue interface {
	IsValid() bool
}

// Parse resolves raw against members ignoring case and treating '_' and '-'
// as the same character, so "STATIC_RR" resolves to static-rr.
func Parse[E ~string](raw string, members []E) (E, error) {
	norm := normalizeToken(raw)
	for _, m := range members {
		if normalizeToken(string(m)) == norm {
			return m, nil
		}
	}
	var zero E
	return zero, fmt.Errorf("invalid value %q (allowed: %s)", raw, joinMembers(members))
}

// Values returns the admissible tokens of an enumeration, for flag help texts.
func Values[E ~string](members []E) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = string(m)
	}
	return out
}

// ProxyModes returns the admissible proxy modes.
func ProxyModes() []ProxyMode { return append([]ProxyMode(nil), proxyModes...) }

// BalanceAlgorithms returns the admissible balance algorithms.
func BalanceAlgorithms() []BalanceAlgorithm {
	return append([]BalanceAlgorithm(nil), balanceAlgorithms...)
}

// HTTPMethods returns the admissible health check methods.
func HTTPMethods() []HTTPMethod { return append([]HTTPMethod(nil), httpMethods...) }

// Toggles returns enabled and disabled.
func Toggles() []Toggle { return append([]Toggle(nil), toggles...) }

func isMember[E ~string](v E, members []E) bool {
	for _, m := range members {
		if m == v {
			return true
		}
	}
	return false
}

// parseInto normalizes known tokens and keeps unknown ones verbatim, so values
// the remote knows but this package does not still decode. Desired resources
// are rejected later by validation.
func parseInto[E ~string](dst *E, b []byte, members []E) error {
	raw := string(b)
	if v, err := Parse(raw, members); err == nil {
		*dst = v
		return nil
	}
	*dst = E(raw)
	return nil
}

func normalizeToken(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}

func joinMembers[E ~string](members []E) string {
	return strings.Join(Values(members), ", ")
}
