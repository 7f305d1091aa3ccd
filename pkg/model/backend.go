package model

// Backend is a pool of servers that receives traffic from frontends.
type Backend struct {
	// Name is the backend identifier. Required.
	Name string `json:"name" validate:"required,resname"`

	// Mode is the proxy protocol mode.
	Mode Optional[ProxyMode] `json:"mode,omitzero" validate:"omitempty,enum"`

	// Balance selects the load-balancing algorithm.
	Balance *Balance `json:"balance,omitempty" validate:"omitempty"`

	// Cookie configures cookie based persistence.
	Cookie *Cookie `json:"cookie,omitempty" validate:"omitempty"`

	// AdvCheck is the protocol specific health check run against servers.
	AdvCheck Optional[AdvancedCheck] `json:"adv_check,omitzero" validate:"omitempty,enum"`

	// HTTPCheck is the http-check directive.
	HTTPCheck *HTTPHealthCheck `json:"httpchk,omitempty" validate:"omitempty"`

	// HTTPCheckParams is the request sent by the httpchk advanced check.
	HTTPCheckParams *HTTPCheckParams `json:"httpchk_params,omitempty" validate:"omitempty"`

	ConnectTimeout Optional[int64] `json:"connect_timeout,omitzero" validate:"omitempty,min=0"`
	ServerTimeout  Optional[int64] `json:"server_timeout,omitzero" validate:"omitempty,min=0"`
	Description    Optional[string] `json:"description,omitzero"`
}

// Kind implements Resource.
func (b *Backend) Kind() Kind { return KindBackend }

// GetName implements Resource.
func (b *Backend) GetName() string { return b.Name }

// Balance is the algorithm-selection object of a backend. Algorithm decides
// which of the optional fields are meaningful.
type Balance struct {
	Algorithm BalanceAlgorithm `json:"algorithm" validate:"required,enum"`

	HashExpression    Optional[string] `json:"hash_expression,omitzero"`
	HdrName           Optional[string] `json:"hdr_name,omitzero"`
	HdrUseDomainOnly  Optional[bool]   `json:"hdr_use_domain_only,omitzero"`
	RandomDraws       Optional[int64]  `json:"random_draws,omitzero" validate:"omitempty,min=0"`
	RdpCookieName     Optional[string] `json:"rdp_cookie_name,omitzero"`
	URIDepth          Optional[int64]  `json:"uri_depth,omitzero" validate:"omitempty,min=0"`
	URILen            Optional[int64]  `json:"uri_len,omitzero" validate:"omitempty,min=0"`
	URIPathOnly       Optional[bool]   `json:"uri_path_only,omitzero"`
	URIWhole          Optional[bool]   `json:"uri_whole,omitzero"`
	URLParam          Optional[string] `json:"url_param,omitzero"`
	URLParamCheckPost Optional[int64]  `json:"url_param_check_post,omitzero" validate:"omitempty,min=0"`
	URLParamMaxWait   Optional[int64]  `json:"url_param_max_wait,omitzero" validate:"omitempty,min=0"`
}

// CookieValue is one entry of the attr and domain lists of a cookie.
type CookieValue struct {
	Value string `json:"value"`
}

// Cookie is the persistence cookie of a backend.
type Cookie struct {
	Name string `json:"name" validate:"required"`

	Attr     Optional[[]CookieValue] `json:"attr,omitzero"`
	Domain   Optional[[]CookieValue] `json:"domain,omitzero"`
	Dynamic  Optional[bool]          `json:"dynamic,omitzero"`
	HTTPOnly Optional[bool]          `json:"httponly,omitzero"`
	Indirect Optional[bool]          `json:"indirect,omitzero"`
	MaxIdle  Optional[int64]         `json:"maxidle,omitzero" validate:"omitempty,min=0"`
	MaxLife  Optional[int64]         `json:"maxlife,omitzero" validate:"omitempty,min=0"`
	NoCache  Optional[bool]          `json:"nocache,omitzero"`
	PostOnly Optional[bool]          `json:"postonly,omitzero"`
	Preserve Optional[bool]          `json:"preserve,omitzero"`
	Secure   Optional[bool]          `json:"secure,omitzero"`
	Type     Optional[CookieType]    `json:"type,omitzero" validate:"omitempty,enum"`
}

// HTTPHeader is a header sent by an http-check send rule.
type HTTPHeader struct {
	Name string `json:"name"`
	Fmt  string `json:"fmt"`
}

// HTTPHealthCheck is an http-check rule, discriminated by Type.
type HTTPHealthCheck struct {
	Type HealthCheckType `json:"type" validate:"required,enum"`

	Method       Optional[HTTPMethod]    `json:"method,omitzero" validate:"omitempty,enum"`
	URI          Optional[string]        `json:"uri,omitzero"`
	Version      Optional[string]        `json:"version,omitzero"`
	Headers      Optional[[]HTTPHeader]  `json:"headers,omitzero"`
	Body         Optional[string]        `json:"body,omitzero"`
	Match        Optional[MatchType]     `json:"match,omitzero" validate:"omitempty,enum"`
	Pattern      Optional[string]        `json:"pattern,omitzero"`
	StatusCode   Optional[string]        `json:"status-code,omitzero"`
	OkStatus     Optional[OkStatus]      `json:"ok-status,omitzero" validate:"omitempty,enum"`
	ErrorStatus  Optional[ErrorStatus]   `json:"error-status,omitzero" validate:"omitempty,enum"`
	ToutStatus   Optional[TimeoutStatus] `json:"tout-status,omitzero" validate:"omitempty,enum"`
	Port         Optional[int64]         `json:"port,omitzero" validate:"omitempty,min=1,max=65535"`
	Addr         Optional[string]        `json:"addr,omitzero"`
	SNI          Optional[string]        `json:"sni,omitzero"`
	SSL          Optional[bool]          `json:"ssl,omitzero"`
	ViaSocks4    Optional[bool]          `json:"via_socks4,omitzero"`
	SendProxy    Optional[bool]          `json:"send_proxy,omitzero"`
	CheckComment Optional[string]        `json:"check_comment,omitzero"`
	Default      Optional[bool]          `json:"default,omitzero"`
}

// HTTPCheckParams is the request line used by the httpchk advanced check.
type HTTPCheckParams struct {
	Method  HTTPMethod       `json:"method" validate:"required,enum"`
	URI     string           `json:"uri" validate:"required"`
	Version Optional[string] `json:"version,omitzero"`
}
