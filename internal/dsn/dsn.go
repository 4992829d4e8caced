// Package dsn implements the URL/DSN parser from spec.md §L0: it turns a
// connection URL plus its query-string property bag into a typed Options
// record, enumerates the ordered host list, and resolves the HA mode that
// the rest of the driver dispatches on.
//
// Grounded on iperfex-team-burrowctl/client/driver.go's parseDSN, which
// parses its DSN the same way (net/url query-parameter parsing against a
// synthetic "?"+dsn), generalized here to a multi-host "user:pass@host1,
// host2/db?opt=val" URL shape and the full property set spec.md lists.
package dsn

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HAMode selects the high-availability host-selection policy, per
// spec.md's UrlParser.
type HAMode int

const (
	HANone HAMode = iota
	HALoadBalance
	HASequential
	HAReplication
	HAAurora
)

func (m HAMode) String() string {
	switch m {
	case HALoadBalance:
		return "LOADBALANCE"
	case HASequential:
		return "SEQUENTIAL"
	case HAReplication:
		return "REPLICATION"
	case HAAurora:
		return "AURORA"
	default:
		return "NONE"
	}
}

// HostAddress is one entry of the ordered host list.
type HostAddress struct {
	Host string
	Port int
	// Type distinguishes primary/replica intent for REPLICATION mode;
	// empty for modes where every host is a peer.
	Type string
}

// Options is the fully parsed, typed connection configuration spec.md's
// UrlParser produces: the endpoint/credential fields plus every property
// in the table at spec.md's L0 section.
type Options struct {
	// Endpoint selection
	User        string
	Password    string
	Database    string
	Hosts       []HostAddress
	LocalSocket string
	Pipe        string
	HAMode      HAMode

	// TLS posture
	UseTLS                         bool
	TLSKey                         string
	KeyPassword                    string
	TLSCert                        string
	TLSCA                          string
	TLSCAPath                      string
	TLSCRL                         string
	TLSCRLPath                     string
	TLSPeerFP                      string
	EnabledTLSProtocolSuites       string
	EnabledTLSCipherSuites         string
	DisableSSLHostnameVerification bool
	TrustServerCertificate         bool

	// Transport tuning
	ConnectTimeout   time.Duration
	SocketTimeout    time.Duration
	TCPNoDelay       bool
	TCPRcvBuf        int
	TCPSndBuf        int
	TCPAbortiveClose bool

	// Connect-path behavior
	AutoReconnect           bool
	UsePipelineAuth         bool
	CreateDatabaseIfNotExist bool

	// Capability flags
	AllowMultiQueries       bool
	AllowLocalInfile        bool
	UseAffectedRows         bool
	UseCompression          bool
	InteractiveClient       bool
	JdbcCompliantTruncation bool

	// Prepared-statement strategy
	UseServerPrepStmts   bool
	CachePrepStmts       bool
	PrepStmtCacheSize    int
	PrepStmtCacheSQLLimit int

	// Batch strategy
	UseBulkStmts             bool
	RewriteBatchedStatements bool
	UseBatchMultiSend        bool
	ContinueBatchOnError     bool

	// Session initialization
	SessionVariables    string
	UseCharacterEncoding string
	ServerTimezone      string
	Autocommit          bool

	// Pool
	Pool                           bool
	MinPoolSize                    int
	MaxPoolSize                    int
	MaxIdleTime                    time.Duration
	TestMinRemovalDelay            time.Duration
	PinGlobalTxToPhysicalConnection bool

	// Observability
	ProfileSQL            bool
	SlowQueryThresholdNanos int64
	MaxQuerySizeToLog      int
	DumpQueriesOnException bool
	EnablePacketDebug      bool
}

// defaults returns an Options pre-populated with the defaults spec.md and
// the teacher's parseDSN both apply before overriding from the URL.
func defaults() *Options {
	return &Options{
		HAMode:                HANone,
		ConnectTimeout:        10 * time.Second,
		SocketTimeout:         0,
		TCPNoDelay:            true,
		AutoReconnect:         false,
		AllowMultiQueries:     false,
		UseAffectedRows:       false,
		InteractiveClient:     false,
		UseServerPrepStmts:    true,
		CachePrepStmts:        true,
		PrepStmtCacheSize:     250,
		PrepStmtCacheSQLLimit: 2048,
		UseBulkStmts:          true,
		RewriteBatchedStatements: false,
		UseBatchMultiSend:     true,
		ContinueBatchOnError:  false,
		Autocommit:            true,
		Pool:                  false,
		MinPoolSize:           1,
		MaxPoolSize:           8,
		MaxIdleTime:           30 * time.Minute,
		TestMinRemovalDelay:   30 * time.Second,
		MaxQuerySizeToLog:     1024,
	}
}

// Parse parses a connection string of the form:
//
//	[user[:password]@]host1[:port1][,host2[:port2]...][/database][?key=value&...]
//
// or a bare property-bag DSN (no "@", no host), in which case host/port/
// user/password/database are taken entirely from query parameters, the
// way iperfex-team-burrowctl/client/driver.go's parseDSN reads deviceID
// and amqp_uri as plain query keys. Both forms are accepted so a caller
// can pass either a conventional "user:pass@host/db?x=y" DSN or a flat
// "host=...&port=...&user=...&..." one.
func Parse(raw string) (*Options, error) {
	o := defaults()

	if i := strings.Index(raw, "://"); i >= 0 && !strings.ContainsAny(raw[:i], "?=@/") {
		raw = raw[i+len("://"):]
	}

	var query url.Values
	var hostSegment, userinfo, database string

	if strings.Contains(raw, "@") || !looksLikeFlatDSN(raw) {
		hostSegment, userinfo, database, query = splitConventional(raw)
	} else {
		u, err := url.Parse("?" + raw)
		if err != nil {
			return nil, fmt.Errorf("dsn: invalid format: %w", err)
		}
		query = u.Query()
		hostSegment = query.Get("host")
		if port := query.Get("port"); hostSegment != "" && port != "" {
			hostSegment += ":" + port
		}
		database = query.Get("database")
		userinfo = query.Get("user")
		if pw := query.Get("password"); pw != "" {
			userinfo += ":" + pw
		}
	}

	if userinfo != "" {
		parts := strings.SplitN(userinfo, ":", 2)
		o.User = parts[0]
		if len(parts) == 2 {
			o.Password = parts[1]
		}
	}
	if u := query.Get("user"); u != "" {
		o.User = u
	}
	if pw := query.Get("password"); pw != "" {
		o.Password = pw
	}
	o.Database = database
	if d := query.Get("database"); d != "" {
		o.Database = d
	}

	hosts, mode, err := parseHosts(hostSegment, query)
	if err != nil {
		return nil, err
	}
	o.Hosts = hosts
	o.HAMode = mode

	o.LocalSocket = query.Get("localSocket")
	o.Pipe = query.Get("pipe")

	if err := bindBools(query, map[string]*bool{
		"useTls":                         &o.UseTLS,
		"disableSslHostnameVerification": &o.DisableSSLHostnameVerification,
		"trustServerCertificate":         &o.TrustServerCertificate,
		"tcpNoDelay":                     &o.TCPNoDelay,
		"tcpAbortiveClose":               &o.TCPAbortiveClose,
		"autoReconnect":                  &o.AutoReconnect,
		"usePipelineAuth":                &o.UsePipelineAuth,
		"createDatabaseIfNotExist":       &o.CreateDatabaseIfNotExist,
		"allowMultiQueries":              &o.AllowMultiQueries,
		"allowLocalInfile":               &o.AllowLocalInfile,
		"useAffectedRows":                &o.UseAffectedRows,
		"useCompression":                 &o.UseCompression,
		"interactiveClient":              &o.InteractiveClient,
		"jdbcCompliantTruncation":        &o.JdbcCompliantTruncation,
		"useServerPrepStmts":             &o.UseServerPrepStmts,
		"cachePrepStmts":                 &o.CachePrepStmts,
		"useBulkStmts":                   &o.UseBulkStmts,
		"rewriteBatchedStatements":       &o.RewriteBatchedStatements,
		"useBatchMultiSend":              &o.UseBatchMultiSend,
		"continueBatchOnError":           &o.ContinueBatchOnError,
		"autocommit":                     &o.Autocommit,
		"pool":                           &o.Pool,
		"pinGlobalTxToPhysicalConnection": &o.PinGlobalTxToPhysicalConnection,
		"profileSql":                     &o.ProfileSQL,
		"dumpQueriesOnException":         &o.DumpQueriesOnException,
		"enablePacketDebug":              &o.EnablePacketDebug,
	}); err != nil {
		return nil, err
	}

	o.TLSKey = query.Get("tlsKey")
	o.KeyPassword = query.Get("keyPassword")
	o.TLSCert = query.Get("tlsCert")
	o.TLSCA = query.Get("tlsCA")
	o.TLSCAPath = query.Get("tlsCAPath")
	o.TLSCRL = query.Get("tlsCRL")
	o.TLSCRLPath = query.Get("tlsCRLPath")
	o.TLSPeerFP = query.Get("tlsPeerFP")
	o.EnabledTLSProtocolSuites = query.Get("enabledTlsProtocolSuites")
	o.EnabledTLSCipherSuites = query.Get("enabledTlsCipherSuites")
	o.SessionVariables = query.Get("sessionVariables")
	o.UseCharacterEncoding = query.Get("useCharacterEncoding")
	o.ServerTimezone = query.Get("serverTimezone")

	if err := bindDurations(query, map[string]*time.Duration{
		"connectTimeout":      &o.ConnectTimeout,
		"socketTimeout":       &o.SocketTimeout,
		"maxIdleTime":         &o.MaxIdleTime,
		"testMinRemovalDelay": &o.TestMinRemovalDelay,
	}); err != nil {
		return nil, err
	}

	if err := bindInts(query, map[string]*int{
		"tcpRcvBuf":             &o.TCPRcvBuf,
		"tcpSndBuf":             &o.TCPSndBuf,
		"prepStmtCacheSize":     &o.PrepStmtCacheSize,
		"prepStmtCacheSqlLimit": &o.PrepStmtCacheSQLLimit,
		"minPoolSize":           &o.MinPoolSize,
		"maxPoolSize":           &o.MaxPoolSize,
		"maxQuerySizeToLog":     &o.MaxQuerySizeToLog,
	}); err != nil {
		return nil, err
	}

	if v := query.Get("slowQueryThresholdNanos"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dsn: invalid slowQueryThresholdNanos %q: %w", v, err)
		}
		o.SlowQueryThresholdNanos = n
	}

	if len(o.Hosts) == 0 && o.LocalSocket == "" && o.Pipe == "" {
		return nil, fmt.Errorf("dsn: no host, localSocket, or pipe specified")
	}

	return o, nil
}

// looksLikeFlatDSN reports whether raw is a query-string-only DSN (no
// scheme, no "@"), matching the teacher's "key1=value1&key2=value2" form.
func looksLikeFlatDSN(raw string) bool {
	head := raw
	if i := strings.Index(head, "?"); i >= 0 {
		head = head[:i]
	}
	return strings.Contains(head, "=") && !strings.Contains(raw, "://")
}

func splitConventional(raw string) (hostSegment, userinfo, database string, query url.Values) {
	query = url.Values{}
	s := raw
	if i := strings.Index(s, "?"); i >= 0 {
		q, err := url.ParseQuery(s[i+1:])
		if err == nil {
			query = q
		}
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		userinfo = s[:i]
		s = s[i+1:]
	}
	if i := strings.Index(s, "/"); i >= 0 {
		database = s[i+1:]
		s = s[:i]
	}
	hostSegment = s
	return
}

// parseHosts splits a comma-separated host list into HostAddress entries
// and resolves the HA mode, either from an explicit "haMode" query
// parameter or, absent that, from the number of hosts (single host implies
// NONE, multiple implies LOADBALANCE, matching spec.md's UrlParser intent
// that multi-host DSNs default to a distributing policy).
func parseHosts(segment string, query url.Values) ([]HostAddress, HAMode, error) {
	var hosts []HostAddress
	for _, part := range strings.Split(segment, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, portStr, typ := part, "", ""
		if i := strings.Index(part, ":"); i >= 0 {
			host = part[:i]
			portStr = part[i+1:]
		}
		if i := strings.Index(portStr, "("); i >= 0 && strings.HasSuffix(portStr, ")") {
			typ = portStr[i+1 : len(portStr)-1]
			portStr = portStr[:i]
		}
		port := 3306
		if portStr != "" {
			p, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, HANone, fmt.Errorf("dsn: invalid port in host %q: %w", part, err)
			}
			port = p
		}
		hosts = append(hosts, HostAddress{Host: host, Port: port, Type: typ})
	}

	mode := HANone
	switch strings.ToUpper(query.Get("haMode")) {
	case "LOADBALANCE":
		mode = HALoadBalance
	case "SEQUENTIAL":
		mode = HASequential
	case "REPLICATION":
		mode = HAReplication
	case "AURORA":
		mode = HAAurora
	case "":
		if len(hosts) > 1 {
			mode = HALoadBalance
		}
	default:
		return nil, HANone, fmt.Errorf("dsn: unknown haMode %q", query.Get("haMode"))
	}
	return hosts, mode, nil
}

func bindBools(query url.Values, fields map[string]*bool) error {
	for key, dst := range fields {
		v := query.Get(key)
		if v == "" {
			continue
		}
		lv := strings.ToLower(v)
		*dst = lv == "true" || lv == "1"
	}
	return nil
}

func bindDurations(query url.Values, fields map[string]*time.Duration) error {
	for key, dst := range fields {
		v := query.Get(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			// also accept a bare millisecond integer, as JDBC-style URLs do
			if n, nerr := strconv.Atoi(v); nerr == nil {
				*dst = time.Duration(n) * time.Millisecond
				continue
			}
			return fmt.Errorf("dsn: invalid duration for %s=%q: %w", key, v, err)
		}
		*dst = d
	}
	return nil
}

func bindInts(query url.Values, fields map[string]*int) error {
	for key, dst := range fields {
		v := query.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("dsn: invalid integer for %s=%q: %w", key, v, err)
		}
		*dst = n
	}
	return nil
}
