package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"

	// DefaultQuorumThreshold is the voting power required to finalize
	// a round unless QUORUM_THRESHOLD overrides it.
	DefaultQuorumThreshold = 1000
)

// DefaultTokens is the fixed supported portfolio token set, in the
// order the settlement contract expects its ratio parameters.
var DefaultTokens = []string{"HBAR", "WBTC", "SAUCE", "USDC", "JAM", "HEADSTART"}

// DefaultBaseline is the current portfolio weights used for tokens no
// vote mentioned. Must sum to 100.
var DefaultBaseline = map[string]int{
	"HBAR": 30, "WBTC": 20, "SAUCE": 15, "USDC": 15, "JAM": 10, "HEADSTART": 10,
}

type Config struct {
	RPCURL    string // append-only log RPC endpoint
	WSPath    string // websocket path for the event subscription
	DBDialect string // postgres only
	DBDsn     string // DSN string passed to GORM driver

	QuorumThreshold int64
	Tokens          []string       // supported tokens, contract parameter order
	Baseline        map[string]int // current weights for unvoted tokens

	Session  string // governance session identifier
	Operator string // account id recorded as snapshot createdBy

	ContractID string // target contract for ratio updates

	DashboardWebhookURL string // operator alert channel
	AgentWebhookURL     string // downstream rebalancer channel
	RegistryAPIURL      string // optional: account registry for display names

	Debug bool // if true: logs enabled; TUI reads stay clean either way
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using default %d\n", key, v, def)
		return def
	}
	return n
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

// ParseTokenList splits a comma-separated token symbol list.
func ParseTokenList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		t := strings.TrimSpace(part)
		if t != "" {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

// ParseBaseline parses "TOKEN=WEIGHT,..." into a weight map. It errors
// on malformed entries, weights outside [0,100], tokens missing from
// the supported set, or a total that is not exactly 100.
func ParseBaseline(s string, tokens []string) (map[string]int, error) {
	out := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed baseline entry %q", part)
		}
		token := strings.ToUpper(strings.TrimSpace(kv[0]))
		w, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("malformed baseline weight %q", part)
		}
		if w < 0 || w > 100 {
			return nil, fmt.Errorf("baseline weight for %s outside [0,100]: %d", token, w)
		}
		out[token] = w
	}
	sum := 0
	for _, token := range tokens {
		w, ok := out[token]
		if !ok {
			return nil, fmt.Errorf("baseline missing token %s", token)
		}
		sum += w
	}
	if sum != 100 {
		return nil, fmt.Errorf("baseline weights sum to %d, want 100", sum)
	}
	return out, nil
}

func Load() Config {
	cfg := Config{
		RPCURL:              getenv("RPC_URL", "http://localhost:26657"),
		WSPath:              getenv("WS_PATH", "/websocket"),
		QuorumThreshold:     getenvInt64("QUORUM_THRESHOLD", DefaultQuorumThreshold),
		Session:             getenv("GOVERNANCE_SESSION", "ratio-governance"),
		Operator:            getenv("OPERATOR_ID", "0.0.0"),
		ContractID:          getenv("CONTRACT_ID", ""),
		DashboardWebhookURL: os.Getenv("DASHBOARD_WEBHOOK_URL"),
		AgentWebhookURL:     os.Getenv("AGENT_WEBHOOK_URL"),
		RegistryAPIURL:      os.Getenv("REGISTRY_API_URL"),
		Debug:               getenvBool("DEBUG", false),
	}

	cfg.Tokens = DefaultTokens
	if raw := strings.TrimSpace(os.Getenv("SUPPORTED_TOKENS")); raw != "" {
		if tokens := ParseTokenList(raw); len(tokens) > 0 {
			cfg.Tokens = tokens
		}
	}

	cfg.Baseline = DefaultBaseline
	if raw := strings.TrimSpace(os.Getenv("BASELINE_RATIOS")); raw != "" {
		if baseline, err := ParseBaseline(raw, cfg.Tokens); err == nil {
			cfg.Baseline = baseline
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid BASELINE_RATIOS, using defaults: %v\n", err)
		}
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	return cfg
}

func (c Config) WSURL() string {
	// cometbft http client expects a separate ws endpoint path
	return c.WSPath
}

func (c Config) String() string {
	return fmt.Sprintf("rpc=%s ws_path=%s db=%s quorum=%d", c.RPCURL, c.WSPath, c.DBDialect, c.QuorumThreshold)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"rpc=%s ws_path=%s db=%s dsn=%s session=%s quorum=%d tokens=%s",
		c.RPCURL,
		c.WSPath,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		c.Session,
		c.QuorumThreshold,
		strings.Join(c.Tokens, ","),
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
