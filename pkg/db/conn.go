package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
)

const (
	defaultPort           = 5432
	defaultDatabase       = "postgres"
	defaultSSLMode        = "require"
	defaultConnectTimeout = 10 * time.Second
)

// Resolver is the subset of *net.Resolver used to pick an IPv4 address.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ConnOptions describes how to reach the PostgreSQL server. URL wins over
// the discrete fields when both are set.
type ConnOptions struct {
	URL            string
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	ConnectTimeout time.Duration
	PreferIPv4     bool
	Resolver       Resolver
}

// DSN returns the connection string, adding sslmode=require when the
// caller did not choose a mode.
func (o ConnOptions) DSN() (string, error) {
	if o.URL != "" {
		return withSSLMode(o.URL, o.SSLMode)
	}
	if o.Host == "" {
		return "", fmt.Errorf("database host is required")
	}

	port := o.Port
	if port == 0 {
		port = defaultPort
	}
	database := o.Database
	if database == "" {
		database = defaultDatabase
	}
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(o.Host, fmt.Sprint(port)),
		Path:   "/" + database,
	}
	if o.User != "" {
		if o.Password != "" {
			u.User = url.UserPassword(o.User, o.Password)
		} else {
			u.User = url.User(o.User)
		}
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String(), nil
}

func withSSLMode(dsn, sslMode string) (string, error) {
	if sslMode == "" {
		sslMode = defaultSSLMode
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse database url: %w", err)
		}
		query := u.Query()
		if query.Get("sslmode") == "" {
			query.Set("sslmode", sslMode)
			u.RawQuery = query.Encode()
		}
		return u.String(), nil
	}
	// key=value form
	if strings.Contains(dsn, "sslmode=") {
		return dsn, nil
	}
	return strings.TrimSpace(dsn) + " sslmode=" + sslMode, nil
}

// ConnConfig parses the options into a pgx config. The configured host is
// kept as is so TLS verifies against the hostname; only the dial address
// goes through the IPv4 lookup.
func (o ConnOptions) ConnConfig(logger logrus.FieldLogger) (*pgx.ConnConfig, error) {
	dsn, err := o.DSN()
	if err != nil {
		return nil, err
	}
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	config.ConnectTimeout = timeout

	if o.PreferIPv4 {
		resolver := o.Resolver
		if resolver == nil {
			resolver = net.DefaultResolver
		}
		config.LookupFunc = ipv4Lookup(resolver, logger)
	}
	return config, nil
}

// ipv4Lookup resolves to IPv4 addresses when the host has any and falls
// back to the resolver's default answer otherwise.
func ipv4Lookup(resolver Resolver, logger logrus.FieldLogger) pgconn.LookupFunc {
	return func(ctx context.Context, host string) ([]string, error) {
		if ip := net.ParseIP(host); ip != nil {
			return []string{host}, nil
		}
		ips, err := resolver.LookupIP(ctx, "ip4", host)
		if err == nil && len(ips) > 0 {
			addrs := make([]string, 0, len(ips))
			for _, ip := range ips {
				addrs = append(addrs, ip.String())
			}
			logger.Debugf("Resolved %s to IPv4 %s", host, strings.Join(addrs, ","))
			return addrs, nil
		}
		logger.Debugf("No IPv4 address for %s, using default resolution", host)
		return resolver.LookupHost(ctx, host)
	}
}

// OpenPostgres connects to PostgreSQL through pgx and wraps the pool in a DB.
func OpenPostgres(opts ConnOptions, logger logrus.Ext1FieldLogger, dbOpts ...Option) (*DB, error) {
	config, err := opts.ConnConfig(logger)
	if err != nil {
		return nil, err
	}
	logger.Tracef("Connecting to postgres %s", maskedDSN(config))

	sqlDB := stdlib.OpenDB(*config)
	db, err := NewDB(postgres.New(postgres.Config{Conn: sqlDB}), logger, dbOpts...)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func maskedDSN(config *pgx.ConnConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		Path:   "/" + config.Database,
	}
	if config.User != "" {
		u.User = url.UserPassword(config.User, "xxxxx")
	}
	return u.Redacted()
}
