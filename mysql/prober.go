package mysql

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

const (
	DefaultPort    = 3306
	defaultTimeout = 5 * time.Second

	memberStatusSQL = "SELECT MEMBER_STATE, MEMBER_ROLE, MEMBER_VERSION FROM performance_schema.replication_group_members WHERE MEMBER_ID = @@server_uuid"
)

// Credentials authenticate the operator's admin account.
type Credentials struct {
	User     string
	Password string
}

// Status is what an instance reports about its own group membership.
type Status struct {
	State   MemberState
	Role    string
	Version string
}

// Prober queries instances for their group replication membership.
type Prober struct {
	Credentials Credentials
	Port        int
	Timeout     time.Duration

	open func(dsn string) (*sql.DB, error)
}

// NewProber returns a Prober connecting with creds over TCP.
func NewProber(creds Credentials) *Prober {
	return &Prober{
		Credentials: creds,
		Port:        DefaultPort,
		Timeout:     defaultTimeout,
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("mysql", dsn)
		},
	}
}

// DSN returns the data source name used to reach host.
func (p *Prober) DSN(host string) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = p.Credentials.User
	cfg.Passwd = p.Credentials.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(p.Port))
	cfg.Timeout = p.Timeout
	cfg.ReadTimeout = p.Timeout
	cfg.InterpolateParams = true
	return cfg.FormatDSN()
}

// Probe connects to host and returns its membership status.
func (p *Prober) Probe(ctx context.Context, host string) (Status, error) {
	db, err := p.open(p.DSN(host))
	if err != nil {
		return Status{}, errors.Wrap(err, "error opening DB connection")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return Status{}, errors.Wrapf(err, "unable to ping %s", host)
	}
	return QueryMemberStatus(ctx, db)
}

// QueryMemberStatus reads the membership row of the connected instance.
// An instance that is not part of any group reports OFFLINE.
func QueryMemberStatus(ctx context.Context, db *sql.DB) (Status, error) {
	var state, role, version sql.NullString
	err := db.QueryRowContext(ctx, memberStatusSQL).Scan(&state, &role, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Status{State: MemberOffline}, nil
	}
	if err != nil {
		return Status{}, errors.Wrapf(err, "error executing %s", memberStatusSQL)
	}
	s := Status{State: MemberState(state.String), Role: role.String, Version: version.String}
	if s.State == "" {
		s.State = MemberOffline
	}
	return s, nil
}
